// Package speech wraps the OpenAI-compatible text-to-speech and
// speech-to-text services and derives the speakable variant of LLM
// replies.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/choombridge/internal/httpkit"
)

// Client talks to the TTS and STT services.
type Client struct {
	ttsURL string
	sttURL string
	voice  string // default voice when a companion has none
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a speech client. defaultVoice is used when a
// synthesis call passes an empty voice.
func NewClient(ttsURL, sttURL, defaultVoice string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		ttsURL: ttsURL,
		sttURL: sttURL,
		voice:  defaultVoice,
		http: httpkit.NewClient(
			httpkit.WithTimeout(120*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// Synthesize renders text as speech and writes a WAV file under dir.
// Returns the file path. The service must return RIFF audio; anything
// else is treated as an error payload.
func (c *Client) Synthesize(ctx context.Context, text, voice, dir string) (string, error) {
	if voice == "" {
		voice = c.voice
	}

	body, err := json.Marshal(map[string]string{
		"input": text,
		"voice": voice,
	})
	if err != nil {
		return "", fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ttsURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tts error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read tts response: %w", err)
	}
	if len(audio) < 4 || string(audio[:4]) != "RIFF" {
		return "", fmt.Errorf("tts returned non-WAV payload (%d bytes)", len(audio))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("reply_%d.wav", time.Now().UnixNano()))
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}

	c.logger.Debug("speech synthesized", "voice", voice, "bytes", len(audio), "path", path)
	return path, nil
}

// Transcribe sends an audio file to the STT service and returns the
// recognized text.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("create multipart: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sttURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("create stt request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return result.Text, nil
}

// Ping checks the TTS service. Suitable as a connwatch probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ttsURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	httpkit.DrainAndClose(resp.Body, 1024)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("tts health %d", resp.StatusCode)
	}
	return nil
}
