package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nugget/choombridge/internal/choom"
	"github.com/nugget/choombridge/internal/speech"
)

// imageSendDelay paces the per-image sends; signal-cli is more reliable
// with images as separate, spaced messages.
const imageSendDelay = time.Second

// MessageSender issues outbound Signal sends.
type MessageSender interface {
	Send(ctx context.Context, recipient, message string, attachments ...string) (int64, error)
}

// Synthesizer turns text into a WAV file on disk.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, dir string) (string, error)
}

// Directory resolves companions and companion-generated images.
type Directory interface {
	ByName(ctx context.Context, name string) (*choom.Choom, error)
	ImageDataURI(ctx context.Context, id string) (string, error)
}

// Outbound is one composed reply: text plus optional attribution,
// speech, and images.
type Outbound struct {
	Recipient string
	Text      string
	Name      string // attribution; empty sends bare text
	Images    []choom.ImageRef
	NoAudio   bool
}

// Composer turns an LLM (or system) reply into ordered Signal sends:
// attributed text with a spoken rendition first, then each image as its
// own message.
type Composer struct {
	signal  MessageSender
	tts     Synthesizer
	dir     Directory
	tempDir string
	logger  *slog.Logger

	// delay between image sends, shortened in tests
	imageDelay time.Duration
}

// NewComposer creates a composer writing temp files under tempDir.
func NewComposer(signal MessageSender, tts Synthesizer, dir Directory, tempDir string, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		signal:     signal,
		tts:        tts,
		dir:        dir,
		tempDir:    tempDir,
		logger:     logger,
		imageDelay: imageSendDelay,
	}
}

// Compose delivers one reply. Text and audio go out together, then the
// images in order. Temp files are removed before returning.
func (c *Composer) Compose(ctx context.Context, out Outbound) error {
	text := speech.StripReasoning(out.Text)
	if text == "" && len(out.Images) == 0 {
		return nil
	}

	var temps []string
	defer func() {
		for _, p := range temps {
			if err := os.Remove(p); err != nil {
				c.logger.Debug("temp file cleanup", "path", p, "error", err)
			}
		}
	}()

	var audioPath string
	if !out.NoAudio && c.tts != nil {
		if spoken := speech.Speakable(text); spoken != "" {
			path, err := c.tts.Synthesize(ctx, spoken, c.voiceFor(ctx, out.Name), c.tempDir)
			if err != nil {
				c.logger.Warn("speech synthesis failed, sending text only", "error", err)
			} else {
				audioPath = path
				temps = append(temps, path)
			}
		}
	}

	imagePaths, imageTemps := c.materializeImages(ctx, out.Images)
	temps = append(temps, imageTemps...)

	return c.sendSequence(ctx, out.Recipient, attributed(out.Name, text), audioPath, imagePaths)
}

// sendSequence issues the ordered sends: text+audio first, then each
// image alone after a short pause.
func (c *Composer) sendSequence(ctx context.Context, recipient, text, audioPath string, imagePaths []string) error {
	if text != "" || audioPath != "" {
		var attachments []string
		if audioPath != "" {
			attachments = append(attachments, audioPath)
		}
		if _, err := c.signal.Send(ctx, recipient, text, attachments...); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}

	for _, path := range imagePaths {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.imageDelay):
		}
		if _, err := c.signal.Send(ctx, recipient, "", path); err != nil {
			c.logger.Warn("image send failed", "path", path, "error", err)
		}
	}
	return nil
}

// attributed prefixes the text with the companion name marker.
func attributed(name, text string) string {
	if name == "" || text == "" {
		return text
	}
	return "[" + name + "]\n\n" + text
}

// voiceFor looks up the companion's voice id; unknown names fall back
// to the synthesizer default.
func (c *Composer) voiceFor(ctx context.Context, name string) string {
	if name == "" || c.dir == nil {
		return ""
	}
	ch, err := c.dir.ByName(ctx, name)
	if err != nil {
		return ""
	}
	return ch.Voice
}

// materializeImages writes each image to a temp file: data URIs decode
// in place, bare ids fetch from the companion service. Failures skip
// the image.
func (c *Composer) materializeImages(ctx context.Context, images []choom.ImageRef) (paths, temps []string) {
	for i, img := range images {
		uri := img.URL
		if !strings.HasPrefix(uri, "data:image") && img.ID != "" && c.dir != nil {
			fetched, err := c.dir.ImageDataURI(ctx, img.ID)
			if err != nil {
				c.logger.Warn("image fetch failed", "id", img.ID, "error", err)
				continue
			}
			uri = fetched
		}

		data, err := decodeDataURI(uri)
		if err != nil {
			c.logger.Warn("image decode failed", "index", i, "error", err)
			continue
		}

		path := filepath.Join(c.tempDir, fmt.Sprintf("image_%d_%d.png", time.Now().UnixNano(), i))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			c.logger.Warn("image write failed", "path", path, "error", err)
			continue
		}
		paths = append(paths, path)
		temps = append(temps, path)
	}
	return paths, temps
}

// decodeDataURI decodes a data:image/*;base64 URI.
func decodeDataURI(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "data:image") {
		return nil, fmt.Errorf("not a data URI")
	}
	idx := strings.Index(uri, "base64,")
	if idx < 0 {
		return nil, fmt.Errorf("data URI is not base64")
	}
	return base64.StdEncoding.DecodeString(uri[idx+len("base64,"):])
}
