package choom

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nugget/choombridge/internal/httpkit"
)

// Client talks to the companion service. All methods are safe for
// concurrent use; the scheduler and the intake loop share one client.
type Client struct {
	baseURL string
	logger  *slog.Logger

	// api is for request/response calls. stream has no overall timeout
	// because an SSE turn with tool calls can run for minutes.
	api    *http.Client
	stream *http.Client

	mu        sync.Mutex
	directory []Choom
	fetchedAt time.Time
	chats     map[string]string // choom id -> open chat id
	activity  map[string]time.Time
}

// NewClient creates a companion client for the service at baseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		api: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		stream: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithLogger(logger),
		),
		chats:    make(map[string]string),
		activity: make(map[string]time.Time),
	}
}

// Chooms returns the companion directory, refreshing it when the cache
// is older than the TTL. A failed refresh keeps serving the stale view.
func (c *Client) Chooms(ctx context.Context) ([]Choom, error) {
	c.mu.Lock()
	fresh := time.Since(c.fetchedAt) < directoryTTL && c.directory != nil
	cached := c.directory
	c.mu.Unlock()
	if fresh {
		return cached, nil
	}

	var fetched []Choom
	if err := c.getJSON(ctx, "/api/chooms", &fetched); err != nil {
		if cached != nil {
			c.logger.Warn("choom directory refresh failed, serving stale", "error", err)
			return cached, nil
		}
		return nil, fmt.Errorf("fetch chooms: %w", err)
	}

	c.mu.Lock()
	c.directory = fetched
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return fetched, nil
}

// ByName finds a companion by case-insensitive name.
func (c *Client) ByName(ctx context.Context, name string) (*Choom, error) {
	chooms, err := c.Chooms(ctx)
	if err != nil {
		return nil, err
	}
	for i := range chooms {
		if strings.EqualFold(chooms[i].Name, name) {
			return &chooms[i], nil
		}
	}
	return nil, fmt.Errorf("no choom named %q", name)
}

// chatFor returns an open chat id for the companion, creating one when
// needed. freshChat always opens a new chat with the given title.
func (c *Client) chatFor(ctx context.Context, choomID, title string, freshChat bool) (string, error) {
	if !freshChat {
		c.mu.Lock()
		id := c.chats[choomID]
		c.mu.Unlock()
		if id != "" && c.chatExists(ctx, id) {
			return id, nil
		}
	}

	var chat struct {
		ID string `json:"id"`
	}
	body := map[string]string{"choomId": choomID, "title": title}
	if err := c.postJSON(ctx, "/api/chats", body, &chat); err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}

	if !freshChat {
		c.mu.Lock()
		c.chats[choomID] = chat.ID
		c.mu.Unlock()
	}
	return chat.ID, nil
}

func (c *Client) chatExists(ctx context.Context, id string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/chats/"+id, nil)
	if err != nil {
		return false
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return false
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return resp.StatusCode == http.StatusOK
}

// SendMessage streams one LLM turn to the named companion and
// accumulates the typed events into a Turn. When freshChat is set the
// turn runs in a brand-new chat titled "Briefing <date>"; otherwise the
// per-companion "Signal Conversation" chat is reused.
func (c *Client) SendMessage(ctx context.Context, choomName, message string, settings map[string]any, freshChat bool) (*Turn, error) {
	ch, err := c.ByName(ctx, choomName)
	if err != nil {
		return nil, err
	}

	title := "Signal Conversation"
	if freshChat {
		title = "Briefing " + time.Now().Format("2006-01-02")
	}
	chatID, err := c.chatFor(ctx, ch.ID, title, freshChat)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"choomId":  ch.ID,
		"chatId":   chatID,
		"message":  message,
		"settings": settings,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	turn := &Turn{ChatID: chatID}
	if err := readEventStream(resp.Body, turn, c.logger); err != nil {
		return turn, err
	}
	return turn, nil
}

// sseEvent is the wire form of one streamed event; Type discriminates
// which fields carry data.
type sseEvent struct {
	Type      string         `json:"type"`
	Content   string         `json:"content,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	IsError   bool           `json:"isError,omitempty"`
	URL       string         `json:"url,omitempty"`
	ID        string         `json:"id,omitempty"`
	Prompt    string         `json:"prompt,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// sseBufferSize sizes the scanner buffer. Image events carry whole
// data URIs, which run to megabytes.
const sseBufferSize = 16 << 20

func readEventStream(body interface{ Read([]byte) (int, error) }, turn *Turn, logger *slog.Logger) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), sseBufferSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			logger.Warn("unparseable stream event", "data", truncate(data, 200), "error", err)
			continue
		}

		switch ev.Type {
		case "content":
			turn.Content += ev.Content
		case "tool_call":
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{Name: ev.Name, Arguments: ev.Arguments})
		case "tool_result":
			turn.ToolResults = append(turn.ToolResults, ToolResult{Name: ev.Name, Content: ev.Content, IsError: ev.IsError})
		case "image_generated":
			turn.Images = append(turn.Images, ImageRef{URL: ev.URL, ID: ev.ID, Prompt: ev.Prompt})
		case "done":
			return nil
		case "error":
			return fmt.Errorf("stream error: %s", ev.Error)
		default:
			logger.Debug("unknown stream event type", "type", ev.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// CurrentWeather fetches current conditions for a location.
func (c *Client) CurrentWeather(ctx context.Context, location string) (*Weather, error) {
	var result struct {
		Weather Weather `json:"weather"`
	}
	path := "/api/weather"
	if location != "" {
		path += "?location=" + strings.ReplaceAll(location, " ", "%20")
	}
	if err := c.getJSON(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("fetch weather: %w", err)
	}
	return &result.Weather, nil
}

// Health asks the companion service to probe its subsystems. Returns
// service name -> status string.
func (c *Client) Health(ctx context.Context, endpoints map[string]string) (map[string]string, error) {
	var result struct {
		Services map[string]struct {
			Status string `json:"status"`
		} `json:"services"`
	}
	if err := c.postJSON(ctx, "/api/health", map[string]any{"endpoints": endpoints}, &result); err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	statuses := make(map[string]string, len(result.Services))
	for name, svc := range result.Services {
		statuses[name] = svc.Status
	}
	return statuses, nil
}

// Notifications returns the companion service's queued outbound
// messages.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	var out []Notification
	if err := c.getJSON(ctx, "/api/notifications", &out); err != nil {
		return nil, fmt.Errorf("fetch notifications: %w", err)
	}
	return out, nil
}

// DeleteNotifications marks the given notification ids delivered.
func (c *Client) DeleteNotifications(ctx context.Context, ids []string) error {
	body, err := json.Marshal(map[string]any{"ids": ids})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/notifications", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete notifications %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

// ImageDataURI fetches a generated image by id when the stream event
// carried no URL.
func (c *Client) ImageDataURI(ctx context.Context, id string) (string, error) {
	var result struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := c.getJSON(ctx, "/api/images/"+id, &result); err != nil {
		return "", fmt.Errorf("fetch image %s: %w", id, err)
	}
	return result.ImageURL, nil
}

// RecordUserActivity notes that the owner just messaged this companion.
func (c *Client) RecordUserActivity(choomName string) {
	c.mu.Lock()
	c.activity[strings.ToLower(choomName)] = time.Now()
	c.mu.Unlock()
}

// IsUserActive reports whether the owner messaged this companion within
// the activity window. The scheduler defers autonomous sends while
// true.
func (c *Client) IsUserActive(choomName string) bool {
	c.mu.Lock()
	last, ok := c.activity[strings.ToLower(choomName)]
	c.mu.Unlock()
	return ok && time.Since(last) < userActiveWindow
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %d: %s", path, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("POST %s: %d: %s", path, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	if out == nil {
		httpkit.DrainAndClose(resp.Body, 4096)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
