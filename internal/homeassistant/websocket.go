package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient is a minimal Home Assistant websocket client: authenticate,
// subscribe to state_changed, stream events.
type WSClient struct {
	baseURL string
	token   string
	logger  *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn
	msgID  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan wsResult

	events chan StateChange
	done   chan struct{}
}

// StateChange is one state_changed event payload.
type StateChange struct {
	EntityID string `json:"entity_id"`
	OldState *State `json:"old_state"`
	NewState *State `json:"new_state"`
}

type wsMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *struct {
		Type string          `json:"event_type"`
		Data json.RawMessage `json:"data"`
	} `json:"event,omitempty"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type wsResult struct {
	success bool
	errMsg  string
}

// NewWSClient creates a websocket client; Connect must be called
// before Events delivers anything.
func NewWSClient(baseURL, token string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		baseURL: baseURL,
		token:   token,
		logger:  logger,
		pending: make(map[int64]chan wsResult),
		events:  make(chan StateChange, 100),
	}
}

// Connect dials, authenticates, subscribes to state_changed, and
// starts the read loop.
func (c *WSClient) Connect(ctx context.Context) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/api/websocket"

	dialer := websocket.Dialer{
		ReadBufferSize:  1 << 20,
		WriteBufferSize: 64 << 10,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(16 << 20)

	var authReq wsMessage
	if err := conn.ReadJSON(&authReq); err != nil {
		conn.Close()
		return fmt.Errorf("read auth_required: %w", err)
	}
	if authReq.Type != "auth_required" {
		conn.Close()
		return fmt.Errorf("expected auth_required, got %s", authReq.Type)
	}
	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": c.token}); err != nil {
		conn.Close()
		return fmt.Errorf("send auth: %w", err)
	}
	var authResp wsMessage
	if err := conn.ReadJSON(&authResp); err != nil {
		conn.Close()
		return fmt.Errorf("read auth response: %w", err)
	}
	if authResp.Type != "auth_ok" {
		conn.Close()
		return fmt.Errorf("authentication failed: %s", authResp.Type)
	}

	c.connMu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	c.connMu.Unlock()

	go c.readLoop(conn)

	if err := c.subscribe(ctx, "state_changed"); err != nil {
		c.Close()
		return err
	}
	c.logger.Debug("home assistant websocket connected", "url", u.String())
	return nil
}

// Events delivers state changes. The channel is buffered; events are
// dropped, not blocked on, when the consumer lags.
func (c *WSClient) Events() <-chan StateChange {
	return c.events
}

// Done is closed when the read loop exits; the caller reconnects.
func (c *WSClient) Done() <-chan struct{} {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.done
}

// Close drops the connection.
func (c *WSClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *WSClient) subscribe(ctx context.Context, eventType string) error {
	id := c.msgID.Add(1)
	respCh := make(chan wsResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	msg := map[string]any{"id": id, "type": "subscribe_events", "event_type": eventType}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe %s: %w", eventType, err)
	}

	select {
	case r := <-respCh:
		if !r.success {
			return fmt.Errorf("subscribe %s: %s", eventType, r.errMsg)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("subscribe %s: timeout", eventType)
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer func() {
		c.connMu.Lock()
		if c.done != nil {
			select {
			case <-c.done:
			default:
				close(c.done)
			}
		}
		c.connMu.Unlock()
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		switch msg.Type {
		case "result":
			r := wsResult{success: msg.Success}
			if msg.Error != nil {
				r.errMsg = msg.Error.Message
			}
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				ch <- r
			}
			c.pendingMu.Unlock()

		case "event":
			if msg.Event == nil || msg.Event.Type != "state_changed" {
				continue
			}
			var change StateChange
			if err := json.Unmarshal(msg.Event.Data, &change); err != nil {
				c.logger.Debug("bad state_changed payload", "error", err)
				continue
			}
			select {
			case c.events <- change:
			default:
				c.logger.Warn("state change channel full, dropping", "entity", change.EntityID)
			}

		case "pong":

		default:
			c.logger.Debug("unhandled websocket message", "type", msg.Type)
		}
	}
}
