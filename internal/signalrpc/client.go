package signalrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnavailable is returned by Dial when the daemon socket could not be
// reached before the context deadline.
var ErrUnavailable = errors.New("signal daemon unavailable")

// ErrClosed is returned by in-flight calls when the transport closes
// underneath them.
var ErrClosed = errors.New("signal transport closed")

// dialRetryInterval is the pause between connection attempts in Dial.
const dialRetryInterval = time.Second

// rpcResponse pairs a raw JSON result with an optional error for
// delivery through the pending channel.
type rpcResponse struct {
	Result json.RawMessage
	Error  *rpcError
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface for rpcError.
func (e *rpcError) Error() string {
	return fmt.Sprintf("signal-cli rpc error %d: %s", e.Code, e.Message)
}

// rpcRequest is a JSON-RPC 2.0 request written to the daemon socket.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcRaw is used to inspect incoming JSON lines from the daemon to
// determine whether they are responses (have an id) or notifications
// (have a method).
type rpcRaw struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"` // nil for notifications
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Client communicates with a signal-cli daemon running in jsonRpc mode
// over a Unix domain socket. Incoming message notifications are queued
// on a channel; outbound requests use request-response correlation via
// a pending map keyed by request id.
type Client struct {
	socketPath string
	logger     *slog.Logger

	conn   net.Conn
	reader *bufio.Reader

	nextID  atomic.Int64
	mu      sync.Mutex                 // protects pending + conn writes
	pending map[int64]chan rpcResponse // request ID → response channel

	notifications chan *Envelope // inbound message notifications
	done          chan struct{}  // closed when reader goroutine exits
	closeOnce     sync.Once
}

// Dial connects to the signal-cli daemon socket, retrying until ctx is
// done. On success it starts the reader goroutine. Returns
// ErrUnavailable (wrapping the last dial error) when the deadline
// elapses before a connection is made.
func Dial(ctx context.Context, socketPath string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", socketPath)
		if err == nil {
			c := &Client{
				socketPath:    socketPath,
				logger:        logger,
				conn:          conn,
				reader:        bufio.NewReaderSize(conn, 1<<20), // 1 MiB
				pending:       make(map[int64]chan rpcResponse),
				notifications: make(chan *Envelope, 64),
				done:          make(chan struct{}),
			}
			go c.readLoop()
			logger.Info("signal daemon connected", "socket", socketPath)
			return c, nil
		}

		lastErr = err
		logger.Debug("signal daemon dial failed, retrying",
			"socket", socketPath,
			"error", err,
		)

		timer := time.NewTimer(dialRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, socketPath, lastErr)
		case <-timer.C:
		}
	}
}

// Notifications returns the channel of inbound message envelopes. The
// channel is closed when the connection drops.
func (c *Client) Notifications() <-chan *Envelope {
	return c.notifications
}

// Drain returns all queued inbound envelopes without blocking.
func (c *Client) Drain() []*Envelope {
	var out []*Envelope
	for {
		select {
		case env, ok := <-c.notifications:
			if !ok {
				return out
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

// Connected reports whether the reader goroutine is still running.
func (c *Client) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the connection drops.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close shuts down the connection. In-flight calls are released with
// ErrClosed. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		<-c.done
	})
	return err
}

// call sends a JSON-RPC request and waits for the response.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	// Bail early if context is already cancelled to avoid a socket
	// write whose response nobody will wait for.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Connected() {
		return nil, ErrClosed
	}

	id := c.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.mu.Lock()
	c.pending[id] = ch
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write to signal socket: %w", err)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

// readLoop reads newline-delimited JSON from the socket, routing
// responses to their pending channels and receive notifications to the
// notifications channel.
func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.notifications)

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				c.logger.Error("signal socket read error", "error", err)
			}
			// Drain any pending requests.
			c.mu.Lock()
			for id, ch := range c.pending {
				ch <- rpcResponse{Error: &rpcError{
					Code:    -1,
					Message: "transport closed",
				}}
				delete(c.pending, id)
			}
			c.mu.Unlock()
			return
		}

		var raw rpcRaw
		if err := json.Unmarshal(line, &raw); err != nil {
			c.logger.Debug("signal socket non-JSON line", "line", string(line))
			continue
		}

		// Response (has ID) — route to pending channel.
		if raw.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*raw.ID]
			if ok {
				delete(c.pending, *raw.ID)
			}
			c.mu.Unlock()

			if ok {
				ch <- rpcResponse{Result: raw.Result, Error: raw.Error}
			} else {
				c.logger.Debug("signal response for unknown ID", "id", *raw.ID)
			}
			continue
		}

		// Notification — parse and route.
		if raw.Method == "receive" {
			var notif receiveNotification
			if err := json.Unmarshal(raw.Params, &notif); err != nil {
				c.logger.Warn("malformed receive notification",
					"error", err,
					"params", string(raw.Params),
				)
				continue
			}

			// Forward data messages and synced self-sends. Typing
			// indicators and receipts are informational only.
			env := notif.Envelope
			if env.DataMessage == nil && (env.SyncMessage == nil || env.SyncMessage.SentMessage == nil) {
				continue
			}

			select {
			case c.notifications <- &notif.Envelope:
			default:
				c.logger.Warn("notification queue full, dropping message",
					"sender", notif.Envelope.Source,
				)
			}
			continue
		}

		c.logger.Debug("signal socket unknown message", "method", raw.Method)
	}
}
