// Package email reads the owner's IMAP inbox for the morning
// briefing's unread-mail summary.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
)

// Config describes one IMAP account.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
}

// Summary is the inbox state the briefing reports.
type Summary struct {
	Unseen   int
	Messages []Message
}

// Message is one unread message header.
type Message struct {
	From    string
	Subject string
	Date    time.Time
}

// Client wraps a single-account IMAP connection. Access is serialized
// under a mutex and the connection is re-established when a liveness
// probe fails.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	imap *imapclient.Client
}

// NewClient creates a lazy-connecting IMAP client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}
}

func (c *Client) connectLocked() error {
	if c.imap != nil {
		_ = c.imap.Close()
		c.imap = nil
	}

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	opts := imapclient.Options{
		// Servers still emit ISO-8859 and friends in encoded-word
		// headers; decode them instead of passing garbage through.
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}

	var (
		conn *imapclient.Client
		err  error
	)
	if c.cfg.TLS {
		opts.TLSConfig = &tls.Config{ServerName: c.cfg.Host}
		conn, err = imapclient.DialTLS(addr, &opts)
	} else {
		conn, err = imapclient.DialInsecure(addr, &opts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := conn.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}

	c.imap = conn
	c.logger.Debug("IMAP connected", "host", c.cfg.Host, "user", c.cfg.Username)
	return nil
}

func (c *Client) ensureConnectedLocked() error {
	if c.imap != nil {
		if err := c.imap.Noop().Wait(); err == nil {
			return nil
		}
		c.logger.Debug("IMAP connection stale, reconnecting", "host", c.cfg.Host)
	}
	return c.connectLocked()
}

// Ping verifies the connection, reconnecting when stale. Suitable as a
// connwatch probe.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnectedLocked()
}

// Close logs out and drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.imap == nil {
		return nil
	}
	err := c.imap.Close()
	c.imap = nil
	return err
}

// InboxSummary returns the unseen count and the newest `limit` unread
// message headers from INBOX.
func (c *Client) InboxSummary(ctx context.Context, limit int) (*Summary, error) {
	if limit <= 0 {
		limit = 5
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnectedLocked(); err != nil {
		return nil, err
	}

	if _, err := c.imap.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("select INBOX: %w", err)
	}

	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	searchData, err := c.imap.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}

	uids := searchData.AllUIDs()
	summary := &Summary{Unseen: len(uids)}
	if len(uids) == 0 {
		return summary, nil
	}

	// Highest UIDs are newest.
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}
	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	fetchCmd := c.imap.Fetch(uidSet, &imap.FetchOptions{UID: true, Envelope: true})
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			env, ok := item.(imapclient.FetchItemDataEnvelope)
			if !ok || env.Envelope == nil {
				continue
			}
			m := Message{
				Subject: env.Envelope.Subject,
				Date:    env.Envelope.Date,
			}
			if len(env.Envelope.From) > 0 {
				m.From = formatAddress(env.Envelope.From[0])
			}
			summary.Messages = append(summary.Messages, m)
		}
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch headers: %w", err)
	}

	// Newest first.
	for i, j := 0, len(summary.Messages)-1; i < j; i, j = i+1, j-1 {
		summary.Messages[i], summary.Messages[j] = summary.Messages[j], summary.Messages[i]
	}
	return summary, nil
}

func formatAddress(addr imap.Address) string {
	if addr.Name != "" {
		return addr.Name
	}
	return addr.Addr()
}

// BriefingLines renders the summary for the briefing data block.
func (s *Summary) BriefingLines() []string {
	if s.Unseen == 0 {
		return []string{"No unread email."}
	}
	lines := []string{fmt.Sprintf("%d unread message(s). Most recent:", s.Unseen)}
	for _, m := range s.Messages {
		subject := strings.TrimSpace(m.Subject)
		if subject == "" {
			subject = "(no subject)"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", m.From, subject))
	}
	return lines
}
