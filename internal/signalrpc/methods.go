package signalrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Send sends a text message to a recipient, with optional attachment
// file paths, and returns the server timestamp of the sent message.
func (c *Client) Send(ctx context.Context, recipient, message string, attachments ...string) (int64, error) {
	params := map[string]any{
		"recipient": []string{recipient},
		"message":   message,
	}
	if len(attachments) > 0 {
		params["attachments"] = attachments
	}

	raw, err := c.call(ctx, "send", params)
	if err != nil {
		return 0, fmt.Errorf("signal send: %w", err)
	}

	var result sendResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("unmarshal send result: %w", err)
	}
	return result.Timestamp, nil
}

// SendTyping sends a typing indicator start or stop.
func (c *Client) SendTyping(ctx context.Context, recipient string, stop bool) error {
	params := map[string]any{
		"recipient": recipient,
	}
	if stop {
		params["stop"] = true
	}
	_, err := c.call(ctx, "sendTyping", params)
	if err != nil {
		return fmt.Errorf("signal sendTyping: %w", err)
	}
	return nil
}

// SendReaction sends an emoji reaction to a prior message.
func (c *Client) SendReaction(ctx context.Context, recipient, emoji, targetAuthor string, targetTimestamp int64) error {
	_, err := c.call(ctx, "sendReaction", map[string]any{
		"recipient":       recipient,
		"emoji":           emoji,
		"targetAuthor":    targetAuthor,
		"targetTimestamp": targetTimestamp,
	})
	if err != nil {
		return fmt.Errorf("signal sendReaction: %w", err)
	}
	return nil
}

// SendReceipt sends a read receipt for the given message timestamp.
func (c *Client) SendReceipt(ctx context.Context, recipient string, timestamp int64) error {
	_, err := c.call(ctx, "sendReceipt", map[string]any{
		"recipient":       recipient,
		"targetTimestamp": timestamp,
		"type":            "read",
	})
	if err != nil {
		return fmt.Errorf("signal sendReceipt: %w", err)
	}
	return nil
}

// ListContacts returns the account's known contacts.
func (c *Client) ListContacts(ctx context.Context) ([]Contact, error) {
	raw, err := c.call(ctx, "listContacts", nil)
	if err != nil {
		return nil, fmt.Errorf("signal listContacts: %w", err)
	}

	var contacts []Contact
	if err := json.Unmarshal(raw, &contacts); err != nil {
		return nil, fmt.Errorf("unmarshal contacts: %w", err)
	}
	return contacts, nil
}

// Ping checks that the daemon is responsive by requesting its version.
// Suitable as a connwatch probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "version", nil)
	return err
}

// StartLink begins linking this signal-cli instance as a secondary
// device and returns the device-link URI to present as a QR code.
func (c *Client) StartLink(ctx context.Context) (string, error) {
	raw, err := c.call(ctx, "startLink", nil)
	if err != nil {
		return "", fmt.Errorf("signal startLink: %w", err)
	}

	var result linkResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("unmarshal startLink result: %w", err)
	}
	return result.DeviceLinkURI, nil
}

// FinishLink completes device linking after the primary device scanned
// the URI produced by StartLink.
func (c *Client) FinishLink(ctx context.Context, uri, deviceName string) error {
	_, err := c.call(ctx, "finishLink", map[string]any{
		"deviceLinkUri": uri,
		"deviceName":    deviceName,
	})
	if err != nil {
		return fmt.Errorf("signal finishLink: %w", err)
	}
	return nil
}

// AttachmentPath resolves an attachment id to its file under the
// signal-cli data directory. Ids containing path separators or parent
// references are rejected.
func AttachmentPath(configPath, id string) (string, error) {
	if id == "" {
		return "", errors.New("empty attachment id")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", fmt.Errorf("unsafe attachment id %q", id)
	}
	return filepath.Join(configPath, "attachments", id), nil
}
