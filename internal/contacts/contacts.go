// Package contacts reads the owner's CardDAV address book for birthday
// data used in the morning briefing.
package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/carddav"
)

// Birthday is one contact's birthday. Year is zero when the vCard only
// records month and day.
type Birthday struct {
	Name  string
	Month time.Month
	Day   int
	Year  int
}

// Client reads one CardDAV address book.
type Client struct {
	dav    *carddav.Client
	book   string
	logger *slog.Logger
}

// New creates a contacts client for the address book collection at
// bookURL.
func New(bookURL, username, password string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(bookURL)
	if err != nil {
		return nil, fmt.Errorf("address book url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("address book url not absolute: %q", bookURL)
	}

	httpClient := webdav.HTTPClientWithBasicAuth(&http.Client{Timeout: 30 * time.Second}, username, password)
	dav, err := carddav.NewClient(httpClient, u.Scheme+"://"+u.Host)
	if err != nil {
		return nil, fmt.Errorf("carddav client: %w", err)
	}

	return &Client{dav: dav, book: u.Path, logger: logger}, nil
}

// Birthdays returns every contact with a parseable BDAY field.
func (c *Client) Birthdays(ctx context.Context) ([]Birthday, error) {
	query := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{
			Props: []string{vcard.FieldFormattedName, vcard.FieldBirthday},
		},
	}
	objects, err := c.dav.QueryAddressBook(ctx, c.book, query)
	if err != nil {
		return nil, fmt.Errorf("query address book: %w", err)
	}

	var birthdays []Birthday
	for _, obj := range objects {
		name := obj.Card.PreferredValue(vcard.FieldFormattedName)
		raw := obj.Card.Value(vcard.FieldBirthday)
		if name == "" || raw == "" {
			continue
		}
		b, err := parseBDay(raw)
		if err != nil {
			c.logger.Debug("unparseable birthday", "contact", name, "bday", raw)
			continue
		}
		b.Name = name
		birthdays = append(birthdays, b)
	}
	return birthdays, nil
}

// Upcoming returns birthdays falling within the next `days` days,
// sorted soonest first, formatted as briefing lines.
func (c *Client) Upcoming(ctx context.Context, now time.Time, days int) ([]string, error) {
	birthdays, err := c.Birthdays(ctx)
	if err != nil {
		return nil, err
	}

	type hit struct {
		when time.Time
		b    Birthday
	}
	var hits []hit
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	limit := today.AddDate(0, 0, days)

	for _, b := range birthdays {
		next := time.Date(now.Year(), b.Month, b.Day, 0, 0, 0, 0, now.Location())
		if next.Before(today) {
			next = next.AddDate(1, 0, 0)
		}
		if next.Before(limit) {
			hits = append(hits, hit{when: next, b: b})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].when.Before(hits[j].when) })

	var lines []string
	for _, h := range hits {
		line := fmt.Sprintf("%s: %s", h.when.Format("Mon Jan 2"), h.b.Name)
		if h.b.Year > 0 {
			line = fmt.Sprintf("%s (turns %d)", line, h.when.Year()-h.b.Year)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// bdayLayouts are the vCard BDAY shapes seen in the wild. The "--"
// forms omit the year.
var bdayLayouts = []string{"20060102", "2006-01-02"}

func parseBDay(raw string) (Birthday, error) {
	raw = strings.TrimSpace(raw)

	if rest, ok := strings.CutPrefix(raw, "--"); ok {
		rest = strings.ReplaceAll(rest, "-", "")
		if t, err := time.Parse("0102", rest); err == nil {
			return Birthday{Month: t.Month(), Day: t.Day()}, nil
		}
		return Birthday{}, fmt.Errorf("bad yearless bday %q", raw)
	}

	for _, layout := range bdayLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Birthday{Month: t.Month(), Day: t.Day(), Year: t.Year()}, nil
		}
	}
	return Birthday{}, fmt.Errorf("bad bday %q", raw)
}
