// Package backup uploads the runtime databases to a WebDAV folder with
// date-stamped names and prunes old copies.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-webdav"

	"github.com/nugget/choombridge/internal/config"
)

// keepPerPrefix is how many dated copies survive a prune.
const keepPerPrefix = 5

// Client uploads files to one WebDAV collection.
type Client struct {
	dav    *webdav.Client
	folder string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a backup client for the configured collection. The
// folder is created on first upload if the server allows it.
func New(cfg config.BackupConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	endpoint, folder, err := splitCollection(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("backup url: %w", err)
	}
	if cfg.Folder != "" {
		folder = path.Join(folder, cfg.Folder) + "/"
	}

	httpClient := webdav.HTTPClientWithBasicAuth(&http.Client{Timeout: 120 * time.Second}, cfg.Username, cfg.Password)
	dav, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("webdav client: %w", err)
	}

	return &Client{
		dav:    dav,
		folder: folder,
		logger: logger,
		now:    time.Now,
	}, nil
}

// splitCollection separates a collection URL into the server endpoint
// and the collection path.
func splitCollection(raw string) (endpoint, collection string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("collection URL %q must be absolute", raw)
	}
	collection = u.Path
	if !strings.HasSuffix(collection, "/") {
		collection += "/"
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String(), collection, nil
}

// Upload copies a local file to the collection as
// <prefix>_YYYY-MM-DD<ext> and prunes older copies of the same prefix.
func (c *Client) Upload(ctx context.Context, localPath, prefix string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	name := fmt.Sprintf("%s_%s%s", prefix, c.now().Format("2006-01-02"), path.Ext(localPath))
	remote := path.Join(c.folder, name)

	// A same-day re-run overwrites today's copy, which is fine.
	if err := c.ensureFolder(ctx); err != nil {
		c.logger.Debug("backup folder check", "error", err)
	}
	w, err := c.dav.Create(ctx, remote)
	if err != nil {
		return fmt.Errorf("create %s: %w", remote, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", remote, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", remote, err)
	}
	c.logger.Info("backup uploaded", "file", remote)

	if err := c.prune(ctx, prefix); err != nil {
		c.logger.Warn("backup prune failed", "prefix", prefix, "error", err)
	}
	return nil
}

func (c *Client) ensureFolder(ctx context.Context) error {
	if _, err := c.dav.Stat(ctx, c.folder); err == nil {
		return nil
	}
	return c.dav.Mkdir(ctx, c.folder)
}

// prune deletes all but the newest keepPerPrefix dated copies of a
// prefix.
func (c *Client) prune(ctx context.Context, prefix string) error {
	infos, err := c.dav.ReadDir(ctx, c.folder, false)
	if err != nil {
		return fmt.Errorf("list %s: %w", c.folder, err)
	}

	var names []string
	for _, fi := range infos {
		if fi.IsDir {
			continue
		}
		names = append(names, path.Base(fi.Path))
	}

	for _, name := range staleBackups(names, prefix, keepPerPrefix) {
		if err := c.dav.RemoveAll(ctx, path.Join(c.folder, name)); err != nil {
			c.logger.Warn("could not delete old backup", "file", name, "error", err)
			continue
		}
		c.logger.Debug("old backup deleted", "file", name)
	}
	return nil
}

// staleBackups returns the dated copies of prefix beyond the newest
// keep. Date-stamped names sort lexically, newest last.
func staleBackups(names []string, prefix string, keep int) []string {
	var dated []string
	for _, name := range names {
		if strings.HasPrefix(name, prefix+"_") {
			dated = append(dated, name)
		}
	}
	if len(dated) <= keep {
		return nil
	}
	sort.Strings(dated)
	return dated[:len(dated)-keep]
}
