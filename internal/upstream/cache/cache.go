// Package cache stores raw upstream responses in a local SQLite database so
// that re-running the pipeline over completed sessions does not hit the
// provider again. Callers pass a max age per request: responses for data the
// provider may still be publishing expire, settled data is kept for good.
package cache

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Cache is a persistent key/value store of response bodies keyed by request URL.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
	fills  singleflight.Group
	now    func() time.Time
}

// Open creates (or reuses) the cache database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS responses (
			url        TEXT PRIMARY KEY,
			body       BLOB NOT NULL,
			fetched_at INTEGER NOT NULL
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: create table: %w", err)
	}

	return &Cache{db: db, logger: logger, now: time.Now}, nil
}

// Entry is one cached response.
type Entry struct {
	Body      []byte
	FetchedAt time.Time
}

// Get returns the cached entry for url, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, url string) (Entry, bool, error) {
	var (
		body      []byte
		fetchedAt int64
	)
	err := c.db.QueryRowContext(ctx, `SELECT body, fetched_at FROM responses WHERE url = ?`, url).Scan(&body, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: get: %w", err)
	}
	return Entry{Body: body, FetchedAt: time.Unix(fetchedAt, 0)}, true, nil
}

// Put stores body for url, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, url string, body []byte) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO responses (url, body, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET body = excluded.body, fetched_at = excluded.fetched_at`,
		url, body, c.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// Fetch returns the cached body for url or calls fill and caches its result.
// An entry older than maxAge is refetched; maxAge <= 0 never expires.
// Concurrent fetches of the same url share one fill. Empty JSON arrays are
// returned but not cached: the provider answers [] for data it has not
// published yet. Cache read/write errors are logged and bypassed; only fill
// errors are returned.
func (c *Cache) Fetch(ctx context.Context, url string, maxAge time.Duration, fill func(context.Context) ([]byte, error)) ([]byte, error) {
	e, ok, err := c.Get(ctx, url)
	switch {
	case err != nil:
		c.logger.Warn("cache read failed, fetching upstream", "url", url, "error", err)
	case ok && (maxAge <= 0 || c.now().Sub(e.FetchedAt) < maxAge):
		return e.Body, nil
	case ok:
		c.logger.Debug("cache entry expired", "url", url, "age", c.now().Sub(e.FetchedAt).String())
	}

	v, err, _ := c.fills.Do(url, func() (any, error) {
		b, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		if isEmptyArray(b) {
			return b, nil
		}
		if err := c.Put(ctx, url, b); err != nil {
			c.logger.Warn("cache write failed", "url", url, "error", err)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func isEmptyArray(b []byte) bool {
	return bytes.Equal(bytes.Join(bytes.Fields(b), nil), []byte("[]"))
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
