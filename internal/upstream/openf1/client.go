// Package openf1 implements upstream.Provider over the OpenF1 REST API
// (https://openf1.org). Responses are optionally cached in a local response
// cache and every request passes through a shared rate limiter.
package openf1

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/telemetrics/telemetrics/internal/ratelimit"
)

// DefaultBaseURL is the public OpenF1 endpoint.
const DefaultBaseURL = "https://api.openf1.org/v1"

// limiterKey is the bucket shared by all OpenF1 requests.
const limiterKey = "openf1"

// Cache freshness defaults. OpenF1 publishes a session's data over the hours
// after it ends.
const (
	DefaultFreshWindow  = 48 * time.Hour
	DefaultRecentMaxAge = 15 * time.Minute
)

// ResponseCache stores raw response bodies by request URL. Entries older
// than maxAge are refetched; maxAge <= 0 keeps them for good.
type ResponseCache interface {
	Fetch(ctx context.Context, url string, maxAge time.Duration, fill func(context.Context) ([]byte, error)) ([]byte, error)
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Limiter ratelimit.Limiter
	Cache   ResponseCache

	// FreshWindow is how long after a session ends its data may still
	// change upstream. Responses inside the window, and the schedule of
	// the current season, are cached for at most RecentMaxAge.
	FreshWindow  time.Duration
	RecentMaxAge time.Duration
}

// Client talks to OpenF1.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	limiter      ratelimit.Limiter
	cache        ResponseCache
	freshWindow  time.Duration
	recentMaxAge time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// New creates a Client. A nil Limiter disables throttling; a nil Cache sends
// every request upstream.
func New(opts Options, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	freshWindow := opts.FreshWindow
	if freshWindow <= 0 {
		freshWindow = DefaultFreshWindow
	}
	recentMaxAge := opts.RecentMaxAge
	if recentMaxAge <= 0 {
		recentMaxAge = DefaultRecentMaxAge
	}
	return &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      limiter,
		cache:        opts.Cache,
		freshWindow:  freshWindow,
		recentMaxAge: recentMaxAge,
		now:          time.Now,
		logger:       logger,
	}
}

// maxAgeFor returns the cache max age for data of a session that ended at
// ended. Unknown end times are treated as recent.
func (c *Client) maxAgeFor(ended time.Time) time.Duration {
	if ended.IsZero() || c.now().Sub(ended) < c.freshWindow {
		return c.recentMaxAge
	}
	return 0
}

// maxAgeForSeason returns the cache max age of a season's schedule, which
// changes until the season is over.
func (c *Client) maxAgeForSeason(year int) time.Duration {
	if year >= c.now().Year() {
		return c.recentMaxAge
	}
	return 0
}

// query is an ordered list of OpenF1 filter expressions such as
// "session_key=9158" or "date>=2023-09-16T13:00:00". OpenF1 parses the
// comparison operator out of the raw query string, so filters are not
// encoded with url.Values.
type query []string

func (q query) eq(key string, v any) query {
	return append(q, key+"="+url.QueryEscape(fmt.Sprint(v)))
}

func (q query) cmp(key, op string, v string) query {
	return append(q, key+op+url.QueryEscape(v))
}

func (c *Client) endpoint(path string, q query) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + strings.Join(q, "&")
	}
	return u
}

// get fetches path with the given filters and decodes the JSON body into out.
// maxAge bounds how old a cached response may be.
func (c *Client) get(ctx context.Context, path string, q query, maxAge time.Duration, out any) error {
	u := c.endpoint(path, q)

	var (
		body []byte
		err  error
	)
	if c.cache != nil {
		body, err = c.cache.Fetch(ctx, u, maxAge, func(ctx context.Context) ([]byte, error) {
			return c.fetch(ctx, u)
		})
	} else {
		body, err = c.fetch(ctx, u)
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("openf1: decode %s: %w", path, err)
	}
	return nil
}

// fetch performs one throttled GET and returns the raw body. OpenF1 answers
// 404 with a detail message when a filter matches nothing; that is reported
// as an empty array.
func (c *Client) fetch(ctx context.Context, u string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, limiterKey); err != nil {
		return nil, fmt.Errorf("openf1: rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("openf1: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openf1: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return []byte("[]"), nil
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("openf1: %s: status %d: %s", u, resp.StatusCode, string(msg))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openf1: read body: %w", err)
	}
	c.logger.Debug("openf1 request", "url", u, "bytes", len(body), "duration_ms", time.Since(start).Milliseconds())
	return body, nil
}
