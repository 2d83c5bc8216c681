// Package ratelimit provides token bucket rate limiting for both directions
// of traffic: outbound requests to the upstream data provider (Wait) and
// inbound requests to the read API (Allow).
package ratelimit

import "context"

// Limiter decides whether work identified by key may proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed now.
	// The key is opaque; callers construct it (e.g. "openf1" or a client IP).
	Allow(ctx context.Context, key string) (bool, error)

	// Wait blocks until a token for key is available or ctx is done.
	Wait(ctx context.Context, key string) error

	// Close releases resources (cleanup goroutines).
	Close() error
}

// NoopLimiter permits everything. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Wait returns immediately unless ctx is already done.
func (NoopLimiter) Wait(ctx context.Context, _ string) error { return ctx.Err() }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
