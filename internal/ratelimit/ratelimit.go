// Package ratelimit bounds how fast clients can drive the pipeline.
//
// Every step command costs a remote specialist call, so the limits exist
// to protect the gateway budget, not the HTTP server itself. The Limiter
// interface is the contract; the in-process MemoryLimiter is the default
// implementation, keyed per account (or per IP for unauthenticated paths).
package ratelimit

import "context"

// Limiter decides whether a request identified by key should proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. Keys are opaque;
	// callers construct them (account ID, client IP). An error signals a
	// limiter malfunction and callers should fail open rather than block
	// traffic on it.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases limiter resources.
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
