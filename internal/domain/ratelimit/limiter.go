package ratelimit

import "context"

// Limiter checks requests against a rate limit.
//
// Implementations use GCRA (Generic Cell Rate Algorithm) for smooth rate
// limiting without burst issues at window boundaries. The interface is
// storage-agnostic.
type Limiter interface {
	// Allow checks if a request identified by key is allowed under the
	// given config. The key should come from FormatKey. When the request is
	// not allowed, RetryAfter in the result says when the next one will be.
	Allow(ctx context.Context, key string, config Config) (Result, error)
}
