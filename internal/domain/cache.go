package domain

import "context"

// Cache is a TTL key/value store. The HTTP layer keeps replayable
// responses in it; records themselves are never cached.
type Cache interface {
	// Get returns the value and false once the entry has expired.
	Get(ctx context.Context, key string) (any, bool)
	// Set stores value under key for the cache's TTL.
	Set(ctx context.Context, key string, value any) error
	// Add stores value only if key holds no live entry and reports whether
	// it did.
	Add(ctx context.Context, key string, value any) (bool, error)
	Delete(ctx context.Context, key string) error
	// CleanExpired drops every entry past its TTL.
	CleanExpired(ctx context.Context) error
}
