// Package cache is a TTL-bounded cache for expensive read paths. It is an
// optimization only: backend failures are logged, counted and reported as
// misses, never returned to callers.
package cache

import (
	"context"
	"time"
)

// Keys shared by writers and readers.
const (
	KeyActiveListings = "all_active_listings"
)

// Cache stores JSON-encodable values under string keys.
type Cache interface {
	// Get decodes the value under key into dest and reports whether it was a
	// fresh hit. A value older than the TTL it was set with is a miss.
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Invalidate(ctx context.Context, keys ...string)
}

// Noop never stores anything. It is used when caching is disabled.
type Noop struct{}

func (Noop) Get(context.Context, string, any) bool           { return false }
func (Noop) Set(context.Context, string, any, time.Duration) {}
func (Noop) Invalidate(context.Context, ...string)           {}
