// Package cachemanager wraps go-cache behind a typed, TTL-based interface.
// The supervisor keeps its short-lived bookkeeping here (timed-out request
// ids, the recent-crash window) and the worker fronts its memory store
// with a read-through cache.
package cachemanager

import (
	"context"
	"time"
)

type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Count(ctx context.Context) int
	Flush(ctx context.Context) error
}
