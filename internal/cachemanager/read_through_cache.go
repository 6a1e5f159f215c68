package cachemanager

import (
	"context"
	"sync"
	"time"
)

// ReadThrough answers reads for an input I from a cache and falls back to
// load on a miss, caching what load returns. Load errors are not cached,
// and neither is a load that overlapped an Invalidate of the same key.
type ReadThrough[I any, V any] struct {
	cache CacheManager[string, V]
	key   func(I) string
	load  func(ctx context.Context, in I) (V, error)
	ttl   time.Duration
	// sliding pushes an entry's expiry forward on every hit.
	sliding bool

	mu       sync.Mutex
	inflight map[string]*loadState
}

// loadState tracks the loads of one key that are in progress.
type loadState struct {
	n     int
	stale bool
}

// NewReadThrough creates a ReadThrough. key maps an input to its cache key.
func NewReadThrough[I any, V any](
	cache CacheManager[string, V],
	key func(I) string,
	load func(ctx context.Context, in I) (V, error),
	ttl time.Duration,
	sliding bool,
) *ReadThrough[I, V] {
	return &ReadThrough[I, V]{
		cache:    cache,
		key:      key,
		load:     load,
		ttl:      ttl,
		sliding:  sliding,
		inflight: make(map[string]*loadState),
	}
}

// Get returns the cached value for in, loading it on a miss.
func (r *ReadThrough[I, V]) Get(ctx context.Context, in I) (V, error) {
	k := r.key(in)

	var (
		value V
		hit   bool
	)
	if r.sliding {
		value, hit = r.cache.GetWithRefresh(ctx, k, r.ttl)
	} else {
		value, hit = r.cache.Get(ctx, k)
	}
	if hit {
		return value, nil
	}

	st := r.beginLoad(k)
	value, err := r.load(ctx, in)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLoadLocked(k, st)
	if err != nil {
		return value, err
	}
	// An Invalidate during the load means value may predate a write.
	if !st.stale {
		r.cache.Set(ctx, k, value, r.ttl)
	}
	return value, nil
}

func (r *ReadThrough[I, V]) beginLoad(k string) *loadState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.inflight[k]
	if st == nil || st.stale {
		// Loads starting after an Invalidate see the new value; they
		// get a fresh state so they may cache it.
		st = &loadState{}
		r.inflight[k] = st
	}
	st.n++
	return st
}

func (r *ReadThrough[I, V]) endLoadLocked(k string, st *loadState) {
	st.n--
	if st.n == 0 && r.inflight[k] == st {
		delete(r.inflight, k)
	}
}

// Invalidate drops the entry for in so the next Get loads it again. Loads
// of the same key already in progress will not cache their result.
func (r *ReadThrough[I, V]) Invalidate(ctx context.Context, in I) error {
	k := r.key(in)

	r.mu.Lock()
	defer r.mu.Unlock()
	if st := r.inflight[k]; st != nil {
		st.stale = true
	}
	return r.cache.Delete(ctx, k)
}
