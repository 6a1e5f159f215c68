package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type requestKey string

type crashRecord struct {
	PID  int
	Code int
}

func TestNewInMemoryCacheManager(t *testing.T) {
	require.NotPanics(t, func() {
		NewInMemoryCacheManager[string, string]("test", DefaultExpiration, DefaultCleanupInterval)
	})
}

func TestInMemoryCacheManager_GetExistingValue_StructType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, crashRecord]("crashes", DefaultExpiration, DefaultCleanupInterval)
	rec := crashRecord{PID: 4242, Code: 1}
	cache.Set(context.Background(), "crash:1", rec, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "crash:1")
	require.True(t, ok)
	require.Equal(t, rec, got)
}

func TestInMemoryCacheManager_TypedKeys(t *testing.T) {
	cache := NewInMemoryCacheManager[requestKey, string]("late-results", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), requestKey("1700000000000-abc"), "echo", DefaultExpiration)

	got, ok := cache.Get(context.Background(), requestKey("1700000000000-abc"))
	require.True(t, ok)
	require.Equal(t, "echo", got)
}

func TestInMemoryCacheManager_GetWithNoExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("late-results", DefaultExpiration, DefaultCleanupInterval)

	got, ok := cache.Get(context.Background(), "missing")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_GetWithExistingInvalidValueType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("late-results", DefaultExpiration, DefaultCleanupInterval)

	cache.cache.Set("req", 123, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "req")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_ExpiredValueIsMissing(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("late-results", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "req", "echo", 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := cache.Get(context.Background(), "req")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestInMemoryCacheManager_GetWithRefresh_WithNoExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("memory", DefaultExpiration, DefaultCleanupInterval)

	got, ok := cache.GetWithRefresh(context.Background(), "conv/key", time.Hour)
	require.False(t, ok)
	require.Equal(t, "", got)
}

func TestInMemoryCacheManager_GetWithRefresh_ExtendsTTL(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("memory", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "conv/key", "value", 50*time.Millisecond)

	got, ok := cache.GetWithRefresh(context.Background(), "conv/key", time.Hour)
	require.True(t, ok)
	require.Equal(t, "value", got)

	time.Sleep(100 * time.Millisecond)
	_, ok = cache.Get(context.Background(), "conv/key")
	require.True(t, ok)
}

func TestInMemoryCacheManager_DeleteWithNoKeysDoesNothing(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("memory", DefaultExpiration, DefaultCleanupInterval)

	err := cache.Delete(context.Background())
	require.NoError(t, err)
}

func TestInMemoryCacheManager_DeleteExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("memory", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "conv/key", "value", DefaultExpiration)

	err := cache.Delete(context.Background(), "conv/key")
	require.NoError(t, err)

	got, ok := cache.Get(context.Background(), "conv/key")
	require.False(t, ok)
	require.Equal(t, "", got)
}

func TestInMemoryCacheManager_CountIgnoresExpired(t *testing.T) {
	cache := NewInMemoryCacheManager[string, time.Time]("crash-window", DefaultExpiration, DefaultCleanupInterval)
	now := time.Now()
	cache.Set(context.Background(), "a", now, time.Hour)
	cache.Set(context.Background(), "b", now, time.Hour)
	cache.Set(context.Background(), "c", now, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return cache.Count(context.Background()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestInMemoryCacheManager_Flush(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("memory", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "conv/key", "value", DefaultExpiration)

	err := cache.Flush(context.Background())
	require.NoError(t, err)

	require.Equal(t, 0, cache.Count(context.Background()))
}
