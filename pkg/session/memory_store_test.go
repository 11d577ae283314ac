package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore returns a store with no background sweep and a controllable
// clock.
func newTestStore(t *testing.T, timeout time.Duration) (*MemoryStore, *time.Time) {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(timeout, 0)
	store.now = func() time.Time { return now }
	t.Cleanup(func() { _ = store.Close() })

	return store, &now
}

func TestMemoryStoreGetWithinTimeout(t *testing.T) {
	store, now := newTestStore(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "conv-1", "handle-1", *now))

	*now = now.Add(29 * time.Minute)
	entry, ok, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "handle-1", entry.Handle)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store, _ := newTestStore(t, 30*time.Minute)

	_, ok, err := store.Get(context.Background(), "conv-unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreExpiredEntryTreatedAsAbsent(t *testing.T) {
	store, now := newTestStore(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "conv-1", "handle-1", *now))

	// Past the timeout but not yet swept: must still be invisible.
	*now = now.Add(31 * time.Minute)
	_, ok, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStorePutOverwrites(t *testing.T) {
	store, now := newTestStore(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "conv-1", "handle-old", *now))
	require.NoError(t, store.Put(ctx, "conv-1", "handle-new", now.Add(time.Minute)))

	entry, ok, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "handle-new", entry.Handle)
	assert.Equal(t, now.Add(time.Minute), entry.LastTouch)
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	store, now := newTestStore(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "conv-1", "handle-1", *now))
	require.NoError(t, store.Delete(ctx, "conv-1"))
	require.NoError(t, store.Delete(ctx, "conv-1"))

	_, ok, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreSweepRemovesExactlyExpired(t *testing.T) {
	store, now := newTestStore(t, 30*time.Minute)
	ctx := context.Background()

	base := *now
	require.NoError(t, store.Put(ctx, "old-1", "h1", base.Add(-45*time.Minute)))
	require.NoError(t, store.Put(ctx, "old-2", "h2", base.Add(-31*time.Minute)))
	require.NoError(t, store.Put(ctx, "live-1", "h3", base.Add(-29*time.Minute)))
	require.NoError(t, store.Put(ctx, "live-2", "h4", base))

	removed, err := store.Sweep(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	for _, id := range []string{"live-1", "live-2"} {
		_, ok, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok, "entry %s should survive the sweep", id)
	}
	for _, id := range []string{"old-1", "old-2"} {
		_, ok, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, "entry %s should be swept", id)
	}
}

func TestMemoryStoreSweepEmpty(t *testing.T) {
	store, now := newTestStore(t, 30*time.Minute)

	removed, err := store.Sweep(context.Background(), *now)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestMemoryStoreBackgroundSweep(t *testing.T) {
	store := NewMemoryStore(10*time.Millisecond, 20*time.Millisecond)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "conv-1", "handle-1", time.Now()))

	assert.Eventually(t, func() bool {
		store.mu.RLock()
		defer store.mu.RUnlock()
		_, exists := store.entries["conv-1"]
		return !exists
	}, time.Second, 10*time.Millisecond, "expired entry should be swept in the background")
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(time.Minute, 0)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("conv-%d", n%5)
			for j := 0; j < 100; j++ {
				_ = store.Put(ctx, id, "handle", time.Now())
				_, _, _ = store.Get(ctx, id)
				_, _ = store.Sweep(ctx, time.Now())
				_ = store.Delete(ctx, id)
			}
		}(i)
	}
	wg.Wait()
}

func TestMemoryStoreEvictNotifications(t *testing.T) {
	store, now := newTestStore(t, 30*time.Minute)
	ctx := context.Background()

	type eviction struct{ conversationID, handle string }
	var evictions []eviction
	store.OnEvict(func(conversationID, handle string) {
		evictions = append(evictions, eviction{conversationID, handle})
	})

	// Fresh insert: no notification.
	require.NoError(t, store.Put(ctx, "conv-1", "handle-1", *now))
	assert.Empty(t, evictions)

	// Overwrite with a new handle evicts the old one.
	require.NoError(t, store.Put(ctx, "conv-1", "handle-2", *now))
	assert.Equal(t, []eviction{{"conv-1", "handle-1"}}, evictions)

	// Re-stamping the same handle is not an eviction.
	require.NoError(t, store.Put(ctx, "conv-1", "handle-2", now.Add(time.Minute)))
	assert.Len(t, evictions, 1)

	// Explicit delete notifies; deleting an absent entry does not.
	require.NoError(t, store.Delete(ctx, "conv-1"))
	require.NoError(t, store.Delete(ctx, "conv-1"))
	assert.Equal(t, eviction{"conv-1", "handle-2"}, evictions[1])
	assert.Len(t, evictions, 2)

	// Sweep notifies for every entry it removes.
	require.NoError(t, store.Put(ctx, "conv-2", "handle-3", now.Add(-time.Hour)))
	removed, err := store.Sweep(ctx, *now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, eviction{"conv-2", "handle-3"}, evictions[2])
}

func TestMemoryStoreCloseTwice(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Minute)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
