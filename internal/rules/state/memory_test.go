package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryIncrementIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(time.Minute)

	for want := uint64(1); want <= 5; want++ {
		got, err := store.Increment(ctx, "endpoint|10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	count, err := store.Get(ctx, "endpoint|10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, uint64(5), count)
}

func TestMemoryKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(time.Minute)

	for i := 0; i < 3; i++ {
		_, err := store.Increment(ctx, "a")
		require.NoError(t, err)
	}
	_, err := store.Increment(ctx, "b")
	require.NoError(t, err)

	a, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, uint64(3), a)

	b, err := store.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, uint64(1), b)
}

func TestMemoryGetMissingKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(time.Minute)

	count, err := store.Get(ctx, "never-seen")
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)
}

func TestMemoryExpiryResetsCounter(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := newMemory(time.Minute, func() time.Time { return clock })

	_, err := store.Increment(ctx, "key")
	require.NoError(t, err)
	_, err = store.Increment(ctx, "key")
	require.NoError(t, err)

	// Idle past the TTL: the next read sees a fresh window.
	clock = clock.Add(2 * time.Minute)
	count, err := store.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)

	got, err := store.Increment(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, uint64(1), got)
}

func TestMemoryAccessExtendsTTL(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := newMemory(time.Minute, func() time.Time { return clock })

	_, err := store.Increment(ctx, "key")
	require.NoError(t, err)

	// Touch the key before each deadline; the counter must survive.
	for i := 0; i < 3; i++ {
		clock = clock.Add(45 * time.Second)
		count, err := store.Get(ctx, "key")
		require.NoError(t, err)
		require.Equal(t, uint64(1), count)
	}
}

func TestMemorySweepEvictsExpired(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := newMemory(time.Minute, func() time.Time { return clock })

	_, err := store.Increment(ctx, "stale")
	require.NoError(t, err)
	clock = clock.Add(30 * time.Second)
	_, err = store.Increment(ctx, "fresh")
	require.NoError(t, err)

	clock = clock.Add(45 * time.Second)
	require.NoError(t, store.Sweep(ctx))

	store.mu.Lock()
	_, staleKept := store.counters["stale"]
	_, freshKept := store.counters["fresh"]
	store.mu.Unlock()
	require.False(t, staleKept)
	require.True(t, freshKept)
}

func TestMemoryConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(time.Minute)

	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := store.Increment(ctx, "shared"); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	count, err := store.Get(ctx, "shared")
	require.NoError(t, err)
	require.Equal(t, uint64(workers*perWorker), count)
}
