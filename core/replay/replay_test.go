package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRejectsReuse(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Consume(ctx, "n-1", time.Minute))
	require.ErrorIs(t, store.Consume(ctx, "n-1", time.Minute), ErrReplayed)
	require.NoError(t, store.Consume(ctx, "n-2", time.Minute))
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStoreForgetsAfterTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.Consume(ctx, "n-1", time.Minute))
	now = now.Add(59 * time.Second)
	require.ErrorIs(t, store.Consume(ctx, "n-1", time.Minute), ErrReplayed)
	now = now.Add(2 * time.Second)
	require.NoError(t, store.Consume(ctx, "n-1", time.Minute))
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewMemoryStore().Consume(ctx, "n-1", time.Minute)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestMemoryStoreConcurrentConsumeOnlyOneWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Consume(ctx, "shared", time.Minute) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

// Requires a running Redis; skipped when none is reachable.
func TestRedisStore_Integration(t *testing.T) {
	store := NewRedisStore("localhost:6379", "", 0)
	defer func() { _ = store.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	nonce := fmt.Sprintf("test-%d", time.Now().UnixNano())
	require.NoError(t, store.Consume(ctx, nonce, 5*time.Second))
	require.ErrorIs(t, store.Consume(ctx, nonce, 5*time.Second), ErrReplayed)
}
