package nonce_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/core/kvstore"
	"github.com/dmitrymomot/acmefront/core/nonce"
)

func TestManager_SingleUse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := nonce.NewManager(kvstore.NewMemoryStore(), time.Minute)

	for range 20 {
		n, err := m.Generate(ctx)
		require.NoError(t, err)
		assert.NotContains(t, n, "=")

		assert.True(t, m.Verify(ctx, n))
		assert.False(t, m.Verify(ctx, n))
	}

	assert.False(t, m.Verify(ctx, "unknown"))
	assert.False(t, m.Verify(ctx, ""))
}

func TestManager_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	store := kvstore.NewMemoryStore().WithClock(func() time.Time { return now })
	m := nonce.NewManager(store, time.Minute)

	n, err := m.Generate(context.Background())
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.False(t, m.Verify(context.Background(), n))
}

func TestManager_ConcurrentVerify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := nonce.NewManager(kvstore.NewMemoryStore(), 0)
	n, err := m.Generate(ctx)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Verify(ctx, n) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
