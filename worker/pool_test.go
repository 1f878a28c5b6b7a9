package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolProcessesWork(t *testing.T) {
	var processed int64
	var wg sync.WaitGroup

	pool := NewPool(2, 10, func(_ context.Context, n int) error {
		atomic.AddInt64(&processed, int64(n))
		wg.Done()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 1; i <= 5; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(i))
	}
	wg.Wait()

	assert.Equal(t, int64(15), atomic.LoadInt64(&processed))
	require.NoError(t, pool.Stop(time.Second))
}

func TestSubmitBeforeStart(t *testing.T) {
	pool := NewPool(1, 1, func(context.Context, int) error { return nil })
	assert.ErrorIs(t, pool.Submit(1), ErrPoolNotStarted)
}

func TestQueueFullDropsWork(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer close(block)

	// First item occupies the worker, second fills the queue; the rest
	// must be dropped with ErrQueueFull. Submission order is racy with
	// worker pickup, so allow one extra accepted item.
	var dropped int
	for i := 0; i < 5; i++ {
		if err := pool.Submit(i); err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			dropped++
		}
	}
	assert.GreaterOrEqual(t, dropped, 2)
	assert.Equal(t, int64(dropped), pool.Stats().Dropped)
}

func TestDoubleStart(t *testing.T) {
	pool := NewPool(1, 1, func(context.Context, int) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)
	require.NoError(t, pool.Stop(time.Second))
}

func TestStatsCountFailures(t *testing.T) {
	var wg sync.WaitGroup
	pool := NewPool(1, 10, func(_ context.Context, fail bool) error {
		defer wg.Done()
		if fail {
			return ErrNilTask
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	wg.Add(3)
	require.NoError(t, pool.Submit(true))
	require.NoError(t, pool.Submit(false))
	require.NoError(t, pool.Submit(true))
	wg.Wait()

	stats := pool.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
	require.NoError(t, pool.Stop(time.Second))
}
