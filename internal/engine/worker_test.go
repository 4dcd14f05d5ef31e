package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolSubmit(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Shutdown()

	var count atomic.Int64
	for i := 0; i < 10; i++ {
		err := pool.Submit(context.Background(), func(ctx context.Context) error {
			count.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.Equal(t, int64(10), count.Load())
	assert.Equal(t, int64(10), pool.Metrics().Completed)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	var active, peak atomic.Int64
	var mu sync.Mutex

	for i := 0; i < 8; i++ {
		err := pool.Submit(context.Background(), func(ctx context.Context) error {
			cur := active.Add(1)
			mu.Lock()
			if cur > peak.Load() {
				peak.Store(cur)
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestWorkerPoolPanicRecovery(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	err := pool.Submit(context.Background(), func(ctx context.Context) error {
		panic("boom")
	})
	require.NoError(t, err)
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(1), m.Failed)
}

func TestWorkerPoolShutdownRejects(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPoolContextCancelWhileWaiting(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	pool.Wait()
}
