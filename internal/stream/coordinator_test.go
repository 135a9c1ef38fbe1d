package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorSingleOwner(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator()

	c.Register("a", nil)
	require.NoError(t, c.Acquire(ctx, "a"))
	assert.Equal(t, "a", c.ActiveOwner())

	// Re-acquire by the active owner is a no-op.
	require.NoError(t, c.Acquire(ctx, "a"))
	assert.Equal(t, "a", c.ActiveOwner())
}

func TestCoordinatorPreemptionAwaitsDisconnect(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator()

	var disconnects int32
	release := make(chan struct{})
	c.Register("a", func(ctx context.Context) error {
		atomic.AddInt32(&disconnects, 1)
		<-release // deliberately delayed teardown
		return nil
	})
	c.Register("b", nil)
	require.NoError(t, c.Acquire(ctx, "a"))

	acquired := make(chan struct{})
	go func() {
		assert.NoError(t, c.Acquire(ctx, "b"))
		close(acquired)
	}()

	// While a's disconnect is pending, b must not be active yet.
	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("acquire(b) completed before a's disconnect settled")
	default:
	}
	assert.Equal(t, "a", c.ActiveOwner())

	close(release)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire(b) never completed")
	}
	assert.Equal(t, "b", c.ActiveOwner())
	assert.Equal(t, int32(1), atomic.LoadInt32(&disconnects), "a disconnected exactly once")
}

func TestCoordinatorConcurrentAcquiresSerialize(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator()

	var mu sync.Mutex
	var order []string
	disconnect := func(id string) DisconnectFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			return nil
		}
	}
	c.Register("a", disconnect("a"))
	c.Register("b", disconnect("b"))
	c.Register("c", disconnect("c"))
	require.NoError(t, c.Acquire(ctx, "a"))

	var wg sync.WaitGroup
	for _, id := range []string{"b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, c.Acquire(ctx, id))
		}(id)
	}
	wg.Wait()

	// Whichever order the acquires won, exactly one owner remains and every
	// preempted owner was disconnected exactly once.
	final := c.ActiveOwner()
	assert.Contains(t, []string{"b", "c"}, final)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, order, 2)
	assert.Equal(t, "a", order[0], "the first preemption tears down the original owner")
	assert.NotContains(t, order, final, "the final owner was never disconnected")
}

func TestCoordinatorRelease(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator()

	var calls int32
	c.Register("a", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, c.Acquire(ctx, "a"))

	require.NoError(t, c.Release(ctx, "a"))
	assert.Empty(t, c.ActiveOwner())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Releasing a non-active owner is a no-op.
	require.NoError(t, c.Release(ctx, "a"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCoordinatorReleaseSurfacesDisconnectError(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator()

	boom := errors.New("teardown failed")
	c.Register("a", func(ctx context.Context) error { return boom })
	require.NoError(t, c.Acquire(ctx, "a"))

	err := c.Release(ctx, "a")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, c.ActiveOwner(), "slot clears even when teardown errors")
}

func TestCoordinatorUnregisterActiveOwner(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator()

	var calls int32
	c.Register("a", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, c.Acquire(ctx, "a"))

	c.Unregister("a")
	assert.Empty(t, c.ActiveOwner())
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "unregister clears without invoking disconnect")
}
