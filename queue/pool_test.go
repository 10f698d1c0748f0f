package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	const size = 3
	const tasks = 20

	p := NewPool(size)

	var running, peak atomic.Int32
	var tt []*Task
	for i := 0; i < tasks; i++ {
		tt = append(tt, p.Submit(context.Background(), func(ctx context.Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}

	for _, err := range Join(tt) {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestPool_JoinPreservesSubmissionOrder(t *testing.T) {
	p := NewPool(4)

	var tt []*Task
	for i := 0; i < 8; i++ {
		err := fmt.Errorf("task %d", i)
		// stagger completions so later tasks finish first
		delay := time.Duration(8-i) * time.Millisecond
		tt = append(tt, p.Submit(context.Background(), func(ctx context.Context) error {
			time.Sleep(delay)
			return err
		}))
	}

	errs := Join(tt)
	require.Len(t, errs, 8)
	for i, err := range errs {
		assert.EqualError(t, err, fmt.Sprintf("task %d", i))
	}
}

func TestPool_StartsInSubmissionOrder(t *testing.T) {
	const tasks = 8
	const rounds = 20

	for round := 0; round < rounds; round++ {
		p := NewPool(1)

		release := make(chan struct{})
		blocker := p.Submit(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})

		var mu sync.Mutex
		var starts []int
		var tt []*Task
		for i := 0; i < tasks; i++ {
			tt = append(tt, p.Submit(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				starts = append(starts, i)
				mu.Unlock()
				return nil
			}))
		}

		close(release)
		require.NoError(t, blocker.Wait())
		for _, err := range Join(tt) {
			require.NoError(t, err)
		}

		assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, starts, "round %d", round)
	}
}

func TestPool_ParkReleasesSlotDuringJoin(t *testing.T) {
	p := NewPool(1)

	// the parent occupies the only slot and waits for a child that
	// needs that same slot; parking while joining must let the child
	// through
	parent := p.Submit(context.Background(), func(ctx context.Context) error {
		child := p.Submit(ctx, func(context.Context) error { return nil })
		var err error
		p.Park(ctx, func() { err = child.Wait() })
		return err
	})

	done := make(chan error, 1)
	go func() { done <- parent.Wait() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("nested join starved its own child")
	}

	// the parent's slot is held again after parking
	next := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, next.Wait())
}

func TestPool_ParkWithoutSlotRunsInline(t *testing.T) {
	p := NewPool(1)

	ran := false
	p.Park(context.Background(), func() { ran = true })
	assert.True(t, ran)

	// no slot was released by the inline call
	task := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, task.Wait())
}

func TestPool_CancelQueuedTaskNeverRuns(t *testing.T) {
	p := NewPool(1)

	release := make(chan struct{})
	holder := p.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})

	var ran atomic.Bool
	queued := p.Submit(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	// let the queued task reach the semaphore before cancelling
	time.Sleep(10 * time.Millisecond)
	queued.Cancel()

	err := queued.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())

	close(release)
	require.NoError(t, holder.Wait())

	// the slot was never consumed by the cancelled task
	next := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, next.Wait())
}

func TestPool_ParentContextCancelsRunningTask(t *testing.T) {
	p := NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	task := p.Submit(ctx, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	cancel()
	assert.ErrorIs(t, task.Wait(), context.Canceled)
}

func TestPool_MinimumSizeOne(t *testing.T) {
	p := NewPool(0)
	assert.Equal(t, 1, p.Size())

	task := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, task.Wait())
}

func TestQueue_RunsJobsInOrder(t *testing.T) {
	q := NewQueue(8)
	q.Start()
	defer q.Stop()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		ok := q.Enqueue(Job{Run: func() error {
			mu.Lock()
			order = append(order, i)
			if len(order) == 5 {
				close(done)
			}
			mu.Unlock()
			return nil
		}})
		require.True(t, ok)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("jobs did not drain")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_FullRejectsEnqueue(t *testing.T) {
	q := NewQueue(1)
	// not started: nothing drains

	assert.True(t, q.Enqueue(Job{Run: func() error { return nil }}))
	assert.False(t, q.Enqueue(Job{Run: func() error { return nil }}))
}

func TestQueue_OnFailReceivesError(t *testing.T) {
	q := NewQueue(1)
	q.Start()
	defer q.Stop()

	boom := errors.New("boom")
	got := make(chan error, 1)
	q.Enqueue(Job{
		Run:    func() error { return boom },
		OnFail: func(err error) { got <- err },
	})

	select {
	case err := <-got:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("OnFail never fired")
	}
}
