// Package queue provides the bounded-concurrency substrate the
// engine dispatches parallel branches and matrix cells onto, plus a
// FIFO job queue for serializing run submissions.
package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs at most its configured size of tasks truly concurrently.
// Excess submissions queue in submission order and start as soon as
// a slot frees.
type Pool struct {
	sem  *semaphore.Weighted
	size int

	// tail is the turn token of the most recent submission; a task
	// may enter the semaphore only after its predecessor holds a
	// slot or has been dropped, so start order equals Submit order
	mu   sync.Mutex
	tail chan struct{}
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	tail := make(chan struct{})
	close(tail)
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size, tail: tail}
}

func (p *Pool) Size() int { return p.size }

// slotKey marks a task context as holding one of its pool's slots.
type slotKey struct{}

// Task is the handle for one submitted unit of work.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Submit queues fn for execution. The task's context is derived from
// ctx; cancelling either cancels the task. A task cancelled while
// still queued never runs and never consumes a slot.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) *Task {
	tctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	turn := p.tail
	started := make(chan struct{})
	p.tail = started
	p.mu.Unlock()

	go func() {
		defer close(t.done)
		defer cancel()

		select {
		case <-turn:
		case <-tctx.Done():
			close(started)
			t.err = tctx.Err()
			return
		}

		err := p.sem.Acquire(tctx, 1)
		// pass the turn as soon as this task is admitted or dropped,
		// not when it finishes; successors queue behind it in the
		// semaphore's own FIFO
		close(started)
		if err != nil {
			t.err = err
			return
		}
		defer p.sem.Release(1)

		t.err = fn(context.WithValue(tctx, slotKey{}, p))
	}()

	return t
}

// Park runs fn with the caller's slot released, reacquiring it
// before returning. A task joining its own children must park so the
// slot it occupies cannot starve the very work it waits on. Calls
// from goroutines that hold no slot run fn directly.
func (p *Pool) Park(ctx context.Context, fn func()) {
	if ctx.Value(slotKey{}) != any(p) {
		fn()
		return
	}
	p.sem.Release(1)
	// the reacquire must succeed even on a cancelled context: the
	// caller's deferred Release balances against a held slot
	defer p.sem.Acquire(context.Background(), 1)
	fn()
}

// Cancel signals the task's cooperative cancellation token. Queued
// tasks are dropped; running tasks must observe the token at their
// next suspension point.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task finishes and returns its outcome.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Join waits for all supplied tasks and returns their outcomes in
// submission order, independent of completion order.
func Join(tasks []*Task) []error {
	errs := make([]error, len(tasks))
	for i, t := range tasks {
		errs[i] = t.Wait()
	}
	return errs
}
