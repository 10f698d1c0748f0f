package queue

import "sync"

// Job is one queued unit of ingress work, typically a whole
// pipeline run.
type Job struct {
	Run    func() error
	OnFail func(error)
}

// Queue is a bounded FIFO job queue drained by a single runner
// goroutine. Used by the server to serialize run submissions in
// arrival order.
type Queue struct {
	jobs chan Job
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewQueue(size int) *Queue {
	return &Queue{
		jobs: make(chan Job, size),
		stop: make(chan struct{}),
	}
}

// Enqueue adds a job; it reports false when the queue is full.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Start launches the runner goroutine.
func (q *Queue) Start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case job := <-q.jobs:
				if err := job.Run(); err != nil && job.OnFail != nil {
					job.OnFail(err)
				}
			case <-q.stop:
				return
			}
		}
	}()
}

// Stop terminates the runner after the in-flight job, discarding
// anything still queued.
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
}
