// Package taskqueue serializes the sync work for a single document onto one
// background goroutine so that at most one sync task ever runs at a time,
// the way the teacher's manager.go runs a single processUpdates loop per
// subscription instead of locking around each update.
package taskqueue

import (
	"context"

	"github.com/docloom/collab-sdk/pkg/errs"
)

// Task is the unit of work the queue's worker executes in order.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	fn   Task
	done chan error
}

// Queue runs enqueued tasks one at a time, in the order they were enqueued,
// on a single background goroutine. It is the FIFO serializer the engine
// uses to guarantee only one sync task per document is ever in flight.
type Queue struct {
	jobs   chan job
	closed chan struct{}
	done   chan struct{}
}

// New starts a queue with the given buffer size (how many pending Enqueue
// calls may be outstanding before callers block).
func New(bufferSize int) *Queue {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	q := &Queue{
		jobs:   make(chan job, bufferSize),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case j := <-q.jobs:
			select {
			case <-q.closed:
				// Close won the race against this job; fail it like the
				// rest of the queued work instead of running it.
				j.done <- errs.ErrQueueClosed
				continue
			default:
			}
			j.done <- j.fn(j.ctx)
		case <-q.closed:
			// Drain anything already queued so callers blocked on Enqueue's
			// returned channel always get an answer.
			for {
				select {
				case j := <-q.jobs:
					j.done <- errs.ErrQueueClosed
				default:
					return
				}
			}
		}
	}
}

// Enqueue schedules fn to run once every task ahead of it has finished, and
// returns a channel that receives its result. Enqueue itself never blocks
// on fn's execution; it only blocks if the queue's buffer is full.
func (q *Queue) Enqueue(ctx context.Context, fn Task) <-chan error {
	result := make(chan error, 1)
	select {
	case <-q.closed:
		result <- errs.ErrQueueClosed
		return result
	default:
	}
	select {
	case q.jobs <- job{ctx: ctx, fn: fn, done: result}:
	case <-q.closed:
		result <- errs.ErrQueueClosed
	}
	return result
}

// Run is a convenience wrapper over Enqueue that blocks until fn has run
// (or the queue closes) and returns its error.
func (q *Queue) Run(ctx context.Context, fn Task) error {
	return <-q.Enqueue(ctx, fn)
}

// Close stops accepting new work and waits for the worker goroutine to
// drain. Tasks already queued but not yet run are failed with
// errs.ErrQueueClosed rather than executed.
func (q *Queue) Close() {
	select {
	case <-q.closed:
		return
	default:
		close(q.closed)
	}
	<-q.done
}
