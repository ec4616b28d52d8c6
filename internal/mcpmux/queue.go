package mcpmux

import "context"

// job is one unit of serialized work enqueued against a source.
type job struct {
	run  func(ctx context.Context)
	done chan struct{}
}

// fifoQueue ensures at most one operation runs at a time for a given source:
// detect/install/remove are all enqueued here so they interleave cleanly and
// a slow detect never races a concurrent remove. A failing job does not stop
// the queue from draining the rest (spec §4.6).
type fifoQueue struct {
	jobs chan job
	stop chan struct{}
}

func newFIFOQueue() *fifoQueue {
	q := &fifoQueue{jobs: make(chan job, 64), stop: make(chan struct{})}
	go q.loop()
	return q
}

func (q *fifoQueue) loop() {
	for {
		select {
		case j := <-q.jobs:
			j.run(context.Background())
			close(j.done)
		case <-q.stop:
			return
		}
	}
}

// submit enqueues fn and blocks the caller until it runs and returns,
// propagating ctx cancellation to the queued work.
func (q *fifoQueue) submit(ctx context.Context, fn func(ctx context.Context)) {
	done := make(chan struct{})
	q.jobs <- job{run: func(context.Context) { fn(ctx) }, done: done}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (q *fifoQueue) close() { close(q.stop) }
