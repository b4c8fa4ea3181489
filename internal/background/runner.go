package background

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// Runner tracks fire-and-forget work started on the request path so that it
// can finish after the response has been sent and be drained on shutdown.
// Without it, durable syncs racing process teardown would be silently lost.
type Runner struct {
	wg       sync.WaitGroup
	inflight atomic.Int64
}

func NewRunner() *Runner { return &Runner{} }

// Go runs fn on its own goroutine. The context handed to fn is not tied to
// any request; tasks outlive the requests that started them.
func (r *Runner) Go(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	r.inflight.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.inflight.Add(-1)
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("background: task %s panicked: %v", name, rec)
			}
		}()
		fn(context.Background())
	}()
}

// InFlight reports how many tasks are currently running.
func (r *Runner) InFlight() int {
	return int(r.inflight.Load())
}

// Drain blocks until all started tasks finish or ctx expires.
func (r *Runner) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
