package worker

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/franz/cratekeeper/internal/store"
	"github.com/franz/cratekeeper/internal/util"
)

// Task processes one claimed job to a terminal state
type Task func(ctx context.Context, job *store.Job)

// Pool runs N workers against the persistent job queue. The jobs table is
// the queue; workers claim the oldest pending row atomically and hand it
// to the task. Distinct jobs run fully concurrently; the store is the
// only shared state.
type Pool struct {
	store    *store.Store
	task     Task
	size     int
	interval time.Duration
	wake     chan struct{}
	wg       conc.WaitGroup
}

// NewPool creates a worker pool of the given size
func NewPool(s *store.Store, size int, task Task) *Pool {
	if size <= 0 {
		size = 2
	}
	return &Pool{
		store:    s,
		task:     task,
		size:     size,
		interval: 5 * time.Second,
		wake:     make(chan struct{}, 1),
	}
}

// Start requeues stranded jobs and launches the workers. Returns once the
// workers are running; Wait blocks until ctx cancellation drains them.
func (p *Pool) Start(ctx context.Context) error {
	requeued, err := p.store.RequeueInFlight()
	if err != nil {
		return err
	}
	if requeued > 0 {
		util.InfoLog("Requeued %d interrupted job(s)", requeued)
	}

	for i := 0; i < p.size; i++ {
		p.wg.Go(func() { p.loop(ctx) })
	}
	util.DebugLog("Started %d worker(s)", p.size)
	return nil
}

// Wake nudges an idle worker; call after enqueueing a job
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until all workers have exited
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.store.ClaimNextPending()
		if err != nil {
			util.ErrorLog("Failed to claim job: %v", err)
		} else if job != nil {
			p.task(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}
