// Package dispatch runs pending sync jobs on a fixed pool of workers.
//
// Workers execute jobs and hand the outcome to a single reporter goroutine
// which records the terminal state, so each job's completion is written by
// exactly one owner.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"cloudsync/internal/syncer"
)

var (
	ErrQueueFull = errors.New("dispatch queue is full")
	ErrStopped   = errors.New("dispatcher is stopped")
)

// Runner executes jobs. ExecuteJob is called from worker goroutines;
// FinishJob only from the reporter.
type Runner interface {
	ExecuteJob(ctx context.Context, jobID string) *syncer.JobOutcome
	FinishJob(ctx context.Context, out *syncer.JobOutcome) (*syncer.SyncJob, error)
}

// QueueObserver is told the queue depth whenever it changes.
type QueueObserver interface {
	SetQueueDepth(n int)
}

// Config sizes the worker pool.
type Config struct {
	Workers   int
	QueueSize int
	// OnFinished, if set, is called by the reporter after each job's
	// terminal state is recorded. job is nil when the job was skipped.
	OnFinished func(jobID string, job *syncer.SyncJob, err error)
}

// Dispatcher is a bounded job queue drained by a fixed worker pool.
type Dispatcher struct {
	runner   Runner
	cfg      Config
	logger   syncer.Logger
	observer QueueObserver

	queue   chan string
	results chan *syncer.JobOutcome

	mu       sync.Mutex
	inflight map[string]struct{}
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Dispatcher. observer may be nil.
func New(runner Runner, cfg Config, logger syncer.Logger, observer QueueObserver) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	return &Dispatcher{
		runner:   runner,
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		queue:    make(chan string, cfg.QueueSize),
		results:  make(chan *syncer.JobOutcome, cfg.Workers),
		inflight: make(map[string]struct{}),
	}
}

// Submit enqueues a job without blocking. A job already queued or running is
// accepted without being queued twice.
func (d *Dispatcher) Submit(jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if _, ok := d.inflight[jobID]; ok {
		return nil
	}
	select {
	case d.queue <- jobID:
		d.inflight[jobID] = struct{}{}
		d.observeLocked()
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of jobs queued or running.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Start launches the workers and the reporter. It must be called once.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.mu.Unlock()

	var workers sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			d.work(ctx)
		}()
	}

	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		d.report(ctx)
	}()

	go func() {
		workers.Wait()
		close(d.results)
		<-reporterDone
		close(d.done)
	}()

	d.logger.Info("dispatcher started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
}

// Stop rejects new submissions, lets running jobs finish recording and
// waits for every goroutine to exit. Jobs still queued stay pending in the
// store and are picked up again after a restart.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.queue:
			d.mu.Lock()
			d.observeLocked()
			d.mu.Unlock()

			d.logger.Debug("job dequeued", "job_id", id)
			d.results <- d.runner.ExecuteJob(ctx, id)
		}
	}
}

func (d *Dispatcher) report(ctx context.Context) {
	for out := range d.results {
		job, err := d.runner.FinishJob(ctx, out)
		switch {
		case out.Skipped:
			d.logger.Warn("job skipped", "job_id", out.JobID, "error", out.Err)
		case err != nil:
			d.logger.Error("recording job outcome failed", "job_id", out.JobID, "error", err)
		}

		d.mu.Lock()
		delete(d.inflight, out.JobID)
		d.mu.Unlock()

		if d.cfg.OnFinished != nil {
			d.cfg.OnFinished(out.JobID, job, err)
		}
	}
}

func (d *Dispatcher) observeLocked() {
	if d.observer != nil {
		d.observer.SetQueueDepth(len(d.queue))
	}
}
