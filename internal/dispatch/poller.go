package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloudsync/internal/syncer"
)

// JobLister is the part of the store the poller reads.
type JobLister interface {
	ListJobs(ctx context.Context, filter syncer.JobFilter) ([]*syncer.SyncJob, error)
}

// Submitter accepts job ids for execution.
type Submitter interface {
	Submit(jobID string) error
}

// Poller periodically submits pending jobs found in the store, including
// jobs created by other processes such as the CLI.
type Poller struct {
	jobs     JobLister
	target   Submitter
	interval time.Duration
	batch    int
	logger   syncer.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a Poller that submits up to batch jobs per tick.
func NewPoller(jobs JobLister, target Submitter, interval time.Duration, batch int, logger syncer.Logger) *Poller {
	return &Poller{jobs: jobs, target: target, interval: interval, batch: batch, logger: logger}
}

// Start polls once immediately and then on every tick until Stop.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		p.logger.Info("job poller started", "interval", p.interval)
		if _, err := p.PollOnce(ctx); err != nil {
			p.logger.Error("polling pending jobs failed", "error", err)
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("job poller stopped")
				return
			case <-ticker.C:
				if _, err := p.PollOnce(ctx); err != nil {
					p.logger.Error("polling pending jobs failed", "error", err)
				}
			}
		}
	}()
}

// Stop ends polling and waits for the loop to exit.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
}

// PollOnce submits the oldest pending jobs and returns how many were
// accepted. A full queue ends the round early.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	pending, err := p.jobs.ListJobs(ctx, syncer.JobFilter{Status: syncer.JobPending, Limit: p.batch})
	if err != nil {
		return 0, fmt.Errorf("listing pending jobs: %w", err)
	}

	submitted := 0
	for _, job := range pending {
		if err := p.target.Submit(job.ID); err != nil {
			if errors.Is(err, ErrQueueFull) {
				p.logger.Debug("dispatch queue full, deferring remaining jobs", "deferred", len(pending)-submitted)
				break
			}
			return submitted, err
		}
		submitted++
	}
	if submitted > 0 {
		p.logger.Debug("pending jobs submitted", "count", submitted)
	}
	return submitted, nil
}
