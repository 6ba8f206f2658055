package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloudsync/internal/syncer"
)

type stubLister struct {
	jobs   []*syncer.SyncJob
	filter syncer.JobFilter
	err    error
}

func (s *stubLister) ListJobs(ctx context.Context, filter syncer.JobFilter) ([]*syncer.SyncJob, error) {
	s.filter = filter
	return s.jobs, s.err
}

type stubSubmitter struct {
	accepted []string
	capacity int
}

func (s *stubSubmitter) Submit(jobID string) error {
	if len(s.accepted) >= s.capacity {
		return ErrQueueFull
	}
	s.accepted = append(s.accepted, jobID)
	return nil
}

func TestPoller_PollOnce(t *testing.T) {
	pending := []*syncer.SyncJob{{ID: "j1"}, {ID: "j2"}, {ID: "j3"}}

	tests := []struct {
		name     string
		capacity int
		want     int
	}{
		{name: "all submitted", capacity: 10, want: 3},
		{name: "queue fills up", capacity: 2, want: 2},
		{name: "queue already full", capacity: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &stubLister{jobs: pending}
			sub := &stubSubmitter{capacity: tt.capacity}
			p := NewPoller(lister, sub, time.Second, 50, syncer.NewNopLogger())

			got, err := p.PollOnce(context.Background())
			if err != nil {
				t.Fatalf("PollOnce() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("PollOnce() = %d, want %d", got, tt.want)
			}
			if lister.filter.Status != syncer.JobPending || lister.filter.Limit != 50 {
				t.Errorf("ListJobs filter = %+v, want pending with limit 50", lister.filter)
			}
		})
	}
}

func TestPoller_PollOnceListError(t *testing.T) {
	lister := &stubLister{err: errors.New("database is locked")}
	p := NewPoller(lister, &stubSubmitter{capacity: 1}, time.Second, 10, syncer.NewNopLogger())

	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Error("PollOnce() expected error when listing fails")
	}
}

func TestPoller_StartSubmitsToDispatcher(t *testing.T) {
	runner := &fakeRunner{}
	d := New(runner, Config{Workers: 1, QueueSize: 4}, syncer.NewNopLogger(), nil)
	d.Start(context.Background())
	defer d.Stop()

	lister := &stubLister{jobs: []*syncer.SyncJob{{ID: "j1"}}}
	p := NewPoller(lister, d, time.Hour, 10, syncer.NewNopLogger())
	p.Start(context.Background())

	waitFor(t, func() bool { return runner.finishedCount() == 1 })
	p.Stop()
}
