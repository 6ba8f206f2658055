package syncer

import (
	"context"
	"fmt"
)

// Progress milestones of a job run. Branch settlement moves progress
// linearly between started and synced.
const (
	ProgressStarted  = 10
	ProgressSynced   = 90
	ProgressFinished = 100
)

// interruptedMessage is recorded on jobs that were in progress when the
// process running them stopped.
const interruptedMessage = "interrupted before completion"

// JobMachine owns every state change of a SyncJob. All transitions are
// compare-and-set against the persisted status, so terminal jobs can never be
// moved again and concurrent callers cannot both win a transition.
type JobMachine struct {
	store    Store
	locker   Locker
	clock    Clock
	ids      IDGenerator
	logger   Logger
	recorder Recorder
}

// NewJobMachine creates a JobMachine.
func NewJobMachine(store Store, locker Locker, clock Clock, ids IDGenerator, logger Logger, recorder Recorder) *JobMachine {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &JobMachine{store: store, locker: locker, clock: clock, ids: ids, logger: logger, recorder: recorder}
}

// Create records a new pending job.
func (m *JobMachine) Create(ctx context.Context, ownerID, fileID string, op JobOperation, targets []BackendKind) (*SyncJob, error) {
	if len(targets) == 0 {
		return nil, &ValidationError{Field: "targets", Msg: "at least one target backend is required"}
	}
	job := &SyncJob{
		ID:        m.ids.New(),
		OwnerID:   ownerID,
		FileID:    fileID,
		Operation: op,
		Targets:   append([]BackendKind(nil), targets...),
		Status:    JobPending,
		CreatedAt: m.clock.Now(),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	m.logger.Debug("job created", "job_id", job.ID, "file_id", fileID, "operation", op)
	return job, nil
}

// Get returns a job or a NotFoundError.
func (m *JobMachine) Get(ctx context.Context, id string) (*SyncJob, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	if job == nil {
		return nil, &NotFoundError{Kind: "job", ID: id}
	}
	return job, nil
}

// Lease claims the right to run a job. The runner keeps the lease from Start
// until the terminal state is recorded; Recover leaves leased jobs alone.
func (m *JobMachine) Lease(id string) (release func(), err error) {
	release, ok, err := m.locker.TryLock(jobLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("leasing job: %w", err)
	}
	if !ok {
		return nil, &ConflictStateError{Msg: fmt.Sprintf("job %s is being run by another runner", id)}
	}
	return release, nil
}

// Start moves a pending job to in_progress.
func (m *JobMachine) Start(ctx context.Context, id string) (*SyncJob, error) {
	return m.transition(ctx, id, JobTransition{
		To:        JobInProgress,
		Progress:  ProgressStarted,
		StartedAt: m.clock.Now(),
	})
}

// Advance raises the progress of an in-progress job. Lower values are ignored.
func (m *JobMachine) Advance(ctx context.Context, id string, progress int) error {
	if progress > ProgressFinished {
		progress = ProgressFinished
	}
	ok, err := m.store.AdvanceJob(ctx, id, progress)
	if err != nil {
		return fmt.Errorf("advancing job: %w", err)
	}
	if !ok {
		job, err := m.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s is %s: %w", id, job.Status, ErrInvalidTransition)
	}
	return nil
}

// RecordRetry counts one backend retry performed on behalf of an in-progress
// job.
func (m *JobMachine) RecordRetry(ctx context.Context, id string) error {
	ok, err := m.store.IncrementJobRetries(ctx, id)
	if err != nil {
		return fmt.Errorf("recording retry: %w", err)
	}
	if !ok {
		job, err := m.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s is %s: %w", id, job.Status, ErrInvalidTransition)
	}
	return nil
}

// Complete moves an in-progress job to completed.
func (m *JobMachine) Complete(ctx context.Context, id string) (*SyncJob, error) {
	return m.transition(ctx, id, JobTransition{
		To:          JobCompleted,
		Progress:    ProgressFinished,
		CompletedAt: m.clock.Now(),
	})
}

// Fail moves a pending or in-progress job to failed, keeping its progress.
func (m *JobMachine) Fail(ctx context.Context, id, message string) (*SyncJob, error) {
	return m.transition(ctx, id, JobTransition{
		To:           JobFailed,
		ErrorMessage: message,
		CompletedAt:  m.clock.Now(),
	})
}

// Finish applies the terminal transition for a finished run. The job
// completes only if every targeted backend completed; otherwise it fails
// with the first terminal backend error of the run, or runErr when the run
// could not execute at all. Conflicts never affect the outcome.
func (m *JobMachine) Finish(ctx context.Context, id string, result *SyncResult, runErr error) (*SyncJob, error) {
	var job *SyncJob
	var err error

	switch {
	case runErr != nil:
		job, err = m.Fail(ctx, id, runErr.Error())
	case result != nil && result.Aggregate == OverallCompleted:
		job, err = m.Complete(ctx, id)
	default:
		msg := "sync did not complete on every target"
		if result != nil && result.FirstError != nil {
			msg = result.FirstError.Error()
		}
		job, err = m.transition(ctx, id, JobTransition{
			To:           JobFailed,
			Progress:     ProgressFinished,
			ErrorMessage: msg,
			CompletedAt:  m.clock.Now(),
		})
	}
	if err != nil {
		return nil, err
	}

	m.recorder.JobFinished(job.Status)
	m.logger.Info("job finished", "job_id", job.ID, "file_id", job.FileID, "status", job.Status, "retries", job.RetryCount, "error", job.ErrorMessage)
	return job, nil
}

// Recover prepares persisted jobs after a restart: in-progress jobs whose
// runner is gone (no lease held) are failed, and pending jobs are returned
// for dispatch. Jobs still leased by a live runner are left running.
func (m *JobMachine) Recover(ctx context.Context) ([]*SyncJob, error) {
	running, err := m.store.ListJobs(ctx, JobFilter{Status: JobInProgress})
	if err != nil {
		return nil, fmt.Errorf("listing in-progress jobs: %w", err)
	}
	for _, job := range running {
		m.failIfOrphaned(ctx, job)
	}

	pending, err := m.store.ListJobs(ctx, JobFilter{Status: JobPending})
	if err != nil {
		return nil, fmt.Errorf("listing pending jobs: %w", err)
	}
	return pending, nil
}

func (m *JobMachine) failIfOrphaned(ctx context.Context, job *SyncJob) {
	release, ok, err := m.locker.TryLock(jobLockKey(job.ID))
	if err != nil {
		m.logger.Warn("checking job lease failed", "job_id", job.ID, "error", err)
		return
	}
	if !ok {
		m.logger.Info("job still running elsewhere", "job_id", job.ID, "file_id", job.FileID)
		return
	}
	defer release()

	if _, err := m.Fail(ctx, job.ID, interruptedMessage); err != nil {
		m.logger.Warn("failing interrupted job", "job_id", job.ID, "error", err)
		return
	}
	m.logger.Warn("job interrupted", "job_id", job.ID, "file_id", job.FileID)
}

func (m *JobMachine) transition(ctx context.Context, id string, t JobTransition) (*SyncJob, error) {
	job, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.CanTransitionTo(t.To) {
		return nil, fmt.Errorf("job %s is %s, cannot move to %s: %w", id, job.Status, t.To, ErrInvalidTransition)
	}

	t.ID = id
	t.From = job.Status
	ok, err := m.store.TransitionJob(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("updating job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("job %s changed state concurrently: %w", id, ErrInvalidTransition)
	}
	return m.Get(ctx, id)
}

// SyncProgress maps settled branches onto the job's progress range.
func SyncProgress(settled, total int) int {
	if total <= 0 {
		return ProgressSynced
	}
	return ProgressStarted + (ProgressSynced-ProgressStarted)*settled/total
}
