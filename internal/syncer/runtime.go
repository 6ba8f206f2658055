package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// Logger provides structured logging for the engine.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// Locker hands out exclusive advisory locks by key. Lock blocks until the
// lock is held or ctx is done; the returned func releases it. TryLock
// reports false instead of waiting when the key is held.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
	TryLock(key string) (unlock func(), ok bool, err error)
}

// Recorder receives engine events for metrics.
type Recorder interface {
	UploadAttempt(backend BackendKind, err error)
	BranchSettled(backend BackendKind, status BackendStatus, elapsed time.Duration)
	ConflictRecorded(t ConflictType, created bool)
	ConflictResolved(p ResolutionPolicy)
	JobFinished(status JobStatus)
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) UploadAttempt(BackendKind, error)                       {}
func (NopRecorder) BranchSettled(BackendKind, BackendStatus, time.Duration) {}
func (NopRecorder) ConflictRecorded(ConflictType, bool)                    {}
func (NopRecorder) ConflictResolved(ResolutionPolicy)                      {}
func (NopRecorder) JobFinished(JobStatus)                                  {}

// Lock keys. Sync branches serialize per (file, backend) and resolutions per
// conflict.
func fileBackendLockKey(fileID string, backend BackendKind) string {
	return "file-" + fileID + "-" + string(backend)
}

func conflictLockKey(conflictID string) string {
	return "conflict-" + conflictID
}

// jobLockKey is held by whichever runner owns a job, from start until its
// terminal state is recorded.
func jobLockKey(jobID string) string {
	return "job-" + jobID
}
