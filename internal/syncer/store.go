package syncer

import (
	"context"
	"time"
)

// Store provides persistence for files, sync jobs and conflicts.
// Lookups return nil, nil when the identity does not exist.
// Every write that touches sub-states or the conflict flag recomputes the
// file's overall status in the same transaction.
type Store interface {
	// File operations

	// CreateFile inserts a file together with its backend sub-states.
	CreateFile(ctx context.Context, f *FileRecord) error

	// GetFile returns a file with its sub-states.
	GetFile(ctx context.Context, id string) (*FileRecord, error)

	// FindFileByHash returns the owner's file with the given content hash.
	FindFileByHash(ctx context.Context, ownerID, contentHash string) (*FileRecord, error)

	// ListFiles returns files matching the filter, newest first.
	ListFiles(ctx context.Context, filter FileFilter) ([]*FileRecord, error)

	// DeleteFile removes a file. Its sub-states, jobs and conflicts cascade.
	DeleteFile(ctx context.Context, id string) (bool, error)

	// SaveBackendState creates or replaces one sub-state of a file and
	// returns the updated file.
	SaveBackendState(ctx context.Context, fileID string, st *BackendState) (*FileRecord, error)

	// Job operations

	// CreateJob inserts a pending job.
	CreateJob(ctx context.Context, job *SyncJob) error

	// GetJob returns a job by identity.
	GetJob(ctx context.Context, id string) (*SyncJob, error)

	// ListJobs returns jobs matching the filter, oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*SyncJob, error)

	// TransitionJob applies t only if the job is still in t.From.
	// It returns false when the job is missing or in another state.
	TransitionJob(ctx context.Context, t JobTransition) (bool, error)

	// AdvanceJob raises the progress of an in-progress job. Progress never
	// decreases. It returns false when the job is not in progress.
	AdvanceJob(ctx context.Context, id string, progress int) (bool, error)

	// IncrementJobRetries adds one to the retry count of an in-progress job.
	// It returns false when the job is not in progress.
	IncrementJobRetries(ctx context.Context, id string) (bool, error)

	// Conflict operations

	// RecordConflict stores a detected divergence. If an open conflict exists
	// for the same file and pair its snapshot is overwritten, otherwise c is
	// inserted. It returns the stored conflict and whether it was created.
	RecordConflict(ctx context.Context, c *Conflict) (*Conflict, bool, error)

	// RefreshConflictFlag sets conflict_detected to whether any open conflict
	// remains for the file and returns the updated file.
	RefreshConflictFlag(ctx context.Context, fileID string) (*FileRecord, error)

	// GetConflict returns a conflict by identity.
	GetConflict(ctx context.Context, id string) (*Conflict, error)

	// ListConflicts returns conflicts matching the filter, newest first.
	ListConflicts(ctx context.Context, filter ConflictFilter) ([]*Conflict, error)

	// ResolveConflict marks an open conflict resolved and applies any
	// keep-both side effects atomically. It returns false, leaving everything
	// untouched, if the conflict is missing or already resolved.
	ResolveConflict(ctx context.Context, r *ConflictResolution) (bool, error)

	// CheckMigrations verifies the schema is up to date.
	CheckMigrations() error

	// Close closes the underlying connection.
	Close() error
}

// JobTransition is a compare-and-set update of a job's status.
// Zero StartedAt/CompletedAt leave the stored timestamps unchanged.
type JobTransition struct {
	ID           string
	From         JobStatus
	To           JobStatus
	Progress     int
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// ConflictResolution is the persisted outcome of resolving a conflict.
type ConflictResolution struct {
	ConflictID string
	FileID     string
	Policy     ResolutionPolicy
	Notes      string
	ResolvedAt time.Time

	// Original, when set, replaces the file's content fields and version.
	// Only the sub-states present in its Backends map are written.
	Original *FileRecord
	// Duplicate, when set, is inserted as a new file derived from FileID.
	Duplicate *FileRecord
}
