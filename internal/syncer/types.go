package syncer

import (
	"fmt"
	"time"
)

// BackendKind identifies one storage destination. At most one backend of each
// kind is configured, so the kind doubles as the backend identifier.
type BackendKind string

const (
	BackendLocal       BackendKind = "local"
	BackendGoogleDrive BackendKind = "google_drive"
	BackendAzureBlob   BackendKind = "azure_blob"
	BackendS3          BackendKind = "s3"
	BackendMemory      BackendKind = "memory"
)

// backendRank orders kinds so that conflict pairs are stored in a stable
// (storage_a, storage_b) orientation.
var backendRank = map[BackendKind]int{
	BackendLocal:       0,
	BackendGoogleDrive: 1,
	BackendAzureBlob:   2,
	BackendS3:          3,
	BackendMemory:      4,
}

// ParseBackendKind validates a backend identifier.
func ParseBackendKind(s string) (BackendKind, error) {
	k := BackendKind(s)
	if _, ok := backendRank[k]; !ok {
		return "", &ValidationError{Field: "backend", Msg: fmt.Sprintf("unknown backend %q", s)}
	}
	return k, nil
}

// Less reports whether k sorts before other in conflict pair order.
func (k BackendKind) Less(other BackendKind) bool {
	ri, oki := backendRank[k]
	rj, okj := backendRank[other]
	if oki && okj && ri != rj {
		return ri < rj
	}
	return k < other
}

// BackendStatus is the per-backend sub-state status of a file.
type BackendStatus string

const (
	BackendPending    BackendStatus = "pending"
	BackendInProgress BackendStatus = "in_progress"
	BackendCompleted  BackendStatus = "completed"
	BackendFailed     BackendStatus = "failed"
)

// OverallStatus is the status derived from all sub-states of a file.
type OverallStatus string

const (
	OverallPending    OverallStatus = "pending"
	OverallInProgress OverallStatus = "in_progress"
	OverallCompleted  OverallStatus = "completed"
	OverallFailed     OverallStatus = "failed"
	OverallConflict   OverallStatus = "conflict"
)

// ParseOverallStatus validates a status filter value.
func ParseOverallStatus(s string) (OverallStatus, error) {
	switch st := OverallStatus(s); st {
	case OverallPending, OverallInProgress, OverallCompleted, OverallFailed, OverallConflict:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Msg: fmt.Sprintf("unknown status %q", s)}
}

// JobOperation is the kind of work a SyncJob performs.
type JobOperation string

const (
	OpUpload JobOperation = "upload"
	OpSync   JobOperation = "sync"
	OpResync JobOperation = "resync"
)

// ConflictType classifies a divergence between two backends.
type ConflictType string

const (
	ConflictHashMismatch      ConflictType = "hash_mismatch"
	ConflictTimestampMismatch ConflictType = "timestamp_mismatch"
	ConflictVersion           ConflictType = "version_conflict"
)

// ResolutionPolicy is the closed set of conflict resolution strategies.
type ResolutionPolicy string

const (
	PolicyLastWriteWins ResolutionPolicy = "last-write"
	PolicyKeepBoth      ResolutionPolicy = "keep-both"
	PolicyManual        ResolutionPolicy = "manual"
)

// ParseResolutionPolicy validates a policy value from a caller.
func ParseResolutionPolicy(s string) (ResolutionPolicy, error) {
	switch p := ResolutionPolicy(s); p {
	case PolicyLastWriteWins, PolicyKeepBoth, PolicyManual:
		return p, nil
	}
	return "", &ValidationError{Field: "policy", Msg: fmt.Sprintf("unknown resolution policy %q", s)}
}

// DerivationKeepBoth marks a file materialized from the losing side of a
// keep-both resolution.
const DerivationKeepBoth = "keep-both"

// BackendState is the sub-state of one file on one backend.
// Zero times mean the timestamp has not been observed.
type BackendState struct {
	Backend      BackendKind
	Status       BackendStatus
	ExternalID   string
	Hash         string
	UploadedAt   time.Time
	ModifiedAt   time.Time
	ErrorMessage string
}

// FileRecord is one logical file owned by one principal.
type FileRecord struct {
	ID               string
	OwnerID          string
	Filename         string
	OriginalFilename string
	ContentType      string
	ContentHash      string
	Size             int64
	ModifiedAt       time.Time
	Version          int64
	Backends         map[BackendKind]*BackendState
	OverallStatus    OverallStatus
	ConflictDetected bool
	DerivedFromID    string
	Derivation       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Backend returns the sub-state for kind, or nil if the file has none.
func (f *FileRecord) Backend(kind BackendKind) *BackendState {
	if f.Backends == nil {
		return nil
	}
	return f.Backends[kind]
}

// SortedBackends returns the sub-states in pair order.
func (f *FileRecord) SortedBackends() []*BackendState {
	states := make([]*BackendState, 0, len(f.Backends))
	for _, st := range f.Backends {
		states = append(states, st)
	}
	sortStates(states)
	return states
}

// SyncJob is one asynchronous synchronization request.
type SyncJob struct {
	ID           string
	OwnerID      string
	FileID       string
	Operation    JobOperation
	Targets      []BackendKind
	Status       JobStatus
	Progress     int
	RetryCount   int
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Conflict is one detected divergence between two backends for a file.
type Conflict struct {
	ID               string
	FileID           string
	Type             ConflictType
	StorageA         BackendKind
	StorageB         BackendKind
	StorageAHash     string
	StorageBHash     string
	StorageAModified time.Time
	StorageBModified time.Time
	Resolved         bool
	ResolutionPolicy ResolutionPolicy
	ResolutionNotes  string
	ResolvedAt       time.Time
	DetectedAt       time.Time
}

// Side returns the hash and modification time recorded for kind.
func (c *Conflict) Side(kind BackendKind) (hash string, modified time.Time) {
	if kind == c.StorageA {
		return c.StorageAHash, c.StorageAModified
	}
	return c.StorageBHash, c.StorageBModified
}

// Other returns the backend on the opposite side of the pair from kind.
func (c *Conflict) Other(kind BackendKind) BackendKind {
	if kind == c.StorageA {
		return c.StorageB
	}
	return c.StorageA
}

// FileFilter selects files for listing.
type FileFilter struct {
	OwnerID string
	Status  OverallStatus
	Limit   int
	Offset  int
}

// JobFilter selects jobs for listing.
type JobFilter struct {
	FileID string
	Status JobStatus
	Limit  int
}

// ConflictFilter selects conflicts for listing. A nil Resolved matches both.
type ConflictFilter struct {
	OwnerID  string
	FileID   string
	Resolved *bool
	Limit    int
	Offset   int
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// NormalizePage clamps a limit/offset pair to the accepted range.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
