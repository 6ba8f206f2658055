package syncer

import "time"

// JobStatusView is the job status surface polled by callers.
type JobStatusView struct {
	JobID              string     `json:"job_id"`
	Status             JobStatus  `json:"status"`
	Operation          string     `json:"operation"`
	ProgressPercentage int        `json:"progress_percentage"`
	ErrorMessage       *string    `json:"error_message"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at"`
}

// NewJobStatusView renders a job for the status surface.
func NewJobStatusView(j *SyncJob) *JobStatusView {
	v := &JobStatusView{
		JobID:              j.ID,
		Status:             j.Status,
		Operation:          string(j.Operation),
		ProgressPercentage: j.Progress,
		CreatedAt:          j.CreatedAt,
		StartedAt:          optionalTime(j.StartedAt),
		CompletedAt:        optionalTime(j.CompletedAt),
	}
	if j.ErrorMessage != "" {
		msg := j.ErrorMessage
		v.ErrorMessage = &msg
	}
	return v
}

// ConflictView is the conflict surface.
type ConflictView struct {
	ID               string     `json:"id"`
	FileID           string     `json:"file_id"`
	ConflictType     string     `json:"conflict_type"`
	StorageA         string     `json:"storage_a"`
	StorageB         string     `json:"storage_b"`
	StorageAHash     string     `json:"storage_a_hash,omitempty"`
	StorageBHash     string     `json:"storage_b_hash,omitempty"`
	StorageAModified *time.Time `json:"storage_a_modified"`
	StorageBModified *time.Time `json:"storage_b_modified"`
	Resolved         bool       `json:"resolved"`
	ResolutionPolicy *string    `json:"resolution_policy"`
	ResolutionNotes  *string    `json:"resolution_notes"`
	ResolvedAt       *time.Time `json:"resolved_at"`
	DetectedAt       time.Time  `json:"detected_at"`
}

// NewConflictView renders a conflict.
func NewConflictView(c *Conflict) *ConflictView {
	v := &ConflictView{
		ID:               c.ID,
		FileID:           c.FileID,
		ConflictType:     string(c.Type),
		StorageA:         string(c.StorageA),
		StorageB:         string(c.StorageB),
		StorageAHash:     c.StorageAHash,
		StorageBHash:     c.StorageBHash,
		StorageAModified: optionalTime(c.StorageAModified),
		StorageBModified: optionalTime(c.StorageBModified),
		Resolved:         c.Resolved,
		ResolvedAt:       optionalTime(c.ResolvedAt),
		DetectedAt:       c.DetectedAt,
	}
	if c.ResolutionPolicy != "" {
		p := string(c.ResolutionPolicy)
		v.ResolutionPolicy = &p
	}
	if c.ResolutionNotes != "" {
		n := c.ResolutionNotes
		v.ResolutionNotes = &n
	}
	return v
}

// BackendStateView is one sub-state in a FileView.
type BackendStateView struct {
	Status       BackendStatus `json:"status"`
	ExternalID   string        `json:"external_id,omitempty"`
	Hash         string        `json:"hash,omitempty"`
	UploadedAt   *time.Time    `json:"uploaded_at"`
	ModifiedAt   *time.Time    `json:"modified_at"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// FileView is the file metadata surface.
type FileView struct {
	ID               string                       `json:"id"`
	OwnerID          string                       `json:"owner_id"`
	Filename         string                       `json:"filename"`
	OriginalFilename string                       `json:"original_filename"`
	ContentType      string                       `json:"content_type"`
	ContentHash      string                       `json:"file_hash"`
	Size             int64                        `json:"file_size"`
	Version          int64                        `json:"version"`
	OverallStatus    OverallStatus                `json:"overall_status"`
	ConflictDetected bool                         `json:"conflict_detected"`
	DerivedFromID    string                       `json:"derived_from_id,omitempty"`
	Derivation       string                       `json:"derivation,omitempty"`
	Backends         map[string]*BackendStateView `json:"backends"`
	CreatedAt        time.Time                    `json:"created_at"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

// NewFileView renders a file with its sub-states.
func NewFileView(f *FileRecord) *FileView {
	v := &FileView{
		ID:               f.ID,
		OwnerID:          f.OwnerID,
		Filename:         f.Filename,
		OriginalFilename: f.OriginalFilename,
		ContentType:      f.ContentType,
		ContentHash:      f.ContentHash,
		Size:             f.Size,
		Version:          f.Version,
		OverallStatus:    f.OverallStatus,
		ConflictDetected: f.ConflictDetected,
		DerivedFromID:    f.DerivedFromID,
		Derivation:       f.Derivation,
		Backends:         make(map[string]*BackendStateView, len(f.Backends)),
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	}
	for kind, st := range f.Backends {
		v.Backends[string(kind)] = &BackendStateView{
			Status:       st.Status,
			ExternalID:   st.ExternalID,
			Hash:         st.Hash,
			UploadedAt:   optionalTime(st.UploadedAt),
			ModifiedAt:   optionalTime(st.ModifiedAt),
			ErrorMessage: st.ErrorMessage,
		}
	}
	return v
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
