package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// IngestConfig limits what may be ingested.
type IngestConfig struct {
	// MaxSize is the largest accepted upload in bytes. Zero disables the check.
	MaxSize int64
	// AllowedExtensions lists accepted lowercase extensions including the dot.
	// An empty list accepts every extension.
	AllowedExtensions []string
	// SpoolDir holds temporary copies of incoming content.
	SpoolDir string
}

// ServiceConfig groups the tunables of every engine component.
type ServiceConfig struct {
	Orchestrator OrchestratorConfig
	Detector     DetectorConfig
	Ingest       IngestConfig
}

// Service is the engine facade used by the application layer. It owns the
// orchestrator, detector, resolver and job machine and wires them together.
type Service struct {
	store        Store
	backends     map[BackendKind]Backend
	orchestrator *Orchestrator
	detector     *Detector
	resolver     *Resolver
	jobs         *JobMachine
	cfg          IngestConfig
	logger       Logger
	clock        Clock
	ids          IDGenerator
}

// NewService creates a Service over the configured backends. Exactly one
// local backend must be present; it receives ingested content.
func NewService(store Store, backends []Backend, locker Locker, cfg ServiceConfig, logger Logger, clock Clock, ids IDGenerator, recorder Recorder) (*Service, error) {
	byKind := make(map[BackendKind]Backend, len(backends))
	for _, b := range backends {
		if _, dup := byKind[b.Kind()]; dup {
			return nil, fmt.Errorf("backend %s configured more than once", b.Kind())
		}
		byKind[b.Kind()] = b
	}
	if _, ok := byKind[BackendLocal]; !ok {
		return nil, errors.New("a local backend is required")
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}

	return &Service{
		store:        store,
		backends:     byKind,
		orchestrator: NewOrchestrator(store, backends, locker, cfg.Orchestrator, logger, clock, recorder),
		detector:     NewDetector(store, backends, locker, cfg.Detector, logger, clock, ids, recorder),
		resolver:     NewResolver(store, backends, locker, logger, clock, ids, recorder, cfg.Ingest.SpoolDir),
		jobs:         NewJobMachine(store, locker, clock, ids, logger, recorder),
		cfg:          cfg.Ingest,
		logger:       logger,
		clock:        clock,
		ids:          ids,
	}, nil
}

// Jobs exposes the job state machine.
func (s *Service) Jobs() *JobMachine { return s.jobs }

// RemoteBackends returns the configured non-local backends in pair order.
func (s *Service) RemoteBackends() []BackendKind {
	var kinds []BackendKind
	for k := range s.backends {
		if k != BackendLocal {
			kinds = append(kinds, k)
		}
	}
	sortKinds(kinds)
	return kinds
}

// IngestRequest is new content arriving from a caller.
type IngestRequest struct {
	OwnerID     string
	Filename    string
	ContentType string
	Body        io.Reader
	ModifiedAt  time.Time
	// Targets are the remote backends to sync to. Nil means all of them.
	Targets []BackendKind
}

// IngestResult is the stored file and the pending job that will sync it.
// Job is nil when there is nothing to sync.
type IngestResult struct {
	File *FileRecord
	Job  *SyncJob
}

// Ingest validates and stores new content in the local backend, records the
// file with a pending sub-state per target and creates a pending upload job.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.OwnerID == "" {
		return nil, &ValidationError{Field: "owner", Msg: "owner is required"}
	}
	name := path.Base(strings.ReplaceAll(req.Filename, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, &ValidationError{Field: "filename", Msg: "filename is required"}
	}
	if err := s.checkExtension(name); err != nil {
		return nil, err
	}

	targets := req.Targets
	if targets == nil {
		targets = s.RemoteBackends()
	}
	for _, t := range targets {
		if t == BackendLocal {
			return nil, &ValidationError{Field: "targets", Msg: "ingested content is always stored locally"}
		}
		if _, ok := s.backends[t]; !ok {
			return nil, &ValidationError{Field: "targets", Msg: fmt.Sprintf("backend %q is not configured", t)}
		}
	}

	content, err := spool(req.Body, s.cfg.SpoolDir, s.cfg.MaxSize)
	if err != nil {
		return nil, err
	}
	defer content.Close()

	existing, err := s.store.FindFileByHash(ctx, req.OwnerID, content.Hash)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicate content: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w (file %s)", ErrDuplicateContent, existing.ID)
	}

	now := s.clock.Now()
	modified := req.ModifiedAt
	if modified.IsZero() {
		modified = now
	}
	// Millisecond precision survives every backend's timestamp format.
	modified = modified.UTC().Truncate(time.Millisecond)

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	body, err := content.Reader()
	if err != nil {
		return nil, err
	}
	stored, err := s.backends[BackendLocal].Upload(ctx, UploadRequest{
		Path:        ObjectPath(req.OwnerID, content.Hash, name),
		Body:        body,
		Size:        content.Size,
		ContentHash: content.Hash,
		ContentType: contentType,
		ModifiedAt:  modified,
	})
	if err != nil {
		return nil, fmt.Errorf("storing content locally: %w", err)
	}

	file := &FileRecord{
		ID:               s.ids.New(),
		OwnerID:          req.OwnerID,
		Filename:         name,
		OriginalFilename: req.Filename,
		ContentType:      contentType,
		ContentHash:      content.Hash,
		Size:             content.Size,
		ModifiedAt:       modified,
		Version:          1,
		Backends: map[BackendKind]*BackendState{
			BackendLocal: {
				Backend:    BackendLocal,
				Status:     BackendCompleted,
				ExternalID: stored.ExternalID,
				Hash:       content.Hash,
				UploadedAt: now,
				ModifiedAt: modified,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, t := range targets {
		file.Backends[t] = &BackendState{Backend: t, Status: BackendPending}
	}
	file.RecomputeStatus()

	if err := s.store.CreateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("recording file: %w", err)
	}
	s.logger.Info("file ingested", "file_id", file.ID, "owner_id", file.OwnerID, "filename", name, "size", file.Size, "hash", file.ContentHash)

	result := &IngestResult{File: file}
	if len(targets) == 0 {
		return result, nil
	}
	job, err := s.jobs.Create(ctx, file.OwnerID, file.ID, OpUpload, targets)
	if err != nil {
		return nil, err
	}
	result.Job = job
	return result, nil
}

func (s *Service) checkExtension(name string) error {
	if len(s.cfg.AllowedExtensions) == 0 {
		return nil
	}
	ext := strings.ToLower(path.Ext(name))
	for _, allowed := range s.cfg.AllowedExtensions {
		if strings.ToLower(allowed) == ext {
			return nil
		}
	}
	return &ValidationError{
		Field: "filename",
		Msg:   fmt.Sprintf("file type %s not allowed, allowed types: %s", ext, strings.Join(s.cfg.AllowedExtensions, ",")),
	}
}

// RequestSync creates a pending job syncing the file to targets. Nil targets
// means every remote backend.
func (s *Service) RequestSync(ctx context.Context, fileID string, targets []BackendKind, op JobOperation) (*SyncJob, error) {
	file, err := s.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if targets == nil {
		targets = s.RemoteBackends()
	}
	for _, t := range targets {
		if _, ok := s.backends[t]; !ok {
			return nil, &ValidationError{Field: "targets", Msg: fmt.Sprintf("backend %q is not configured", t)}
		}
	}
	if op == "" {
		op = OpSync
	}
	return s.jobs.Create(ctx, file.OwnerID, file.ID, op, targets)
}

// JobOutcome carries the result of executing a job to the step that records
// its terminal state.
type JobOutcome struct {
	JobID     string
	Result    *SyncResult
	Detection *DetectResult
	Err       error
	// Skipped is set when the job could not be started, so no terminal
	// transition is owed.
	Skipped bool

	release func()
}

// ExecuteJob starts a pending job, runs the sync and conflict detection. It
// does not apply the terminal transition; pass the outcome to FinishJob.
func (s *Service) ExecuteJob(ctx context.Context, jobID string) *JobOutcome {
	out := &JobOutcome{JobID: jobID}

	release, err := s.jobs.Lease(jobID)
	if err != nil {
		out.Err = err
		out.Skipped = true
		return out
	}
	job, err := s.jobs.Start(ctx, jobID)
	if err != nil {
		release()
		out.Err = err
		out.Skipped = true
		return out
	}
	out.release = release

	hooks := &SyncHooks{
		OnRetry: func(backend BackendKind, _ error) {
			if err := s.jobs.RecordRetry(ctx, jobID); err != nil {
				s.logger.Warn("recording job retry failed", "job_id", jobID, "backend", backend, "error", err)
			}
		},
		OnSettled: func(backend BackendKind, _ BackendStatus, settled, total int) {
			if err := s.jobs.Advance(ctx, jobID, SyncProgress(settled, total)); err != nil {
				s.logger.Warn("advancing job progress failed", "job_id", jobID, "backend", backend, "error", err)
			}
		},
	}

	result, err := s.orchestrator.Sync(ctx, job.FileID, job.Targets, hooks)
	if err != nil {
		out.Err = err
		return out
	}
	out.Result = result

	detection, err := s.detector.Detect(ctx, job.FileID, DetectOptions{})
	if err != nil {
		s.logger.Warn("conflict detection after sync failed", "job_id", jobID, "file_id", job.FileID, "error", err)
	}
	out.Detection = detection
	return out
}

// FinishJob records the terminal state for an executed job and gives up its
// lease.
func (s *Service) FinishJob(ctx context.Context, out *JobOutcome) (*SyncJob, error) {
	if out.release != nil {
		defer out.release()
	}
	if out.Skipped {
		return nil, out.Err
	}
	return s.jobs.Finish(context.WithoutCancel(ctx), out.JobID, out.Result, out.Err)
}

// RunJob executes a job and records its terminal state.
func (s *Service) RunJob(ctx context.Context, jobID string) (*SyncJob, error) {
	return s.FinishJob(ctx, s.ExecuteJob(ctx, jobID))
}

// GetJob returns a job or a NotFoundError.
func (s *Service) GetJob(ctx context.Context, id string) (*SyncJob, error) {
	return s.jobs.Get(ctx, id)
}

// GetFile returns a file or a NotFoundError.
func (s *Service) GetFile(ctx context.Context, id string) (*FileRecord, error) {
	file, err := s.store.GetFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading file: %w", err)
	}
	if file == nil {
		return nil, &NotFoundError{Kind: "file", ID: id}
	}
	return file, nil
}

// ListFiles returns a page of files.
func (s *Service) ListFiles(ctx context.Context, filter FileFilter) ([]*FileRecord, error) {
	filter.Limit, filter.Offset = NormalizePage(filter.Limit, filter.Offset)
	files, err := s.store.ListFiles(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return files, nil
}

// DeleteFile removes a file record along with its jobs and conflicts. The
// local copy is always deleted; remote copies only when removeRemote is set.
// Backend deletions are best effort.
func (s *Service) DeleteFile(ctx context.Context, id string, removeRemote bool) error {
	file, err := s.GetFile(ctx, id)
	if err != nil {
		return err
	}

	for _, st := range file.SortedBackends() {
		if st.ExternalID == "" || (st.Backend != BackendLocal && !removeRemote) {
			continue
		}
		b, ok := s.backends[st.Backend]
		if !ok {
			continue
		}
		if _, err := b.Delete(ctx, st.ExternalID); err != nil {
			s.logger.Warn("deleting backend copy failed", "file_id", id, "backend", st.Backend, "error", err)
		}
	}

	deleted, err := s.store.DeleteFile(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	if !deleted {
		return &NotFoundError{Kind: "file", ID: id}
	}
	s.logger.Info("file deleted", "file_id", id, "remote", removeRemote)
	return nil
}

// DetectConflicts runs conflict detection for a file on demand.
func (s *Service) DetectConflicts(ctx context.Context, fileID string, refresh bool) (*DetectResult, error) {
	return s.detector.Detect(ctx, fileID, DetectOptions{Refresh: refresh})
}

// GetConflict returns a conflict or a NotFoundError.
func (s *Service) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	c, err := s.store.GetConflict(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading conflict: %w", err)
	}
	if c == nil {
		return nil, &NotFoundError{Kind: "conflict", ID: id}
	}
	return c, nil
}

// ListConflicts returns a page of conflicts.
func (s *Service) ListConflicts(ctx context.Context, filter ConflictFilter) ([]*Conflict, error) {
	filter.Limit, filter.Offset = NormalizePage(filter.Limit, filter.Offset)
	conflicts, err := s.store.ListConflicts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing conflicts: %w", err)
	}
	return conflicts, nil
}

// ResolveOutcome is a resolution plus the jobs it scheduled.
type ResolveOutcome struct {
	*Resolution
	Jobs []*SyncJob
}

// ResolveConflict resolves a conflict and creates pending jobs for any copies
// that must be resynced as a result.
func (s *Service) ResolveConflict(ctx context.Context, id string, req ResolveRequest) (*ResolveOutcome, error) {
	res, err := s.resolver.Resolve(ctx, id, req)
	if err != nil {
		return nil, err
	}

	out := &ResolveOutcome{Resolution: res}
	for _, rs := range res.Resync {
		file, err := s.GetFile(ctx, rs.FileID)
		if err != nil {
			return nil, err
		}
		job, err := s.jobs.Create(ctx, file.OwnerID, rs.FileID, rs.Operation, rs.Targets)
		if err != nil {
			return nil, fmt.Errorf("scheduling resync of %s: %w", rs.FileID, err)
		}
		out.Jobs = append(out.Jobs, job)
	}
	return out, nil
}

// CheckBackends runs ValidateSetup on every configured backend.
func (s *Service) CheckBackends(ctx context.Context) map[BackendKind]error {
	results := make(map[BackendKind]error, len(s.backends))
	for kind, b := range s.backends {
		results[kind] = b.ValidateSetup(ctx)
	}
	return results
}
