package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// OrchestratorConfig bounds the retry loop of each backend branch.
type OrchestratorConfig struct {
	RetryAttempts  int
	RetryDelay     time.Duration
	BackendTimeout time.Duration
}

// DefaultOrchestratorConfig mirrors the shipped configuration defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		RetryAttempts:  3,
		RetryDelay:     5 * time.Second,
		BackendTimeout: 60 * time.Second,
	}
}

// SyncHooks lets the caller observe a sync run. Either func may be nil.
// Hooks are called from branch goroutines and must be safe for concurrent use.
type SyncHooks struct {
	OnRetry   func(backend BackendKind, err error)
	OnSettled func(backend BackendKind, status BackendStatus, settled, total int)
}

// BranchResult is the terminal outcome of one backend branch.
type BranchResult struct {
	Backend  BackendKind
	Status   BackendStatus
	Attempts int
	Err      error
}

// SyncResult is the fan-in of all branches of one sync run.
type SyncResult struct {
	File     *FileRecord
	Branches map[BackendKind]*BranchResult
	// Aggregate is derived from the targeted backends of this run only.
	Aggregate OverallStatus
	// FirstError is the first terminal branch failure of this run.
	FirstError error
}

// Orchestrator pushes a file's content to a set of backends concurrently.
// Each branch retries independently; no branch's failure cancels another and
// successful branches are never rolled back.
type Orchestrator struct {
	store    Store
	backends map[BackendKind]Backend
	locker   Locker
	cfg      OrchestratorConfig
	logger   Logger
	clock    Clock
	recorder Recorder
}

// NewOrchestrator creates an Orchestrator over the configured backends.
func NewOrchestrator(store Store, backends []Backend, locker Locker, cfg OrchestratorConfig, logger Logger, clock Clock, recorder Recorder) *Orchestrator {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	byKind := make(map[BackendKind]Backend, len(backends))
	for _, b := range backends {
		byKind[b.Kind()] = b
	}
	return &Orchestrator{
		store:    store,
		backends: byKind,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		clock:    clock,
		recorder: recorder,
	}
}

// Backend returns the configured backend of the given kind.
func (o *Orchestrator) Backend(kind BackendKind) (Backend, bool) {
	b, ok := o.backends[kind]
	return b, ok
}

// Sync uploads the file to every target and waits for all branches to settle.
// Backend failures are reported in the result, not as an error; the error
// return is reserved for invalid requests and persistence failures.
func (o *Orchestrator) Sync(ctx context.Context, fileID string, targets []BackendKind, hooks *SyncHooks) (*SyncResult, error) {
	if hooks == nil {
		hooks = &SyncHooks{}
	}

	file, err := o.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("loading file: %w", err)
	}
	if file == nil {
		return nil, &NotFoundError{Kind: "file", ID: fileID}
	}

	targets, err = o.validateTargets(targets)
	if err != nil {
		return nil, err
	}

	source, err := o.pickSource(file, targets)
	if err != nil {
		return nil, err
	}

	o.logger.Info("sync started", "file_id", file.ID, "source", source.Backend, "targets", len(targets))

	var (
		mu       sync.Mutex
		settled  int
		firstErr error
		results  = make(map[BackendKind]*BranchResult, len(targets))
	)

	var g errgroup.Group
	g.SetLimit(len(targets))
	for _, target := range targets {
		g.Go(func() error {
			res := o.runBranch(ctx, file, source, target, hooks)

			mu.Lock()
			results[target] = res
			settled++
			n := settled
			if res.Err != nil && firstErr == nil {
				firstErr = res.Err
			}
			mu.Unlock()

			if hooks.OnSettled != nil {
				hooks.OnSettled(target, res.Status, n, len(targets))
			}
			return nil
		})
	}
	_ = g.Wait()

	states := make([]*BackendState, 0, len(results))
	for _, r := range results {
		states = append(states, &BackendState{Backend: r.Backend, Status: r.Status})
	}

	updated, err := o.store.GetFile(context.WithoutCancel(ctx), file.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading file: %w", err)
	}
	if updated == nil {
		return nil, &NotFoundError{Kind: "file", ID: fileID}
	}

	result := &SyncResult{
		File:       updated,
		Branches:   results,
		Aggregate:  DeriveOverallStatus(states, false),
		FirstError: firstErr,
	}
	o.logger.Info("sync finished", "file_id", file.ID, "aggregate", result.Aggregate, "overall_status", updated.OverallStatus)
	return result, nil
}

func (o *Orchestrator) validateTargets(targets []BackendKind) ([]BackendKind, error) {
	if len(targets) == 0 {
		return nil, &ValidationError{Field: "targets", Msg: "at least one target backend is required"}
	}
	seen := make(map[BackendKind]bool, len(targets))
	out := make([]BackendKind, 0, len(targets))
	for _, t := range targets {
		if seen[t] {
			continue
		}
		if _, ok := o.backends[t]; !ok {
			return nil, &ValidationError{Field: "targets", Msg: fmt.Sprintf("backend %q is not configured", t)}
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

// pickSource returns the sub-state to read content from: the first backend
// in pair order, outside the targets, that holds the file's canonical hash.
// Local sorts first, so it is preferred when it qualifies.
func (o *Orchestrator) pickSource(file *FileRecord, targets []BackendKind) (*BackendState, error) {
	targeted := make(map[BackendKind]bool, len(targets))
	for _, t := range targets {
		targeted[t] = true
	}
	for _, st := range file.SortedBackends() {
		if targeted[st.Backend] || st.Status != BackendCompleted || st.ExternalID == "" {
			continue
		}
		if st.Hash != file.ContentHash {
			continue
		}
		if _, ok := o.backends[st.Backend]; !ok {
			continue
		}
		copied := *st
		return &copied, nil
	}
	return nil, &ValidationError{Field: "targets", Msg: "no backend outside the targets holds the file's current content"}
}

func (o *Orchestrator) runBranch(ctx context.Context, file *FileRecord, source *BackendState, target BackendKind, hooks *SyncHooks) *BranchResult {
	res := &BranchResult{Backend: target, Status: BackendFailed}
	started := o.clock.Now()
	defer func() {
		o.recorder.BranchSettled(target, res.Status, o.clock.Now().Sub(started))
	}()

	unlock, err := o.locker.Lock(ctx, fileBackendLockKey(file.ID, target))
	if err != nil {
		res.Err = fmt.Errorf("acquiring lock for %s: %w", target, err)
		return res
	}
	defer unlock()

	// Persist even if the caller's context is cancelled mid-branch.
	persistCtx := context.WithoutCancel(ctx)

	state := &BackendState{Backend: target}
	if prev := file.Backend(target); prev != nil {
		*state = *prev
	}
	state.Status = BackendInProgress
	state.ErrorMessage = ""
	if _, err := o.store.SaveBackendState(persistCtx, file.ID, state); err != nil {
		res.Err = fmt.Errorf("marking %s in progress: %w", target, err)
		return res
	}

	upload, err := backoff.Retry(ctx,
		func() (*UploadResult, error) {
			res.Attempts++
			out, err := o.uploadOnce(ctx, file, source, target)
			o.recorder.UploadAttempt(target, err)
			if err != nil && !IsTransient(err) {
				return nil, backoff.Permanent(err)
			}
			return out, err
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(o.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(o.cfg.RetryAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.logger.Warn("upload attempt failed, retrying", "file_id", file.ID, "backend", target, "attempt", res.Attempts, "retry_in", next, "error", err)
			if hooks.OnRetry != nil {
				hooks.OnRetry(target, err)
			}
		}),
	)

	if err != nil {
		state.Status = BackendFailed
		state.ErrorMessage = err.Error()
		res.Err = err
		o.logger.Error("sync branch failed", "file_id", file.ID, "backend", target, "attempts", res.Attempts, "error", err)
	} else {
		state.Status = BackendCompleted
		state.ExternalID = upload.ExternalID
		state.Hash = upload.Hash
		state.UploadedAt = o.clock.Now()
		state.ModifiedAt = upload.ModifiedAt
		state.ErrorMessage = ""
	}

	if _, serr := o.store.SaveBackendState(persistCtx, file.ID, state); serr != nil {
		res.Status = BackendFailed
		if res.Err == nil {
			res.Err = fmt.Errorf("recording %s result: %w", target, serr)
		}
		return res
	}

	res.Status = state.Status
	return res
}

// uploadOnce performs a single bounded attempt: stream from source, store on target.
func (o *Orchestrator) uploadOnce(ctx context.Context, file *FileRecord, source *BackendState, target BackendKind) (*UploadResult, error) {
	if o.cfg.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.BackendTimeout)
		defer cancel()
	}

	rc, err := o.backends[source.Backend].Open(ctx, source.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("opening source on %s: %w", source.Backend, err)
	}
	defer rc.Close()

	out, err := o.backends[target].Upload(ctx, UploadRequest{
		Path:        ObjectPath(file.OwnerID, file.ContentHash, file.Filename),
		Body:        rc,
		Size:        file.Size,
		ContentHash: file.ContentHash,
		ContentType: file.ContentType,
		ModifiedAt:  file.ModifiedAt,
	})
	if err != nil {
		return nil, err
	}

	if out.Hash == "" {
		out.Hash = file.ContentHash
	}
	if out.Hash != file.ContentHash {
		return nil, TransientError(target, "upload", fmt.Errorf("stored hash %s does not match %s", out.Hash, file.ContentHash))
	}
	if out.ModifiedAt.IsZero() {
		out.ModifiedAt = file.ModifiedAt
	}
	return out, nil
}
