package syncer

import (
	"context"
	"fmt"
	"time"
)

// DetectorConfig tunes conflict detection.
type DetectorConfig struct {
	// TimestampTolerance is the largest modification time difference between
	// two backends holding the same hash that is not a conflict. Zero means
	// any difference is a conflict.
	TimestampTolerance time.Duration
	BackendTimeout     time.Duration
}

// DetectOptions controls a single detection run.
type DetectOptions struct {
	// Refresh queries every completed backend for its current state before
	// comparing, instead of trusting the recorded sub-states.
	Refresh bool
}

// DetectResult lists the divergences found by one run.
type DetectResult struct {
	File      *FileRecord
	Conflicts []*Conflict
	Created   int
}

// Detector compares the completed sub-states of a file pairwise and records
// one open Conflict per diverging pair.
type Detector struct {
	store    Store
	backends map[BackendKind]Backend
	locker   Locker
	cfg      DetectorConfig
	logger   Logger
	clock    Clock
	ids      IDGenerator
	recorder Recorder
}

// NewDetector creates a Detector.
func NewDetector(store Store, backends []Backend, locker Locker, cfg DetectorConfig, logger Logger, clock Clock, ids IDGenerator, recorder Recorder) *Detector {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	byKind := make(map[BackendKind]Backend, len(backends))
	for _, b := range backends {
		byKind[b.Kind()] = b
	}
	return &Detector{
		store:    store,
		backends: byKind,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		clock:    clock,
		ids:      ids,
		recorder: recorder,
	}
}

// Detect runs conflict detection for one file. Running it repeatedly over
// unchanged state never creates more than one open conflict per pair.
func (d *Detector) Detect(ctx context.Context, fileID string, opts DetectOptions) (*DetectResult, error) {
	file, err := d.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("loading file: %w", err)
	}
	if file == nil {
		return nil, &NotFoundError{Kind: "file", ID: fileID}
	}

	if opts.Refresh {
		file, err = d.refresh(ctx, file)
		if err != nil {
			return nil, err
		}
	}

	var comparable []*BackendState
	for _, st := range file.SortedBackends() {
		if st.Status == BackendCompleted && st.Hash != "" {
			comparable = append(comparable, st)
		}
	}

	result := &DetectResult{}
	now := d.clock.Now()
	for i := 0; i < len(comparable); i++ {
		for j := i + 1; j < len(comparable); j++ {
			a, b := comparable[i], comparable[j]
			typ, diverged := d.compare(a, b)
			if !diverged {
				continue
			}

			stored, created, err := d.store.RecordConflict(ctx, &Conflict{
				ID:               d.ids.New(),
				FileID:           file.ID,
				Type:             typ,
				StorageA:         a.Backend,
				StorageB:         b.Backend,
				StorageAHash:     a.Hash,
				StorageBHash:     b.Hash,
				StorageAModified: a.ModifiedAt,
				StorageBModified: b.ModifiedAt,
				DetectedAt:       now,
			})
			if err != nil {
				return nil, fmt.Errorf("recording conflict between %s and %s: %w", a.Backend, b.Backend, err)
			}

			d.recorder.ConflictRecorded(typ, created)
			if created {
				result.Created++
				d.logger.Warn("conflict detected", "file_id", file.ID, "conflict_id", stored.ID, "type", typ, "storage_a", a.Backend, "storage_b", b.Backend)
			} else {
				d.logger.Debug("conflict snapshot refreshed", "file_id", file.ID, "conflict_id", stored.ID, "type", typ)
			}
			result.Conflicts = append(result.Conflicts, stored)
		}
	}

	updated, err := d.store.RefreshConflictFlag(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("refreshing conflict flag: %w", err)
	}
	result.File = updated
	return result, nil
}

// compare classifies the divergence between two completed sub-states.
func (d *Detector) compare(a, b *BackendState) (ConflictType, bool) {
	if a.Hash != b.Hash {
		return ConflictHashMismatch, true
	}
	if a.ModifiedAt.IsZero() || b.ModifiedAt.IsZero() {
		return "", false
	}
	diff := a.ModifiedAt.Sub(b.ModifiedAt)
	if diff < 0 {
		diff = -diff
	}
	if diff > d.cfg.TimestampTolerance {
		return ConflictTimestampMismatch, true
	}
	return "", false
}

// refresh re-reads the live state of every completed backend copy. A copy
// that no longer exists is marked failed so it drops out of comparison.
func (d *Detector) refresh(ctx context.Context, file *FileRecord) (*FileRecord, error) {
	for _, st := range file.SortedBackends() {
		if st.Status != BackendCompleted || st.ExternalID == "" {
			continue
		}
		b, ok := d.backends[st.Backend]
		if !ok {
			continue
		}

		remote, err := d.fetchState(ctx, b, st.ExternalID)
		if err != nil {
			d.logger.Warn("fetching backend state failed", "file_id", file.ID, "backend", st.Backend, "error", err)
			continue
		}

		next := *st
		switch {
		case !remote.Exists:
			next.Status = BackendFailed
			next.ErrorMessage = "object missing from backend"
		default:
			if remote.Hash != "" {
				next.Hash = remote.Hash
			}
			if !remote.ModifiedAt.IsZero() {
				next.ModifiedAt = remote.ModifiedAt
			}
		}
		if next == *st {
			continue
		}

		if err := d.saveState(ctx, file.ID, &next); err != nil {
			return nil, err
		}
	}

	refreshed, err := d.store.GetFile(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading file: %w", err)
	}
	if refreshed == nil {
		return nil, &NotFoundError{Kind: "file", ID: file.ID}
	}
	return refreshed, nil
}

func (d *Detector) fetchState(ctx context.Context, b Backend, externalID string) (*RemoteState, error) {
	if d.cfg.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.BackendTimeout)
		defer cancel()
	}
	return b.FetchState(ctx, externalID)
}

func (d *Detector) saveState(ctx context.Context, fileID string, st *BackendState) error {
	unlock, err := d.locker.Lock(ctx, fileBackendLockKey(fileID, st.Backend))
	if err != nil {
		return fmt.Errorf("acquiring lock for %s: %w", st.Backend, err)
	}
	defer unlock()

	if _, err := d.store.SaveBackendState(ctx, fileID, st); err != nil {
		return fmt.Errorf("saving refreshed %s state: %w", st.Backend, err)
	}
	return nil
}
