package syncer

import (
	"context"
	"fmt"
	"os"
	"time"
)

const (
	notesKeptA         = "Kept storage_a version (latest timestamp)"
	notesKeptB         = "Kept storage_b version (latest timestamp)"
	notesNoWinner      = "Applied last-write-wins policy without a clear winner"
	notesManualDefault = "Manual resolution applied"
)

// ResolveRequest is a caller's instruction for closing a conflict.
// KeepVersionID names the backend whose copy stays attached to the original
// file under keep-both.
type ResolveRequest struct {
	Policy        ResolutionPolicy
	KeepVersionID string
	Notes         string
}

// ResyncRequest asks for targets of a file to be synchronized again.
type ResyncRequest struct {
	FileID    string
	Operation JobOperation
	Targets   []BackendKind
}

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	Conflict  *Conflict
	File      *FileRecord
	Duplicate *FileRecord
	Resync    []ResyncRequest
}

// Resolver closes open conflicts exactly once under a policy.
type Resolver struct {
	store    Store
	backends map[BackendKind]Backend
	locker   Locker
	logger   Logger
	clock    Clock
	ids      IDGenerator
	recorder Recorder
	spoolDir string
}

// NewResolver creates a Resolver. spoolDir holds temporary copies of
// downloaded content; empty means the OS temp dir.
func NewResolver(store Store, backends []Backend, locker Locker, logger Logger, clock Clock, ids IDGenerator, recorder Recorder, spoolDir string) *Resolver {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	byKind := make(map[BackendKind]Backend, len(backends))
	for _, b := range backends {
		byKind[b.Kind()] = b
	}
	return &Resolver{
		store:    store,
		backends: byKind,
		locker:   locker,
		logger:   logger,
		clock:    clock,
		ids:      ids,
		recorder: recorder,
		spoolDir: spoolDir,
	}
}

// Resolve applies req to the open conflict conflictID. Concurrent calls for
// the same conflict yield exactly one success; the rest fail with a
// ConflictStateError.
func (r *Resolver) Resolve(ctx context.Context, conflictID string, req ResolveRequest) (*Resolution, error) {
	policy, err := ParseResolutionPolicy(string(req.Policy))
	if err != nil {
		return nil, err
	}

	unlock, err := r.locker.Lock(ctx, conflictLockKey(conflictID))
	if err != nil {
		return nil, fmt.Errorf("acquiring conflict lock: %w", err)
	}
	defer unlock()

	c, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("loading conflict: %w", err)
	}
	if c == nil {
		return nil, &NotFoundError{Kind: "conflict", ID: conflictID}
	}
	if c.Resolved {
		return nil, &ConflictStateError{Msg: "conflict already resolved"}
	}

	file, err := r.store.GetFile(ctx, c.FileID)
	if err != nil {
		return nil, fmt.Errorf("loading file: %w", err)
	}
	if file == nil {
		return nil, &NotFoundError{Kind: "file", ID: c.FileID}
	}

	res := &ConflictResolution{
		ConflictID: c.ID,
		FileID:     file.ID,
		Policy:     policy,
		ResolvedAt: r.clock.Now(),
	}
	var resync []ResyncRequest
	var copies []*BackendState

	switch policy {
	case PolicyLastWriteWins:
		res.Notes = lastWriteNotes(c)
	case PolicyManual:
		res.Notes = req.Notes
		if res.Notes == "" {
			res.Notes = notesManualDefault
		}
	case PolicyKeepBoth:
		plan, err := r.prepareKeepBoth(ctx, c, file, req)
		if err != nil {
			return nil, err
		}
		copies = plan.copies()

		// Sub-states are only written under their (file, backend) lock, so a
		// sync branch that settled while the copies were downloading is seen
		// here and never overwritten.
		unlockBackends, err := r.lockBackends(ctx, file.ID, r.keepBothLockKinds(file, plan))
		if err != nil {
			r.discardCopies(ctx, file.OwnerID, copies)
			return nil, err
		}
		defer unlockBackends()

		fresh, err := r.store.GetFile(ctx, file.ID)
		if err != nil {
			r.discardCopies(ctx, file.OwnerID, copies)
			return nil, fmt.Errorf("reloading file: %w", err)
		}
		if fresh == nil {
			r.discardCopies(ctx, file.OwnerID, copies)
			return nil, &NotFoundError{Kind: "file", ID: file.ID}
		}
		resync = plan.apply(fresh, res, req.Notes)
	}

	ok, err := r.store.ResolveConflict(ctx, res)
	if err != nil {
		r.discardCopies(ctx, file.OwnerID, copies)
		return nil, fmt.Errorf("resolving conflict: %w", err)
	}
	if !ok {
		r.discardCopies(ctx, file.OwnerID, copies)
		current, err := r.store.GetConflict(ctx, conflictID)
		if err != nil {
			return nil, fmt.Errorf("reloading conflict: %w", err)
		}
		if current == nil {
			return nil, &NotFoundError{Kind: "conflict", ID: conflictID}
		}
		return nil, &ConflictStateError{Msg: "conflict already resolved"}
	}

	resolved, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("reloading conflict: %w", err)
	}
	updated, err := r.store.GetFile(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading file: %w", err)
	}

	out := &Resolution{Conflict: resolved, File: updated, Resync: resync}
	if res.Duplicate != nil {
		dup, err := r.store.GetFile(ctx, res.Duplicate.ID)
		if err != nil {
			return nil, fmt.Errorf("loading duplicate: %w", err)
		}
		out.Duplicate = dup
	}

	r.recorder.ConflictResolved(policy)
	r.logger.Info("conflict resolved", "conflict_id", conflictID, "file_id", file.ID, "policy", policy, "notes", res.Notes)
	return out, nil
}

// lastWriteNotes names the side with the strictly later timestamp. Equal
// timestamps keep storage_b.
func lastWriteNotes(c *Conflict) string {
	if c.StorageAModified.IsZero() || c.StorageBModified.IsZero() {
		return notesNoWinner
	}
	if c.StorageAModified.After(c.StorageBModified) {
		return notesKeptA
	}
	return notesKeptB
}

// canonicalSide picks the side that stays attached to the original file.
func canonicalSide(c *Conflict, file *FileRecord, keep string) (BackendKind, error) {
	if keep != "" {
		k := BackendKind(keep)
		if k != c.StorageA && k != c.StorageB {
			return "", &ValidationError{Field: "keep_version_id", Msg: fmt.Sprintf("%q is not a side of this conflict", keep)}
		}
		return k, nil
	}
	switch file.ContentHash {
	case c.StorageAHash:
		return c.StorageA, nil
	case c.StorageBHash:
		return c.StorageB, nil
	}
	return c.StorageA, nil
}

// keepBothPlan holds the local copies written by keep-both before anything
// is committed.
type keepBothPlan struct {
	canonical  BackendKind
	other      BackendKind
	dup        *FileRecord
	dupTargets []BackendKind

	// local is the original's refreshed local copy. Nil when the original
	// already holds the canonical content.
	local         *BackendState
	localSize     int64
	localModified time.Time
}

func (p *keepBothPlan) copies() []*BackendState {
	out := []*BackendState{p.dup.Backend(BackendLocal)}
	if p.local != nil {
		out = append(out, p.local)
	}
	return out
}

// prepareKeepBoth stores the non-canonical copy locally as a new file and,
// when the canonical side differs from the original's content, refreshes the
// original's local copy. Nothing is persisted in the store.
func (r *Resolver) prepareKeepBoth(ctx context.Context, c *Conflict, file *FileRecord, req ResolveRequest) (*keepBothPlan, error) {
	canonical, err := canonicalSide(c, file, req.KeepVersionID)
	if err != nil {
		return nil, err
	}
	other := c.Other(canonical)

	if _, ok := r.backends[BackendLocal]; !ok {
		return nil, &ValidationError{Msg: "keep-both requires a local backend"}
	}

	now := r.clock.Now()
	_, otherModified := c.Side(other)
	if otherModified.IsZero() {
		otherModified = now
	}

	dupID := r.ids.New()
	dupName := conflictCopyName(file.Filename, other)
	dupState, dupContent, err := r.copyToLocal(ctx, file, other, file.OwnerID, dupName, otherModified)
	if err != nil {
		return nil, err
	}

	dup := &FileRecord{
		ID:               dupID,
		OwnerID:          file.OwnerID,
		Filename:         dupName,
		OriginalFilename: file.OriginalFilename,
		ContentType:      file.ContentType,
		ContentHash:      dupContent.Hash,
		Size:             dupContent.Size,
		ModifiedAt:       otherModified,
		Version:          1,
		Backends:         map[BackendKind]*BackendState{BackendLocal: dupState},
		DerivedFromID:    file.ID,
		Derivation:       DerivationKeepBoth,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	plan := &keepBothPlan{canonical: canonical, other: other, dup: dup}
	for kind := range r.backends {
		if kind == BackendLocal {
			continue
		}
		dup.Backends[kind] = &BackendState{Backend: kind, Status: BackendPending}
		plan.dupTargets = append(plan.dupTargets, kind)
	}
	sortKinds(plan.dupTargets)
	dup.RecomputeStatus()

	canonicalHash, canonicalModified := c.Side(canonical)
	if canonicalHash != "" && canonicalHash != file.ContentHash {
		// The original adopts the canonical side's content.
		st, content, err := r.copyToLocal(ctx, file, canonical, file.OwnerID, file.Filename, canonicalModified)
		if err != nil {
			r.discardCopies(ctx, file.OwnerID, plan.copies())
			return nil, err
		}
		plan.local = st
		plan.localSize = content.Size
		plan.localModified = canonicalModified
	}
	return plan, nil
}

// keepBothLockKinds lists every backend whose sub-state keep-both may write:
// all of the file's backends except the canonical side, plus local when it
// is refreshed. The order is stable so concurrent resolves lock alike.
func (r *Resolver) keepBothLockKinds(file *FileRecord, p *keepBothPlan) []BackendKind {
	set := make(map[BackendKind]bool, len(r.backends)+len(file.Backends))
	for kind := range r.backends {
		set[kind] = true
	}
	for kind := range file.Backends {
		set[kind] = true
	}
	delete(set, p.canonical)
	if p.local != nil {
		set[BackendLocal] = true
	}

	kinds := make([]BackendKind, 0, len(set))
	for kind := range set {
		kinds = append(kinds, kind)
	}
	sortKinds(kinds)
	return kinds
}

// apply fills res from the freshly loaded original. Only the sub-states
// keep-both changes are written: the non-canonical side, copies that no
// longer match the original's content, and the refreshed local copy.
func (p *keepBothPlan) apply(fresh *FileRecord, res *ConflictResolution, notes string) []ResyncRequest {
	orig := &FileRecord{
		ID:          fresh.ID,
		ContentHash: fresh.ContentHash,
		Size:        fresh.Size,
		ModifiedAt:  fresh.ModifiedAt,
		Version:     fresh.Version + 1,
		UpdatedAt:   res.ResolvedAt,
		Backends:    make(map[BackendKind]*BackendState),
	}
	if p.local != nil {
		orig.ContentHash = p.local.Hash
		orig.Size = p.localSize
		if !p.localModified.IsZero() {
			orig.ModifiedAt = p.localModified
		}
		orig.Backends[BackendLocal] = p.local
	}

	var origTargets []BackendKind
	for _, st := range fresh.SortedBackends() {
		if st.Backend == p.canonical || (p.local != nil && st.Backend == BackendLocal) {
			continue
		}
		stale := st.Status == BackendCompleted && st.Hash != orig.ContentHash
		if st.Backend != p.other && !stale {
			continue
		}
		reset := *st
		reset.Status = BackendPending
		reset.Hash = ""
		reset.ErrorMessage = ""
		orig.Backends[st.Backend] = &reset
		origTargets = append(origTargets, st.Backend)
	}

	res.Original = orig
	res.Duplicate = p.dup
	res.Notes = fmt.Sprintf("Kept both versions; %s version copied to file %s", p.other, p.dup.ID)
	if notes != "" {
		res.Notes += ". " + notes
	}

	var resync []ResyncRequest
	if len(origTargets) > 0 {
		resync = append(resync, ResyncRequest{FileID: orig.ID, Operation: OpResync, Targets: origTargets})
	}
	if len(p.dupTargets) > 0 {
		resync = append(resync, ResyncRequest{FileID: p.dup.ID, Operation: OpUpload, Targets: p.dupTargets})
	}
	return resync
}

// lockBackends takes the (file, backend) lock of every kind in order and
// returns a func releasing them all.
func (r *Resolver) lockBackends(ctx context.Context, fileID string, kinds []BackendKind) (func(), error) {
	unlocks := make([]func(), 0, len(kinds))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, kind := range kinds {
		unlock, err := r.locker.Lock(ctx, fileBackendLockKey(fileID, kind))
		if err != nil {
			release()
			return nil, fmt.Errorf("acquiring %s lock: %w", kind, err)
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// copyToLocal downloads the copy held by side and stores it in the local
// backend under name. It returns the resulting local sub-state.
func (r *Resolver) copyToLocal(ctx context.Context, file *FileRecord, side BackendKind, ownerID, name string, modified time.Time) (*BackendState, *spooledContent, error) {
	st := file.Backend(side)
	if st == nil || st.ExternalID == "" {
		return nil, nil, &ConflictStateError{Msg: fmt.Sprintf("file has no stored copy on %s", side)}
	}
	src, ok := r.backends[side]
	if !ok {
		return nil, nil, &ValidationError{Field: "backend", Msg: fmt.Sprintf("backend %q is not configured", side)}
	}

	rc, err := src.Open(ctx, st.ExternalID)
	if err != nil {
		return nil, nil, fmt.Errorf("downloading %s copy: %w", side, err)
	}
	defer rc.Close()

	content, err := spool(rc, r.spoolDir, 0)
	if err != nil {
		return nil, nil, err
	}
	defer content.Close()

	body, err := content.Reader()
	if err != nil {
		return nil, nil, err
	}
	out, err := r.backends[BackendLocal].Upload(ctx, UploadRequest{
		Path:        ObjectPath(ownerID, content.Hash, name),
		Body:        body,
		Size:        content.Size,
		ContentHash: content.Hash,
		ContentType: file.ContentType,
		ModifiedAt:  modified,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("storing %s copy locally: %w", side, err)
	}

	return &BackendState{
		Backend:    BackendLocal,
		Status:     BackendCompleted,
		ExternalID: out.ExternalID,
		Hash:       content.Hash,
		UploadedAt: r.clock.Now(),
		ModifiedAt: modified,
	}, content, nil
}

// discardCopies removes local copies written for a resolution that was
// never committed. A copy that a committed file already points at, such as
// the same copy written by a resolve that won the race, is kept. Failures
// are logged only.
func (r *Resolver) discardCopies(ctx context.Context, ownerID string, copies []*BackendState) {
	ctx = context.WithoutCancel(ctx)
	for _, st := range copies {
		if st == nil || st.ExternalID == "" {
			continue
		}
		if owner, err := r.store.FindFileByHash(ctx, ownerID, st.Hash); err == nil && owner != nil {
			if ls := owner.Backend(BackendLocal); ls != nil && ls.ExternalID == st.ExternalID {
				continue
			}
		}
		if _, err := r.backends[BackendLocal].Delete(ctx, st.ExternalID); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("removing uncommitted local copy failed", "external_id", st.ExternalID, "error", err)
		}
	}
}
