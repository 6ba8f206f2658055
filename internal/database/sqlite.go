package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloudsync/internal/database/migrations"
	"cloudsync/internal/database/sqlc"
	"cloudsync/internal/syncer"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements syncer.Store using SQLite.
type SQLiteDatabase struct {
	db      *sql.DB
	queries *sqlc.Queries
	path    string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteDatabase{
		db:      db,
		queries: sqlc.New(db),
		path:    path,
	}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{
		db:      db,
		queries: sqlc.New(db),
		path:    "",
	}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting across pooled connections. Transactions must therefore
	// only use their own *sql.Tx.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Other processes (the CLI next to a running server) may hold the write lock briefly.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// withTx runs fn inside a transaction and commits if it returns nil.
func (s *SQLiteDatabase) withTx(ctx context.Context, fn func(q *sqlc.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// File operations

func (s *SQLiteDatabase) CreateFile(ctx context.Context, f *syncer.FileRecord) error {
	return s.withTx(ctx, func(q *sqlc.Queries) error {
		return insertFile(ctx, q, f)
	})
}

func insertFile(ctx context.Context, q *sqlc.Queries, f *syncer.FileRecord) error {
	f.RecomputeStatus()
	err := q.InsertFile(ctx, sqlc.InsertFileParams{
		ID:               f.ID,
		OwnerID:          f.OwnerID,
		Filename:         f.Filename,
		OriginalFilename: f.OriginalFilename,
		ContentType:      f.ContentType,
		ContentHash:      f.ContentHash,
		Size:             f.Size,
		ModifiedAt:       f.ModifiedAt,
		Version:          f.Version,
		OverallStatus:    string(f.OverallStatus),
		ConflictDetected: f.ConflictDetected,
		DerivedFromID:    nullString(f.DerivedFromID),
		Derivation:       nullString(f.Derivation),
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("inserting file: %w", err)
	}

	for _, st := range f.SortedBackends() {
		if err := upsertBackend(ctx, q, f.ID, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDatabase) GetFile(ctx context.Context, id string) (*syncer.FileRecord, error) {
	return loadFile(ctx, s.queries, id)
}

func (s *SQLiteDatabase) FindFileByHash(ctx context.Context, ownerID, contentHash string) (*syncer.FileRecord, error) {
	row, err := s.queries.GetFileByOwnerAndHash(ctx, sqlc.GetFileByOwnerAndHashParams{
		OwnerID:     ownerID,
		ContentHash: contentHash,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file by hash: %w", err)
	}
	return s.withBackends(ctx, s.queries, row)
}

func (s *SQLiteDatabase) ListFiles(ctx context.Context, filter syncer.FileFilter) ([]*syncer.FileRecord, error) {
	limit, offset := syncer.NormalizePage(filter.Limit, filter.Offset)
	rows, err := s.queries.ListFiles(ctx, sqlc.ListFilesParams{
		OwnerID: filter.OwnerID,
		Status:  string(filter.Status),
		Limit:   int64(limit),
		Offset:  int64(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	result := make([]*syncer.FileRecord, 0, len(rows))
	for _, row := range rows {
		f, err := s.withBackends(ctx, s.queries, row)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, nil
}

func (s *SQLiteDatabase) DeleteFile(ctx context.Context, id string) (bool, error) {
	n, err := s.queries.DeleteFile(ctx, id)
	if err != nil {
		return false, fmt.Errorf("deleting file: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteDatabase) SaveBackendState(ctx context.Context, fileID string, st *syncer.BackendState) (*syncer.FileRecord, error) {
	var updated *syncer.FileRecord
	err := s.withTx(ctx, func(q *sqlc.Queries) error {
		if err := upsertBackend(ctx, q, fileID, st); err != nil {
			return err
		}
		f, err := recompute(ctx, q, fileID, nil)
		if err != nil {
			return err
		}
		updated = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func upsertBackend(ctx context.Context, q *sqlc.Queries, fileID string, st *syncer.BackendState) error {
	err := q.UpsertFileBackend(ctx, sqlc.UpsertFileBackendParams{
		FileID:       fileID,
		Backend:      string(st.Backend),
		Status:       string(st.Status),
		ExternalID:   nullString(st.ExternalID),
		Hash:         nullString(st.Hash),
		UploadedAt:   nullTime(st.UploadedAt),
		ModifiedAt:   nullTime(st.ModifiedAt),
		ErrorMessage: nullString(st.ErrorMessage),
	})
	if err != nil {
		return fmt.Errorf("saving %s state: %w", st.Backend, err)
	}
	return nil
}

// recompute reloads a file inside q's transaction, optionally overrides the
// conflict flag, and writes back the derived overall status.
func recompute(ctx context.Context, q *sqlc.Queries, fileID string, conflict *bool) (*syncer.FileRecord, error) {
	f, err := loadFile(ctx, q, fileID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, &syncer.NotFoundError{Kind: "file", ID: fileID}
	}
	if conflict != nil {
		f.ConflictDetected = *conflict
	}
	f.RecomputeStatus()
	f.UpdatedAt = time.Now().UTC()

	err = q.UpdateFileStatus(ctx, sqlc.UpdateFileStatusParams{
		OverallStatus:    string(f.OverallStatus),
		ConflictDetected: f.ConflictDetected,
		UpdatedAt:        f.UpdatedAt,
		ID:               fileID,
	})
	if err != nil {
		return nil, fmt.Errorf("updating file status: %w", err)
	}
	return f, nil
}

func loadFile(ctx context.Context, q *sqlc.Queries, id string) (*syncer.FileRecord, error) {
	row, err := q.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return (&SQLiteDatabase{}).withBackends(ctx, q, row)
}

func (s *SQLiteDatabase) withBackends(ctx context.Context, q *sqlc.Queries, row sqlc.File) (*syncer.FileRecord, error) {
	backends, err := q.ListFileBackends(ctx, row.ID)
	if err != nil {
		return nil, fmt.Errorf("loading backend states: %w", err)
	}
	return toFileRecord(row, backends), nil
}

// Job operations

func (s *SQLiteDatabase) CreateJob(ctx context.Context, job *syncer.SyncJob) error {
	err := s.queries.InsertSyncJob(ctx, sqlc.InsertSyncJobParams{
		ID:           job.ID,
		OwnerID:      job.OwnerID,
		FileID:       job.FileID,
		Operation:    string(job.Operation),
		Targets:      joinTargets(job.Targets),
		Status:       string(job.Status),
		Progress:     int64(job.Progress),
		RetryCount:   int64(job.RetryCount),
		ErrorMessage: nullString(job.ErrorMessage),
		CreatedAt:    job.CreatedAt,
		StartedAt:    nullTime(job.StartedAt),
		CompletedAt:  nullTime(job.CompletedAt),
	})
	if err != nil {
		return fmt.Errorf("creating sync job: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) GetJob(ctx context.Context, id string) (*syncer.SyncJob, error) {
	row, err := s.queries.GetSyncJob(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding sync job: %w", err)
	}
	return toSyncJob(row), nil
}

func (s *SQLiteDatabase) ListJobs(ctx context.Context, filter syncer.JobFilter) ([]*syncer.SyncJob, error) {
	limit, _ := syncer.NormalizePage(filter.Limit, 0)
	rows, err := s.queries.ListSyncJobs(ctx, sqlc.ListSyncJobsParams{
		Status: string(filter.Status),
		FileID: filter.FileID,
		Limit:  int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("listing sync jobs: %w", err)
	}

	result := make([]*syncer.SyncJob, len(rows))
	for i := range rows {
		result[i] = toSyncJob(rows[i])
	}
	return result, nil
}

func (s *SQLiteDatabase) TransitionJob(ctx context.Context, t syncer.JobTransition) (bool, error) {
	n, err := s.queries.TransitionSyncJob(ctx, sqlc.TransitionSyncJobParams{
		ToStatus:     string(t.To),
		Progress:     int64(t.Progress),
		ErrorMessage: nullString(t.ErrorMessage),
		StartedAt:    nullTime(t.StartedAt),
		CompletedAt:  nullTime(t.CompletedAt),
		ID:           t.ID,
		FromStatus:   string(t.From),
	})
	if err != nil {
		return false, fmt.Errorf("transitioning sync job: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteDatabase) AdvanceJob(ctx context.Context, id string, progress int) (bool, error) {
	n, err := s.queries.AdvanceSyncJob(ctx, sqlc.AdvanceSyncJobParams{
		Progress: int64(progress),
		ID:       id,
	})
	if err != nil {
		return false, fmt.Errorf("advancing sync job: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteDatabase) IncrementJobRetries(ctx context.Context, id string) (bool, error) {
	n, err := s.queries.IncrementSyncJobRetries(ctx, id)
	if err != nil {
		return false, fmt.Errorf("incrementing sync job retries: %w", err)
	}
	return n > 0, nil
}

// Conflict operations

// RecordConflict finds or creates the open conflict for c's pair in one
// transaction. The partial unique index on open pairs backs this up against
// writers in other processes.
func (s *SQLiteDatabase) RecordConflict(ctx context.Context, c *syncer.Conflict) (*syncer.Conflict, bool, error) {
	a, b := c.StorageA, c.StorageB
	if b.Less(a) {
		c.StorageA, c.StorageB = b, a
		c.StorageAHash, c.StorageBHash = c.StorageBHash, c.StorageAHash
		c.StorageAModified, c.StorageBModified = c.StorageBModified, c.StorageAModified
	}

	var stored *syncer.Conflict
	created := false
	err := s.withTx(ctx, func(q *sqlc.Queries) error {
		existing, err := q.GetOpenConflictForPair(ctx, sqlc.GetOpenConflictForPairParams{
			FileID:   c.FileID,
			StorageA: string(c.StorageA),
			StorageB: string(c.StorageB),
		})
		switch {
		case errors.Is(err, sql.ErrNoRows):
			err = q.InsertConflict(ctx, sqlc.InsertConflictParams{
				ID:               c.ID,
				FileID:           c.FileID,
				ConflictType:     string(c.Type),
				StorageA:         string(c.StorageA),
				StorageB:         string(c.StorageB),
				StorageAHash:     nullString(c.StorageAHash),
				StorageBHash:     nullString(c.StorageBHash),
				StorageAModified: nullTime(c.StorageAModified),
				StorageBModified: nullTime(c.StorageBModified),
				DetectedAt:       c.DetectedAt,
			})
			if err != nil {
				return fmt.Errorf("inserting conflict: %w", err)
			}
			created = true
			existing.ID = c.ID
		case err != nil:
			return fmt.Errorf("finding open conflict: %w", err)
		default:
			err = q.UpdateConflictSnapshot(ctx, sqlc.UpdateConflictSnapshotParams{
				ConflictType:     string(c.Type),
				StorageAHash:     nullString(c.StorageAHash),
				StorageBHash:     nullString(c.StorageBHash),
				StorageAModified: nullTime(c.StorageAModified),
				StorageBModified: nullTime(c.StorageBModified),
				ID:               existing.ID,
			})
			if err != nil {
				return fmt.Errorf("updating conflict snapshot: %w", err)
			}
		}

		row, err := q.GetConflict(ctx, existing.ID)
		if err != nil {
			return fmt.Errorf("reloading conflict: %w", err)
		}
		stored = toConflict(row)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *SQLiteDatabase) RefreshConflictFlag(ctx context.Context, fileID string) (*syncer.FileRecord, error) {
	var updated *syncer.FileRecord
	err := s.withTx(ctx, func(q *sqlc.Queries) error {
		f, err := refreshFlag(ctx, q, fileID)
		updated = f
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func refreshFlag(ctx context.Context, q *sqlc.Queries, fileID string) (*syncer.FileRecord, error) {
	open, err := q.CountOpenConflictsForFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("counting open conflicts: %w", err)
	}
	flag := open > 0
	return recompute(ctx, q, fileID, &flag)
}

func (s *SQLiteDatabase) GetConflict(ctx context.Context, id string) (*syncer.Conflict, error) {
	row, err := s.queries.GetConflict(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding conflict: %w", err)
	}
	return toConflict(row), nil
}

func (s *SQLiteDatabase) ListConflicts(ctx context.Context, filter syncer.ConflictFilter) ([]*syncer.Conflict, error) {
	limit, offset := syncer.NormalizePage(filter.Limit, filter.Offset)
	resolved := int64(-1)
	if filter.Resolved != nil {
		resolved = 0
		if *filter.Resolved {
			resolved = 1
		}
	}

	rows, err := s.queries.ListConflicts(ctx, sqlc.ListConflictsParams{
		OwnerID:  filter.OwnerID,
		FileID:   filter.FileID,
		Resolved: resolved,
		Limit:    int64(limit),
		Offset:   int64(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("listing conflicts: %w", err)
	}

	result := make([]*syncer.Conflict, len(rows))
	for i := range rows {
		result[i] = toConflict(rows[i])
	}
	return result, nil
}

// ResolveConflict applies a resolution in a single transaction:
//  1. Marks the conflict resolved if it is still open; otherwise stops.
//  2. Replaces the original file's content fields and listed sub-states.
//  3. Inserts the keep-both duplicate.
//  4. Recomputes the conflict flag and overall status of the original.
func (s *SQLiteDatabase) ResolveConflict(ctx context.Context, r *syncer.ConflictResolution) (bool, error) {
	resolved := false
	err := s.withTx(ctx, func(q *sqlc.Queries) error {
		n, err := q.ResolveConflict(ctx, sqlc.ResolveConflictParams{
			ResolutionPolicy: nullString(string(r.Policy)),
			ResolutionNotes:  nullString(r.Notes),
			ResolvedAt:       nullTime(r.ResolvedAt),
			ID:               r.ConflictID,
		})
		if err != nil {
			return fmt.Errorf("marking conflict resolved: %w", err)
		}
		if n == 0 {
			return nil
		}

		if orig := r.Original; orig != nil {
			err := q.UpdateFileContent(ctx, sqlc.UpdateFileContentParams{
				ContentHash: orig.ContentHash,
				Size:        orig.Size,
				ModifiedAt:  orig.ModifiedAt,
				Version:     orig.Version,
				UpdatedAt:   orig.UpdatedAt,
				ID:          r.FileID,
			})
			if err != nil {
				return fmt.Errorf("updating original file: %w", err)
			}
			for _, st := range orig.SortedBackends() {
				if err := upsertBackend(ctx, q, r.FileID, st); err != nil {
					return err
				}
			}
		}

		if r.Duplicate != nil {
			if err := insertFile(ctx, q, r.Duplicate); err != nil {
				return fmt.Errorf("inserting duplicate: %w", err)
			}
		}

		if _, err := refreshFlag(ctx, q, r.FileID); err != nil {
			return err
		}
		resolved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return resolved, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// SchemaStatus reports the applied and latest schema versions.
func (s *SQLiteDatabase) SchemaStatus() (*migrations.Status, error) {
	return migrations.ReadStatus(s.db)
}

// Migrate applies pending migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements syncer.Store interface
var _ syncer.Store = (*SQLiteDatabase)(nil)

// Row conversion

func toFileRecord(row sqlc.File, backends []sqlc.FileBackend) *syncer.FileRecord {
	f := &syncer.FileRecord{
		ID:               row.ID,
		OwnerID:          row.OwnerID,
		Filename:         row.Filename,
		OriginalFilename: row.OriginalFilename,
		ContentType:      row.ContentType,
		ContentHash:      row.ContentHash,
		Size:             row.Size,
		ModifiedAt:       row.ModifiedAt,
		Version:          row.Version,
		OverallStatus:    syncer.OverallStatus(row.OverallStatus),
		ConflictDetected: row.ConflictDetected,
		DerivedFromID:    row.DerivedFromID.String,
		Derivation:       row.Derivation.String,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		Backends:         make(map[syncer.BackendKind]*syncer.BackendState, len(backends)),
	}
	for _, b := range backends {
		kind := syncer.BackendKind(b.Backend)
		f.Backends[kind] = &syncer.BackendState{
			Backend:      kind,
			Status:       syncer.BackendStatus(b.Status),
			ExternalID:   b.ExternalID.String,
			Hash:         b.Hash.String,
			UploadedAt:   b.UploadedAt.Time,
			ModifiedAt:   b.ModifiedAt.Time,
			ErrorMessage: b.ErrorMessage.String,
		}
	}
	return f
}

func toSyncJob(row sqlc.SyncJob) *syncer.SyncJob {
	return &syncer.SyncJob{
		ID:           row.ID,
		OwnerID:      row.OwnerID,
		FileID:       row.FileID,
		Operation:    syncer.JobOperation(row.Operation),
		Targets:      splitTargets(row.Targets),
		Status:       syncer.JobStatus(row.Status),
		Progress:     int(row.Progress),
		RetryCount:   int(row.RetryCount),
		ErrorMessage: row.ErrorMessage.String,
		CreatedAt:    row.CreatedAt,
		StartedAt:    row.StartedAt.Time,
		CompletedAt:  row.CompletedAt.Time,
	}
}

func toConflict(row sqlc.Conflict) *syncer.Conflict {
	return &syncer.Conflict{
		ID:               row.ID,
		FileID:           row.FileID,
		Type:             syncer.ConflictType(row.ConflictType),
		StorageA:         syncer.BackendKind(row.StorageA),
		StorageB:         syncer.BackendKind(row.StorageB),
		StorageAHash:     row.StorageAHash.String,
		StorageBHash:     row.StorageBHash.String,
		StorageAModified: row.StorageAModified.Time,
		StorageBModified: row.StorageBModified.Time,
		Resolved:         row.Resolved,
		ResolutionPolicy: syncer.ResolutionPolicy(row.ResolutionPolicy.String),
		ResolutionNotes:  row.ResolutionNotes.String,
		ResolvedAt:       row.ResolvedAt.Time,
		DetectedAt:       row.DetectedAt,
	}
}

func joinTargets(targets []syncer.BackendKind) string {
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func splitTargets(s string) []syncer.BackendKind {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	targets := make([]syncer.BackendKind, len(parts))
	for i, p := range parts {
		targets[i] = syncer.BackendKind(p)
	}
	return targets
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
