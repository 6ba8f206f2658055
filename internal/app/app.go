// Package app wires configuration, storage, backends and the sync engine
// into the operations the CLI exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cloudsync/internal/backend"
	"cloudsync/internal/config"
	"cloudsync/internal/database"
	"cloudsync/internal/database/migrations"
	"cloudsync/internal/dispatch"
	"cloudsync/internal/lock"
	"cloudsync/internal/metrics"
	"cloudsync/internal/server"
	"cloudsync/internal/syncer"
)

// Options tune a single App instance.
type Options struct {
	// LogLevel is the minimum level written to the log file and stderr.
	LogLevel slog.Level
}

// App is the application layer between the CLI and syncer.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw CLI arguments, and manages the DB lifecycle on Close.
type App struct {
	cfg      *config.Config
	db       *database.SQLiteDatabase
	service  *syncer.Service
	registry *prometheus.Registry
	metrics  *metrics.SyncMetrics
	log      syncer.Logger
	op       *Operation
	logFile  *os.File
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Upload", "Serve").
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := NewOperation(operation, time.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	a := &App{cfg: cfg, log: log, op: op, logFile: logFile}
	if err := a.init(ctx); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	backends := make([]syncer.Backend, 0, len(a.cfg.Backends))
	for _, bc := range a.cfg.Backends {
		b, err := backend.NewFromConfig(ctx, bc)
		if err != nil {
			return fmt.Errorf("creating %s backend: %w", bc.Type, err)
		}
		backends = append(backends, b)
	}

	db, err := database.NewDatabaseFromConfig(a.cfg.Database, a.cfg.OwnerID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db

	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date (run `cloudsync db migrate`): %w", err)
	}

	locker, err := newLocker(a.cfg.Sync.LockDir)
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	svc, err := syncer.NewService(db, backends, locker, serviceConfig(a.cfg), a.log, syncer.RealClock{}, syncer.UUIDGenerator{}, a.metrics)
	if err != nil {
		return fmt.Errorf("creating sync service: %w", err)
	}
	a.service = svc
	return nil
}

func newLocker(dir string) (syncer.Locker, error) {
	if dir == "" {
		return lock.New(), nil
	}
	l, err := lock.NewWithDir(dir)
	if err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	return l, nil
}

func serviceConfig(cfg *config.Config) syncer.ServiceConfig {
	return syncer.ServiceConfig{
		Orchestrator: syncer.OrchestratorConfig{
			RetryAttempts:  cfg.Sync.RetryAttempts,
			RetryDelay:     cfg.Sync.RetryDelay(),
			BackendTimeout: cfg.Sync.BackendTimeout(),
		},
		Detector: syncer.DetectorConfig{
			TimestampTolerance: cfg.Sync.TimestampTolerance(),
			BackendTimeout:     cfg.Sync.BackendTimeout(),
		},
		Ingest: syncer.IngestConfig{
			MaxSize:           cfg.Ingest.MaxSizeBytes(),
			AllowedExtensions: cfg.Ingest.AllowedExtensions,
			SpoolDir:          cfg.Ingest.SpoolDir,
		},
	}
}

// MigrateDatabase applies pending schema migrations to the configured database.
func MigrateDatabase(cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.OwnerID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// SchemaStatus reports the configured database's schema version without
// requiring it to be current.
func SchemaStatus(cfg *config.Config) (*migrations.Status, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()
	return db.SchemaStatus()
}

// track records err against the current operation and returns it unchanged.
func (a *App) track(err error) error {
	a.op.Fail(err)
	return err
}

// ParseTargets converts backend names from the command line. An empty list
// means every configured remote backend.
func ParseTargets(names []string) ([]syncer.BackendKind, error) {
	var targets []syncer.BackendKind
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		kind, err := syncer.ParseBackendKind(n)
		if err != nil {
			return nil, err
		}
		targets = append(targets, kind)
	}
	return targets, nil
}

// Upload ingests the file at rawPath and schedules its sync. When wait is
// true the job runs in this process before Upload returns.
func (a *App) Upload(ctx context.Context, rawPath string, targets []string, wait bool) (*syncer.IngestResult, error) {
	kinds, err := ParseTargets(targets)
	if err != nil {
		return nil, a.track(err)
	}

	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, a.track(fmt.Errorf("resolving path: %w", err))
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, a.track(fmt.Errorf("opening file: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, a.track(fmt.Errorf("stat file: %w", err))
	}
	if info.IsDir() {
		return nil, a.track(fmt.Errorf("%s is a directory", absPath))
	}

	res, err := a.service.Ingest(ctx, syncer.IngestRequest{
		OwnerID:     a.cfg.OwnerID,
		Filename:    filepath.Base(absPath),
		ContentType: mime.TypeByExtension(filepath.Ext(absPath)),
		Body:        f,
		ModifiedAt:  info.ModTime(),
		Targets:     kinds,
	})
	if err != nil {
		return nil, a.track(err)
	}
	a.log.Info("file ingested", "file_id", res.File.ID, "path", absPath, "size", res.File.Size)

	if wait && res.Job != nil {
		job, err := a.service.RunJob(ctx, res.Job.ID)
		if err != nil {
			return nil, a.track(err)
		}
		res.Job = job
		if res.File, err = a.service.GetFile(ctx, res.File.ID); err != nil {
			return nil, a.track(err)
		}
	}
	return res, nil
}

// Sync schedules a sync of an existing file, optionally running it inline.
func (a *App) Sync(ctx context.Context, fileID string, targets []string, wait bool) (*syncer.SyncJob, error) {
	kinds, err := ParseTargets(targets)
	if err != nil {
		return nil, a.track(err)
	}
	job, err := a.service.RequestSync(ctx, fileID, kinds, syncer.OpSync)
	if err != nil {
		return nil, a.track(err)
	}
	if !wait {
		return job, nil
	}
	job, err = a.service.RunJob(ctx, job.ID)
	return job, a.track(err)
}

// JobStatus returns the status surface of a job.
func (a *App) JobStatus(ctx context.Context, id string) (*syncer.JobStatusView, error) {
	job, err := a.service.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return syncer.NewJobStatusView(job), nil
}

// ListFiles lists the owner's files, optionally filtered by overall status.
func (a *App) ListFiles(ctx context.Context, status string, limit, offset int) ([]*syncer.FileView, error) {
	filter := syncer.FileFilter{OwnerID: a.cfg.OwnerID, Limit: limit, Offset: offset}
	if status != "" {
		s, err := syncer.ParseOverallStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = s
	}

	files, err := a.service.ListFiles(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]*syncer.FileView, 0, len(files))
	for _, f := range files {
		views = append(views, syncer.NewFileView(f))
	}
	return views, nil
}

// ShowFile returns one file with its per-backend sub-states.
func (a *App) ShowFile(ctx context.Context, id string) (*syncer.FileView, error) {
	f, err := a.service.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	return syncer.NewFileView(f), nil
}

// DeleteFile removes a file record and, unless keepRemote is set, its copies.
func (a *App) DeleteFile(ctx context.Context, id string, keepRemote bool) error {
	return a.track(a.service.DeleteFile(ctx, id, !keepRemote))
}

// ListConflicts lists the owner's conflicts. resolved is "", "true" or "false".
func (a *App) ListConflicts(ctx context.Context, resolved string, limit, offset int) ([]*syncer.ConflictView, error) {
	filter := syncer.ConflictFilter{OwnerID: a.cfg.OwnerID, Limit: limit, Offset: offset}
	if resolved != "" {
		b, err := strconv.ParseBool(resolved)
		if err != nil {
			return nil, fmt.Errorf("invalid resolved filter %q: %w", resolved, err)
		}
		filter.Resolved = &b
	}

	conflicts, err := a.service.ListConflicts(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]*syncer.ConflictView, 0, len(conflicts))
	for _, c := range conflicts {
		views = append(views, syncer.NewConflictView(c))
	}
	return views, nil
}

// ShowConflict returns one conflict.
func (a *App) ShowConflict(ctx context.Context, id string) (*syncer.ConflictView, error) {
	c, err := a.service.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	return syncer.NewConflictView(c), nil
}

// DetectConflicts runs the detector on a file. refresh re-reads backend state first.
func (a *App) DetectConflicts(ctx context.Context, fileID string, refresh bool) (*syncer.DetectResult, error) {
	res, err := a.service.DetectConflicts(ctx, fileID, refresh)
	return res, a.track(err)
}

// ResolveConflict applies a policy to an open conflict. Resync jobs it
// schedules run inline when wait is true.
func (a *App) ResolveConflict(ctx context.Context, id, policy, keep, notes string, wait bool) (*syncer.ResolveOutcome, error) {
	p, err := syncer.ParseResolutionPolicy(policy)
	if err != nil {
		return nil, a.track(err)
	}

	out, err := a.service.ResolveConflict(ctx, id, syncer.ResolveRequest{
		Policy:        p,
		KeepVersionID: keep,
		Notes:         notes,
	})
	if err != nil {
		return nil, a.track(err)
	}
	a.log.Info("conflict resolved", "conflict_id", id, "policy", p, "resync_jobs", len(out.Jobs))

	if wait {
		for i, job := range out.Jobs {
			done, err := a.service.RunJob(ctx, job.ID)
			if err != nil {
				return out, a.track(err)
			}
			out.Jobs[i] = done
		}
	}
	return out, nil
}

// CheckBackends validates every configured backend.
func (a *App) CheckBackends(ctx context.Context) map[syncer.BackendKind]error {
	return a.service.CheckBackends(ctx)
}

// BackupDatabase writes a consistent snapshot of the metadata database to dest.
func (a *App) BackupDatabase(dest string) error {
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return a.track(fmt.Errorf("resolving path: %w", err))
	}
	if _, err := os.Stat(absDest); err == nil {
		return a.track(fmt.Errorf("%s already exists", absDest))
	}
	return a.track(a.db.BackupTo(absDest))
}

// CheckHealth reports whether the metadata database is reachable and current.
func (a *App) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.db.CheckMigrations()
}

var _ server.HealthChecker = (*App)(nil)

// Serve recovers interrupted jobs, then runs the dispatcher, the pending-job
// poller and the health/metrics endpoint until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.Sync.LockDir == "" {
		a.log.Warn("sync.lock_dir is not set; jobs run by other processes look interrupted to recovery")
	}
	pending, err := a.service.Jobs().Recover(ctx)
	if err != nil {
		return a.track(fmt.Errorf("recovering jobs: %w", err))
	}
	a.log.Info("jobs recovered", "pending", len(pending))

	d := dispatch.New(a.service, dispatch.Config{
		Workers:    a.cfg.Sync.Workers,
		QueueSize:  a.cfg.Sync.QueueSize,
		OnFinished: a.jobFinished,
	}, a.log, a.metrics)
	d.Start(ctx)
	defer d.Stop()

	interval := a.cfg.Sync.PollInterval()
	if interval <= 0 {
		interval = time.Duration(config.DefaultPollIntervalSeconds) * time.Second
	}
	queueSize := a.cfg.Sync.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultQueueSize
	}
	p := dispatch.NewPoller(a.db, d, interval, queueSize, a.log)
	p.Start(ctx)
	defer p.Stop()

	listen := a.cfg.Server.Listen
	if listen == "" {
		listen = config.DefaultListen
	}
	srv := server.New(listen, server.NewRouter(a, a.registry, a.log), a.log)
	if err := srv.Run(ctx); err != nil {
		return a.track(fmt.Errorf("http server: %w", err))
	}
	return nil
}

func (a *App) jobFinished(jobID string, job *syncer.SyncJob, err error) {
	switch {
	case err != nil:
		a.log.Warn("job finished with error", "job_id", jobID, "error", err)
	case job != nil && job.Status == syncer.JobFailed:
		a.log.Warn("job failed", "job_id", jobID, "file_id", job.FileID, "error", job.ErrorMessage)
	case job != nil:
		a.log.Info("job completed", "job_id", jobID, "file_id", job.FileID)
	}
}

// Close records the operation outcome and closes all resources.
func (a *App) Close() error {
	if a.op.Failed() {
		a.log.Warn("operation finished", "operation", a.op.Name, "status", a.op.Status, "error", a.op.Err, "duration", time.Since(a.op.StartedAt))
	} else {
		a.log.Info("operation finished", "operation", a.op.Name, "status", a.op.Status, "duration", time.Since(a.op.StartedAt))
	}
	return a.closeResources()
}

func (a *App) closeResources() error {
	var errs []error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing log file: %w", err))
		}
	}
	return errors.Join(errs...)
}
