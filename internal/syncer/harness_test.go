package syncer_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"cloudsync/internal/backend"
	"cloudsync/internal/database"
	"cloudsync/internal/lock"
	"cloudsync/internal/syncer"
	"cloudsync/internal/testutil"
)

const testOwner = "owner-1"

// harness wires a Service over an in-memory store, a local backend in a temp
// dir and memory-backed Google Drive and Azure Blob stand-ins.
type harness struct {
	store    *database.SQLiteDatabase
	local    *backend.LocalBackend
	driveMem *backend.MemoryBackend
	azureMem *backend.MemoryBackend
	drive    *testutil.ScriptedBackend
	azure    *testutil.ScriptedBackend
	locker   *lock.KeyedLocker
	clock    *testutil.StubClock
	ids      *testutil.StubIDGenerator
	cfg      syncer.ServiceConfig
	svc      *syncer.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	local, err := backend.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend() error = %v", err)
	}

	h := &harness{
		store:    testutil.NewTestStore(t),
		local:    local,
		driveMem: backend.NewMemoryBackend(syncer.BackendGoogleDrive),
		azureMem: backend.NewMemoryBackend(syncer.BackendAzureBlob),
		locker:   lock.New(),
		clock:    testutil.FixedClock(),
		ids:      testutil.NewStubIDGenerator(),
		cfg: syncer.ServiceConfig{
			Orchestrator: syncer.OrchestratorConfig{
				RetryAttempts:  3,
				RetryDelay:     time.Millisecond,
				BackendTimeout: 5 * time.Second,
			},
			Detector: syncer.DetectorConfig{BackendTimeout: 5 * time.Second},
			Ingest:   syncer.IngestConfig{SpoolDir: t.TempDir()},
		},
	}
	h.drive = testutil.NewScriptedBackend(h.driveMem)
	h.azure = testutil.NewScriptedBackend(h.azureMem)

	h.svc, err = syncer.NewService(h.store, h.backends(), h.locker, h.cfg, syncer.NewNopLogger(), h.clock, h.ids, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return h
}

func (h *harness) backends() []syncer.Backend {
	return []syncer.Backend{h.local, h.drive, h.azure}
}

func (h *harness) ingest(t *testing.T, filename, content string) *syncer.IngestResult {
	t.Helper()
	res, err := h.svc.Ingest(context.Background(), syncer.IngestRequest{
		OwnerID:     testOwner,
		Filename:    filename,
		ContentType: "application/pdf",
		Body:        strings.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	return res
}

func (h *harness) file(t *testing.T, id string) *syncer.FileRecord {
	t.Helper()
	f, err := h.svc.GetFile(context.Background(), id)
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	return f
}

func (h *harness) openConflicts(t *testing.T, fileID string) []*syncer.Conflict {
	t.Helper()
	open := false
	conflicts, err := h.svc.ListConflicts(context.Background(), syncer.ConflictFilter{FileID: fileID, Resolved: &open})
	if err != nil {
		t.Fatalf("ListConflicts() error = %v", err)
	}
	return conflicts
}

// Times used by the diverged-copy scenarios: Google Drive at t=10s and
// Azure Blob at t=12s past the fixed clock.
var (
	baseTime   = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	driveTime  = baseTime.Add(10 * time.Second)
	azureTime  = baseTime.Add(12 * time.Second)
	driveBytes = "version one"
	azureBytes = "version two"
)

// seedDiverged stores a file whose Google Drive and Azure Blob copies hold
// different content, with no local sub-state.
func (h *harness) seedDiverged(t *testing.T) *syncer.FileRecord {
	t.Helper()

	drivePath := syncer.ObjectPath(testOwner, testutil.SHA256Hex([]byte(driveBytes)), "report.pdf")
	azurePath := syncer.ObjectPath(testOwner, testutil.SHA256Hex([]byte(azureBytes)), "report.pdf")
	h.driveMem.Put(drivePath, []byte(driveBytes), driveTime)
	h.azureMem.Put(azurePath, []byte(azureBytes), azureTime)

	f := &syncer.FileRecord{
		ID:               "file-1",
		OwnerID:          testOwner,
		Filename:         "report.pdf",
		OriginalFilename: "report.pdf",
		ContentType:      "application/pdf",
		ContentHash:      testutil.SHA256Hex([]byte(driveBytes)),
		Size:             int64(len(driveBytes)),
		ModifiedAt:       driveTime,
		Version:          1,
		Backends: map[syncer.BackendKind]*syncer.BackendState{
			syncer.BackendGoogleDrive: {
				Backend:    syncer.BackendGoogleDrive,
				Status:     syncer.BackendCompleted,
				ExternalID: drivePath,
				Hash:       testutil.SHA256Hex([]byte(driveBytes)),
				UploadedAt: driveTime,
				ModifiedAt: driveTime,
			},
			syncer.BackendAzureBlob: {
				Backend:    syncer.BackendAzureBlob,
				Status:     syncer.BackendCompleted,
				ExternalID: azurePath,
				Hash:       testutil.SHA256Hex([]byte(azureBytes)),
				UploadedAt: azureTime,
				ModifiedAt: azureTime,
			},
		},
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
	f.RecomputeStatus()

	if err := h.store.CreateFile(context.Background(), f); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
