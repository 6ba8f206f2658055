package syncer_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cloudsync/internal/syncer"
	"cloudsync/internal/testutil"
)

func TestOrchestrator_SyncAllTargets(t *testing.T) {
	h := newHarness(t)
	in := h.ingest(t, "report.pdf", "quarterly numbers")

	job, err := h.svc.RunJob(context.Background(), in.Job.ID)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if job.Status != syncer.JobCompleted {
		t.Errorf("job status = %q, want %q (error %q)", job.Status, syncer.JobCompleted, job.ErrorMessage)
	}
	if job.Progress != syncer.ProgressFinished {
		t.Errorf("job progress = %d, want %d", job.Progress, syncer.ProgressFinished)
	}

	f := h.file(t, in.File.ID)
	if f.OverallStatus != syncer.OverallCompleted {
		t.Errorf("overall status = %q, want %q", f.OverallStatus, syncer.OverallCompleted)
	}
	for _, kind := range []syncer.BackendKind{syncer.BackendGoogleDrive, syncer.BackendAzureBlob} {
		st := f.Backend(kind)
		if st == nil || st.Status != syncer.BackendCompleted {
			t.Fatalf("%s sub-state = %+v, want completed", kind, st)
		}
		if st.Hash != f.ContentHash {
			t.Errorf("%s hash = %q, want %q", kind, st.Hash, f.ContentHash)
		}
		if !st.ModifiedAt.Equal(f.ModifiedAt) {
			t.Errorf("%s modified = %v, want %v", kind, st.ModifiedAt, f.ModifiedAt)
		}
	}
	if h.driveMem.Len() != 1 || h.azureMem.Len() != 1 {
		t.Errorf("stored objects drive=%d azure=%d, want 1 each", h.driveMem.Len(), h.azureMem.Len())
	}
}

// Scenario A: one backend succeeds while the other exhausts its transient
// retries. The job fails, the successful copy is kept and no conflict is
// recorded.
func TestOrchestrator_TransientExhaustionFailsJob(t *testing.T) {
	h := newHarness(t)
	h.azure.FailAlways(syncer.TransientError(syncer.BackendAzureBlob, "upload", testutil.ErrScripted))
	in := h.ingest(t, "report.pdf", "quarterly numbers")

	job, err := h.svc.RunJob(context.Background(), in.Job.ID)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}

	if job.Status != syncer.JobFailed {
		t.Errorf("job status = %q, want %q", job.Status, syncer.JobFailed)
	}
	if !strings.Contains(job.ErrorMessage, testutil.ErrScripted.Error()) {
		t.Errorf("job error = %q, want it to mention %q", job.ErrorMessage, testutil.ErrScripted)
	}
	if job.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", job.RetryCount)
	}
	if job.Progress != syncer.ProgressFinished {
		t.Errorf("job progress = %d, want %d", job.Progress, syncer.ProgressFinished)
	}
	if got := h.azure.Attempts(); got != 3 {
		t.Errorf("azure attempts = %d, want 3", got)
	}

	f := h.file(t, in.File.ID)
	if st := f.Backend(syncer.BackendGoogleDrive); st.Status != syncer.BackendCompleted {
		t.Errorf("google_drive status = %q, want %q", st.Status, syncer.BackendCompleted)
	}
	z := f.Backend(syncer.BackendAzureBlob)
	if z.Status != syncer.BackendFailed {
		t.Errorf("azure_blob status = %q, want %q", z.Status, syncer.BackendFailed)
	}
	if z.ErrorMessage == "" {
		t.Error("azure_blob error message is empty")
	}
	if f.OverallStatus != syncer.OverallFailed {
		t.Errorf("overall status = %q, want %q", f.OverallStatus, syncer.OverallFailed)
	}
	if f.ConflictDetected {
		t.Error("conflict_detected = true, want false")
	}
	if n := len(h.openConflicts(t, f.ID)); n != 0 {
		t.Errorf("open conflicts = %d, want 0", n)
	}
}

func TestOrchestrator_TransientRecovers(t *testing.T) {
	h := newHarness(t)
	h.drive.FailNext(syncer.TransientError(syncer.BackendGoogleDrive, "upload", testutil.ErrScripted))
	in := h.ingest(t, "report.pdf", "quarterly numbers")

	job, err := h.svc.RunJob(context.Background(), in.Job.ID)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if job.Status != syncer.JobCompleted {
		t.Errorf("job status = %q, want %q", job.Status, syncer.JobCompleted)
	}
	if job.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", job.RetryCount)
	}
	if got := h.drive.Attempts(); got != 2 {
		t.Errorf("drive attempts = %d, want 2", got)
	}
}

func TestOrchestrator_PermanentErrorNotRetried(t *testing.T) {
	h := newHarness(t)
	h.drive.FailAlways(syncer.PermanentError(syncer.BackendGoogleDrive, "upload", errors.New("403 forbidden")))
	in := h.ingest(t, "report.pdf", "quarterly numbers")

	job, err := h.svc.RunJob(context.Background(), in.Job.ID)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if job.Status != syncer.JobFailed {
		t.Errorf("job status = %q, want %q", job.Status, syncer.JobFailed)
	}
	if job.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", job.RetryCount)
	}
	if got := h.drive.Attempts(); got != 1 {
		t.Errorf("drive attempts = %d, want 1", got)
	}

	f := h.file(t, in.File.ID)
	if st := f.Backend(syncer.BackendAzureBlob); st.Status != syncer.BackendCompleted {
		t.Errorf("azure_blob status = %q, want %q", st.Status, syncer.BackendCompleted)
	}
}

func TestOrchestrator_InvalidRequests(t *testing.T) {
	h := newHarness(t)
	in := h.ingest(t, "report.pdf", "quarterly numbers")
	o := syncer.NewOrchestrator(h.store, h.backends(), h.locker, h.cfg.Orchestrator, syncer.NewNopLogger(), h.clock, nil)

	tests := []struct {
		name    string
		fileID  string
		targets []syncer.BackendKind
		wantErr error
	}{
		{name: "no targets", fileID: in.File.ID, wantErr: syncer.ErrValidation},
		{name: "unconfigured target", fileID: in.File.ID, targets: []syncer.BackendKind{syncer.BackendS3}, wantErr: syncer.ErrValidation},
		{name: "no source outside targets", fileID: in.File.ID, targets: []syncer.BackendKind{syncer.BackendLocal}, wantErr: syncer.ErrValidation},
		{name: "missing file", fileID: "nope", targets: []syncer.BackendKind{syncer.BackendAzureBlob}, wantErr: syncer.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Sync(context.Background(), tt.fileID, tt.targets, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Sync() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOrchestrator_SerializesSameFileAndBackend(t *testing.T) {
	h := newHarness(t)
	in := h.ingest(t, "report.pdf", "quarterly numbers")
	o := syncer.NewOrchestrator(h.store, h.backends(), h.locker, h.cfg.Orchestrator, syncer.NewNopLogger(), h.clock, nil)

	h.azure.Hold()
	var wg sync.WaitGroup
	results := make([]*syncer.SyncResult, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Sync(context.Background(), in.File.ID, []syncer.BackendKind{syncer.BackendAzureBlob}, nil)
			if err != nil {
				t.Errorf("Sync() error = %v", err)
				return
			}
			results[i] = res
		}()
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.azure.Attempts() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	h.azure.Release()
	wg.Wait()

	if got := h.azure.MaxConcurrent(); got != 1 {
		t.Errorf("max concurrent uploads = %d, want 1", got)
	}
	if got := h.azure.Attempts(); got != 2 {
		t.Errorf("upload attempts = %d, want 2", got)
	}
	for i, res := range results {
		if res == nil {
			continue
		}
		if res.Aggregate != syncer.OverallCompleted {
			t.Errorf("sync %d aggregate = %q, want %q", i, res.Aggregate, syncer.OverallCompleted)
		}
	}
}

func TestOrchestrator_ProgressHooks(t *testing.T) {
	h := newHarness(t)
	in := h.ingest(t, "report.pdf", "quarterly numbers")
	o := syncer.NewOrchestrator(h.store, h.backends(), h.locker, h.cfg.Orchestrator, syncer.NewNopLogger(), h.clock, nil)

	var mu sync.Mutex
	var settled []int
	hooks := &syncer.SyncHooks{
		OnSettled: func(_ syncer.BackendKind, _ syncer.BackendStatus, n, total int) {
			mu.Lock()
			defer mu.Unlock()
			settled = append(settled, syncer.SyncProgress(n, total))
		},
	}

	res, err := o.Sync(context.Background(), in.File.ID, []syncer.BackendKind{syncer.BackendGoogleDrive, syncer.BackendAzureBlob}, hooks)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(res.Branches) != 2 {
		t.Errorf("branches = %d, want 2", len(res.Branches))
	}
	if len(settled) != 2 || settled[0] != 50 || settled[1] != syncer.ProgressSynced {
		t.Errorf("progress = %v, want [50 %d]", settled, syncer.ProgressSynced)
	}
}
