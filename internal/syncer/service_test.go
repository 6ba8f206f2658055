package syncer_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"cloudsync/internal/syncer"
	"cloudsync/internal/testutil"
)

func TestService_Ingest(t *testing.T) {
	h := newHarness(t)
	in := h.ingest(t, "C:\\Users\\me\\report.pdf", "quarterly numbers")

	f := in.File
	if f.Filename != "report.pdf" {
		t.Errorf("filename = %q, want %q", f.Filename, "report.pdf")
	}
	if f.OriginalFilename != "C:\\Users\\me\\report.pdf" {
		t.Errorf("original filename = %q, want the caller's name", f.OriginalFilename)
	}
	if f.ContentHash != testutil.SHA256Hex([]byte("quarterly numbers")) {
		t.Errorf("hash = %q, want sha256 of content", f.ContentHash)
	}
	if f.Size != int64(len("quarterly numbers")) {
		t.Errorf("size = %d, want %d", f.Size, len("quarterly numbers"))
	}
	if f.Version != 1 {
		t.Errorf("version = %d, want 1", f.Version)
	}
	if f.OverallStatus != syncer.OverallPending {
		t.Errorf("overall status = %q, want %q", f.OverallStatus, syncer.OverallPending)
	}

	local := f.Backend(syncer.BackendLocal)
	if local == nil || local.Status != syncer.BackendCompleted {
		t.Fatalf("local sub-state = %+v, want completed", local)
	}
	for _, kind := range []syncer.BackendKind{syncer.BackendGoogleDrive, syncer.BackendAzureBlob} {
		if st := f.Backend(kind); st == nil || st.Status != syncer.BackendPending {
			t.Errorf("%s sub-state = %+v, want pending", kind, st)
		}
	}

	if in.Job == nil {
		t.Fatal("Job = nil, want pending upload job")
	}
	if in.Job.Operation != syncer.OpUpload || in.Job.Status != syncer.JobPending {
		t.Errorf("job = %s/%s, want upload/pending", in.Job.Operation, in.Job.Status)
	}
	if len(in.Job.Targets) != 2 {
		t.Errorf("job targets = %v, want both remotes", in.Job.Targets)
	}

	stored := h.file(t, f.ID)
	if stored.ContentHash != f.ContentHash {
		t.Errorf("stored hash = %q, want %q", stored.ContentHash, f.ContentHash)
	}
}

func TestService_IngestValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     syncer.IngestRequest
		maxSize int64
		allowed []string
		wantErr error
	}{
		{
			name:    "missing owner",
			req:     syncer.IngestRequest{Filename: "a.pdf", Body: strings.NewReader("x")},
			wantErr: syncer.ErrValidation,
		},
		{
			name:    "missing filename",
			req:     syncer.IngestRequest{OwnerID: testOwner, Body: strings.NewReader("x")},
			wantErr: syncer.ErrValidation,
		},
		{
			name:    "extension not allowed",
			req:     syncer.IngestRequest{OwnerID: testOwner, Filename: "run.exe", Body: strings.NewReader("x")},
			allowed: []string{".pdf", ".txt"},
			wantErr: syncer.ErrValidation,
		},
		{
			name:    "too large",
			req:     syncer.IngestRequest{OwnerID: testOwner, Filename: "a.pdf", Body: strings.NewReader("0123456789")},
			maxSize: 5,
			wantErr: syncer.ErrValidation,
		},
		{
			name:    "local target",
			req:     syncer.IngestRequest{OwnerID: testOwner, Filename: "a.pdf", Body: strings.NewReader("x"), Targets: []syncer.BackendKind{syncer.BackendLocal}},
			wantErr: syncer.ErrValidation,
		},
		{
			name:    "unconfigured target",
			req:     syncer.IngestRequest{OwnerID: testOwner, Filename: "a.pdf", Body: strings.NewReader("x"), Targets: []syncer.BackendKind{syncer.BackendS3}},
			wantErr: syncer.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			cfg := h.cfg
			cfg.Ingest.MaxSize = tt.maxSize
			cfg.Ingest.AllowedExtensions = tt.allowed
			svc, err := syncer.NewService(h.store, h.backends(), h.locker, cfg, syncer.NewNopLogger(), h.clock, h.ids, nil)
			if err != nil {
				t.Fatalf("NewService() error = %v", err)
			}

			_, err = svc.Ingest(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Ingest() error = %v, want %v", err, tt.wantErr)
			}

			files, _ := svc.ListFiles(context.Background(), syncer.FileFilter{OwnerID: testOwner})
			if len(files) != 0 {
				t.Errorf("files after rejected ingest = %d, want 0", len(files))
			}
		})
	}
}

func TestService_IngestDuplicateContent(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, "a.pdf", "same bytes")

	_, err := h.svc.Ingest(context.Background(), syncer.IngestRequest{
		OwnerID:  testOwner,
		Filename: "b.pdf",
		Body:     strings.NewReader("same bytes"),
	})
	if !errors.Is(err, syncer.ErrDuplicateContent) {
		t.Errorf("Ingest() error = %v, want ErrDuplicateContent", err)
	}
	if !errors.Is(err, syncer.ErrValidation) {
		t.Errorf("Ingest() error = %v, want it to be a validation error", err)
	}
}

func TestService_IngestKeepsModifiedTime(t *testing.T) {
	h := newHarness(t)
	modified := time.Date(2023, 6, 1, 8, 0, 0, 123456789, time.UTC)

	res, err := h.svc.Ingest(context.Background(), syncer.IngestRequest{
		OwnerID:    testOwner,
		Filename:   "a.pdf",
		Body:       strings.NewReader("x"),
		ModifiedAt: modified,
		Targets:    []syncer.BackendKind{},
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if want := modified.Truncate(time.Millisecond); !res.File.ModifiedAt.Equal(want) {
		t.Errorf("modified = %v, want %v", res.File.ModifiedAt, want)
	}
	if res.Job != nil {
		t.Errorf("Job = %+v, want nil with no targets", res.Job)
	}
	if res.File.OverallStatus != syncer.OverallCompleted {
		t.Errorf("overall status = %q, want %q", res.File.OverallStatus, syncer.OverallCompleted)
	}
}

func TestService_RequestSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.ingest(t, "a.pdf", "content")

	job, err := h.svc.RequestSync(ctx, in.File.ID, []syncer.BackendKind{syncer.BackendAzureBlob}, "")
	if err != nil {
		t.Fatalf("RequestSync() error = %v", err)
	}
	if job.Operation != syncer.OpSync {
		t.Errorf("operation = %q, want %q", job.Operation, syncer.OpSync)
	}

	if _, err := h.svc.RequestSync(ctx, "nope", nil, syncer.OpSync); !errors.Is(err, syncer.ErrNotFound) {
		t.Errorf("RequestSync() missing file error = %v, want ErrNotFound", err)
	}
	if _, err := h.svc.RequestSync(ctx, in.File.ID, []syncer.BackendKind{syncer.BackendS3}, syncer.OpSync); !errors.Is(err, syncer.ErrValidation) {
		t.Errorf("RequestSync() unconfigured target error = %v, want ErrValidation", err)
	}
}

func TestService_DeleteFile(t *testing.T) {
	tests := []struct {
		name         string
		removeRemote bool
		wantRemote   int
	}{
		{name: "keep remote copies", removeRemote: false, wantRemote: 1},
		{name: "remove remote copies", removeRemote: true, wantRemote: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			in := h.ingest(t, "a.pdf", "content")
			if _, err := h.svc.RunJob(ctx, in.Job.ID); err != nil {
				t.Fatalf("RunJob() error = %v", err)
			}
			localID := h.file(t, in.File.ID).Backend(syncer.BackendLocal).ExternalID

			if err := h.svc.DeleteFile(ctx, in.File.ID, tt.removeRemote); err != nil {
				t.Fatalf("DeleteFile() error = %v", err)
			}

			if _, err := h.svc.GetFile(ctx, in.File.ID); !errors.Is(err, syncer.ErrNotFound) {
				t.Errorf("GetFile() after delete error = %v, want ErrNotFound", err)
			}
			if _, err := h.svc.GetJob(ctx, in.Job.ID); !errors.Is(err, syncer.ErrNotFound) {
				t.Errorf("GetJob() after delete error = %v, want ErrNotFound", err)
			}
			state, err := h.local.FetchState(ctx, localID)
			if err != nil {
				t.Fatalf("FetchState() error = %v", err)
			}
			if state.Exists {
				t.Error("local copy still exists")
			}
			if got := h.driveMem.Len(); got != tt.wantRemote {
				t.Errorf("drive objects = %d, want %d", got, tt.wantRemote)
			}
		})
	}
}

func TestService_DeleteMissingFile(t *testing.T) {
	h := newHarness(t)
	if err := h.svc.DeleteFile(context.Background(), "nope", false); !errors.Is(err, syncer.ErrNotFound) {
		t.Errorf("DeleteFile() error = %v, want ErrNotFound", err)
	}
}

func TestService_ListFilesByStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	synced := h.ingest(t, "a.pdf", "one")
	h.ingest(t, "b.pdf", "two")
	if _, err := h.svc.RunJob(ctx, synced.Job.ID); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}

	tests := []struct {
		status syncer.OverallStatus
		want   int
	}{
		{status: "", want: 2},
		{status: syncer.OverallCompleted, want: 1},
		{status: syncer.OverallPending, want: 1},
		{status: syncer.OverallConflict, want: 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			files, err := h.svc.ListFiles(ctx, syncer.FileFilter{OwnerID: testOwner, Status: tt.status})
			if err != nil {
				t.Fatalf("ListFiles() error = %v", err)
			}
			if len(files) != tt.want {
				t.Errorf("ListFiles(%q) = %d files, want %d", tt.status, len(files), tt.want)
			}
		})
	}
}

func TestService_CheckBackends(t *testing.T) {
	h := newHarness(t)
	results := h.svc.CheckBackends(context.Background())
	if len(results) != 3 {
		t.Fatalf("CheckBackends() = %d results, want 3", len(results))
	}
	for kind, err := range results {
		if err != nil {
			t.Errorf("%s: ValidateSetup() error = %v", kind, err)
		}
	}
}

func TestNewService_RequiresLocal(t *testing.T) {
	h := newHarness(t)
	_, err := syncer.NewService(h.store, []syncer.Backend{h.drive}, h.locker, h.cfg, syncer.NewNopLogger(), h.clock, h.ids, nil)
	if err == nil {
		t.Error("NewService() without local backend should fail")
	}
}

func TestViews(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, c := detectDiverged(t, h)

	cv := syncer.NewConflictView(c)
	data, err := json.Marshal(cv)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if decoded["conflict_type"] != "hash_mismatch" || decoded["storage_a"] != "google_drive" {
		t.Errorf("conflict view = %s", data)
	}
	if decoded["resolution_policy"] != nil {
		t.Errorf("resolution_policy = %v, want null for open conflict", decoded["resolution_policy"])
	}

	in := h.ingest(t, "a.pdf", "content")
	jv := syncer.NewJobStatusView(in.Job)
	if jv.ProgressPercentage != 0 || jv.StartedAt != nil || jv.ErrorMessage != nil {
		t.Errorf("pending job view = %+v, want zero progress and null timestamps", jv)
	}

	done, err := h.svc.RunJob(ctx, in.Job.ID)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	jv = syncer.NewJobStatusView(done)
	if jv.ProgressPercentage != 100 || jv.CompletedAt == nil {
		t.Errorf("completed job view = %+v, want 100%% and completed_at", jv)
	}

	fv := syncer.NewFileView(h.file(t, in.File.ID))
	if len(fv.Backends) != 3 || fv.Backends["azure_blob"].Status != syncer.BackendCompleted {
		t.Errorf("file view backends = %+v", fv.Backends)
	}
}
