package syncer

import "testing"

func states(statuses ...BackendStatus) []*BackendState {
	kinds := []BackendKind{BackendLocal, BackendGoogleDrive, BackendAzureBlob, BackendS3}
	out := make([]*BackendState, len(statuses))
	for i, s := range statuses {
		out[i] = &BackendState{Backend: kinds[i], Status: s}
	}
	return out
}

func TestDeriveOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		states   []*BackendState
		conflict bool
		want     OverallStatus
	}{
		{name: "no sub-states", want: OverallPending},
		{name: "all completed", states: states(BackendCompleted, BackendCompleted), want: OverallCompleted},
		{name: "conflict overrides completed", states: states(BackendCompleted, BackendCompleted), conflict: true, want: OverallConflict},
		{name: "conflict overrides failed", states: states(BackendFailed), conflict: true, want: OverallConflict},
		{name: "all failed", states: states(BackendFailed, BackendFailed), want: OverallFailed},
		{name: "completed and failed settle as failed", states: states(BackendCompleted, BackendFailed), want: OverallFailed},
		{name: "failed while another is in progress", states: states(BackendFailed, BackendInProgress), want: OverallInProgress},
		{name: "failed while another is pending", states: states(BackendCompleted, BackendFailed, BackendPending), want: OverallInProgress},
		{name: "in progress", states: states(BackendCompleted, BackendInProgress), want: OverallInProgress},
		{name: "untouched remotes", states: states(BackendCompleted, BackendPending, BackendPending), want: OverallPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveOverallStatus(tt.states, tt.conflict); got != tt.want {
				t.Errorf("DeriveOverallStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJobStatus_CanTransitionTo(t *testing.T) {
	all := []JobStatus{JobPending, JobInProgress, JobCompleted, JobFailed}
	allowed := map[JobStatus][]JobStatus{
		JobPending:    {JobInProgress, JobFailed},
		JobInProgress: {JobCompleted, JobFailed},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s allowed = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestBackendKind_Less(t *testing.T) {
	tests := []struct {
		a, b BackendKind
		want bool
	}{
		{a: BackendLocal, b: BackendGoogleDrive, want: true},
		{a: BackendGoogleDrive, b: BackendAzureBlob, want: true},
		{a: BackendAzureBlob, b: BackendGoogleDrive, want: false},
		{a: BackendAzureBlob, b: BackendS3, want: true},
	}
	for _, tt := range tests {
		if got := tt.a.Less(tt.b); got != tt.want {
			t.Errorf("%s.Less(%s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSyncProgress(t *testing.T) {
	tests := []struct {
		settled, total, want int
	}{
		{0, 2, ProgressStarted},
		{1, 2, 50},
		{2, 2, ProgressSynced},
		{0, 0, ProgressSynced},
	}
	for _, tt := range tests {
		if got := SyncProgress(tt.settled, tt.total); got != tt.want {
			t.Errorf("SyncProgress(%d, %d) = %d, want %d", tt.settled, tt.total, got, tt.want)
		}
	}
}

func TestConflictCopyName(t *testing.T) {
	tests := []struct {
		name, backend, want string
	}{
		{name: "report.pdf", backend: "azure_blob", want: "report (conflict azure_blob).pdf"},
		{name: "notes", backend: "s3", want: "notes (conflict s3)"},
		{name: "archive.tar.gz", backend: "google_drive", want: "archive.tar (conflict google_drive).gz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := conflictCopyName(tt.name, BackendKind(tt.backend)); got != tt.want {
				t.Errorf("conflictCopyName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestObjectPath(t *testing.T) {
	got := ObjectPath("owner-1", "abcdef", "../../etc/report.pdf")
	if want := "owner-1/ab/abcdef/report.pdf"; got != want {
		t.Errorf("ObjectPath() = %q, want %q", got, want)
	}
}
