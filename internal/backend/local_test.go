package backend

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloudsync/internal/syncer"
	"cloudsync/internal/testutil"
)

var testModified = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func TestNewLocalBackend(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")

	b, err := NewLocalBackend(root)
	if err != nil {
		t.Fatalf("NewLocalBackend() error = %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory not created: %v", err)
	}
	if b.Kind() != syncer.BackendLocal {
		t.Errorf("Kind() = %q, want %q", b.Kind(), syncer.BackendLocal)
	}
	if err := b.ValidateSetup(context.Background()); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
}

func TestLocalBackend_Upload(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		data      string
		size      int64
		wantErr   bool
		transient bool
	}{
		{
			name: "store content successfully",
			path: "owner-1/ab/abc/report.pdf",
			data: "hello world",
			size: 11,
		},
		{
			name:      "size mismatch",
			path:      "owner-1/ab/abc/report.pdf",
			data:      "hello",
			size:      11,
			wantErr:   true,
			transient: true,
		},
		{
			name:    "path escaping root",
			path:    "../outside.txt",
			data:    "x",
			size:    1,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b, err := NewLocalBackend(t.TempDir())
			if err != nil {
				t.Fatalf("NewLocalBackend() error = %v", err)
			}

			out, err := b.Upload(ctx, syncer.UploadRequest{
				Path:       tt.path,
				Body:       strings.NewReader(tt.data),
				Size:       tt.size,
				ModifiedAt: testModified,
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Upload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if got := errors.Is(err, syncer.ErrTransientBackend); got != tt.transient {
					t.Errorf("transient = %v, want %v (err = %v)", got, tt.transient, err)
				}
				return
			}

			if out.ExternalID != tt.path {
				t.Errorf("ExternalID = %q, want %q", out.ExternalID, tt.path)
			}
			if want := testutil.SHA256Hex([]byte(tt.data)); out.Hash != want {
				t.Errorf("Hash = %q, want %q", out.Hash, want)
			}
			if !out.ModifiedAt.Equal(testModified) {
				t.Errorf("ModifiedAt = %v, want %v", out.ModifiedAt, testModified)
			}

			state, err := b.FetchState(ctx, out.ExternalID)
			if err != nil {
				t.Fatalf("FetchState() error = %v", err)
			}
			if !state.Exists || state.Hash != out.Hash {
				t.Errorf("FetchState() = %+v, want existing object with hash %s", state, out.Hash)
			}
			if !state.ModifiedAt.Equal(testModified) {
				t.Errorf("FetchState() ModifiedAt = %v, want %v", state.ModifiedAt, testModified)
			}

			// No temp files left behind.
			entries, _ := os.ReadDir(filepath.Join(b.Root(), filepath.Dir(tt.path)))
			if len(entries) != 1 {
				t.Errorf("directory has %d entries, want 1", len(entries))
			}
		})
	}
}

func TestLocalBackend_OpenDelete(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend() error = %v", err)
	}

	out, err := b.Upload(ctx, syncer.UploadRequest{
		Path: "o/ab/abc/a.txt", Body: strings.NewReader("data"), Size: 4,
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	rc, err := b.Open(ctx, out.ExternalID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "data" {
		t.Errorf("Open() content = %q, want %q", data, "data")
	}

	deleted, err := b.Delete(ctx, out.ExternalID)
	if err != nil || !deleted {
		t.Fatalf("Delete() = %v, %v, want true, nil", deleted, err)
	}
	deleted, err = b.Delete(ctx, out.ExternalID)
	if err != nil || deleted {
		t.Fatalf("second Delete() = %v, %v, want false, nil", deleted, err)
	}

	state, err := b.FetchState(ctx, out.ExternalID)
	if err != nil {
		t.Fatalf("FetchState() error = %v", err)
	}
	if state.Exists {
		t.Error("FetchState().Exists = true after delete, want false")
	}

	_, err = b.Open(ctx, out.ExternalID)
	if !errors.Is(err, syncer.ErrPermanentBackend) {
		t.Errorf("Open() of missing object error = %v, want permanent", err)
	}
}

func TestLocalBackend_ValidateSetup(t *testing.T) {
	t.Run("root removed", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "store")
		b, err := NewLocalBackend(root)
		if err != nil {
			t.Fatalf("NewLocalBackend() error = %v", err)
		}
		os.RemoveAll(root)

		if err := b.ValidateSetup(context.Background()); err == nil {
			t.Error("ValidateSetup() expected error for missing root")
		}
	})
}
