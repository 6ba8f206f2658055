package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"cloudsync/internal/syncer"
)

// LocalBackend stores objects as files below a root directory. The object
// path is used as the external id, so the layout is:
//
//	<root>/
//	  <owner>/<hash[:2]>/<hash>/<filename>
//
// The logical modification time is kept as the file's mtime.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates a local backend rooted at the given path.
func NewLocalBackend(root string) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local store root: %w", err)
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) Kind() syncer.BackendKind { return syncer.BackendLocal }

// Root returns the directory objects are stored under.
func (b *LocalBackend) Root() string { return b.root }

// Upload writes the object atomically (temp file + rename) and hashes it on
// the way through.
func (b *LocalBackend) Upload(ctx context.Context, req syncer.UploadRequest) (*syncer.UploadResult, error) {
	destPath, err := b.resolve(req.Path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, classify(syncer.BackendLocal, "upload", err)
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, b.fsError("upload", fmt.Errorf("failed to create object directory: %w", err))
	}

	// Create temp file in the same directory to ensure atomic rename works
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, b.fsError("upload", fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmpFile, h), req.Body)
	if err != nil {
		tmpFile.Close()
		return nil, b.fsError("upload", fmt.Errorf("failed to write data: %w", err))
	}
	if err := tmpFile.Close(); err != nil {
		return nil, b.fsError("upload", fmt.Errorf("failed to close temp file: %w", err))
	}

	if req.Size >= 0 && written != req.Size {
		return nil, syncer.TransientError(syncer.BackendLocal, "upload",
			fmt.Errorf("size mismatch: expected %d bytes, got %d", req.Size, written))
	}

	modified := req.ModifiedAt
	if modified.IsZero() {
		modified = time.Now().UTC()
	}
	if err := os.Chtimes(tmpPath, modified, modified); err != nil {
		return nil, b.fsError("upload", fmt.Errorf("failed to set modification time: %w", err))
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return nil, b.fsError("upload", fmt.Errorf("failed to rename temp file: %w", err))
	}
	success = true

	return &syncer.UploadResult{
		ExternalID: req.Path,
		Hash:       hex.EncodeToString(h.Sum(nil)),
		ModifiedAt: modified.UTC(),
	}, nil
}

// FetchState hashes the stored file and reports its mtime.
func (b *LocalBackend) FetchState(ctx context.Context, externalID string) (*syncer.RemoteState, error) {
	p, err := b.resolve(externalID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &syncer.RemoteState{Exists: false}, nil
		}
		return nil, b.fsError("fetch state", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, b.fsError("fetch state", err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, b.fsError("fetch state", fmt.Errorf("failed to read file: %w", err))
	}

	return &syncer.RemoteState{
		Exists:     true,
		Hash:       hex.EncodeToString(h.Sum(nil)),
		ModifiedAt: info.ModTime().UTC(),
	}, nil
}

func (b *LocalBackend) Open(ctx context.Context, externalID string) (io.ReadCloser, error) {
	p, err := b.resolve(externalID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, syncer.PermanentError(syncer.BackendLocal, "open", fmt.Errorf("object not found: %s", externalID))
		}
		return nil, b.fsError("open", err)
	}
	return f, nil
}

func (b *LocalBackend) Delete(ctx context.Context, externalID string) (bool, error) {
	p, err := b.resolve(externalID)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, b.fsError("delete", err)
	}
	return true, nil
}

// ValidateSetup verifies that the root is a writable directory.
func (b *LocalBackend) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(b.root)
	if err != nil {
		return fmt.Errorf("local store root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local store root is not a directory: %s", b.root)
	}

	check, err := os.CreateTemp(b.root, ".writable-*")
	if err != nil {
		return fmt.Errorf("local store root not writable: %w", err)
	}
	check.Close()
	return os.Remove(check.Name())
}

// resolve maps an object path onto the filesystem, refusing paths that
// would escape the root.
func (b *LocalBackend) resolve(objectPath string) (string, error) {
	rel := filepath.FromSlash(objectPath)
	if objectPath == "" || !filepath.IsLocal(rel) {
		return "", syncer.PermanentError(syncer.BackendLocal, "resolve", fmt.Errorf("invalid object path %q", objectPath))
	}
	return filepath.Join(b.root, rel), nil
}

// fsError classifies filesystem failures: permission problems need an
// operator, anything else may clear up on retry.
func (b *LocalBackend) fsError(op string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return syncer.PermanentError(syncer.BackendLocal, op, err)
	}
	return syncer.TransientError(syncer.BackendLocal, op, err)
}

// Compile-time check that LocalBackend implements syncer.Backend interface
var _ syncer.Backend = (*LocalBackend)(nil)
