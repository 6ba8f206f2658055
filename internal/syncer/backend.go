package syncer

import (
	"context"
	"io"
	"path"
	"time"
)

// Backend is the storage adapter capability every storage destination
// implements. Object paths are derived from content identity, so repeated
// uploads of the same content are safe to retry.
//
// Adapters classify failures with TransientError or PermanentError.
// Unclassified errors are treated as transient.
type Backend interface {
	// Kind identifies the backend.
	Kind() BackendKind

	// Upload stores the content read from req.Body at req.Path.
	// It reports the backend's identifier for the stored object together
	// with the hash and modification time the backend recorded.
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)

	// FetchState reports what the backend currently holds for externalID.
	// A missing object is reported with Exists=false, not an error.
	FetchState(ctx context.Context, externalID string) (*RemoteState, error)

	// Open streams the stored object. The caller must close the reader.
	Open(ctx context.Context, externalID string) (io.ReadCloser, error)

	// Delete removes the stored object. It returns false if nothing was there.
	Delete(ctx context.Context, externalID string) (bool, error)

	// ValidateSetup verifies that the backend is reachable and configured.
	ValidateSetup(ctx context.Context) error
}

// UploadRequest describes one object to store.
type UploadRequest struct {
	Path        string
	Body        io.Reader
	Size        int64
	ContentHash string
	ContentType string
	ModifiedAt  time.Time
}

// UploadResult is what a backend reports after a successful upload.
type UploadResult struct {
	ExternalID string
	Hash       string
	ModifiedAt time.Time
}

// RemoteState is the current state of an object on a backend.
type RemoteState struct {
	Exists     bool
	Hash       string
	ModifiedAt time.Time
}

// ObjectPath returns the content-addressed path for a file's content:
// <owner>/<hash[:2]>/<hash>/<filename>.
func ObjectPath(ownerID, contentHash, filename string) string {
	prefix := contentHash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return path.Join(ownerID, prefix, contentHash, path.Base(filename))
}
