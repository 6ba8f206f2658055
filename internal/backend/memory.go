package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"cloudsync/internal/syncer"
)

type memoryObject struct {
	data       []byte
	hash       string
	modifiedAt time.Time
}

// MemoryBackend is an in-memory implementation of the Backend interface.
// It can stand in for any backend kind, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryBackend struct {
	kind    syncer.BackendKind
	objects map[string]*memoryObject // path -> object
	mu      sync.RWMutex
}

// NewMemoryBackend creates a new in-memory backend reporting the given kind.
func NewMemoryBackend(kind syncer.BackendKind) *MemoryBackend {
	return &MemoryBackend{
		kind:    kind,
		objects: make(map[string]*memoryObject),
	}
}

func (m *MemoryBackend) Kind() syncer.BackendKind { return m.kind }

// Upload stores the object, replacing any previous object at the same path.
func (m *MemoryBackend) Upload(ctx context.Context, req syncer.UploadRequest) (*syncer.UploadResult, error) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, syncer.TransientError(m.kind, "upload", fmt.Errorf("failed to read content: %w", err))
	}

	if req.Size >= 0 && int64(len(data)) != req.Size {
		return nil, syncer.TransientError(m.kind, "upload",
			fmt.Errorf("size mismatch: expected %d bytes, got %d", req.Size, len(data)))
	}

	modified := req.ModifiedAt
	if modified.IsZero() {
		modified = time.Now().UTC()
	}
	obj := m.put(req.Path, data, modified)

	return &syncer.UploadResult{
		ExternalID: req.Path,
		Hash:       obj.hash,
		ModifiedAt: obj.modifiedAt,
	}, nil
}

// Put stores data at path as if it had been written out of band.
func (m *MemoryBackend) Put(path string, data []byte, modifiedAt time.Time) {
	m.put(path, data, modifiedAt)
}

func (m *MemoryBackend) put(path string, data []byte, modifiedAt time.Time) *memoryObject {
	sum := sha256.Sum256(data)
	obj := &memoryObject{
		data:       data,
		hash:       hex.EncodeToString(sum[:]),
		modifiedAt: modifiedAt.UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = obj
	return obj
}

// Len returns the number of stored objects.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *MemoryBackend) FetchState(ctx context.Context, externalID string) (*syncer.RemoteState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[externalID]
	if !ok {
		return &syncer.RemoteState{Exists: false}, nil
	}
	return &syncer.RemoteState{Exists: true, Hash: obj.hash, ModifiedAt: obj.modifiedAt}, nil
}

func (m *MemoryBackend) Open(ctx context.Context, externalID string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[externalID]
	if !ok {
		return nil, syncer.PermanentError(m.kind, "open", fmt.Errorf("object not found: %s", externalID))
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryBackend) Delete(ctx context.Context, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[externalID]; !ok {
		return false, nil
	}
	delete(m.objects, externalID)
	return true, nil
}

// ValidateSetup always succeeds for the in-memory backend.
func (m *MemoryBackend) ValidateSetup(ctx context.Context) error {
	return nil
}

// Compile-time check that MemoryBackend implements syncer.Backend interface
var _ syncer.Backend = (*MemoryBackend)(nil)
