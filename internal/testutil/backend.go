package testutil

import (
	"context"
	"errors"
	"io"
	"sync"

	"cloudsync/internal/syncer"
)

// ScriptedBackend wraps a Backend and fails uploads according to a script.
// It also counts upload attempts and can hold uploads until released.
type ScriptedBackend struct {
	syncer.Backend

	mu        sync.Mutex
	failures  []error
	failAll   error
	attempts  int
	inFlight  int
	maxFlight int
	gate      chan struct{}
}

// NewScriptedBackend wraps inner. With no script, uploads pass through.
func NewScriptedBackend(inner syncer.Backend) *ScriptedBackend {
	return &ScriptedBackend{Backend: inner}
}

// FailNext queues errors returned by the next uploads, one per attempt.
func (b *ScriptedBackend) FailNext(errs ...error) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, errs...)
	return b
}

// FailAlways makes every upload return err once queued failures run out.
func (b *ScriptedBackend) FailAlways(err error) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAll = err
	return b
}

// Hold makes uploads block until Release is called.
func (b *ScriptedBackend) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = make(chan struct{})
}

// Release unblocks held uploads.
func (b *ScriptedBackend) Release() {
	b.mu.Lock()
	gate := b.gate
	b.gate = nil
	b.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// Attempts returns how many uploads were attempted.
func (b *ScriptedBackend) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// MaxConcurrent returns the largest number of uploads seen in flight at once.
func (b *ScriptedBackend) MaxConcurrent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxFlight
}

func (b *ScriptedBackend) Upload(ctx context.Context, req syncer.UploadRequest) (*syncer.UploadResult, error) {
	b.mu.Lock()
	b.attempts++
	b.inFlight++
	if b.inFlight > b.maxFlight {
		b.maxFlight = b.inFlight
	}
	gate := b.gate
	var err error
	switch {
	case len(b.failures) > 0:
		err = b.failures[0]
		b.failures = b.failures[1:]
	case b.failAll != nil:
		err = b.failAll
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		// Drain the body like a real client would before failing.
		_, _ = io.Copy(io.Discard, req.Body)
		return nil, err
	}
	return b.Backend.Upload(ctx, req)
}

// ErrScripted is a convenience cause for scripted failures.
var ErrScripted = errors.New("scripted failure")
