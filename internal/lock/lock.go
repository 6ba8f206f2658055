// Package lock provides the advisory locks that serialize sync branches and
// conflict resolutions.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"cloudsync/internal/syncer"
)

// DefaultRetryDelay is how often a contended lock file is polled.
const DefaultRetryDelay = 50 * time.Millisecond

// KeyedLocker grants one holder per key at a time. Waiters give up when their
// context is done. With a lock directory, every key is also held as a file
// lock so that separate cloudsync processes sharing a database exclude each
// other.
type KeyedLocker struct {
	mu         sync.Mutex
	keys       map[string]*entry
	dir        string
	retryDelay time.Duration
}

type entry struct {
	sem  chan struct{}
	refs int
}

// New creates an in-process KeyedLocker.
func New() *KeyedLocker {
	return &KeyedLocker{keys: make(map[string]*entry), retryDelay: DefaultRetryDelay}
}

// NewWithDir creates a KeyedLocker that also takes file locks in dir.
func NewWithDir(dir string) (*KeyedLocker, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	l := New()
	l.dir = dir
	return l, nil
}

// Lock blocks until key is held or ctx is done.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	e := l.ref(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
	}

	var fl *flock.Flock
	if l.dir != "" {
		fl = flock.New(filepath.Join(l.dir, fileName(key)))
		locked, err := fl.TryLockContext(ctx, l.retryDelay)
		if err != nil || !locked {
			<-e.sem
			l.unref(key, e)
			if err == nil {
				err = ctx.Err()
			}
			return nil, fmt.Errorf("acquiring lock file for %s: %w", key, err)
		}
	}

	return l.releaser(key, e, fl), nil
}

// TryLock takes key only if nobody holds it right now: no holder in this
// process and, with a lock directory, none in another process.
func (l *KeyedLocker) TryLock(key string) (func(), bool, error) {
	e := l.ref(key)

	select {
	case e.sem <- struct{}{}:
	default:
		l.unref(key, e)
		return nil, false, nil
	}

	var fl *flock.Flock
	if l.dir != "" {
		fl = flock.New(filepath.Join(l.dir, fileName(key)))
		locked, err := fl.TryLock()
		if err != nil || !locked {
			<-e.sem
			l.unref(key, e)
			if err != nil {
				return nil, false, fmt.Errorf("acquiring lock file for %s: %w", key, err)
			}
			return nil, false, nil
		}
	}

	return l.releaser(key, e, fl), true, nil
}

func (l *KeyedLocker) releaser(key string, e *entry, fl *flock.Flock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if fl != nil {
				_ = fl.Unlock()
			}
			<-e.sem
			l.unref(key, e)
		})
	}
}

func (l *KeyedLocker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *KeyedLocker) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// fileName maps a key onto a safe lock file name.
func fileName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, key) + ".lock"
}

var _ syncer.Locker = (*KeyedLocker)(nil)
