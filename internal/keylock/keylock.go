// Package keylock serializes work per key with a bounded wait.
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when the key stays held past the wait budget.
var ErrTimeout = errors.New("keylock: wait timed out")

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Locker hands out one exclusive holder per key. Entries are dropped once no
// goroutine holds or waits on them, so memory follows the set of active keys.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

// New builds a Locker. A non-positive timeout means callers wait until their
// context is done.
func New(timeout time.Duration) *Locker {
	return &Locker{entries: make(map[string]*entry), timeout: timeout}
}

// Acquire blocks until key is free, the timeout elapses or ctx is done.
// The returned release func must be called exactly once.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	e := l.ref(key)

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(key, e)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.unref(key, e)
		})
	}, nil
}

// Active returns the number of keys currently held or awaited.
func (l *Locker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
