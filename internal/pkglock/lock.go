// Package pkglock provides the process-wide lock that serializes package
// downloads, installs, rollbacks and version eviction.
package pkglock

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Lock is a FIFO mutual-exclusion token. Waiters are served in the order
// they called Acquire.
type Lock struct {
	sem     *semaphore.Weighted
	waiting atomic.Int64
	held    atomic.Bool
}

// New creates an unlocked Lock.
func New() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the lock is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	l.waiting.Add(1)
	defer l.waiting.Add(-1)

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.held.Store(true)
	return nil
}

// TryAcquire takes the lock only if it is free and nobody is queued.
func (l *Lock) TryAcquire() bool {
	if l.sem.TryAcquire(1) {
		l.held.Store(true)
		return true
	}
	return false
}

// Release hands the lock to the next waiter.
func (l *Lock) Release() {
	l.held.Store(false)
	l.sem.Release(1)
}

// Do runs fn while holding the lock.
func (l *Lock) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Held reports whether the lock is currently taken.
func (l *Lock) Held() bool { return l.held.Load() }

// Waiting reports how many callers are blocked in Acquire.
func (l *Lock) Waiting() int { return int(l.waiting.Load()) }
