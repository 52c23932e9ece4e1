// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

// Package memlock implements the environment lock in process memory.
// It gives the same exclusive, force-clearable, holder-identified
// contract as redislock when the state store is embedded and a single
// host performs all mutations. Tests use it as well.
package memlock

import (
	"context"
	"sync"
	"time"

	"stateops.io/stateops/pkg/statelock"
)

const pollInterval = 5 * time.Millisecond

// Locker implements an in-process statelock.Locker.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*statelock.Info
}

// New creates a new in-process locker.
func New() *Locker {
	return &Locker{locks: map[string]*statelock.Info{}}
}

// Acquire blocks until the lock for key is acquired or timeout elapses.
func (locker *Locker) Acquire(ctx context.Context, key, holder string, timeout time.Duration) (*statelock.Handle, error) {
	deadline := time.Now().Add(timeout)
	for {
		handle, ok := locker.tryAcquire(key, holder)
		if ok {
			return handle, nil
		}

		if !time.Now().Add(pollInterval).Before(deadline) {
			locker.mu.Lock()
			info := locker.locks[key]
			locker.mu.Unlock()
			if info != nil {
				return nil, statelock.ErrLockHeld.New("key %q held by %q since %s", key, info.Holder, info.AcquiredAt.Format(time.RFC3339))
			}
			return nil, statelock.ErrLockHeld.New("key %q held", key)
		}

		select {
		case <-ctx.Done():
			return nil, statelock.Error.Wrap(ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (locker *Locker) tryAcquire(key, holder string) (*statelock.Handle, bool) {
	locker.mu.Lock()
	defer locker.mu.Unlock()

	if _, held := locker.locks[key]; held {
		return nil, false
	}

	info := &statelock.Info{
		ID:         statelock.NewID(),
		Holder:     holder,
		AcquiredAt: time.Now().UTC(),
	}
	locker.locks[key] = info
	return &statelock.Handle{
		Key:        key,
		ID:         info.ID,
		Holder:     info.Holder,
		AcquiredAt: info.AcquiredAt,
	}, true
}

// Release releases a held lock. Foreign or already-released handles are
// a no-op.
func (locker *Locker) Release(ctx context.Context, handle *statelock.Handle) error {
	if handle == nil {
		return nil
	}

	locker.mu.Lock()
	defer locker.mu.Unlock()

	info, held := locker.locks[handle.Key]
	if !held || info.ID != handle.ID {
		return nil
	}
	delete(locker.locks, handle.Key)
	return nil
}

// ForceUnlock unconditionally clears the lock for key.
func (locker *Locker) ForceUnlock(ctx context.Context, key string) error {
	locker.mu.Lock()
	defer locker.mu.Unlock()
	delete(locker.locks, key)
	return nil
}

// Status returns the current holder, or nil when the lock is free.
func (locker *Locker) Status(ctx context.Context, key string) (*statelock.Info, error) {
	locker.mu.Lock()
	defer locker.mu.Unlock()

	info, held := locker.locks[key]
	if !held {
		return nil, nil
	}
	copied := *info
	return &copied, nil
}

// Close closes the locker.
func (locker *Locker) Close() error { return nil }
