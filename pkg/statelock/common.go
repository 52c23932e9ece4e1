// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

// Package statelock defines the exclusive per-environment lock that
// serializes mutating state operations.
package statelock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/zeebo/errs"
)

var (
	// Error is the default statelock error class.
	Error = errs.Class("statelock error")

	// ErrLockHeld is returned when another holder has the lock and the
	// acquire timeout elapses.
	ErrLockHeld = errs.Class("lock held")
)

// NewID returns a random acquisition identifier for a lock record.
func NewID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}

// Handle identifies one successful acquisition. Only the locker that
// issued a handle can release with it; anything else is a no-op.
type Handle struct {
	Key        string
	ID         string
	Holder     string
	AcquiredAt time.Time
}

// Info describes the current holder of a lock.
type Info struct {
	ID         string
	Holder     string
	AcquiredAt time.Time
}

// Locker describes keyed mutual exclusion services like redis and the
// in-process lock. At most one holder per key at any instant.
type Locker interface {
	// Acquire blocks until the lock for key is acquired or timeout
	// elapses, in which case it fails with ErrLockHeld. This is the one
	// operation in the subsystem that may suspend the caller.
	Acquire(ctx context.Context, key, holder string, timeout time.Duration) (*Handle, error)

	// Release releases a held lock. Releasing an already-released or
	// foreign handle is a no-op, never an error, so cleanup paths do
	// not mask the failure that triggered them.
	Release(ctx context.Context, handle *Handle) error

	// ForceUnlock unconditionally clears the lock for key regardless of
	// holder. Destructive: callers must confirm no other process is
	// active before invoking it. Clearing an unheld lock succeeds.
	ForceUnlock(ctx context.Context, key string) error

	// Status returns the current holder, or nil when the lock is free.
	Status(ctx context.Context, key string) (*Info, error)

	// Close closes the locker.
	Close() error
}
