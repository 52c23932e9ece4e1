// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

// Package statestore defines the versioned blob store used to hold
// deployment state descriptors, one append-only version chain per
// environment plus a separate backup namespace.
package statestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/zeebo/errs"
)

var (
	// Error is the default statestore error class.
	Error = errs.Class("statestore error")

	// ErrNotFound is returned when an environment has no state or a
	// version identifier does not exist in history.
	ErrNotFound = errs.Class("not found")

	// ErrEmptyKey is returned when an empty environment key is used.
	ErrEmptyKey = errs.Class("empty key")

	// ErrTransient marks store failures that are safe to retry once.
	ErrTransient = errs.Class("transient store error")
)

// StateBlob is the serialized deployment descriptor for one environment.
// Blobs are read, copied and rewritten, never edited in place.
type StateBlob struct {
	Data []byte
	Hash string
	Size int64
}

// NewStateBlob wraps raw descriptor bytes, computing the content hash.
func NewStateBlob(data []byte) StateBlob {
	sum := sha256.Sum256(data)
	return StateBlob{
		Data: data,
		Hash: hex.EncodeToString(sum[:]),
		Size: int64(len(data)),
	}
}

// Version is an immutable snapshot of a StateBlob held by the store.
// Identifiers are assigned by the store and are opaque to callers.
type Version struct {
	ID        string
	CreatedAt time.Time
	Size      int64
	Hash      string
	Current   bool
}

// Backup is a version stored outside the live history under a
// human-readable reason, so it survives environment deletion.
type Backup struct {
	ID        string
	Reason    string
	Creator   string
	CreatedAt time.Time
	Size      int64
	Hash      string
}

// VersionedStore describes versioned blob stores like boltdb and the
// in-memory test store. The live history under a key is append-only:
// PutCurrent creates a new current version and never rewrites an old
// one. Implementations retry PutCurrent at most once on transient
// failure; all other operations are idempotent and left to the caller.
type VersionedStore interface {
	// GetCurrent returns the current blob and its version.
	GetCurrent(ctx context.Context, key string) (StateBlob, Version, error)
	// GetVersion returns the blob stored under a historical version id.
	GetVersion(ctx context.Context, key, versionID string) (StateBlob, error)
	// ListVersions returns the full history, newest first.
	ListVersions(ctx context.Context, key string) ([]Version, error)
	// PutCurrent appends blob as the new current version.
	PutCurrent(ctx context.Context, key string, blob StateBlob) (Version, error)

	// PutBackup stores blob in the backup namespace under key.
	PutBackup(ctx context.Context, key string, blob StateBlob, reason, creator string) (Backup, error)
	// GetBackup returns a backup blob and its metadata.
	GetBackup(ctx context.Context, key, backupID string) (StateBlob, Backup, error)
	// ListBackups returns all backups under key, newest first.
	ListBackups(ctx context.Context, key string) ([]Backup, error)

	// Close closes the store.
	Close() error
}
