// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

// Package storelogger wraps a VersionedStore with debug logging.
package storelogger

import (
	"context"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"stateops.io/stateops/pkg/statestore"
)

var mon = monkit.Package()

var id int64

// Logger implements a zap logging wrapper for statestore.VersionedStore.
type Logger struct {
	log   *zap.Logger
	store statestore.VersionedStore
}

// New creates a new Logger with log and store.
func New(log *zap.Logger, store statestore.VersionedStore) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	name := strconv.Itoa(int(loggerid))
	return &Logger{log.Named(name), store}
}

// GetCurrent returns the current blob and its version.
func (store *Logger) GetCurrent(ctx context.Context, key string) (_ statestore.StateBlob, _ statestore.Version, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("GetCurrent", zap.String("key", key))
	return store.store.GetCurrent(ctx, key)
}

// GetVersion returns the blob stored under a historical version id.
func (store *Logger) GetVersion(ctx context.Context, key, versionID string) (_ statestore.StateBlob, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("GetVersion", zap.String("key", key), zap.String("version", versionID))
	return store.store.GetVersion(ctx, key, versionID)
}

// ListVersions returns the full history for key, newest first.
func (store *Logger) ListVersions(ctx context.Context, key string) (_ []statestore.Version, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("ListVersions", zap.String("key", key))
	return store.store.ListVersions(ctx, key)
}

// PutCurrent appends blob as the new current version.
func (store *Logger) PutCurrent(ctx context.Context, key string, blob statestore.StateBlob) (_ statestore.Version, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("PutCurrent", zap.String("key", key), zap.Int64("size", blob.Size), zap.String("hash", blob.Hash))
	return store.store.PutCurrent(ctx, key, blob)
}

// PutBackup stores blob in the backup namespace under key.
func (store *Logger) PutBackup(ctx context.Context, key string, blob statestore.StateBlob, reason, creator string) (_ statestore.Backup, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("PutBackup", zap.String("key", key), zap.String("reason", reason), zap.Int64("size", blob.Size))
	return store.store.PutBackup(ctx, key, blob, reason, creator)
}

// GetBackup returns a backup blob and its metadata.
func (store *Logger) GetBackup(ctx context.Context, key, backupID string) (_ statestore.StateBlob, _ statestore.Backup, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("GetBackup", zap.String("key", key), zap.String("backup", backupID))
	return store.store.GetBackup(ctx, key, backupID)
}

// ListBackups returns all backups under key, newest first.
func (store *Logger) ListBackups(ctx context.Context, key string) (_ []statestore.Backup, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("ListBackups", zap.String("key", key))
	return store.store.ListBackups(ctx, key)
}

// Close closes the store.
func (store *Logger) Close() error {
	store.log.Debug("Close")
	return store.store.Close()
}
