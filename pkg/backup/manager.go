// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

// Package backup snapshots the current state of an environment into a
// separate namespace before risky operations and on operator demand.
// Backups carry a reason, the creator identity and a timestamp, and are
// never deleted by this subsystem.
package backup

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"stateops.io/stateops/pkg/statefmt"
	"stateops.io/stateops/pkg/statestore"
	"stateops.io/stateops/pkg/workspace"
)

var (
	mon = monkit.Package()

	// Error is the default backup error class.
	Error = errs.Class("backup error")

	// ErrEnvironmentEmpty is returned when there is no current version
	// to back up. Reported, not skipped: a caller relying on a
	// pre-mutation safety net must know it did not get one.
	ErrEnvironmentEmpty = errs.Class("environment empty")

	// ErrVerify is returned when the newest backup fails verification.
	ErrVerify = errs.Class("backup verification")
)

// Manager creates and lists backups for workspaces.
type Manager struct {
	log     *zap.Logger
	store   statestore.VersionedStore
	creator string
}

// NewManager creates a backup manager writing under creator's identity.
func NewManager(log *zap.Logger, store statestore.VersionedStore, creator string) *Manager {
	return &Manager{
		log:     log,
		store:   store,
		creator: creator,
	}
}

// CreateBackup snapshots the current state blob of ws under reason.
func (manager *Manager) CreateBackup(ctx context.Context, ws workspace.Workspace, reason string) (_ statestore.Backup, err error) {
	defer mon.Task()(&ctx)(&err)

	blob, version, err := manager.store.GetCurrent(ctx, ws.BlobKey)
	if err != nil {
		if statestore.ErrNotFound.Has(err) {
			return statestore.Backup{}, ErrEnvironmentEmpty.New("%q has no current version", ws.Name)
		}
		return statestore.Backup{}, Error.Wrap(err)
	}

	backup, err := manager.store.PutBackup(ctx, ws.BackupKey, blob, reason, manager.creator)
	if err != nil {
		return statestore.Backup{}, Error.Wrap(err)
	}

	manager.log.Info("backup created",
		zap.String("environment", ws.Name),
		zap.String("backup", backup.ID),
		zap.String("reason", reason),
		zap.String("of-version", version.ID))
	return backup, nil
}

// ListBackups returns all backups of ws, newest first.
func (manager *Manager) ListBackups(ctx context.Context, ws workspace.Workspace) (_ []statestore.Backup, err error) {
	defer mon.Task()(&ctx)(&err)
	backups, err := manager.store.ListBackups(ctx, ws.BackupKey)
	return backups, Error.Wrap(err)
}

// VerifyBackup checks that the newest backup of ws exists, parses under
// the descriptor grammar, and is no older than maxAge. A zero maxAge
// skips the staleness check.
func (manager *Manager) VerifyBackup(ctx context.Context, ws workspace.Workspace, maxAge time.Duration) (_ statestore.Backup, err error) {
	defer mon.Task()(&ctx)(&err)

	backups, err := manager.store.ListBackups(ctx, ws.BackupKey)
	if err != nil {
		return statestore.Backup{}, Error.Wrap(err)
	}
	if len(backups) == 0 {
		return statestore.Backup{}, ErrVerify.New("%q has no backups", ws.Name)
	}

	newest := backups[0]
	blob, _, err := manager.store.GetBackup(ctx, ws.BackupKey, newest.ID)
	if err != nil {
		return statestore.Backup{}, Error.Wrap(err)
	}
	if err := statefmt.Validate(blob.Data); err != nil {
		return statestore.Backup{}, ErrVerify.New("backup %s of %q: %v", newest.ID, ws.Name, err)
	}

	if maxAge > 0 {
		if age := time.Since(newest.CreatedAt); age > maxAge {
			return statestore.Backup{}, ErrVerify.New("backup %s of %q is stale: %s old, max %s", newest.ID, ws.Name, age, maxAge)
		}
	}
	return newest, nil
}
