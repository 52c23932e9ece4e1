// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

package backup_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stateops.io/stateops/internal/testcontext"
	"stateops.io/stateops/pkg/backup"
	"stateops.io/stateops/pkg/statestore"
	"stateops.io/stateops/pkg/statestore/teststate"
	"stateops.io/stateops/pkg/workspace"
)

func newManager(t *testing.T) (*backup.Manager, *teststate.Client, workspace.Workspace) {
	store := teststate.New()
	manager := backup.NewManager(zaptest.NewLogger(t), store, "alice@host:1")

	ws, err := workspace.NewDefaultRegistry().Resolve("dev")
	require.NoError(t, err)
	return manager, store, ws
}

func seed(t *testing.T, ctx *testcontext.Context, store *teststate.Client, ws workspace.Workspace, data string) {
	_, err := store.PutCurrent(ctx, ws.BlobKey, statestore.NewStateBlob([]byte(data)))
	require.NoError(t, err)
}

func TestCreateBackupEmptyEnvironment(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	manager, _, ws := newManager(t)

	// nothing to back up is reported, not silently skipped
	_, err := manager.CreateBackup(ctx, ws, "pre-rollback")
	assert.Error(t, err)
	assert.True(t, backup.ErrEnvironmentEmpty.Has(err))
}

func TestCreateAndListBackups(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	manager, store, ws := newManager(t)
	seed(t, ctx, store, ws, `{"version":4,"serial":1,"lineage":"aa"}`)

	first, err := manager.CreateBackup(ctx, ws, "pre-rollback")
	require.NoError(t, err)
	assert.Equal(t, "pre-rollback", first.Reason)
	assert.Equal(t, "alice@host:1", first.Creator)

	seed(t, ctx, store, ws, `{"version":4,"serial":2,"lineage":"aa"}`)
	second, err := manager.CreateBackup(ctx, ws, "manual")
	require.NoError(t, err)

	backups, err := manager.ListBackups(ctx, ws)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, second.ID, backups[0].ID)
	assert.Equal(t, first.ID, backups[1].ID)

	// the backup captured the content that was current at creation
	blob, info, err := store.GetBackup(ctx, ws.BackupKey, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"version":4,"serial":1,"lineage":"aa"}`), blob.Data)
	assert.Equal(t, first.Hash, info.Hash)
}

func TestCreateBackupStoreFailure(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	manager, store, ws := newManager(t)
	seed(t, ctx, store, ws, `{"version":4,"serial":1,"lineage":"aa"}`)

	store.PutBackupError = statestore.Error.New("disk full")
	_, err := manager.CreateBackup(ctx, ws, "pre-rollback")
	assert.Error(t, err)
	assert.False(t, backup.ErrEnvironmentEmpty.Has(err))
}

func TestVerifyBackup(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	manager, store, ws := newManager(t)

	_, err := manager.VerifyBackup(ctx, ws, 0)
	assert.True(t, backup.ErrVerify.Has(err))

	seed(t, ctx, store, ws, `{"version":4,"serial":1,"lineage":"aa"}`)
	created, err := manager.CreateBackup(ctx, ws, "manual")
	require.NoError(t, err)

	verified, err := manager.VerifyBackup(ctx, ws, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, created.ID, verified.ID)

	// zero max age disables the staleness check
	_, err = manager.VerifyBackup(ctx, ws, 0)
	require.NoError(t, err)

	// an impossible freshness bound reports staleness
	time.Sleep(time.Millisecond)
	_, err = manager.VerifyBackup(ctx, ws, time.Nanosecond)
	assert.True(t, backup.ErrVerify.Has(err))
}

func TestVerifyBackupCorrupt(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	manager, store, ws := newManager(t)
	seed(t, ctx, store, ws, "not a descriptor")

	_, err := manager.CreateBackup(ctx, ws, "manual")
	require.NoError(t, err)

	_, err = manager.VerifyBackup(ctx, ws, 0)
	assert.Error(t, err)
	assert.True(t, backup.ErrVerify.Has(err))
}
