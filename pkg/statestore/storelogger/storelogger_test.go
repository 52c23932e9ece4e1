// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

package storelogger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stateops.io/stateops/internal/testcontext"
	"stateops.io/stateops/pkg/statestore"
	"stateops.io/stateops/pkg/statestore/teststate"
)

func TestPassthrough(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	raw := teststate.New()
	store := New(zaptest.NewLogger(t), raw)
	defer ctx.Check(store.Close)

	const key = "env/dev/state"
	blob := statestore.NewStateBlob([]byte(`{"version":4,"serial":1,"lineage":"aa"}`))

	version, err := store.PutCurrent(ctx, key, blob)
	require.NoError(t, err)

	got, current, err := store.GetCurrent(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, version.ID, current.ID)
	assert.Equal(t, blob.Data, got.Data)

	versions, err := store.ListVersions(ctx, key)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	created, err := store.PutBackup(ctx, "env/dev/backups", blob, "manual", "alice@host:1")
	require.NoError(t, err)

	_, info, err := store.GetBackup(ctx, "env/dev/backups", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, info.ID)

	backups, err := store.ListBackups(ctx, "env/dev/backups")
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	assert.Equal(t, 1, raw.CallCount.PutCurrent)
	assert.Equal(t, 1, raw.CallCount.GetCurrent)
}
