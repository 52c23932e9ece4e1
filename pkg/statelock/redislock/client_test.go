// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

package redislock

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stateops.io/stateops/internal/testcontext"
	"stateops.io/stateops/pkg/statelock"
)

const key = "env/dev/lock"

func newLocker(t *testing.T) (*Client, func()) {
	server, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(server.Addr(), "", 0)
	require.NoError(t, err)
	client.PollInterval = 2 * time.Millisecond

	return client, func() {
		assert.NoError(t, client.Close())
		server.Close()
	}
}

func TestExclusive(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	locker, done := newLocker(t)
	defer done()

	handle, err := locker.Acquire(ctx, key, "alice@host:1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "alice@host:1", handle.Holder)

	_, err = locker.Acquire(ctx, key, "bob@host:2", 10*time.Millisecond)
	assert.Error(t, err)
	assert.True(t, statelock.ErrLockHeld.Has(err))

	require.NoError(t, locker.Release(ctx, handle))

	reacquired, err := locker.Acquire(ctx, key, "bob@host:2", time.Second)
	require.NoError(t, err)
	require.NoError(t, locker.Release(ctx, reacquired))
}

func TestStatus(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	locker, done := newLocker(t)
	defer done()

	info, err := locker.Status(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, info)

	handle, err := locker.Acquire(ctx, key, "alice@host:1", time.Second)
	require.NoError(t, err)

	info, err = locker.Status(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, handle.ID, info.ID)
	assert.Equal(t, "alice@host:1", info.Holder)

	require.NoError(t, locker.Release(ctx, handle))
}

func TestReleaseIdempotent(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	locker, done := newLocker(t)
	defer done()

	handle, err := locker.Acquire(ctx, key, "alice@host:1", time.Second)
	require.NoError(t, err)

	require.NoError(t, locker.Release(ctx, handle))
	require.NoError(t, locker.Release(ctx, handle))
	require.NoError(t, locker.Release(ctx, nil))
}

func TestReleaseForeignHandle(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	locker, done := newLocker(t)
	defer done()

	stale, err := locker.Acquire(ctx, key, "alice@host:1", time.Second)
	require.NoError(t, err)
	require.NoError(t, locker.ForceUnlock(ctx, key))

	current, err := locker.Acquire(ctx, key, "bob@host:2", time.Second)
	require.NoError(t, err)

	require.NoError(t, locker.Release(ctx, stale))

	info, err := locker.Status(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, current.ID, info.ID)
}

func TestForceUnlockUnheld(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	locker, done := newLocker(t)
	defer done()

	require.NoError(t, locker.ForceUnlock(ctx, key))
}

func TestAcquireWaits(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	locker, done := newLocker(t)
	defer done()

	handle, err := locker.Acquire(ctx, key, "alice@host:1", time.Second)
	require.NoError(t, err)

	ctx.Go(func() error {
		time.Sleep(20 * time.Millisecond)
		return locker.Release(ctx, handle)
	})

	waited, err := locker.Acquire(ctx, key, "bob@host:2", 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, locker.Release(ctx, waited))
}
