// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

package statestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStateBlob(t *testing.T) {
	blob := NewStateBlob([]byte("hello"))
	assert.Equal(t, int64(5), blob.Size)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", blob.Hash)

	same := NewStateBlob([]byte("hello"))
	assert.Equal(t, blob.Hash, same.Hash)

	different := NewStateBlob([]byte("hello!"))
	assert.NotEqual(t, blob.Hash, different.Hash)

	empty := NewStateBlob(nil)
	assert.Equal(t, int64(0), empty.Size)
	assert.NotEmpty(t, empty.Hash)
}
