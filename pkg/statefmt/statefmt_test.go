// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

package statefmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	valid := [][]byte{
		[]byte(`{"version": 4, "serial": 0, "lineage": "3f8a-11"}`),
		[]byte(`{"version": 1, "serial": 912, "lineage": "x", "resources": []}`),
		[]byte("\n\t {\"version\": 3, \"serial\": 7, \"lineage\": \"abc\"} \n"),
	}
	for _, data := range valid {
		assert.NoError(t, Validate(data), string(data))
	}
}

func TestValidateCorrupt(t *testing.T) {
	corrupt := [][]byte{
		nil,
		[]byte(""),
		[]byte("   \n"),
		[]byte("not json"),
		[]byte(`{"version": 4, "serial": 1`),
		[]byte(`{"serial": 1, "lineage": "x"}`),
		[]byte(`{"version": 0, "serial": 1, "lineage": "x"}`),
		[]byte(`{"version": 4, "lineage": "x"}`),
		[]byte(`{"version": 4, "serial": -1, "lineage": "x"}`),
		[]byte(`{"version": 4, "serial": 1}`),
		[]byte(`{"version": 4, "serial": 1, "lineage": ""}`),
	}
	for _, data := range corrupt {
		err := Validate(data)
		assert.Error(t, err, string(data))
		assert.True(t, ErrCorrupt.Has(err), string(data))
	}
}
