// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

// Package statefmt checks raw bytes against the deployment descriptor
// grammar. A blob that fails here must never become current.
package statefmt

import (
	"bytes"
	"encoding/json"

	"github.com/zeebo/errs"
)

// ErrCorrupt is returned for bytes that do not parse as a descriptor.
var ErrCorrupt = errs.Class("corrupt state descriptor")

// descriptor is the subset of the state document the grammar requires.
type descriptor struct {
	Version *int    `json:"version"`
	Serial  *int64  `json:"serial"`
	Lineage *string `json:"lineage"`
}

// Validate reports whether data parses under the descriptor grammar:
// a JSON object with an integer version >= 1, an integer serial >= 0
// and a non-empty lineage.
func Validate(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrCorrupt.New("empty descriptor")
	}

	var doc descriptor
	decoder := json.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&doc); err != nil {
		return ErrCorrupt.New("invalid syntax: %v", err)
	}

	switch {
	case doc.Version == nil:
		return ErrCorrupt.New("missing version")
	case *doc.Version < 1:
		return ErrCorrupt.New("version %d out of range", *doc.Version)
	case doc.Serial == nil:
		return ErrCorrupt.New("missing serial")
	case *doc.Serial < 0:
		return ErrCorrupt.New("serial %d out of range", *doc.Serial)
	case doc.Lineage == nil || *doc.Lineage == "":
		return ErrCorrupt.New("missing lineage")
	}
	return nil
}
