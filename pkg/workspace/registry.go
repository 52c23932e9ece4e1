// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

// Package workspace maps logical environment names to their isolated
// store and lock keys, so an operation issued for one environment can
// never touch another's state.
package workspace

import (
	"sort"

	"github.com/zeebo/errs"
)

// ErrUnknownEnvironment is returned for names outside the registry.
var ErrUnknownEnvironment = errs.Class("unknown environment")

// DefaultEnvironments is the closed set of recognized environments.
var DefaultEnvironments = []string{"dev", "staging", "prod"}

// Workspace holds the per-environment keys. One environment resolves to
// exactly one version chain, one backup namespace and one lock.
type Workspace struct {
	Name      string
	BlobKey   string
	BackupKey string
	LockKey   string
}

// Registry is a fixed lookup from environment name to Workspace. It is
// immutable after construction and safe for concurrent use.
type Registry struct {
	workspaces map[string]Workspace
}

// NewRegistry creates a registry over the given environment names.
// Unknown names are rejected at resolve time rather than constructed,
// so a typo or a malicious environment string cannot mint a key.
func NewRegistry(names ...string) *Registry {
	workspaces := make(map[string]Workspace, len(names))
	for _, name := range names {
		workspaces[name] = Workspace{
			Name:      name,
			BlobKey:   "env/" + name + "/state",
			BackupKey: "env/" + name + "/backups",
			LockKey:   "env/" + name + "/lock",
		}
	}
	return &Registry{workspaces: workspaces}
}

// NewDefaultRegistry creates a registry over DefaultEnvironments.
func NewDefaultRegistry() *Registry {
	return NewRegistry(DefaultEnvironments...)
}

// Resolve looks up an environment by name.
func (registry *Registry) Resolve(name string) (Workspace, error) {
	workspace, ok := registry.workspaces[name]
	if !ok {
		return Workspace{}, ErrUnknownEnvironment.New("%q", name)
	}
	return workspace, nil
}

// Names returns all registered environment names, sorted.
func (registry *Registry) Names() []string {
	names := make([]string, 0, len(registry.workspaces))
	for name := range registry.workspaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
