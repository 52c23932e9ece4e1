// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

// Package teststate implements an in-memory versioned state store for
// tests, with call counting and fault injection.
package teststate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stateops.io/stateops/pkg/statestore"
)

// Client implements an in-memory statestore.VersionedStore.
type Client struct {
	mu   sync.Mutex
	envs map[string]*environment

	CallCount struct {
		GetCurrent   int
		GetVersion   int
		ListVersions int
		PutCurrent   int
		PutBackup    int
		GetBackup    int
		ListBackups  int
	}

	// PutCurrentError, when set, fails every PutCurrent without writing.
	PutCurrentError error
	// TransientPutFailures injects that many transient PutCurrent
	// failures before letting a write through.
	TransientPutFailures int
	// PutBackupError, when set, fails every PutBackup.
	PutBackupError error
}

type environment struct {
	versions   []versionEntry
	backups    []statestore.Backup
	backupData map[string][]byte
	currentSeq uint64
	nextSeq    uint64
	backupSeq  uint64
}

type versionEntry struct {
	seq     uint64
	version statestore.Version
	data    []byte
}

// New creates a new in-memory versioned store.
func New() *Client {
	return &Client{envs: map[string]*environment{}}
}

func (client *Client) env(key string, create bool) *environment {
	env, ok := client.envs[key]
	if !ok && create {
		env = &environment{backupData: map[string][]byte{}, nextSeq: 1, backupSeq: 1}
		client.envs[key] = env
	}
	return env
}

// GetCurrent returns the current blob and its version.
func (client *Client) GetCurrent(ctx context.Context, key string) (statestore.StateBlob, statestore.Version, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.CallCount.GetCurrent++

	env := client.env(key, false)
	if env == nil || env.currentSeq == 0 {
		return statestore.StateBlob{}, statestore.Version{}, statestore.ErrNotFound.New("no state for %q", key)
	}
	for _, entry := range env.versions {
		if entry.seq == env.currentSeq {
			return statestore.NewStateBlob(entry.data), entry.version, nil
		}
	}
	return statestore.StateBlob{}, statestore.Version{}, statestore.Error.New("current pointer for %q is dangling", key)
}

// GetVersion returns the blob stored under a historical version id.
func (client *Client) GetVersion(ctx context.Context, key, versionID string) (statestore.StateBlob, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.CallCount.GetVersion++

	if env := client.env(key, false); env != nil {
		for _, entry := range env.versions {
			if entry.version.ID == versionID {
				return statestore.NewStateBlob(entry.data), nil
			}
		}
	}
	return statestore.StateBlob{}, statestore.ErrNotFound.New("version %q for %q", versionID, key)
}

// ListVersions returns the full history for key, newest first.
func (client *Client) ListVersions(ctx context.Context, key string) ([]statestore.Version, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.CallCount.ListVersions++

	env := client.env(key, false)
	if env == nil {
		return nil, nil
	}
	versions := make([]statestore.Version, 0, len(env.versions))
	for i := len(env.versions) - 1; i >= 0; i-- {
		version := env.versions[i].version
		version.Current = env.versions[i].seq == env.currentSeq
		versions = append(versions, version)
	}
	return versions, nil
}

// PutCurrent appends blob as the new current version, retrying exactly
// once on an injected transient failure.
func (client *Client) PutCurrent(ctx context.Context, key string, blob statestore.StateBlob) (statestore.Version, error) {
	version, err := client.putCurrent(key, blob)
	if statestore.ErrTransient.Has(err) {
		version, err = client.putCurrent(key, blob)
	}
	return version, err
}

func (client *Client) putCurrent(key string, blob statestore.StateBlob) (statestore.Version, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.CallCount.PutCurrent++

	if client.TransientPutFailures > 0 {
		client.TransientPutFailures--
		return statestore.Version{}, statestore.ErrTransient.New("injected")
	}
	if client.PutCurrentError != nil {
		return statestore.Version{}, client.PutCurrentError
	}

	env := client.env(key, true)
	seq := env.nextSeq
	env.nextSeq++
	version := statestore.Version{
		ID:        fmt.Sprintf("v%016x", seq),
		CreatedAt: time.Now().UTC(),
		Size:      blob.Size,
		Hash:      blob.Hash,
		Current:   true,
	}
	data := append([]byte(nil), blob.Data...)
	env.versions = append(env.versions, versionEntry{seq: seq, version: version, data: data})
	env.currentSeq = seq
	return version, nil
}

// PutBackup stores blob in the backup namespace under key.
func (client *Client) PutBackup(ctx context.Context, key string, blob statestore.StateBlob, reason, creator string) (statestore.Backup, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.CallCount.PutBackup++

	if client.PutBackupError != nil {
		return statestore.Backup{}, client.PutBackupError
	}

	env := client.env(key, true)
	now := time.Now().UTC()
	backup := statestore.Backup{
		ID:        fmt.Sprintf("%s-%06d", now.Format("20060102T150405Z"), env.backupSeq),
		Reason:    reason,
		Creator:   creator,
		CreatedAt: now,
		Size:      blob.Size,
		Hash:      blob.Hash,
	}
	env.backupSeq++
	env.backups = append(env.backups, backup)
	env.backupData[backup.ID] = append([]byte(nil), blob.Data...)
	return backup, nil
}

// GetBackup returns a backup blob and its metadata.
func (client *Client) GetBackup(ctx context.Context, key, backupID string) (statestore.StateBlob, statestore.Backup, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.CallCount.GetBackup++

	if env := client.env(key, false); env != nil {
		for _, backup := range env.backups {
			if backup.ID == backupID {
				return statestore.NewStateBlob(env.backupData[backupID]), backup, nil
			}
		}
	}
	return statestore.StateBlob{}, statestore.Backup{}, statestore.ErrNotFound.New("backup %q for %q", backupID, key)
}

// ListBackups returns all backups under key, newest first.
func (client *Client) ListBackups(ctx context.Context, key string) ([]statestore.Backup, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.CallCount.ListBackups++

	env := client.env(key, false)
	if env == nil {
		return nil, nil
	}
	backups := make([]statestore.Backup, 0, len(env.backups))
	for i := len(env.backups) - 1; i >= 0; i-- {
		backups = append(backups, env.backups[i])
	}
	return backups, nil
}

// Close closes the store.
func (client *Client) Close() error { return nil }
