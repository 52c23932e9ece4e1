// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

// Package boltstate implements the versioned state store on top of an
// embedded Bolt database.
package boltstate

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"stateops.io/stateops/pkg/statestore"
)

var (
	mon = monkit.Package()

	// Error is the default boltstate error class.
	Error = errs.Class("boltstate error")
)

const (
	// fileMode sets permissions so only the owner can read and write.
	fileMode = 0600

	versionsBucket = "versions"
	backupsBucket  = "backups"
	metaBucket     = "meta"
)

var defaultTimeout = 1 * time.Second

// Client implements statestore.VersionedStore against a Bolt database.
type Client struct {
	log *zap.Logger
	db  *bolt.DB

	Path string
}

// New instantiates a new Bolt-backed state store at path.
func New(log *zap.Logger, path string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return &Client{
		log:  log,
		db:   db,
		Path: path,
	}, nil
}

// Close closes the underlying Bolt database.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}

// versionRecord is the stored form of one version in history.
type versionRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"`
	Data      []byte    `json:"data"`
}

// backupRecord is the stored form of one backup.
type backupRecord struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"`
	Data      []byte    `json:"data"`
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func versionID(seq uint64) string {
	return fmt.Sprintf("v%016x", seq)
}

// envBucket returns the nested bucket for key under root, creating it
// when create is set.
func envBucket(tx *bolt.Tx, root string, key string, create bool) (*bolt.Bucket, error) {
	if create {
		top, err := tx.CreateBucketIfNotExists([]byte(root))
		if err != nil {
			return nil, Error.Wrap(err)
		}
		bucket, err := top.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return nil, Error.Wrap(err)
		}
		return bucket, nil
	}

	top := tx.Bucket([]byte(root))
	if top == nil {
		return nil, nil
	}
	return top.Bucket([]byte(key)), nil
}

// GetCurrent returns the current blob and its version.
func (client *Client) GetCurrent(ctx context.Context, key string) (_ statestore.StateBlob, _ statestore.Version, err error) {
	defer mon.Task()(&ctx)(&err)
	if key == "" {
		return statestore.StateBlob{}, statestore.Version{}, statestore.ErrEmptyKey.New("")
	}

	var record versionRecord
	err = client.db.View(func(tx *bolt.Tx) error {
		bucket, err := envBucket(tx, versionsBucket, key, false)
		if bucket == nil || err != nil {
			if err != nil {
				return err
			}
			return statestore.ErrNotFound.New("no state for %q", key)
		}

		meta, err := envBucket(tx, metaBucket, key, false)
		if meta == nil || err != nil {
			if err != nil {
				return err
			}
			return statestore.ErrNotFound.New("no state for %q", key)
		}
		currentKey := meta.Get([]byte("current"))
		if currentKey == nil {
			return statestore.ErrNotFound.New("no state for %q", key)
		}

		data := bucket.Get(currentKey)
		if data == nil {
			return Error.New("current pointer for %q is dangling", key)
		}
		return Error.Wrap(json.Unmarshal(data, &record))
	})
	if err != nil {
		return statestore.StateBlob{}, statestore.Version{}, err
	}

	blob := statestore.NewStateBlob(record.Data)
	return blob, statestore.Version{
		ID:        record.ID,
		CreatedAt: record.CreatedAt,
		Size:      record.Size,
		Hash:      record.Hash,
		Current:   true,
	}, nil
}

// GetVersion returns the blob stored under a historical version id.
func (client *Client) GetVersion(ctx context.Context, key, versionID string) (_ statestore.StateBlob, err error) {
	defer mon.Task()(&ctx)(&err)
	if key == "" {
		return statestore.StateBlob{}, statestore.ErrEmptyKey.New("")
	}

	var record versionRecord
	found := false
	err = client.db.View(func(tx *bolt.Tx) error {
		bucket, err := envBucket(tx, versionsBucket, key, false)
		if bucket == nil || err != nil {
			return err
		}
		return bucket.ForEach(func(_, data []byte) error {
			var candidate versionRecord
			if err := json.Unmarshal(data, &candidate); err != nil {
				return Error.Wrap(err)
			}
			if candidate.ID == versionID {
				record = candidate
				found = true
			}
			return nil
		})
	})
	if err != nil {
		return statestore.StateBlob{}, err
	}
	if !found {
		return statestore.StateBlob{}, statestore.ErrNotFound.New("version %q for %q", versionID, key)
	}
	return statestore.NewStateBlob(record.Data), nil
}

// ListVersions returns the full history for key, newest first.
func (client *Client) ListVersions(ctx context.Context, key string) (_ []statestore.Version, err error) {
	defer mon.Task()(&ctx)(&err)
	if key == "" {
		return nil, statestore.ErrEmptyKey.New("")
	}

	var versions []statestore.Version
	err = client.db.View(func(tx *bolt.Tx) error {
		bucket, err := envBucket(tx, versionsBucket, key, false)
		if bucket == nil || err != nil {
			return err
		}

		var currentID string
		meta, err := envBucket(tx, metaBucket, key, false)
		if err != nil {
			return err
		}
		if meta != nil {
			if currentKey := meta.Get([]byte("current")); currentKey != nil {
				if data := bucket.Get(currentKey); data != nil {
					var record versionRecord
					if err := json.Unmarshal(data, &record); err != nil {
						return Error.Wrap(err)
					}
					currentID = record.ID
				}
			}
		}

		cursor := bucket.Cursor()
		for k, data := cursor.Last(); k != nil; k, data = cursor.Prev() {
			var record versionRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return Error.Wrap(err)
			}
			versions = append(versions, statestore.Version{
				ID:        record.ID,
				CreatedAt: record.CreatedAt,
				Size:      record.Size,
				Hash:      record.Hash,
				Current:   record.ID == currentID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// PutCurrent appends blob as the new current version. Transient
// failures are retried exactly once; duplicate versions are harmless
// but avoided.
func (client *Client) PutCurrent(ctx context.Context, key string, blob statestore.StateBlob) (_ statestore.Version, err error) {
	defer mon.Task()(&ctx)(&err)
	if key == "" {
		return statestore.Version{}, statestore.ErrEmptyKey.New("")
	}

	version, err := client.putCurrent(key, blob)
	if statestore.ErrTransient.Has(err) {
		client.log.Warn("retrying current version write",
			zap.String("key", key), zap.Error(err))
		version, err = client.putCurrent(key, blob)
	}
	return version, err
}

func (client *Client) putCurrent(key string, blob statestore.StateBlob) (statestore.Version, error) {
	var version statestore.Version
	err := client.db.Update(func(tx *bolt.Tx) error {
		bucket, err := envBucket(tx, versionsBucket, key, true)
		if err != nil {
			return err
		}
		meta, err := envBucket(tx, metaBucket, key, true)
		if err != nil {
			return err
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return Error.Wrap(err)
		}

		record := versionRecord{
			ID:        versionID(seq),
			CreatedAt: time.Now().UTC(),
			Size:      blob.Size,
			Hash:      blob.Hash,
			Data:      blob.Data,
		}
		data, err := json.Marshal(record)
		if err != nil {
			return Error.Wrap(err)
		}

		seqKey := sequenceKey(seq)
		if err := bucket.Put(seqKey, data); err != nil {
			return Error.Wrap(err)
		}
		if err := meta.Put([]byte("current"), seqKey); err != nil {
			return Error.Wrap(err)
		}

		version = statestore.Version{
			ID:        record.ID,
			CreatedAt: record.CreatedAt,
			Size:      record.Size,
			Hash:      record.Hash,
			Current:   true,
		}
		return nil
	})
	if err == bolt.ErrTimeout {
		return statestore.Version{}, statestore.ErrTransient.Wrap(err)
	}
	return version, err
}

// PutBackup stores blob in the backup namespace under key. Backups are
// never deleted by this client.
func (client *Client) PutBackup(ctx context.Context, key string, blob statestore.StateBlob, reason, creator string) (_ statestore.Backup, err error) {
	defer mon.Task()(&ctx)(&err)
	if key == "" {
		return statestore.Backup{}, statestore.ErrEmptyKey.New("")
	}

	var backup statestore.Backup
	err = client.db.Update(func(tx *bolt.Tx) error {
		bucket, err := envBucket(tx, backupsBucket, key, true)
		if err != nil {
			return err
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return Error.Wrap(err)
		}

		now := time.Now().UTC()
		record := backupRecord{
			ID:        fmt.Sprintf("%s-%06d", now.Format("20060102T150405Z"), seq),
			Reason:    reason,
			Creator:   creator,
			CreatedAt: now,
			Size:      blob.Size,
			Hash:      blob.Hash,
			Data:      blob.Data,
		}
		data, err := json.Marshal(record)
		if err != nil {
			return Error.Wrap(err)
		}
		if err := bucket.Put(sequenceKey(seq), data); err != nil {
			return Error.Wrap(err)
		}

		backup = statestore.Backup{
			ID:        record.ID,
			Reason:    record.Reason,
			Creator:   record.Creator,
			CreatedAt: record.CreatedAt,
			Size:      record.Size,
			Hash:      record.Hash,
		}
		return nil
	})
	if err != nil {
		return statestore.Backup{}, err
	}
	return backup, nil
}

// GetBackup returns a backup blob and its metadata.
func (client *Client) GetBackup(ctx context.Context, key, backupID string) (_ statestore.StateBlob, _ statestore.Backup, err error) {
	defer mon.Task()(&ctx)(&err)
	if key == "" {
		return statestore.StateBlob{}, statestore.Backup{}, statestore.ErrEmptyKey.New("")
	}

	var record backupRecord
	found := false
	err = client.db.View(func(tx *bolt.Tx) error {
		bucket, err := envBucket(tx, backupsBucket, key, false)
		if bucket == nil || err != nil {
			return err
		}
		return bucket.ForEach(func(_, data []byte) error {
			var candidate backupRecord
			if err := json.Unmarshal(data, &candidate); err != nil {
				return Error.Wrap(err)
			}
			if candidate.ID == backupID {
				record = candidate
				found = true
			}
			return nil
		})
	})
	if err != nil {
		return statestore.StateBlob{}, statestore.Backup{}, err
	}
	if !found {
		return statestore.StateBlob{}, statestore.Backup{}, statestore.ErrNotFound.New("backup %q for %q", backupID, key)
	}

	return statestore.NewStateBlob(record.Data), statestore.Backup{
		ID:        record.ID,
		Reason:    record.Reason,
		Creator:   record.Creator,
		CreatedAt: record.CreatedAt,
		Size:      record.Size,
		Hash:      record.Hash,
	}, nil
}

// ListBackups returns all backups under key, newest first.
func (client *Client) ListBackups(ctx context.Context, key string) (_ []statestore.Backup, err error) {
	defer mon.Task()(&ctx)(&err)
	if key == "" {
		return nil, statestore.ErrEmptyKey.New("")
	}

	var backups []statestore.Backup
	err = client.db.View(func(tx *bolt.Tx) error {
		bucket, err := envBucket(tx, backupsBucket, key, false)
		if bucket == nil || err != nil {
			return err
		}

		cursor := bucket.Cursor()
		for k, data := cursor.Last(); k != nil; k, data = cursor.Prev() {
			var record backupRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return Error.Wrap(err)
			}
			backups = append(backups, statestore.Backup{
				ID:        record.ID,
				Reason:    record.Reason,
				Creator:   record.Creator,
				CreatedAt: record.CreatedAt,
				Size:      record.Size,
				Hash:      record.Hash,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return backups, nil
}
