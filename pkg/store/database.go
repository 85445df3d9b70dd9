/*
 * Copyright (c) 2021. Ant Financial. All rights reserved.
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package store persists the small amount of cache state that must survive
// a process restart: the last known usage snapshot of each accounted
// directory, and the registry of outstanding AccessTokens. Everything else
// (cinfo files, block contents) lives in the cache data space itself and is
// rediscovered by a filesystem walk at startup.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const databaseFileName = "pfc.db"

// Bucket names:
// Buckets hierarchy:
//	- v1:
//		- dirstate    (path -> DirUsageRecord)
//		- tokens      (token id -> AccessTokenRecord)

var (
	v1RootBucket     = []byte("v1")
	versionKey       = []byte("version")
	dirStateBucket   = []byte("dirstate")
	tokensBucket     = []byte("tokens")
	currentDBVersion = "v1.0"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// DirUsageRecord is the durable projection of a dirstate.Node:
// enough to warm-start usage accounting without replaying the whole
// filesystem walk history.
type DirUsageRecord struct {
	Path        string    `json:"path"`
	NFiles      int64     `json:"n_files"`
	NFilesOpen  int64     `json:"n_files_open"`
	UsedBytes   int64     `json:"used_bytes"`
	StTime      time.Time `json:"st_time"`
}

// AccessTokenRecord is the durable projection of an accesstoken.Token,
// stored by AddToken and removed by DeleteToken. Nothing in this module
// calls either, and the daemon does not walk leftover records at startup.
type AccessTokenRecord struct {
	ID        string    `json:"id"`
	LFN       string    `json:"lfn"`
	IssuedAt  time.Time `json:"issued_at"`
	ClientTag string    `json:"client_tag,omitempty"`
}

// Database keeps state that needs to survive a cache process restart.
type Database struct {
	db *bolt.DB
}

// NewDatabase creates a new or opens an existing database file under rootDir.
func NewDatabase(rootDir string) (*Database, error) {
	f := filepath.Join(rootDir, databaseFileName)
	if err := ensureDirectory(filepath.Dir(f)); err != nil {
		return nil, err
	}

	opts := bolt.Options{Timeout: time.Second * 4}
	db, err := bolt.Open(f, 0600, &opts)
	if err != nil {
		return nil, err
	}
	d := &Database{db: db}
	if err := d.initDatabase(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize database")
	}
	return d, nil
}

func ensureDirectory(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0700)
	}
	return nil
}

func getDirStateBucket(tx *bolt.Tx) *bolt.Bucket {
	bucket := tx.Bucket(v1RootBucket)
	return bucket.Bucket(dirStateBucket)
}

func getTokensBucket(tx *bolt.Tx) *bolt.Bucket {
	bucket := tx.Bucket(v1RootBucket)
	return bucket.Bucket(tokensBucket)
}

func putObject(bucket *bolt.Bucket, key string, obj interface{}) error {
	value, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "marshal key %s", key)
	}
	if err := bucket.Put([]byte(key), value); err != nil {
		return errors.Wrapf(err, "put key %s", key)
	}
	return nil
}

func addObject(bucket *bolt.Bucket, key string, obj interface{}) error {
	if bucket.Get([]byte(key)) != nil {
		return ErrAlreadyExists
	}
	return putObject(bucket, key, obj)
}

// getObject is a basic wrapper to retrieve an object from a bucket.
func getObject(bucket *bolt.Bucket, key string, obj interface{}) error {
	value := bucket.Get([]byte(key))
	if value == nil {
		return ErrNotFound
	}
	if err := json.Unmarshal(value, obj); err != nil {
		return errors.Wrapf(err, "unmarshal %s", key)
	}
	return nil
}

func (db *Database) initDatabase() error {
	return db.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(v1RootBucket)
		if err != nil {
			return err
		}
		if _, err := bk.CreateBucketIfNotExists(dirStateBucket); err != nil {
			return errors.Wrapf(err, "bucket %s", dirStateBucket)
		}
		if _, err := bk.CreateBucketIfNotExists(tokensBucket); err != nil {
			return errors.Wrapf(err, "bucket %s", tokensBucket)
		}
		if val := bk.Get(versionKey); val == nil {
			if err := bk.Put(versionKey, []byte(currentDBVersion)); err != nil {
				return errors.Wrap(err, "stamp version")
			}
		}
		return nil
	})
}

// SaveDirUsage upserts the usage snapshot for a directory path.
func (db *Database) SaveDirUsage(rec *DirUsageRecord) error {
	return db.db.Update(func(tx *bolt.Tx) error {
		return putObject(getDirStateBucket(tx), rec.Path, rec)
	})
}

// WalkDirUsage invokes cb for every persisted directory usage snapshot.
func (db *Database) WalkDirUsage(cb func(rec *DirUsageRecord) error) error {
	return db.db.View(func(tx *bolt.Tx) error {
		return getDirStateBucket(tx).ForEach(func(key, value []byte) error {
			rec := &DirUsageRecord{}
			if err := json.Unmarshal(value, rec); err != nil {
				return errors.Wrapf(err, "unmarshal %s", key)
			}
			return cb(rec)
		})
	})
}

// DeleteDirUsage removes the persisted snapshot for path, e.g. once the
// directory has been purged and no longer carries any cached content.
func (db *Database) DeleteDirUsage(path string) error {
	return db.db.Update(func(tx *bolt.Tx) error {
		return getDirStateBucket(tx).Delete([]byte(path))
	})
}

// AddToken records a newly issued AccessToken. ErrAlreadyExists indicates a
// colliding ID, which the caller should treat as a programmer error.
func (db *Database) AddToken(rec *AccessTokenRecord) error {
	return db.db.Update(func(tx *bolt.Tx) error {
		return addObject(getTokensBucket(tx), rec.ID, rec)
	})
}

// DeleteToken removes a released AccessToken from the registry.
func (db *Database) DeleteToken(id string) error {
	return db.db.Update(func(tx *bolt.Tx) error {
		return getTokensBucket(tx).Delete([]byte(id))
	})
}

// WalkTokens invokes cb for every AccessToken record still in the bucket.
func (db *Database) WalkTokens(cb func(rec *AccessTokenRecord) error) error {
	return db.db.View(func(tx *bolt.Tx) error {
		return getTokensBucket(tx).ForEach(func(key, value []byte) error {
			rec := &AccessTokenRecord{}
			if err := json.Unmarshal(value, rec); err != nil {
				return errors.Wrapf(err, "unmarshal %s", key)
			}
			return cb(rec)
		})
	})
}

func (db *Database) Close() error {
	if err := db.db.Close(); err != nil {
		return errors.Wrap(err, "failed to close boltdb")
	}
	return nil
}
