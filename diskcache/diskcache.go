// Package diskcache is a durable, content-addressed second-level cache for
// decoded snapshot and manifest payloads, backed by BoltDB. It sits below
// the in-memory manifest LRU (package cache): a miss there checks here
// before falling back to a network fetch.
package diskcache

import (
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketManifests = []byte("manifests")
)

// Cache wraps a BoltDB file holding decoded object payloads, keyed by
// their object id string.
type Cache struct {
	db *bolt.DB
}

// Open opens (creating if absent) the BoltDB file at path and ensures its
// buckets exist.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketManifests)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying BoltDB file.
func (c *Cache) Close() error { return c.db.Close() }

// GetSnapshot returns the cached decoded payload for a snapshot id.
func (c *Cache) GetSnapshot(id string) ([]byte, bool) { return c.get(bucketSnapshots, id) }

// PutSnapshot stores the decoded payload for a snapshot id.
func (c *Cache) PutSnapshot(id string, payload []byte) error {
	return c.put(bucketSnapshots, id, payload)
}

// GetManifest returns the cached decoded payload for a manifest id.
func (c *Cache) GetManifest(id string) ([]byte, bool) { return c.get(bucketManifests, id) }

// PutManifest stores the decoded payload for a manifest id.
func (c *Cache) PutManifest(id string, payload []byte) error {
	return c.put(bucketManifests, id, payload)
}

func (c *Cache) get(bucket []byte, key string) ([]byte, bool) {
	var value []byte
	_ = c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucket)
		if bk == nil {
			return nil
		}
		if v := bk.Get([]byte(key)); v != nil {
			value = make([]byte, len(v))
			copy(value, v)
		}
		return nil
	})
	return value, value != nil
}

func (c *Cache) put(bucket []byte, key string, value []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucket)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		return bk.Put([]byte(key), value)
	})
}
