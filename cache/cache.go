// Package cache provides the bounded, strict-recency manifest cache the
// store facade keeps between fetches.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quantarax/icechunk/manifest"
)

// DefaultCapacity is the manifest cache size used when none is configured.
const DefaultCapacity = 100

// ManifestCache is a thread-safe, bounded LRU of decoded manifests keyed
// by manifest id. It wraps hashicorp/golang-lru's Cache (which has its own
// internal lock) with a mutex of its own, so every operation on it is
// serialised by this type.
type ManifestCache struct {
	mu    sync.Mutex
	inner *lru.Cache[string, *manifest.Manifest]
}

// New creates a ManifestCache with the given capacity. capacity <= 0 uses
// DefaultCapacity. onEvicted, if non-nil, is called synchronously with the
// id of every manifest the LRU evicts to make room for a new entry; it is
// never called for an explicit removal, since ManifestCache exposes none.
func New(capacity int, onEvicted func(id string, m *manifest.Manifest)) (*ManifestCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	var inner *lru.Cache[string, *manifest.Manifest]
	var err error
	if onEvicted != nil {
		inner, err = lru.NewWithEvict(capacity, onEvicted)
	} else {
		inner, err = lru.New[string, *manifest.Manifest](capacity)
	}
	if err != nil {
		return nil, err
	}
	return &ManifestCache{inner: inner}, nil
}

// Get returns the cached manifest for id, moving it to MRU position on a
// hit. A miss does not alter recency.
func (c *ManifestCache) Get(id string) (*manifest.Manifest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(id)
}

// Set inserts or replaces the manifest for id, moving it to MRU position.
// When the cache exceeds its capacity as a result, the least-recently-used
// entry is evicted.
func (c *ManifestCache) Set(id string, m *manifest.Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(id, m)
}

// Len returns the current number of cached entries.
func (c *ManifestCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}
