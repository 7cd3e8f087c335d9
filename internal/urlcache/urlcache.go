// Package urlcache keeps recently minted signed URLs so repeated lookups
// skip the storage provider's signing call. Losing the cache only costs
// extra signing calls; it is never the source of truth.
package urlcache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds the cache when no size is configured.
const DefaultCapacity = 10000

type key struct {
	documentID  string
	contentHash string
	variant     string
}

type entry struct {
	url       string
	expiresAt time.Time
}

// Cache is a bounded LRU of signed URLs with per-entry expiry. Safe for
// concurrent use.
type Cache struct {
	lru *lru.Cache[key, entry]
	now func() time.Time
}

func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	inner, err := lru.New[key, entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: inner, now: time.Now}, nil
}

// Get returns the cached URL and its remaining TTL. An entry past its
// expiry is evicted and reported as a miss.
func (c *Cache) Get(documentID, contentHash, variant string) (string, time.Duration, bool) {
	k := key{documentID: documentID, contentHash: contentHash, variant: variant}
	e, ok := c.lru.Get(k)
	if !ok {
		return "", 0, false
	}
	remaining := e.expiresAt.Sub(c.now())
	if remaining <= 0 {
		c.lru.Remove(k)
		return "", 0, false
	}
	return e.url, remaining, true
}

// Set stores a freshly minted URL. Once the cache is full the
// least-recently-used entry is evicted.
func (c *Cache) Set(documentID, contentHash, variant, url string, ttl time.Duration) {
	c.lru.Add(
		key{documentID: documentID, contentHash: contentHash, variant: variant},
		entry{url: url, expiresAt: c.now().Add(ttl)},
	)
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	return c.lru.Len()
}
