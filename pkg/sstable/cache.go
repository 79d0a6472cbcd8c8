package sstable

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/KevoDB/kmerge/pkg/sstable/block"
)

// cacheKey identifies a data block across every reader sharing a cache
type cacheKey struct {
	fileID uint64
	offset uint64
}

var nextFileID atomic.Uint64

// BlockCache is an LRU cache of verified, decompressed data blocks
type BlockCache struct {
	lru    *lru.Cache[cacheKey, *block.Reader]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheStats reports block cache effectiveness
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Len    int
}

// NewBlockCache creates a cache holding up to size blocks
func NewBlockCache(size int) (*BlockCache, error) {
	c, err := lru.New[cacheKey, *block.Reader](size)
	if err != nil {
		return nil, err
	}
	return &BlockCache{lru: c}, nil
}

func (c *BlockCache) get(key cacheKey) (*block.Reader, bool) {
	r, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return r, ok
}

func (c *BlockCache) add(key cacheKey, r *block.Reader) {
	c.lru.Add(key, r)
}

// evictFile drops every cached block belonging to fileID
func (c *BlockCache) evictFile(fileID uint64) {
	for _, k := range c.lru.Keys() {
		if k.fileID == fileID {
			c.lru.Remove(k)
		}
	}
}

// Stats returns a snapshot of the cache counters
func (c *BlockCache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Len:    c.lru.Len(),
	}
}
