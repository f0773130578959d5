// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tad

import (
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gomlx/tad/internal/workerspool"
	"github.com/gomlx/tad/pkg/core/shapes"
	"k8s.io/klog/v2"
)

// Cache of TADs, keyed by the parent shape and the axes. It is safe for concurrent use.
//
// Cached TADs are shared: they must not be released by the caller.
type Cache struct {
	entries      sync.Map // cacheKey -> *TAD
	hits, misses atomic.Int64
	numEntries   atomic.Int64

	// pool is shared by all TADs built by the cache, if it was created with a Config.
	pool         *workerspool.Pool
	minPerWorker int
}

type cacheKey string

// NewCache returns an empty Cache. TADs built by the cache use the default configuration.
func NewCache() *Cache {
	return &Cache{}
}

// NewCacheWithConfig returns an empty Cache whose TADs use the given configuration to build their
// offsets tables. The parallelism limit applies to all the TADs of the cache together.
func NewCacheWithConfig(config Config) *Cache {
	return &Cache{
		pool:         workerspool.New(config.Parallelism),
		minPerWorker: max(config.MinTadsPerWorker, 1),
	}
}

// makeCacheKey encodes the parent shape (dimensions, strides, order and offset) and the axes.
func makeCacheKey(parent shapes.Shape, axes []int) cacheKey {
	buf := make([]byte, 0, 8*(shapes.InfoLength(parent.Rank())+len(axes)+2))
	buf = strconv.AppendInt(buf, int64(parent.DType), 10)
	for _, v := range shapes.Encode(parent) {
		buf = append(buf, ',')
		buf = strconv.AppendInt(buf, int64(v), 10)
	}
	buf = append(buf, '|')
	for _, axis := range axes {
		buf = strconv.AppendInt(buf, int64(axis), 10)
		buf = append(buf, ',')
	}
	return cacheKey(buf)
}

// Get returns the TAD of the parent shape along the given axes (positioned at TAD 0), building it
// on the first request.
func (c *Cache) Get(parent shapes.Shape, axes ...int) (*TAD, error) {
	key := makeCacheKey(parent, axes)
	if entry, found := c.entries.Load(key); found {
		c.hits.Add(1)
		return entry.(*TAD), nil
	}
	c.misses.Add(1)

	// The cached TAD must not alias the caller's buffers.
	b := Build(parent.Clone(), slices.Clone(axes)...)
	if c.pool != nil {
		b.pool, b.minPerWorker = c.pool, c.minPerWorker
	}
	t, err := b.Done()
	if err != nil {
		return nil, err
	}
	entry, loaded := c.entries.LoadOrStore(key, t)
	if loaded {
		// Another goroutine built it first.
		t.Release()
		return entry.(*TAD), nil
	}
	c.numEntries.Add(1)
	klog.V(3).Infof("tad.Cache: added %s", t)
	return t, nil
}

// Len returns the number of TADs in the cache.
func (c *Cache) Len() int { return int(c.numEntries.Load()) }

// Stats returns the number of cache hits and misses so far.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Reset drops all cached TADs. TADs previously returned remain valid.
func (c *Cache) Reset() {
	c.entries.Range(func(key, _ any) bool {
		if _, deleted := c.entries.LoadAndDelete(key); deleted {
			c.numEntries.Add(-1)
		}
		return true
	})
}
