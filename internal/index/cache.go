// --------------------------------------------------------------------------------
// Author: Thomas F McGeehan V
//
// This file is part of a software project developed by Thomas F McGeehan V.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// For more information about the MIT License, please visit:
// https://opensource.org/licenses/MIT
//
// Acknowledgment appreciated but not required.
// --------------------------------------------------------------------------------

package index

import (
	"container/list"
	"sync"
)

// Cache is the shared byte-budgeted LRU over catalogs, manifests, shards,
// and bloom filters. One Cache serves every concurrent reader;
// all access goes through the mutex.
type Cache struct {
	mu     sync.Mutex
	budget int64
	used   int64
	ll     *list.List
	items  map[string]*list.Element

	hits, misses int64
	countByKind  map[string]int
}

type cacheItem struct {
	key   string
	kind  string
	size  int64
	value any
}

// NewCache builds a cache bounded at budget bytes (0 means 64 MiB).
func NewCache(budget int64) *Cache {
	if budget <= 0 {
		budget = 64 << 20
	}
	return &Cache{
		budget:      budget,
		ll:          list.New(),
		items:       make(map[string]*list.Element),
		countByKind: make(map[string]int),
	}
}

// Get returns the cached value for key, marking it most recently used.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.ll.MoveToFront(el)
	return el.Value.(*cacheItem).value, true
}

// Put stores value under key, charging size bytes against the budget and
// evicting least-recently-used entries until the budget holds. kind is a
// statistics label (catalog, manifest, shard, bloom, fts).
func (c *Cache) Put(key, kind string, size int64, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		item := el.Value.(*cacheItem)
		c.used += size - item.size
		item.size = size
		item.value = value
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&cacheItem{key: key, kind: kind, size: size, value: value})
		c.items[key] = el
		c.used += size
		c.countByKind[kind]++
	}

	for c.used > c.budget {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		item := oldest.Value.(*cacheItem)
		c.ll.Remove(oldest)
		delete(c.items, item.key)
		c.used -= item.size
		c.countByKind[item.kind]--
	}
}

// Invalidate drops key if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		item := el.Value.(*cacheItem)
		c.ll.Remove(el)
		delete(c.items, key)
		c.used -= item.size
		c.countByKind[item.kind]--
	}
}

// Stats is a point-in-time snapshot of cache occupancy.
type Stats struct {
	TotalBytes  int64
	Hits        int64
	Misses      int64
	CountByKind map[string]int
}

// Stats returns current occupancy and hit counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[string]int, len(c.countByKind))
	for k, v := range c.countByKind {
		if v > 0 {
			counts[k] = v
		}
	}
	return Stats{TotalBytes: c.used, Hits: c.hits, Misses: c.misses, CountByKind: counts}
}
