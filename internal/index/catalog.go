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

// Package index implements the secondary-index subsystem: the
// JSON catalog, sharded hash indexes with bloom pre-filters, range/SST
// indexes, full-text indexes, and the selector that picks one per filter
// predicate. All artifacts live on the storage plane under indexes/.
package index

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/storage"
)

// CatalogPath is the fixed catalog location under the dataset root.
const CatalogPath = "indexes/_catalog.json"

// catalogVersion is the format this build reads and writes. Unknown
// versions load as an empty catalog rather than failing queries.
const catalogVersion = 1

// IndexType discriminates catalog entries.
type IndexType string

const (
	TypeHash IndexType = "hash"
	TypeSST  IndexType = "sst"
	TypeFTS  IndexType = "fts"
)

// Entry describes one secondary index in the catalog.
type Entry struct {
	Name         string    `json:"name"`
	Type         IndexType `json:"type"`
	Field        string    `json:"field"`
	Path         string    `json:"path"`
	SizeBytes    int64     `json:"sizeBytes"`
	EntryCount   int       `json:"entryCount"`
	Sharded      bool      `json:"sharded,omitempty"`
	ManifestPath string    `json:"manifestPath,omitempty"`
}

// Catalog is the indexes/_catalog.json manifest.
type Catalog struct {
	Version int     `json:"version"`
	Indexes []Entry `json:"indexes"`
}

// FindEntry returns the first entry of the given type on field, or nil.
func (c *Catalog) FindEntry(t IndexType, field string) *Entry {
	for i := range c.Indexes {
		if c.Indexes[i].Type == t && c.Indexes[i].Field == field {
			return &c.Indexes[i]
		}
	}
	return nil
}

// ShardInfo names one shard inside a sharded index.
type ShardInfo struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Value      string `json:"value,omitempty"`    // hash sharding: the shard's key
	MinValue   string `json:"minValue,omitempty"` // range sharding bounds
	MaxValue   string `json:"maxValue,omitempty"`
	EntryCount int    `json:"entryCount"`
}

// ShardManifest is the per-index _manifest.json of a sharded index.
type ShardManifest struct {
	Version   int         `json:"version"`
	Shards    []ShardInfo `json:"shards"`
	BloomPath string      `json:"bloomPath,omitempty"`
}

// Reader resolves catalog, manifests, shards and bloom filters through the
// shared cache. Safe for concurrent use.
type Reader struct {
	backend storage.Backend
	cache   *Cache
}

// NewReader builds a Reader over backend, caching through cache.
func NewReader(backend storage.Backend, cache *Cache) *Reader {
	if cache == nil {
		cache = NewCache(0)
	}
	return &Reader{backend: backend, cache: cache}
}

// Cache exposes the reader's shared cache for statistics.
func (r *Reader) Cache() *Cache { return r.cache }

// Catalog loads (and caches) the index catalog. A missing file or an
// unknown version degrades to an empty catalog instead of failing queries.
func (r *Reader) Catalog(ctx context.Context) (*Catalog, error) {
	key := "catalog:" + CatalogPath
	if v, ok := r.cache.Get(key); ok {
		return v.(*Catalog), nil
	}
	data, err := r.backend.Read(ctx, CatalogPath)
	if err != nil {
		if parqerr.Is(err, parqerr.KindNotFound) {
			return &Catalog{Version: catalogVersion}, nil
		}
		return nil, err
	}
	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil || cat.Version != catalogVersion {
		return &Catalog{Version: catalogVersion}, nil
	}
	r.cache.Put(key, "catalog", int64(len(data)), &cat)
	return &cat, nil
}

// InvalidateCatalog drops the cached catalog, forcing a re-read after a
// rebuild.
func (r *Reader) InvalidateCatalog() {
	r.cache.Invalidate("catalog:" + CatalogPath)
}

// Manifest loads (and caches) a sharded index's manifest.
func (r *Reader) Manifest(ctx context.Context, path string) (*ShardManifest, error) {
	key := "manifest:" + path
	if v, ok := r.cache.Get(key); ok {
		return v.(*ShardManifest), nil
	}
	data, err := r.backend.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	var m ShardManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, parqerr.Wrap(parqerr.KindInvalidInput, err, "decode shard manifest %s", path)
	}
	r.cache.Put(key, "manifest", int64(len(data)), &m)
	return &m, nil
}

// SaveCatalog writes cat to the fixed catalog path and invalidates the
// cached copy.
func SaveCatalog(ctx context.Context, backend storage.Backend, cache *Cache, cat *Catalog) error {
	cat.Version = catalogVersion
	data, err := json.Marshal(cat)
	if err != nil {
		return fmt.Errorf("encoding index catalog: %w", err)
	}
	if _, err := backend.WriteAtomic(ctx, CatalogPath, data, storage.WriteOptions{}); err != nil {
		return err
	}
	if cache != nil {
		cache.Invalidate("catalog:" + CatalogPath)
	}
	return nil
}
