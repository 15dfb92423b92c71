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
	"context"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/storage"
)

// SSTEntry is one (value, posting) pair inside an SST shard. Unlike hash
// shards, SST shards must carry the value so a range predicate can be
// applied exactly inside an overlapping shard.
type SSTEntry struct {
	Value     string `json:"v"`
	DocID     string `json:"docId"`
	RowGroup  uint16 `json:"rowGroup"`
	RowOffset uint64 `json:"rowOffset"`
}

// sstShardSize is how many entries one range shard holds.
const sstShardSize = 4096

// RangeBounds is a half-open or closed range over string-ordered values.
// Nil bound means unbounded on that side.
type RangeBounds struct {
	Gt  *string
	Gte *string
	Lt  *string
	Lte *string
}

func (b RangeBounds) contains(v string) bool {
	if b.Gt != nil && v <= *b.Gt {
		return false
	}
	if b.Gte != nil && v < *b.Gte {
		return false
	}
	if b.Lt != nil && v >= *b.Lt {
		return false
	}
	if b.Lte != nil && v > *b.Lte {
		return false
	}
	return true
}

// overlaps reports whether [min, max] can contain any value in bounds.
func (b RangeBounds) overlaps(min, max string) bool {
	if b.Gt != nil && max <= *b.Gt {
		return false
	}
	if b.Gte != nil && max < *b.Gte {
		return false
	}
	if b.Lt != nil && min >= *b.Lt {
		return false
	}
	if b.Lte != nil && min > *b.Lte {
		return false
	}
	return true
}

// BuildSSTIndex writes a sharded range index for field under
// indexes/secondary/<name>/: entries sorted by value, split into fixed-size
// shards whose manifest records each shard's [minValue, maxValue].
func BuildSSTIndex(ctx context.Context, backend storage.Backend, name, field string, entries []SSTEntry) (Entry, error) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value < entries[j].Value
		}
		return entries[i].DocID < entries[j].DocID
	})

	root := "indexes/secondary/" + name + "/"
	manifest := ShardManifest{Version: shardVersion}
	var totalBytes int64

	for shardNo := 0; shardNo*sstShardSize < len(entries); shardNo++ {
		lo := shardNo * sstShardSize
		hi := lo + sstShardSize
		if hi > len(entries) {
			hi = len(entries)
		}
		chunk := entries[lo:hi]
		blob, err := json.Marshal(chunk)
		if err != nil {
			return Entry{}, parqerr.Wrap(parqerr.KindInvalidInput, err, "encode sst shard %d of index %s", shardNo, name)
		}
		shardName := fmt.Sprintf("%06d", shardNo)
		path := root + shardName + ".bin"
		if _, err := backend.WriteAtomic(ctx, path, blob, storage.WriteOptions{}); err != nil {
			return Entry{}, err
		}
		manifest.Shards = append(manifest.Shards, ShardInfo{
			Name: shardName, Path: path,
			MinValue: chunk[0].Value, MaxValue: chunk[len(chunk)-1].Value,
			EntryCount: len(chunk),
		})
		totalBytes += int64(len(blob))
	}

	manifestPath := root + "_manifest.json"
	manifestBlob, err := json.Marshal(manifest)
	if err != nil {
		return Entry{}, parqerr.Wrap(parqerr.KindInvalidInput, err, "encode manifest for index %s", name)
	}
	if _, err := backend.WriteAtomic(ctx, manifestPath, manifestBlob, storage.WriteOptions{}); err != nil {
		return Entry{}, err
	}
	totalBytes += int64(len(manifestBlob))

	return Entry{
		Name: name, Type: TypeSST, Field: field, Path: root,
		SizeBytes: totalBytes, EntryCount: len(entries),
		Sharded: true, ManifestPath: manifestPath,
	}, nil
}

func (r *Reader) sstEntries(ctx context.Context, path string) ([]SSTEntry, error) {
	key := "shard:" + path
	if v, ok := r.cache.Get(key); ok {
		return v.([]SSTEntry), nil
	}
	data, err := r.backend.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	var entries []SSTEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, parqerr.Wrap(parqerr.KindInvalidInput, err, "decode sst shard %s", path)
	}
	r.cache.Put(key, "shard", int64(len(data)), entries)
	return entries, nil
}

// RangeLookup scans only the shards whose [minValue, maxValue] overlap
// bounds, applies bounds exactly inside each, and unions the results
// .
func (r *Reader) RangeLookup(ctx context.Context, entry *Entry, bounds RangeBounds) (*LookupResult, error) {
	manifest, err := r.Manifest(ctx, entry.ManifestPath)
	if err != nil {
		return nil, err
	}

	var matched []Posting
	for _, shard := range manifest.Shards {
		if !bounds.overlaps(shard.MinValue, shard.MaxValue) {
			continue
		}
		entries, err := r.sstEntries(ctx, shard.Path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if bounds.contains(e.Value) {
				matched = append(matched, Posting{RowGroup: e.RowGroup, RowOffset: e.RowOffset, DocID: e.DocID})
			}
		}
	}
	return resultFromPostings(matched), nil
}
