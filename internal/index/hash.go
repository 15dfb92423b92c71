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
	"sort"

	json "github.com/goccy/go-json"

	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/storage"
)

// LookupResult is what an exact index probe returns: the matched documents
// and the row groups they live in. Exact is always true for hash/SST
// lookups — bloom false positives have already been resolved.
type LookupResult struct {
	DocIDs    []string
	RowGroups []uint16
	Exact     bool
}

func resultFromPostings(postings []Posting) *LookupResult {
	res := &LookupResult{Exact: true}
	seenDoc := make(map[string]struct{}, len(postings))
	seenRG := make(map[uint16]struct{})
	for _, p := range postings {
		if _, ok := seenDoc[p.DocID]; !ok {
			seenDoc[p.DocID] = struct{}{}
			res.DocIDs = append(res.DocIDs, p.DocID)
		}
		if _, ok := seenRG[p.RowGroup]; !ok {
			seenRG[p.RowGroup] = struct{}{}
			res.RowGroups = append(res.RowGroups, p.RowGroup)
		}
	}
	sort.Strings(res.DocIDs)
	sort.Slice(res.RowGroups, func(i, j int) bool { return res.RowGroups[i] < res.RowGroups[j] })
	return res
}

// BuildHashIndex writes a sharded hash index for field under
// indexes/secondary/<name>/: one compact v3 shard per distinct value, a
// bloom filter over all values, and a manifest. It returns the catalog
// entry describing the result.
func BuildHashIndex(ctx context.Context, backend storage.Backend, name, field string, byValue map[string][]Posting) (Entry, error) {
	root := "indexes/secondary/" + name + "/"
	manifest := ShardManifest{Version: shardVersion}

	values := make([]string, 0, len(byValue))
	for v := range byValue {
		values = append(values, v)
	}
	sort.Strings(values)

	var maxRowGroup uint16
	var totalBytes int64
	entryCount := 0
	for _, value := range values {
		postings := byValue[value]
		blob, err := EncodeShard(postings)
		if err != nil {
			return Entry{}, err
		}
		shardName := ShardNameFor(value)
		path := root + shardName + ".bin"
		if _, err := backend.WriteAtomic(ctx, path, blob, storage.WriteOptions{}); err != nil {
			return Entry{}, err
		}
		manifest.Shards = append(manifest.Shards, ShardInfo{
			Name: shardName, Path: path, Value: value, EntryCount: len(postings),
		})
		totalBytes += int64(len(blob))
		entryCount += len(postings)
		for _, p := range postings {
			if p.RowGroup > maxRowGroup {
				maxRowGroup = p.RowGroup
			}
		}
	}

	bloom := NewBloom(len(values), maxRowGroup+1)
	for _, value := range values {
		bloom.Add(value)
	}
	bloomBlob := bloom.Marshal()
	bloomPath := root + "_bloom.bin"
	if _, err := backend.WriteAtomic(ctx, bloomPath, bloomBlob, storage.WriteOptions{}); err != nil {
		return Entry{}, err
	}
	manifest.BloomPath = bloomPath
	totalBytes += int64(len(bloomBlob))

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
		Name: name, Type: TypeHash, Field: field, Path: root,
		SizeBytes: totalBytes, EntryCount: entryCount,
		Sharded: true, ManifestPath: manifestPath,
	}, nil
}

func (r *Reader) shardPostings(ctx context.Context, path string) ([]Posting, error) {
	key := "shard:" + path
	if v, ok := r.cache.Get(key); ok {
		return v.([]Posting), nil
	}
	data, err := r.backend.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	postings, err := DecodeShard(data)
	if err != nil {
		return nil, err
	}
	r.cache.Put(key, "shard", int64(len(data)), postings)
	return postings, nil
}

func (r *Reader) bloomFilter(ctx context.Context, path string) (*Bloom, error) {
	key := "bloom:" + path
	if v, ok := r.cache.Get(key); ok {
		return v.(*Bloom), nil
	}
	data, err := r.backend.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	bloom, err := UnmarshalBloom(data)
	if err != nil {
		return nil, err
	}
	r.cache.Put(key, "bloom", int64(len(data)), bloom)
	return bloom, nil
}

// HashLookup probes a sharded hash index for one or more values ($eq or
// $in). The bloom filter is consulted first; a negative probe skips the
// shard read entirely. Results across values are
// unioned.
func (r *Reader) HashLookup(ctx context.Context, entry *Entry, values ...string) (*LookupResult, error) {
	manifest, err := r.Manifest(ctx, entry.ManifestPath)
	if err != nil {
		return nil, err
	}

	var bloom *Bloom
	if manifest.BloomPath != "" {
		if bloom, err = r.bloomFilter(ctx, manifest.BloomPath); err != nil {
			return nil, err
		}
	}

	byValue := make(map[string]*ShardInfo, len(manifest.Shards))
	for i := range manifest.Shards {
		byValue[manifest.Shards[i].Value] = &manifest.Shards[i]
	}

	var all []Posting
	for _, value := range values {
		if bloom != nil && !bloom.MayContain(value) {
			continue
		}
		shard, ok := byValue[value]
		if !ok {
			continue // bloom false positive: resolved exactly here
		}
		postings, err := r.shardPostings(ctx, shard.Path)
		if err != nil {
			return nil, err
		}
		all = append(all, postings...)
	}
	return resultFromPostings(all), nil
}
