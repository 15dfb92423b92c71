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

package index_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowarc/parquedb/internal/index"
	"github.com/arrowarc/parquedb/internal/storage"
	"github.com/arrowarc/parquedb/internal/store"
)

func TestShardRoundtrip(t *testing.T) {
	in := []index.Posting{
		{RowGroup: 0, RowOffset: 0, DocID: "posts/01A"},
		{RowGroup: 3, RowOffset: 12345, DocID: "posts/01B"},
		{RowGroup: 65535, RowOffset: 1 << 40, DocID: "x"},
	}
	blob, err := index.EncodeShard(in)
	require.NoError(t, err)
	assert.Equal(t, byte(3), blob[0], "compact v3 shards lead with their version byte")

	out, err := index.DecodeShard(blob)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeShardRejectsTruncation(t *testing.T) {
	blob, err := index.EncodeShard([]index.Posting{{RowGroup: 1, RowOffset: 2, DocID: "doc"}})
	require.NoError(t, err)

	_, err = index.DecodeShard(blob[:len(blob)-2])
	assert.Error(t, err)

	_, err = index.DecodeShard([]byte{9, 0, 0, 0, 0, 0})
	assert.Error(t, err, "unknown shard version must be rejected")
}

func TestBloomNegativeIsDefinite(t *testing.T) {
	bloom := index.NewBloom(1000, 1)
	for i := 0; i < 1000; i++ {
		bloom.Add(fmt.Sprintf("member-%d", i))
	}

	for i := 0; i < 1000; i++ {
		assert.True(t, bloom.MayContain(fmt.Sprintf("member-%d", i)), "no false negatives")
	}

	falsePositives := 0
	for i := 0; i < 1000; i++ {
		if bloom.MayContain(fmt.Sprintf("absent-%d", i)) {
			falsePositives++
		}
	}
	assert.Less(t, falsePositives, 100, "~1%% sizing should keep false positives low")
}

func TestBloomMarshalRoundtrip(t *testing.T) {
	bloom := index.NewBloom(100, 4)
	bloom.Add("hello")
	bloom.Add("world")

	blob := bloom.Marshal()
	assert.Equal(t, "PQBF", string(blob[:4]))

	parsed, err := index.UnmarshalBloom(blob)
	require.NoError(t, err)
	assert.True(t, parsed.MayContain("hello"))
	assert.True(t, parsed.MayContain("world"))

	_, err = index.UnmarshalBloom([]byte("nope"))
	assert.Error(t, err)
}

func TestHashIndexBuildAndLookup(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	reader := index.NewReader(backend, index.NewCache(1<<20))

	byValue := map[string][]index.Posting{
		"go":   {{RowGroup: 0, RowOffset: 0, DocID: "posts/a"}, {RowGroup: 1, RowOffset: 4, DocID: "posts/b"}},
		"rust": {{RowGroup: 2, RowOffset: 9, DocID: "posts/c"}},
	}
	entry, err := index.BuildHashIndex(ctx, backend, "posts_lang", "lang", byValue)
	require.NoError(t, err)
	assert.True(t, entry.Sharded)
	assert.Equal(t, 3, entry.EntryCount)

	res, err := reader.HashLookup(ctx, &entry, "go")
	require.NoError(t, err)
	assert.True(t, res.Exact)
	assert.Equal(t, []string{"posts/a", "posts/b"}, res.DocIDs)
	assert.Equal(t, []uint16{0, 1}, res.RowGroups)

	// $in unions shards.
	res, err = reader.HashLookup(ctx, &entry, "go", "rust")
	require.NoError(t, err)
	assert.Len(t, res.DocIDs, 3)

	// A value the bloom filter rejects never loads a shard.
	res, err = reader.HashLookup(ctx, &entry, "cobol")
	require.NoError(t, err)
	assert.Empty(t, res.DocIDs)
}

func TestSSTRangeLookup(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	reader := index.NewReader(backend, index.NewCache(1<<20))

	var entries []index.SSTEntry
	for i := 0; i < 26; i++ {
		v := string(rune('a' + i))
		entries = append(entries, index.SSTEntry{Value: v, DocID: "docs/" + v, RowGroup: uint16(i / 10), RowOffset: uint64(i)})
	}
	entry, err := index.BuildSSTIndex(ctx, backend, "docs_word", "word", entries)
	require.NoError(t, err)

	gte, lt := "c", "f"
	res, err := reader.RangeLookup(ctx, &entry, index.RangeBounds{Gte: &gte, Lt: &lt})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/c", "docs/d", "docs/e"}, res.DocIDs)

	gt := "x"
	res, err = reader.RangeLookup(ctx, &entry, index.RangeBounds{Gt: &gt})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/y", "docs/z"}, res.DocIDs)
}

func TestFTSBuildAndSearch(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	reader := index.NewReader(backend, index.NewCache(1<<20))

	entry, err := index.BuildFTSIndex(ctx, backend, "body", map[string]string{
		"posts/a": "the quick brown fox",
		"posts/b": "quick quick slow",
		"posts/c": "nothing relevant here",
	})
	require.NoError(t, err)
	assert.Equal(t, index.TypeFTS, entry.Type)
	assert.Equal(t, "indexes/fts/body.fts.json", entry.Path)

	res, err := reader.TextSearch(ctx, &entry, "Quick")
	require.NoError(t, err)
	require.Len(t, res.DocIDs, 2)
	assert.Equal(t, "posts/b", res.DocIDs[0], "higher term frequency ranks first")
	assert.Equal(t, float64(2), res.Scores["posts/b"])
}

func TestCatalogUnknownVersionDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	reader := index.NewReader(backend, index.NewCache(1<<20))

	_, err := backend.Write(ctx, index.CatalogPath, []byte(`{"version": 99, "indexes": [{"name":"x"}]}`), storage.WriteOptions{})
	require.NoError(t, err)

	cat, err := reader.Catalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, cat.Indexes)

	// Missing catalog also degrades gracefully.
	fresh := index.NewReader(storage.NewMemory(), index.NewCache(1<<20))
	cat, err = fresh.Catalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, cat.Indexes)
}

func TestCatalogSaveLoadAndCache(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	cache := index.NewCache(1 << 20)
	reader := index.NewReader(backend, cache)

	cat := &index.Catalog{Indexes: []index.Entry{{Name: "posts_lang", Type: index.TypeHash, Field: "lang", Path: "indexes/secondary/posts_lang/"}}}
	require.NoError(t, index.SaveCatalog(ctx, backend, cache, cat))

	loaded, err := reader.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Indexes, 1)
	require.NotNil(t, loaded.FindEntry(index.TypeHash, "lang"))
	assert.Nil(t, loaded.FindEntry(index.TypeSST, "lang"))

	// Second load is served from cache.
	before := cache.Stats().Hits
	_, err = reader.Catalog(ctx)
	require.NoError(t, err)
	assert.Greater(t, cache.Stats().Hits, before)
}

func TestCacheEvictsLRUWithinBudget(t *testing.T) {
	cache := index.NewCache(100)

	cache.Put("a", "shard", 40, "A")
	cache.Put("b", "shard", 40, "B")
	_, ok := cache.Get("a") // touch a so b is the eviction candidate
	require.True(t, ok)

	cache.Put("c", "shard", 40, "C")

	_, ok = cache.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = cache.Get("a")
	assert.True(t, ok)
	_, ok = cache.Get("c")
	assert.True(t, ok)

	stats := cache.Stats()
	assert.LessOrEqual(t, stats.TotalBytes, int64(100))
	assert.Equal(t, 2, stats.CountByKind["shard"])
}

func TestSelectorPriority(t *testing.T) {
	cat := &index.Catalog{Indexes: []index.Entry{
		{Name: "fts_body", Type: index.TypeFTS, Field: "body", Path: "indexes/fts/body.fts.json"},
		{Name: "posts_lang", Type: index.TypeHash, Field: "lang", Sharded: true, ManifestPath: "indexes/secondary/posts_lang/_manifest.json"},
		{Name: "posts_score", Type: index.TypeSST, Field: "score", Sharded: true, ManifestPath: "indexes/secondary/posts_score/_manifest.json"},
	}}

	tests := []struct {
		name   string
		filter store.Filter
		want   index.Strategy
	}{
		{"text goes to fts", store.Filter{Field: "body", Text: "quick"}, index.StrategyFTS},
		{"equality rides pushdown", store.Filter{Field: "lang", Eq: "go"}, index.StrategyPushdown},
		{"in probes sharded hash", store.Filter{Field: "lang", In: []any{"go", "rust"}}, index.StrategyHash},
		{"in without hash index pushes down", store.Filter{Field: "title", In: []any{"a"}}, index.StrategyPushdown},
		{"range scans sst", store.Filter{Field: "score", Gte: "10"}, index.StrategySST},
		{"range without sst scans", store.Filter{Field: "title", Gte: "a"}, index.StrategyScan},
		{"or falls back to scan", store.Filter{Or: []store.Filter{{Field: "lang", Eq: "go"}}}, index.StrategyScan},
		{"and recurses into first indexable leaf", store.Filter{And: []store.Filter{{Field: "nope", Gte: "1"}, {Field: "body", Text: "x"}}}, index.StrategyFTS},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, index.Select(tc.filter, cat).Strategy)
		})
	}
}
