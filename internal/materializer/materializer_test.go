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

package materializer_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowarc/parquedb/internal/materializer"
	"github.com/arrowarc/parquedb/internal/parquetio"
	"github.com/arrowarc/parquedb/internal/storage"
	"github.com/arrowarc/parquedb/internal/store"
	"github.com/arrowarc/parquedb/internal/variant"
	"github.com/arrowarc/parquedb/internal/wal"
)

func newPipeline(t *testing.T) (*store.Store, *wal.WAL, *storage.Memory, *materializer.Materializer) {
	t.Helper()
	w, err := wal.Open(filepath.Join(t.TempDir(), "wal.db"), wal.Config{MaxBufferSize: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	backend := storage.NewMemory()
	return store.New(w, nil), w, backend, materializer.New(w, backend, nil, nil)
}

func readEvents(t *testing.T, backend *storage.Memory) []parquetio.EventRow {
	t.Helper()
	data, err := backend.Read(context.Background(), materializer.EventsPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PAR1")), "parquet magic at the head")
	assert.True(t, bytes.HasSuffix(data, []byte("PAR1")), "parquet magic at the tail")
	rows, err := parquetio.ReadRows[parquetio.EventRow](bytes.NewReader(data))
	require.NoError(t, err)
	return rows
}

func TestFlushProducesArtifacts(t *testing.T) {
	ctx := context.Background()
	s, w, backend, m := newPipeline(t)

	created, err := s.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "Hello", "title": "A"}, store.CreateOptions{Actor: "alice"})
	require.NoError(t, err)
	_, err = s.Update(ctx, "posts", created.ID, store.Patch{Set: map[string]any{"title": "B"}}, store.UpdateOptions{})
	require.NoError(t, err)

	require.NoError(t, w.Flush(ctx, "posts"))
	require.NoError(t, m.Flush(ctx))

	events := readEvents(t, backend)
	require.Len(t, events, 2)
	assert.Equal(t, "CREATE", events[0].Op)
	assert.Equal(t, "UPDATE", events[1].Op)
	assert.LessOrEqual(t, events[0].TS, events[1].TS)
	assert.Less(t, events[0].ID, events[1].ID)

	data, err := backend.Read(ctx, materializer.DataPath)
	require.NoError(t, err)
	dataRows, err := parquetio.ReadRows[parquetio.DataRow](bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, dataRows, 1)
	assert.Equal(t, "posts/"+created.ID, dataRows[0].ID)
	assert.Equal(t, "Post", dataRows[0].Type)
	assert.Equal(t, "Hello", dataRows[0].Name)

	doc, err := variant.Decode(dataRows[0].Data)
	require.NoError(t, err)
	fields := doc.(map[string]any)
	assert.Equal(t, "B", fields["title"])
	assert.EqualValues(t, 2, fields["version"])

	// No edges were created, so rels.parquet must not exist.
	exists, err := backend.Exists(ctx, materializer.RelsPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFlushWritesRelsForLiveEdges(t *testing.T) {
	ctx := context.Background()
	s, w, backend, m := newPipeline(t)

	a, err := s.Create(ctx, "people", map[string]any{"$type": "Person", "name": "Ann"}, store.CreateOptions{})
	require.NoError(t, err)
	b, err := s.Create(ctx, "people", map[string]any{"$type": "Person", "name": "Bea"}, store.CreateOptions{})
	require.NoError(t, err)
	_, err = s.Link(ctx, "people", a.ID, "friend", "people", b.ID, store.LinkOptions{})
	require.NoError(t, err)

	require.NoError(t, w.Flush(ctx, "people"))
	require.NoError(t, m.Flush(ctx))

	data, err := backend.Read(ctx, materializer.RelsPath)
	require.NoError(t, err)
	relRows, err := parquetio.ReadRows[parquetio.RelRow](bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, relRows, 1)
	assert.Equal(t, "people/"+a.ID, relRows[0].SourceID)
	assert.Equal(t, "friend", relRows[0].SourceField)
	assert.Equal(t, "people/"+b.ID, relRows[0].TargetID)
}

func TestUnlinkedEdgeDisappearsFromRels(t *testing.T) {
	ctx := context.Background()
	s, w, backend, m := newPipeline(t)

	a, err := s.Create(ctx, "people", map[string]any{"$type": "Person", "name": "Ann"}, store.CreateOptions{})
	require.NoError(t, err)
	b, err := s.Create(ctx, "people", map[string]any{"$type": "Person", "name": "Bea"}, store.CreateOptions{})
	require.NoError(t, err)
	_, err = s.Link(ctx, "people", a.ID, "friend", "people", b.ID, store.LinkOptions{})
	require.NoError(t, err)
	_, err = s.Unlink(ctx, "people", a.ID, "friend", "people", b.ID, "ann")
	require.NoError(t, err)

	require.NoError(t, w.Flush(ctx, "people"))
	require.NoError(t, m.Flush(ctx))

	exists, err := backend.Exists(ctx, materializer.RelsPath)
	require.NoError(t, err)
	assert.False(t, exists, "a soft-deleted edge is not a live edge")
}

func TestSecondFlushMergesWithPriorArtifact(t *testing.T) {
	ctx := context.Background()
	s, w, backend, m := newPipeline(t)

	first, err := s.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "One"}, store.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Flush(ctx, "posts"))
	require.NoError(t, m.Flush(ctx))

	second, err := s.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "Two"}, store.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Flush(ctx, "posts"))
	require.NoError(t, m.Flush(ctx))

	events := readEvents(t, backend)
	assert.Len(t, events, 2, "prior events survive the second flush")

	data, err := backend.Read(ctx, materializer.DataPath)
	require.NoError(t, err)
	dataRows, err := parquetio.ReadRows[parquetio.DataRow](bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, dataRows, 2)
	ids := []string{dataRows[0].ID, dataRows[1].ID}
	assert.Contains(t, ids, "posts/"+first.ID)
	assert.Contains(t, ids, "posts/"+second.ID)

	// Nothing pending: another flush is a no-op.
	require.NoError(t, m.Flush(ctx))
	assert.Len(t, readEvents(t, backend), 2)
}

func TestFlushFoldsPendingRowGroups(t *testing.T) {
	ctx := context.Background()
	_, w, backend, m := newPipeline(t)

	// Stage three entities the way the bulk-create bypass does.
	var buf bytes.Buffer
	bw, err := parquetio.NewBulkEntityWriter(&buf)
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c"} {
		doc, err := variant.Encode(map[string]any{"$type": "Row", "name": name, "version": int64(1)})
		require.NoError(t, err)
		bw.Append("bulk/"+name, "Row", name, doc)
	}
	require.NoError(t, bw.Close())

	stagingPath := "staging/grp-1.parquet"
	_, err = backend.WriteAtomic(ctx, stagingPath, buf.Bytes(), storage.WriteOptions{})
	require.NoError(t, err)
	first, last := w.ReserveSequenceRange("bulk", 3)
	require.NoError(t, w.RecordPendingRowGroup(ctx, "bulk", stagingPath, 3, first, last))

	require.NoError(t, m.Flush(ctx))

	data, err := backend.Read(ctx, materializer.DataPath)
	require.NoError(t, err)
	dataRows, err := parquetio.ReadRows[parquetio.DataRow](bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, dataRows, 3)
	assert.Equal(t, "bulk/a", dataRows[0].ID)

	groups, err := w.PendingRowGroups(ctx, "bulk")
	require.NoError(t, err)
	assert.Empty(t, groups, "consumed staging records are removed")

	exists, err := backend.Exists(ctx, stagingPath)
	require.NoError(t, err)
	assert.False(t, exists, "consumed staging artifacts are removed")

	// The folded rows survive a later event-driven flush.
	s := store.New(w, nil)
	_, err = s.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "P"}, store.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Flush(ctx, "posts"))
	require.NoError(t, m.Flush(ctx))

	data, err = backend.Read(ctx, materializer.DataPath)
	require.NoError(t, err)
	dataRows, err = parquetio.ReadRows[parquetio.DataRow](bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, dataRows, 4, "bulk rows carry forward across flushes")
}

func TestReplayEquivalence(t *testing.T) {
	ctx := context.Background()
	s, w, backend, m := newPipeline(t)

	created, err := s.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "P", "title": "A"}, store.CreateOptions{})
	require.NoError(t, err)
	_, err = s.Update(ctx, "posts", created.ID, store.Patch{Set: map[string]any{"title": "B"}}, store.UpdateOptions{})
	require.NoError(t, err)
	live, err := s.Get(ctx, "posts", created.ID, store.GetOptions{})
	require.NoError(t, err)

	require.NoError(t, w.Flush(ctx, "posts"))
	require.NoError(t, m.Flush(ctx))

	// Replaying events.parquet from the beginning reconstructs the same
	// snapshot the live view holds.
	var snapshot map[string]any
	for _, ev := range readEvents(t, backend) {
		if ev.After == nil {
			snapshot = nil
			continue
		}
		doc, err := variant.Decode(ev.After)
		require.NoError(t, err)
		snapshot = doc.(map[string]any)
	}
	require.NotNil(t, snapshot)
	assert.Equal(t, live.Data["title"], snapshot["title"])
	assert.EqualValues(t, live.Version, snapshot["version"])
	assert.Equal(t, live.Name, snapshot["name"])
}

func TestFailedWriteLeavesWALIntact(t *testing.T) {
	ctx := context.Background()

	w, err := wal.Open(filepath.Join(t.TempDir(), "wal.db"), wal.Config{MaxBufferSize: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	s := store.New(w, nil)
	failing := &failingBackend{Memory: storage.NewMemory()}
	m := materializer.New(w, failing, nil, nil)

	_, err = s.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "P"}, store.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Flush(ctx, "posts"))

	require.Error(t, m.Flush(ctx))

	rows, err := w.Unflushed(ctx, "posts")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "a failed materialization must leave WAL rows for retry")
}

// failingBackend rejects atomic writes to simulate storage-plane outages.
type failingBackend struct {
	*storage.Memory
}

func (f *failingBackend) WriteAtomic(ctx context.Context, p string, data []byte, opts storage.WriteOptions) (*storage.WriteResult, error) {
	return nil, assert.AnError
}
