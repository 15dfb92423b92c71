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

package parquedb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	parquedb "github.com/arrowarc/parquedb"
	"github.com/arrowarc/parquedb/internal/cdc"
	"github.com/arrowarc/parquedb/internal/config"
	"github.com/arrowarc/parquedb/internal/index"
)

func openTestDB(t *testing.T) *parquedb.DB {
	t.Helper()
	cfg := config.Defaults()
	cfg.WAL.SQLitePath = filepath.Join(t.TempDir(), "wal.db")
	db, err := parquedb.Open(cfg, parquedb.Options{
		Source: cdc.Source{System: "parquedb", Database: "test", Collection: "entities"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

func TestEndToEndCreateUpdateFlushGet(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	created, err := db.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "Hello", "title": "A"}, parquedb.CreateOptions{Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	updated, err := db.Update(ctx, "posts", created.ID, parquedb.Patch{Set: map[string]any{"title": "B"}}, parquedb.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	require.NoError(t, db.Flush(ctx))

	got, err := db.Get(ctx, "posts", created.ID, parquedb.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "B", got.Data["title"])
}

func TestCDCMirrorsEventStream(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	created, err := db.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "P"}, parquedb.CreateOptions{})
	require.NoError(t, err)
	_, err = db.Update(ctx, "posts", created.ID, parquedb.Patch{Set: map[string]any{"x": 1}}, parquedb.UpdateOptions{})
	require.NoError(t, err)
	_, err = db.Delete(ctx, "posts", created.ID, parquedb.DeleteOptions{})
	require.NoError(t, err)

	records := db.CDCRecords()
	require.Len(t, records, 3)
	assert.Equal(t, cdc.OpCreate, records[0].Op)
	assert.Equal(t, cdc.OpUpdate, records[1].Op)
	assert.Equal(t, cdc.OpDelete, records[2].Op)
	for i := 1; i < len(records); i++ {
		assert.Greater(t, records[i].Seq, records[i-1].Seq)
	}
}

func TestCreateManyBelowThresholdEmitsEvents(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	items := []map[string]any{
		{"$type": "Row", "name": "a"},
		{"$type": "Row", "name": "b"},
	}
	entities, err := db.CreateMany(ctx, "rows", items, parquedb.CreateOptions{})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Len(t, db.CDCRecords(), 2, "below the bulk threshold each create flows through the event path")
}

func TestCreateManyBulkBypassesEventBuffer(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	items := make([]map[string]any, 10)
	for i := range items {
		items[i] = map[string]any{"$type": "Row", "name": "row"}
	}
	entities, err := db.CreateMany(ctx, "rows", items, parquedb.CreateOptions{})
	require.NoError(t, err)
	require.Len(t, entities, 10)

	assert.Empty(t, db.CDCRecords(), "the bulk bypass emits no per-entity events")

	got, err := db.Get(ctx, "rows", entities[3].ID, parquedb.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "row", got.Name)
}

func TestFindUsesIndexesWhenPresent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for _, body := range []string{"the quick fox", "slow snail", "quick silver"} {
		_, err := db.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "p", "body": body}, parquedb.CreateOptions{})
		require.NoError(t, err)
	}
	require.NoError(t, db.Flush(ctx))
	require.NoError(t, db.BuildIndexes(ctx, []parquedb.IndexSpec{
		{Namespace: "posts", Field: "body", Type: index.TypeFTS},
		{Namespace: "posts", Field: "body", Type: index.TypeHash},
	}))

	res, err := db.Find(ctx, "posts", parquedb.Filter{Field: "body", Text: "quick"}, parquedb.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 2, res.Total)
	assert.False(t, res.HasMore)

	res, err = db.Find(ctx, "posts", parquedb.Filter{Field: "body", In: []any{"slow snail"}}, parquedb.FindOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "slow snail", res.Items[0].Data["body"])

	stats := db.IndexCacheStats()
	assert.Greater(t, stats.TotalBytes, int64(0))
}

func TestFindPaging(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for _, name := range []string{"a", "b", "c"} {
		_, err := db.Create(ctx, "posts", map[string]any{"$type": "Post", "name": name}, parquedb.CreateOptions{})
		require.NoError(t, err)
	}

	res, err := db.Find(ctx, "posts", parquedb.Filter{}, parquedb.FindOptions{Sort: "name", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 3, res.Total)
	assert.True(t, res.HasMore)
}

func persistentConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Store.Backend = config.BackendFilesystem
	cfg.Store.Root = t.TempDir()
	cfg.WAL.SQLitePath = filepath.Join(t.TempDir(), "wal.db")
	return cfg
}

func TestReopenRehydratesPersistedState(t *testing.T) {
	ctx := context.Background()
	cfg := persistentConfig(t)

	db, err := parquedb.Open(cfg, parquedb.Options{})
	require.NoError(t, err)

	created, err := db.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "Hello", "title": "A"}, parquedb.CreateOptions{Actor: "alice"})
	require.NoError(t, err)
	titleAAt := created.UpdatedAt

	_, err = db.Update(ctx, "posts", created.ID, parquedb.Patch{Set: map[string]any{"title": "B"}}, parquedb.UpdateOptions{})
	require.NoError(t, err)
	other, err := db.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "Other"}, parquedb.CreateOptions{})
	require.NoError(t, err)
	_, err = db.Link(ctx, "posts", created.ID, "references", "posts", other.ID, parquedb.LinkOptions{})
	require.NoError(t, err)

	require.NoError(t, db.Flush(ctx))
	require.NoError(t, db.Close(ctx))

	reopened, err := parquedb.Open(cfg, parquedb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close(context.Background()) })

	got, err := reopened.Get(ctx, "posts", created.ID, parquedb.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, got, "a reopened dataset serves previously materialized entities")
	assert.Equal(t, "B", got.Data["title"])
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "Hello", got.Name)

	res, err := reopened.Find(ctx, "posts", parquedb.Filter{}, parquedb.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	rels := reopened.Relationships("posts", created.ID, "references")
	require.Len(t, rels, 1)
	assert.Equal(t, other.ID, rels[0].ToID)

	// Time travel works from the replayed event log.
	asOf, err := reopened.Get(ctx, "posts", created.ID, parquedb.GetOptions{AsOf: &titleAAt})
	require.NoError(t, err)
	require.NotNil(t, asOf)
	assert.Equal(t, "A", asOf.Data["title"])

	// Further mutations pick up where the log left off.
	bumped, err := reopened.Update(ctx, "posts", created.ID, parquedb.Patch{Set: map[string]any{"title": "C"}}, parquedb.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), bumped.Version)
}

func TestBulkRowsSurviveFlushAndReopen(t *testing.T) {
	ctx := context.Background()
	cfg := persistentConfig(t)

	db, err := parquedb.Open(cfg, parquedb.Options{})
	require.NoError(t, err)

	items := make([]map[string]any, 10)
	for i := range items {
		items[i] = map[string]any{"$type": "Row", "name": "row"}
	}
	entities, err := db.CreateMany(ctx, "rows", items, parquedb.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, db.Close(ctx)) // Close flushes, folding the staged rows

	reopened, err := parquedb.Open(cfg, parquedb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close(context.Background()) })

	got, err := reopened.Get(ctx, "rows", entities[3].ID, parquedb.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, got, "bulk-staged rows are folded into data.parquet and survive a restart")
	assert.Equal(t, "row", got.Name)

	res, err := reopened.Find(ctx, "rows", parquedb.Filter{}, parquedb.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Total)
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.WAL.SQLitePath = filepath.Join(t.TempDir(), "wal.db")
	db, err := parquedb.Open(cfg, parquedb.Options{})
	require.NoError(t, err)

	_, err = db.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "P"}, parquedb.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, db.Close(ctx))
	require.NoError(t, db.Close(ctx), "second disposal is a no-op")
}
