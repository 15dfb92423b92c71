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

package timetravel_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowarc/parquedb/internal/store"
	"github.com/arrowarc/parquedb/internal/timetravel"
	"github.com/arrowarc/parquedb/internal/wal"
)

// fakeClock hands out strictly increasing instants so every mutation gets
// its own timestamp.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTimeTravelStore(t *testing.T) (*store.Store, *timetravel.Engine, *fakeClock) {
	t.Helper()
	w, err := wal.Open(filepath.Join(t.TempDir(), "wal.db"), wal.Config{MaxBufferSize: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := store.New(w, clock.now)
	engine := timetravel.NewEngine(0)
	s.SetReconstructor(engine)
	s.Subscribe(engine)
	return s, engine, clock
}

func TestAsOfReconstructsEachRevision(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTimeTravelStore(t)

	created, err := s.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "P", "title": "A"}, store.CreateOptions{})
	require.NoError(t, err)
	t0 := created.UpdatedAt

	v2, err := s.Update(ctx, "posts", created.ID, store.Patch{Set: map[string]any{"title": "B"}}, store.UpdateOptions{})
	require.NoError(t, err)
	t1 := v2.UpdatedAt

	v3, err := s.Update(ctx, "posts", created.ID, store.Patch{Set: map[string]any{"title": "C"}}, store.UpdateOptions{})
	require.NoError(t, err)
	t2 := v3.UpdatedAt

	for _, tc := range []struct {
		asOf  time.Time
		title string
	}{
		{t0, "A"},
		{t1, "B"},
		{t2, "C"},
	} {
		got, err := s.Get(ctx, "posts", created.ID, store.GetOptions{AsOf: &tc.asOf})
		require.NoError(t, err)
		require.NotNil(t, got, "asOf %v", tc.asOf)
		assert.Equal(t, tc.title, got.Data["title"])
	}

	// One nanosecond before creation: the entity did not exist yet.
	before := t0.Add(-time.Nanosecond)
	got, err := s.Get(ctx, "posts", created.ID, store.GetOptions{AsOf: &before})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAsOfAfterDelete(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTimeTravelStore(t)

	created, err := s.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "P"}, store.CreateOptions{})
	require.NoError(t, err)

	_, err = s.Delete(ctx, "posts", created.ID, store.DeleteOptions{Hard: true})
	require.NoError(t, err)

	afterDelete := clock.t
	got, err := s.Get(ctx, "posts", created.ID, store.GetOptions{AsOf: &afterDelete})
	require.NoError(t, err)
	assert.Nil(t, got, "hard delete makes the reconstruction null")

	beforeDelete := created.UpdatedAt
	got, err = s.Get(ctx, "posts", created.ID, store.GetOptions{AsOf: &beforeDelete})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Version)
}

func TestCacheHitReturnsIndependentCopy(t *testing.T) {
	ctx := context.Background()
	s, engine, _ := newTimeTravelStore(t)

	created, err := s.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "P", "title": "A"}, store.CreateOptions{})
	require.NoError(t, err)
	asOf := created.UpdatedAt

	first, err := engine.EntityAsOf(ctx, "posts", created.ID, asOf)
	require.NoError(t, err)
	require.NotNil(t, first)
	first.Data["title"] = "mutated"

	second, err := engine.EntityAsOf(ctx, "posts", created.ID, asOf)
	require.NoError(t, err)
	assert.Equal(t, "A", second.Data["title"], "cache entries must not leak caller mutations")
}

func TestFindAsOfFiltersReconstructedState(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTimeTravelStore(t)

	created, err := s.Create(ctx, "posts", map[string]any{"$type": "Post", "name": "P", "status": "draft"}, store.CreateOptions{})
	require.NoError(t, err)
	draftAt := created.UpdatedAt

	published, err := s.Update(ctx, "posts", created.ID, store.Patch{Set: map[string]any{"status": "published"}}, store.UpdateOptions{})
	require.NoError(t, err)
	publishedAt := published.UpdatedAt

	drafts, err := s.Find(ctx, "posts", store.Filter{Field: "status", Eq: "draft"}, store.FindOptions{AsOf: &draftAt})
	require.NoError(t, err)
	assert.Len(t, drafts, 1)

	drafts, err = s.Find(ctx, "posts", store.Filter{Field: "status", Eq: "draft"}, store.FindOptions{AsOf: &publishedAt})
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestReplayFeedsEngineFromDecodedEvents(t *testing.T) {
	ctx := context.Background()
	engine := timetravel.NewEngine(0)

	events := []wal.Event{
		{ID: "01A", TS: 100, Op: "CREATE", Target: "posts:p1", After: map[string]any{"$type": "Post", "name": "P", "version": float64(1)}},
		{ID: "01B", TS: 200, Op: "UPDATE", Target: "posts:p1", After: map[string]any{"$type": "Post", "name": "P2", "version": float64(2)}},
	}
	engine.Replay(ctx, "posts", events)

	assert.Equal(t, []string{"p1"}, engine.KnownEntities("posts"))

	got, err := engine.EntityAsOf(ctx, "posts", "p1", time.Unix(0, 150))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "P", got.Name)
	assert.Equal(t, int64(1), got.Version)

	got, err = engine.EntityAsOf(ctx, "posts", "p1", time.Unix(0, 200))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "P2", got.Name)
}
