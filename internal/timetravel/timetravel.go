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

// Package timetravel reconstructs entity state at arbitrary points in time
// . Events live in one contiguous vector per namespace; the
// per-entity index holds (ts, offset) pairs into that vector, so the
// greatest-ts-at-or-before-asOf binary search runs over contiguous memory
// . Reconstructions are cached per (entity, event offset) and
// invalidated whenever the entity mutates.
package timetravel

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arrowarc/parquedb/internal/store"
	"github.com/arrowarc/parquedb/internal/wal"
)

type eventRef struct {
	ts  int64
	idx int // offset into the namespace's event arena
}

// Engine implements store.Reconstructor. It learns about events by being
// subscribed to the Store as an EventSink, or by an explicit Replay of
// events decoded from a materialized events.parquet.
type Engine struct {
	mu     sync.RWMutex
	arenas map[string][]wal.Event // ns -> append-only event vector
	index  map[string][]eventRef  // "ns:id" -> refs sorted by (ts, idx)

	cache      map[string]*store.Entity // "ns:id@offset" -> reconstruction
	cacheKeys  map[string][]string      // "ns:id" -> its cache keys, for invalidation
	maxEntries int
}

// NewEngine builds an Engine whose reconstruction cache holds at most
// maxEntries snapshots (0 means the default of 1024).
func NewEngine(maxEntries int) *Engine {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Engine{
		arenas:     make(map[string][]wal.Event),
		index:      make(map[string][]eventRef),
		cache:      make(map[string]*store.Entity),
		cacheKeys:  make(map[string][]string),
		maxEntries: maxEntries,
	}
}

// OnEvent ingests one event. Relationship events (slash-form targets) are
// kept in the arena for completeness but not indexed per entity.
func (e *Engine) OnEvent(_ context.Context, ns string, ev wal.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	arena := e.arenas[ns]
	idx := len(arena)
	e.arenas[ns] = append(arena, ev)

	target := ev.Target
	if !strings.Contains(target, ":") {
		return
	}
	refs := e.index[target]
	// Events arrive in per-entity total order, so an append keeps
	// refs sorted; the guard covers replays that interleave namespaces.
	if n := len(refs); n > 0 && refs[n-1].ts > ev.TS {
		refs = append(refs, eventRef{ts: ev.TS, idx: idx})
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].ts != refs[j].ts {
				return refs[i].ts < refs[j].ts
			}
			return refs[i].idx < refs[j].idx
		})
	} else {
		refs = append(refs, eventRef{ts: ev.TS, idx: idx})
	}
	e.index[target] = refs
	e.invalidate(target)
}

// Replay feeds a batch of already-ordered events (for example, decoded out
// of events.parquet at startup) through the engine.
func (e *Engine) Replay(ctx context.Context, ns string, events []wal.Event) {
	for _, ev := range events {
		e.OnEvent(ctx, ns, ev)
	}
}

func (e *Engine) invalidate(target string) {
	for _, key := range e.cacheKeys[target] {
		delete(e.cache, key)
	}
	delete(e.cacheKeys, target)
}

// KnownEntities returns every entity id the engine has seen events for in
// ns, including ids since hard-deleted from the live view.
func (e *Engine) KnownEntities(ns string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	prefix := ns + ":"
	var ids []string
	for target := range e.index {
		if strings.HasPrefix(target, prefix) {
			ids = append(ids, target[len(prefix):])
		}
	}
	sort.Strings(ids)
	return ids
}

// EntityAsOf reconstructs (ns, id) at asOf: binary-search the entity's
// event refs for the greatest ts <= asOf, then replay events up to that
// offset unless a cache entry already covers it.
func (e *Engine) EntityAsOf(_ context.Context, ns, id string, asOf time.Time) (*store.Entity, error) {
	target := ns + ":" + id
	cutoff := asOf.UnixNano()

	e.mu.RLock()
	refs := e.index[target]
	// sort.Search finds the first ref with ts > cutoff; pos-1 is the
	// greatest ts <= cutoff.
	pos := sort.Search(len(refs), func(i int) bool { return refs[i].ts > cutoff })
	if pos == 0 {
		e.mu.RUnlock()
		return nil, nil
	}
	last := refs[pos-1]
	key := target + "@" + strconv.Itoa(last.idx)
	if cached, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return cloneEntity(cached), nil
	}
	replay := make([]wal.Event, 0, pos)
	arena := e.arenas[ns]
	for _, ref := range refs[:pos] {
		replay = append(replay, arena[ref.idx])
	}
	e.mu.RUnlock()

	var doc map[string]any
	for _, ev := range replay {
		switch ev.Op {
		case "CREATE", "UPDATE":
			doc, _ = ev.After.(map[string]any)
		case "DELETE":
			if after, ok := ev.After.(map[string]any); ok {
				doc = after // soft delete keeps the audited document
			} else {
				doc = nil
			}
		}
	}
	if doc == nil {
		return nil, nil
	}
	entity := store.EntityFromSnapshot(ns, id, doc)

	e.mu.Lock()
	if len(e.cache) >= e.maxEntries {
		// Full reset over per-entry LRU bookkeeping: reconstructions are
		// cheap to redo and the cap is rarely hit.
		e.cache = make(map[string]*store.Entity)
		e.cacheKeys = make(map[string][]string)
	}
	e.cache[key] = entity
	e.cacheKeys[target] = append(e.cacheKeys[target], key)
	e.mu.Unlock()

	return cloneEntity(entity), nil
}

func cloneEntity(e *store.Entity) *store.Entity {
	cp := *e
	cp.Data = make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		cp.Data[k] = v
	}
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}
