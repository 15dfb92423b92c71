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

package store

import (
	"strings"
	"time"

	"github.com/arrowarc/parquedb/internal/wal"
)

// EntityFromSnapshot rebuilds an Entity out of the document shape Snapshot
// produces. Documents that crossed a JSON or variant boundary carry
// timestamps as RFC 3339 strings and versions as float64; every form is
// accepted.
func EntityFromSnapshot(ns, id string, doc map[string]any) *Entity {
	e := &Entity{NS: ns, ID: id, Data: make(map[string]any)}
	for k, v := range doc {
		switch k {
		case "$type":
			e.Type, _ = v.(string)
		case "name":
			e.Name, _ = v.(string)
		case "version":
			e.Version = toInt64(v)
		case "createdAt":
			if t, ok := toTime(v); ok {
				e.CreatedAt = t
			}
		case "createdBy":
			e.CreatedBy, _ = v.(string)
		case "updatedAt":
			if t, ok := toTime(v); ok {
				e.UpdatedAt = t
			}
		case "updatedBy":
			e.UpdatedBy, _ = v.(string)
		case "deletedAt":
			if t, ok := toTime(v); ok {
				e.DeletedAt = &t
			}
		case "deletedBy":
			e.DeletedBy, _ = v.(string)
		default:
			e.Data[k] = v
		}
	}
	return e
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case int64:
		return time.Unix(0, t), true
	case float64:
		return time.Unix(0, int64(t)), true
	}
	return time.Time{}, false
}

// Rehydrate replays previously persisted events into the live view without
// re-emitting them: entity events set or remove map entries, relationship
// events rebuild the edge set. Events must arrive in log order; callers
// feed it the decoded events.parquet followed by any unflushed WAL rows at
// startup.
func (s *Store) Rehydrate(events []wal.Event) {
	for _, ev := range events {
		if i := strings.IndexByte(ev.Target, ':'); i >= 0 {
			s.rehydrateEntity(ev.Target[:i], ev.Target[i+1:], ev)
			continue
		}
		s.rehydrateRelationship(ev)
	}
}

func (s *Store) rehydrateEntity(ns, id string, ev wal.Event) {
	nsState := s.namespace(ns)
	nsState.mu.Lock()
	defer nsState.mu.Unlock()

	doc, _ := ev.After.(map[string]any)
	switch ev.Op {
	case "CREATE", "UPDATE":
		if doc != nil {
			nsState.entities[id] = EntityFromSnapshot(ns, id, doc)
		}
	case "DELETE":
		if doc == nil {
			delete(nsState.entities, id)
		} else {
			nsState.entities[id] = EntityFromSnapshot(ns, id, doc)
		}
	}
}

func (s *Store) rehydrateRelationship(ev wal.Event) {
	after, ok := ev.After.(map[string]any)
	if !ok {
		return
	}
	from, _ := after["from"].(string)
	to, _ := after["to"].(string)
	predicate, _ := after["predicate"].(string)
	fromNS, fromID, ok1 := splitRef(from)
	toNS, toID, ok2 := splitRef(to)
	if !ok1 || !ok2 || predicate == "" {
		return
	}

	nsState := s.namespace(fromNS)
	key := relKey(fromNS, fromID, predicate, toNS, toID)
	nsState.mu.Lock()
	defer nsState.mu.Unlock()

	switch ev.Op {
	case "CREATE":
		reverse, _ := after["reverse"].(string)
		if reverse == "" {
			reverse = defaultReverse(predicate)
		}
		createdAt := time.Unix(0, ev.TS)
		if t, ok := toTime(after["createdAt"]); ok {
			createdAt = t
		}
		data, _ := after["data"].(map[string]any)
		nsState.relsByKey[key] = &Relationship{
			FromNS: fromNS, FromID: fromID, Predicate: predicate,
			ToNS: toNS, ToID: toID, Reverse: reverse,
			Version:   toInt64(after["version"]),
			CreatedAt: createdAt, CreatedBy: ev.Actor,
			UpdatedAt: time.Unix(0, ev.TS), UpdatedBy: ev.Actor,
			Data: data,
		}
	case "DELETE":
		if rel, ok := nsState.relsByKey[key]; ok && rel.DeletedAt == nil {
			t := time.Unix(0, ev.TS)
			rel.DeletedAt = &t
			rel.Version = toInt64(after["version"])
			rel.UpdatedAt = t
			rel.UpdatedBy = ev.Actor
		}
	}
}

func splitRef(ref string) (ns, id string, ok bool) {
	i := strings.IndexByte(ref, '/')
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

// SeedEntities inserts entities into the live view without events, skipping
// ids the view already holds. The startup path uses it for rows that exist
// only in data.parquet or a bulk staging artifact — rows the event log
// never carried.
func (s *Store) SeedEntities(entities []*Entity) {
	for _, e := range entities {
		nsState := s.namespace(e.NS)
		nsState.mu.Lock()
		if _, exists := nsState.entities[e.ID]; !exists {
			nsState.entities[e.ID] = e
		}
		nsState.mu.Unlock()
	}
}
