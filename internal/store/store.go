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

// Package store implements entity/relationship CRUD over the WAL:
// create/get/update/delete/link/unlink/find, soft and hard delete,
// optimistic version concurrency, and inline-link detection and hydration.
// Every namespace is single-writer: mutations take that
// namespace's mutex; reads of the live view take the read half.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/ulidgen"
	"github.com/arrowarc/parquedb/internal/wal"
)

// Entity is the in-memory projection of a live (or soft-deleted) entity row.
type Entity struct {
	NS        string
	ID        string
	Type      string
	Name      string
	Version   int64
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
	DeletedAt *time.Time
	DeletedBy string
	Data      map[string]any
}

func (e *Entity) clone() *Entity {
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

// Snapshot returns the JSON-able document the materializer/CDC layer works
// with: user data plus audit fields, matching the shape events.parquet's
// before/after columns and data.parquet's $data column expect.
func (e *Entity) Snapshot() map[string]any {
	doc := make(map[string]any, len(e.Data)+8)
	for k, v := range e.Data {
		doc[k] = v
	}
	doc["$type"] = e.Type
	doc["name"] = e.Name
	doc["version"] = e.Version
	doc["createdAt"] = e.CreatedAt
	doc["createdBy"] = e.CreatedBy
	doc["updatedAt"] = e.UpdatedAt
	doc["updatedBy"] = e.UpdatedBy
	if e.DeletedAt != nil {
		doc["deletedAt"] = *e.DeletedAt
		doc["deletedBy"] = e.DeletedBy
	}
	return doc
}

// Relationship is a directed, versioned edge between two entities.
type Relationship struct {
	FromNS, FromID string
	Predicate      string
	ToNS, ToID     string
	Reverse        string
	Version        int64
	CreatedAt      time.Time
	CreatedBy      string
	UpdatedAt      time.Time
	UpdatedBy      string
	DeletedAt      *time.Time
	Data           map[string]any
}

func relKey(fromNS, fromID, predicate, toNS, toID string) string {
	return fromNS + "\x00" + fromID + "\x00" + predicate + "\x00" + toNS + "\x00" + toID
}

type namespaceState struct {
	mu        sync.RWMutex
	entities  map[string]*Entity       // id -> entity
	relsByKey map[string]*Relationship // relKey -> relationship
}

func newNamespaceState() *namespaceState {
	return &namespaceState{
		entities:  make(map[string]*Entity),
		relsByKey: make(map[string]*Relationship),
	}
}

// EventSink receives every event the store emits, in emission order. The
// WAL is the canonical sink; tests and the CDC producer can subscribe
// additional sinks via Store.Subscribe.
type EventSink interface {
	OnEvent(ctx context.Context, ns string, ev wal.Event)
}

// Store is the entity/relationship CRUD surface.
type Store struct {
	w   *wal.WAL
	ids *ulidgen.Generator
	now func() time.Time

	mu   sync.Mutex
	nsMu map[string]*sync.Mutex // per-namespace writer mutex
	ns   map[string]*namespaceState
	rec  Reconstructor

	sinksMu sync.RWMutex
	sinks   []EventSink
}

// New builds a Store writing through w. now defaults to time.Now.
func New(w *wal.WAL, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		w:    w,
		ids:  ulidgen.New(),
		now:  now,
		nsMu: make(map[string]*sync.Mutex),
		ns:   make(map[string]*namespaceState),
	}
}

// Subscribe registers sink to receive every event this store emits.
func (s *Store) Subscribe(sink EventSink) {
	s.sinksMu.Lock()
	defer s.sinksMu.Unlock()
	s.sinks = append(s.sinks, sink)
}

func (s *Store) namespace(ns string) *namespaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.ns[ns]
	if !ok {
		n = newNamespaceState()
		s.ns[ns] = n
	}
	return n
}

func (s *Store) writerLock(ns string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.nsMu[ns]
	if !ok {
		m = &sync.Mutex{}
		s.nsMu[ns] = m
	}
	return m
}

func (s *Store) emit(ctx context.Context, ns string, ev wal.Event) error {
	if _, _, err := s.w.Append(ctx, ns, ev); err != nil {
		return err
	}
	s.sinksMu.RLock()
	sinks := append([]EventSink(nil), s.sinks...)
	s.sinksMu.RUnlock()
	for _, sink := range sinks {
		sink.OnEvent(ctx, ns, ev)
	}
	return nil
}

// CreateOptions carries the acting principal for audit fields.
type CreateOptions struct {
	Actor string
}

// Create validates $type/name, assigns a ULID, detects and converts inline
// link fields to relationships, appends a CREATE event, and returns the
// new entity.
func (s *Store) Create(ctx context.Context, ns string, data map[string]any, opts CreateOptions) (*Entity, error) {
	typ, _ := data["$type"].(string)
	if strings.TrimSpace(typ) == "" {
		return nil, parqerr.New(parqerr.KindInvalidInput, "$type is required")
	}
	name, _ := data["name"].(string)
	if strings.TrimSpace(name) == "" {
		return nil, parqerr.New(parqerr.KindInvalidInput, "name is required")
	}

	writer := s.writerLock(ns)
	writer.Lock()

	now := s.now()
	id := s.ids.Next(now)

	userData := make(map[string]any, len(data))
	var inline []inlineLink
	for k, v := range data {
		if k == "$type" || k == "name" {
			continue
		}
		if links, ok := detectInlineLinks(v); ok {
			inline = append(inline, inlineLink{predicate: k, refs: links})
			continue
		}
		userData[k] = v
	}

	e := &Entity{
		NS: ns, ID: id, Type: typ, Name: name, Version: 1,
		CreatedAt: now, CreatedBy: opts.Actor,
		UpdatedAt: now, UpdatedBy: opts.Actor,
		Data: userData,
	}

	nsState := s.namespace(ns)
	nsState.mu.Lock()
	nsState.entities[id] = e
	nsState.mu.Unlock()

	ev := wal.Event{
		ID: s.ids.Next(now), TS: now.UnixNano(), Op: "CREATE",
		Target: ns + ":" + id, Before: nil, After: e.Snapshot(), Actor: opts.Actor,
	}
	if err := s.emit(ctx, ns, ev); err != nil {
		nsState.mu.Lock()
		delete(nsState.entities, id)
		nsState.mu.Unlock()
		writer.Unlock()
		return nil, err
	}
	// Release before linking: Link re-acquires this namespace's writer role.
	writer.Unlock()

	for _, link := range inline {
		for _, ref := range link.refs {
			if _, err := s.Link(ctx, ns, id, link.predicate, ref.ns, ref.id, LinkOptions{Actor: opts.Actor}); err != nil {
				return nil, err
			}
		}
	}
	return e.clone(), nil
}

// GetOptions controls visibility and time-travel.
type GetOptions struct {
	IncludeDeleted bool
	AsOf           *time.Time
}

// Get returns the entity, or (nil, nil) if it does not exist or is hidden
// by soft delete and IncludeDeleted was not requested.
func (s *Store) Get(ctx context.Context, ns, id string, opts GetOptions) (*Entity, error) {
	if opts.AsOf != nil {
		e, err := s.getAsOf(ctx, ns, id, *opts.AsOf)
		if err != nil || e == nil {
			return nil, err
		}
		if e.DeletedAt != nil && !opts.IncludeDeleted {
			return nil, nil
		}
		return e, nil
	}
	nsState := s.namespace(ns)
	nsState.mu.RLock()
	e, ok := nsState.entities[id]
	nsState.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if e.DeletedAt != nil && !opts.IncludeDeleted {
		return nil, nil
	}
	return e.clone(), nil
}

// UpdateOptions controls audit, optimistic concurrency, and upsert.
type UpdateOptions struct {
	Actor           string
	ExpectedVersion *int64
	Upsert          bool
}

// Update applies patch operators ($set, $unset, $inc, $push/$each, $pull,
// $link, $unlink), enforces optimistic concurrency, and emits an UPDATE
// event carrying the complete before/after document.
func (s *Store) Update(ctx context.Context, ns, id string, patch Patch, opts UpdateOptions) (*Entity, error) {
	linkRefs, unlinkRefs, err := resolveLinkOps(patch)
	if err != nil {
		return nil, err
	}

	writer := s.writerLock(ns)
	writer.Lock()
	defer writer.Unlock()

	nsState := s.namespace(ns)
	nsState.mu.Lock()
	e, ok := nsState.entities[id]
	if !ok || (e.DeletedAt != nil) {
		nsState.mu.Unlock()
		if opts.Upsert {
			// Create re-acquires the writer role itself.
			writer.Unlock()
			out, err := s.upsertFromPatch(ctx, ns, id, patch, opts)
			writer.Lock()
			return out, err
		}
		return nil, parqerr.New(parqerr.KindNotFound, "entity %s/%s not found", ns, id)
	}
	if opts.ExpectedVersion != nil && *opts.ExpectedVersion != e.Version {
		nsState.mu.Unlock()
		return nil, parqerr.New(parqerr.KindVersionMismatch, "expected version %d, got %d", *opts.ExpectedVersion, e.Version).WithVersion(e.Version)
	}

	before := e.clone()
	updated := e.clone()
	if err := patch.apply(updated); err != nil {
		nsState.mu.Unlock()
		return nil, err
	}
	now := s.now()
	updated.Version++
	updated.UpdatedAt = now
	updated.UpdatedBy = opts.Actor
	nsState.entities[id] = updated
	nsState.mu.Unlock()

	ev := wal.Event{
		ID: s.ids.Next(now), TS: now.UnixNano(), Op: "UPDATE",
		Target: ns + ":" + id, Before: before.Snapshot(), After: updated.Snapshot(), Actor: opts.Actor,
	}
	if err := s.emit(ctx, ns, ev); err != nil {
		nsState.mu.Lock()
		nsState.entities[id] = e
		nsState.mu.Unlock()
		return nil, err
	}

	if len(linkRefs)+len(unlinkRefs) > 0 {
		// Link/Unlink re-acquire this namespace's writer role themselves.
		writer.Unlock()
		err := s.applyLinkOps(ctx, ns, id, linkRefs, unlinkRefs, opts.Actor)
		writer.Lock()
		if err != nil {
			return nil, err
		}
	}
	return updated.clone(), nil
}

type resolvedLinkOp struct {
	op  LinkOp
	ref inlineRef
}

// resolveLinkOps parses every $link/$unlink target up front, so a
// malformed operator fails the whole Update before any state changes.
func resolveLinkOps(patch Patch) (links, unlinks []resolvedLinkOp, err error) {
	parse := func(ops []LinkOp, kind string) ([]resolvedLinkOp, error) {
		out := make([]resolvedLinkOp, 0, len(ops))
		for _, op := range ops {
			ref, ok := parseRef(op.Target)
			if !ok {
				return nil, parqerr.New(parqerr.KindInvalidInput, "%s target %q is not an ns/id reference", kind, op.Target)
			}
			out = append(out, resolvedLinkOp{op: op, ref: ref})
		}
		return out, nil
	}
	if links, err = parse(patch.Link, "$link"); err != nil {
		return nil, nil, err
	}
	if unlinks, err = parse(patch.Unlink, "$unlink"); err != nil {
		return nil, nil, err
	}
	return links, unlinks, nil
}

func (s *Store) applyLinkOps(ctx context.Context, ns, id string, links, unlinks []resolvedLinkOp, actor string) error {
	for _, l := range links {
		opts := LinkOptions{Actor: actor, Data: l.op.Data, Reverse: l.op.Reverse}
		if _, err := s.Link(ctx, ns, id, l.op.Predicate, l.ref.ns, l.ref.id, opts); err != nil {
			return err
		}
	}
	for _, u := range unlinks {
		if _, err := s.Unlink(ctx, ns, id, u.op.Predicate, u.ref.ns, u.ref.id, actor); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertFromPatch(ctx context.Context, ns, id string, patch Patch, opts UpdateOptions) (*Entity, error) {
	data := map[string]any{}
	empty := &Entity{Data: map[string]any{}}
	if err := patch.apply(empty); err != nil {
		return nil, err
	}
	for k, v := range empty.Data {
		data[k] = v
	}
	if empty.Type != "" {
		data["$type"] = empty.Type
	}
	if empty.Name != "" {
		data["name"] = empty.Name
	}
	created, err := s.Create(ctx, ns, data, CreateOptions{Actor: opts.Actor})
	if err != nil {
		return nil, err
	}
	links, unlinks, err := resolveLinkOps(patch)
	if err != nil {
		return nil, err
	}
	if err := s.applyLinkOps(ctx, ns, created.ID, links, unlinks, opts.Actor); err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteOptions controls hard vs soft delete and concurrency.
type DeleteOptions struct {
	Actor           string
	Hard            bool
	ExpectedVersion *int64
}

// Delete soft-deletes by default (setting deletedAt/deletedBy, bumping
// version, and soft-deleting incident relationships) or hard-deletes
// (removing the row and cascading) when opts.Hard is set.
func (s *Store) Delete(ctx context.Context, ns, id string, opts DeleteOptions) (bool, error) {
	writer := s.writerLock(ns)
	writer.Lock()
	defer writer.Unlock()

	nsState := s.namespace(ns)
	nsState.mu.Lock()
	e, ok := nsState.entities[id]
	if !ok {
		nsState.mu.Unlock()
		return false, nil
	}
	if opts.ExpectedVersion != nil && *opts.ExpectedVersion != e.Version {
		nsState.mu.Unlock()
		return false, parqerr.New(parqerr.KindVersionMismatch, "expected version %d, got %d", *opts.ExpectedVersion, e.Version).WithVersion(e.Version)
	}

	before := e.clone()
	now := s.now()
	var after map[string]any

	if opts.Hard {
		delete(nsState.entities, id)
		for k, rel := range nsState.relsByKey {
			if rel.FromNS == ns && rel.FromID == id || rel.ToNS == ns && rel.ToID == id {
				delete(nsState.relsByKey, k)
			}
		}
	} else {
		updated := e.clone()
		updated.Version++
		updated.DeletedAt = &now
		updated.DeletedBy = opts.Actor
		updated.UpdatedAt = now
		updated.UpdatedBy = opts.Actor
		nsState.entities[id] = updated
		after = updated.Snapshot()
		for _, rel := range nsState.relsByKey {
			if (rel.FromNS == ns && rel.FromID == id || rel.ToNS == ns && rel.ToID == id) && rel.DeletedAt == nil {
				rel.DeletedAt = &now
				rel.Version++
			}
		}
	}
	nsState.mu.Unlock()

	ev := wal.Event{
		ID: s.ids.Next(now), TS: now.UnixNano(), Op: "DELETE",
		Target: ns + ":" + id, Before: before.Snapshot(), After: after, Actor: opts.Actor,
	}
	if err := s.emit(ctx, ns, ev); err != nil {
		nsState.mu.Lock()
		nsState.entities[id] = e
		nsState.mu.Unlock()
		return false, err
	}
	return true, nil
}

// LinkOptions carries the acting principal, optional edge data, and an
// explicit reverse-predicate override.
type LinkOptions struct {
	Actor   string
	Data    map[string]any
	Reverse string
}

func defaultReverse(predicate string) string {
	if strings.HasSuffix(predicate, "s") {
		return predicate
	}
	return predicate + "s"
}

// Link creates or idempotently revives a directed edge. Repeated calls
// never create duplicate edges; reviving a soft-deleted edge
// bumps its version and rewrites its data.
func (s *Store) Link(ctx context.Context, fromNS, fromID, predicate, toNS, toID string, opts LinkOptions) (*Relationship, error) {
	writer := s.writerLock(fromNS)
	writer.Lock()
	defer writer.Unlock()

	nsState := s.namespace(fromNS)
	key := relKey(fromNS, fromID, predicate, toNS, toID)

	nsState.mu.Lock()
	defer nsState.mu.Unlock()

	now := s.now()
	reverse := opts.Reverse
	if reverse == "" {
		reverse = defaultReverse(predicate)
	}

	if existing, ok := nsState.relsByKey[key]; ok {
		if existing.DeletedAt == nil {
			return existing, nil // already live: idempotent no-op
		}
		prev := *existing
		existing.DeletedAt = nil
		existing.Version++
		existing.UpdatedAt = now
		existing.UpdatedBy = opts.Actor
		existing.Data = opts.Data
		if err := s.emitRelEvent(ctx, fromNS, "CREATE", existing, opts.Actor, now); err != nil {
			*existing = prev
			return nil, err
		}
		return existing, nil
	}

	rel := &Relationship{
		FromNS: fromNS, FromID: fromID, Predicate: predicate,
		ToNS: toNS, ToID: toID, Reverse: reverse, Version: 1,
		CreatedAt: now, CreatedBy: opts.Actor, UpdatedAt: now, UpdatedBy: opts.Actor,
		Data: opts.Data,
	}
	nsState.relsByKey[key] = rel
	if err := s.emitRelEvent(ctx, fromNS, "CREATE", rel, opts.Actor, now); err != nil {
		delete(nsState.relsByKey, key)
		return nil, err
	}
	return rel, nil
}

// Unlink soft-deletes a live edge; it is idempotent.
func (s *Store) Unlink(ctx context.Context, fromNS, fromID, predicate, toNS, toID string, actor string) (bool, error) {
	writer := s.writerLock(fromNS)
	writer.Lock()
	defer writer.Unlock()

	nsState := s.namespace(fromNS)
	key := relKey(fromNS, fromID, predicate, toNS, toID)

	nsState.mu.Lock()
	defer nsState.mu.Unlock()

	rel, ok := nsState.relsByKey[key]
	if !ok || rel.DeletedAt != nil {
		return false, nil
	}
	prev := *rel
	now := s.now()
	rel.DeletedAt = &now
	rel.Version++
	rel.UpdatedAt = now
	rel.UpdatedBy = actor
	if err := s.emitRelEvent(ctx, fromNS, "DELETE", rel, actor, now); err != nil {
		*rel = prev
		return false, err
	}
	return true, nil
}

// emitRelEvent appends the edge mutation to the WAL; callers roll their
// map mutation back when it fails, the same way entity mutations do.
func (s *Store) emitRelEvent(ctx context.Context, ns, op string, rel *Relationship, actor string, now time.Time) error {
	target := fmt.Sprintf("%s/%s-%s-%s/%s", rel.FromNS, rel.FromID, rel.Predicate, rel.ToNS, rel.ToID)
	return s.emit(ctx, ns, wal.Event{
		ID: s.ids.Next(now), TS: now.UnixNano(), Op: op, Target: target, Actor: actor,
		After: map[string]any{
			"from":      rel.FromNS + "/" + rel.FromID,
			"predicate": rel.Predicate,
			"to":        rel.ToNS + "/" + rel.ToID,
			"reverse":   rel.Reverse,
			"version":   rel.Version,
			"createdAt": rel.CreatedAt,
			"data":      rel.Data,
		},
	})
}

// Namespaces returns every namespace this store has touched.
func (s *Store) Namespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ns))
	for ns := range s.ns {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Relationships returns every live outbound edge from (ns, id), optionally
// filtered to one predicate.
func (s *Store) Relationships(ns, id, predicate string) []*Relationship {
	nsState := s.namespace(ns)
	nsState.mu.RLock()
	defer nsState.mu.RUnlock()
	var out []*Relationship
	for _, rel := range nsState.relsByKey {
		if rel.DeletedAt != nil || rel.FromNS != ns || rel.FromID != id {
			continue
		}
		if predicate != "" && rel.Predicate != predicate {
			continue
		}
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToID < out[j].ToID })
	return out
}

// HydrateNames resolves the display name of every related entity in rels
// via a single batched lookup per namespace, avoiding N+1 reads.
func (s *Store) HydrateNames(rels []*Relationship) map[string]string {
	byNS := make(map[string][]string)
	for _, r := range rels {
		byNS[r.ToNS] = append(byNS[r.ToNS], r.ToID)
	}
	names := make(map[string]string)
	for ns, ids := range byNS {
		nsState := s.namespace(ns)
		nsState.mu.RLock()
		for _, id := range ids {
			if e, ok := nsState.entities[id]; ok {
				names[ns+"/"+id] = e.Name
			}
		}
		nsState.mu.RUnlock()
	}
	return names
}
