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

// Package parquedb is an embeddable, event-sourced entity store persisting
// state as columnar Parquet artifacts on an object-storage substrate, with
// a write-ahead log buffering writes through an embedded state machine.
// The DB type ties together the storage plane, WAL, entity store,
// materializer, time-travel engine, secondary indexes, and CDC stream.
package parquedb

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/thanos-io/objstore"

	"github.com/arrowarc/parquedb/internal/cdc"
	"github.com/arrowarc/parquedb/internal/config"
	"github.com/arrowarc/parquedb/internal/index"
	"github.com/arrowarc/parquedb/internal/materializer"
	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/parquetio"
	"github.com/arrowarc/parquedb/internal/storage"
	"github.com/arrowarc/parquedb/internal/storage/observed"
	"github.com/arrowarc/parquedb/internal/store"
	"github.com/arrowarc/parquedb/internal/timetravel"
	"github.com/arrowarc/parquedb/internal/ulidgen"
	"github.com/arrowarc/parquedb/internal/variant"
	"github.com/arrowarc/parquedb/internal/wal"
)

// Re-exported types so callers work entirely through this package.
type (
	Entity        = store.Entity
	Relationship  = store.Relationship
	Filter        = store.Filter
	Patch         = store.Patch
	CreateOptions = store.CreateOptions
	GetOptions    = store.GetOptions
	UpdateOptions = store.UpdateOptions
	DeleteOptions = store.DeleteOptions
	LinkOptions   = store.LinkOptions
	FindOptions   = store.FindOptions
)

// Options customizes construction beyond what config.Config carries.
// Backend, when set, overrides the configured backend entirely; Bucket
// supplies the objstore.Bucket an s3-configured store runs on (the caller
// builds it from the R2_* environment).
type Options struct {
	Backend storage.Backend
	Bucket  objstore.Bucket
	Logger  log.Logger
	Hooks   *observed.Hooks
	// Source identifies the CDC producer; zero value disables CDC.
	Source cdc.Source
}

// FindResult is the paged answer to Find.
type FindResult struct {
	Items   []*Entity
	Total   int
	HasMore bool
}

// DB is one open dataset.
type DB struct {
	cfg     *config.Config
	logger  log.Logger
	backend storage.Backend
	wal     *wal.WAL
	store   *store.Store
	engine  *timetravel.Engine
	mat     *materializer.Materializer
	reader  *index.Reader
	sink    *cdc.StoreSink

	mu     sync.Mutex
	closed bool
}

// Open builds a DB from cfg: storage backend wrapped in circuit breaker
// and observability, WAL, store, materializer, time-travel engine, index
// reader, and (when opts.Source is set) the CDC stream.
func Open(cfg *config.Config, opts Options) (*DB, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	inner := opts.Backend
	if inner == nil {
		var err error
		switch cfg.Store.Backend {
		case config.BackendMemory:
			inner = storage.NewMemory()
		case config.BackendFilesystem:
			if inner, err = storage.NewFilesystem(cfg.Store.Root); err != nil {
				return nil, err
			}
		case config.BackendS3:
			if opts.Bucket == nil {
				return nil, parqerr.New(parqerr.KindInvalidInput, "s3 backend requires an objstore bucket")
			}
			inner = storage.NewObjstoreBackend(opts.Bucket)
		}
	}

	breaker := observed.NewBreakerBackend(inner, observed.CircuitBreakerConfig{
		Name:             "storage",
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		ResetTimeoutMs:   int64(cfg.CircuitBreaker.ResetTimeoutMs),
		FailureWindowMs:  int64(cfg.CircuitBreaker.FailureWindowMs),
	})
	backend := observed.Wrap(breaker, opts.Hooks, logger)

	w, err := wal.Open(cfg.WAL.SQLitePath, wal.Config{
		MaxBufferSize:  cfg.WAL.MaxBufferSize,
		MaxBufferBytes: cfg.WAL.MaxBufferBytes,
	})
	if err != nil {
		return nil, err
	}

	st := store.New(w, nil)
	engine := timetravel.NewEngine(0)
	st.SetReconstructor(engine)
	st.Subscribe(engine)

	db := &DB{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		wal:     w,
		store:   st,
		engine:  engine,
		mat:     materializer.New(w, backend, nil, logger),
		reader:  index.NewReader(backend, index.NewCache(cfg.Index.CacheBudgetBytes)),
	}
	if opts.Source != (cdc.Source{}) {
		db.sink = cdc.NewStoreSink(cdc.NewProducer(opts.Source, nil))
		st.Subscribe(db.sink)
	}

	// A reopened dataset starts from what it already persisted.
	if err := db.rehydrate(context.Background()); err != nil {
		w.Close()
		return nil, err
	}
	return db, nil
}

// Create validates and inserts one entity.
func (d *DB) Create(ctx context.Context, ns string, data map[string]any, opts CreateOptions) (*Entity, error) {
	return d.store.Create(ctx, ns, data, opts)
}

// CreateMany inserts many entities in one call. At or above the WAL's bulk
// threshold, the event buffer is bypassed: rows stream to a staging
// Parquet artifact and one pending_row_groups row records the reserved
// sequence range.
func (d *DB) CreateMany(ctx context.Context, ns string, items []map[string]any, opts CreateOptions) ([]*Entity, error) {
	if len(items) < d.wal.BulkThreshold() {
		out := make([]*Entity, 0, len(items))
		for _, item := range items {
			e, err := d.store.Create(ctx, ns, item, opts)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	}

	entities, err := d.store.CreateBulk(ctx, ns, items, opts)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	bw, err := parquetio.NewBulkEntityWriter(&buf)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		doc, err := variant.Encode(e.Snapshot())
		if err != nil {
			return nil, err
		}
		bw.Append(ns+"/"+e.ID, e.Type, e.Name, doc)
	}
	if err := bw.Close(); err != nil {
		return nil, err
	}

	stagingPath := "staging/" + ulidgen.NewID() + ".parquet"
	if _, err := d.backend.WriteAtomic(ctx, stagingPath, buf.Bytes(), storage.WriteOptions{}); err != nil {
		return nil, err
	}

	firstSeq, lastSeq := d.wal.ReserveSequenceRange(ns, len(entities))
	if err := d.wal.RecordPendingRowGroup(ctx, ns, stagingPath, len(entities), firstSeq, lastSeq); err != nil {
		return nil, err
	}
	level.Debug(d.logger).Log("msg", "bulk create staged", "ns", ns, "rows", len(entities), "path", stagingPath)
	return entities, nil
}

// Get reads one entity; AsOf delegates to the time-travel engine.
func (d *DB) Get(ctx context.Context, ns, id string, opts GetOptions) (*Entity, error) {
	return d.store.Get(ctx, ns, id, opts)
}

// Update applies patch operators under optimistic concurrency.
func (d *DB) Update(ctx context.Context, ns, id string, patch Patch, opts UpdateOptions) (*Entity, error) {
	return d.store.Update(ctx, ns, id, patch, opts)
}

// Delete removes (soft by default) one entity.
func (d *DB) Delete(ctx context.Context, ns, id string, opts DeleteOptions) (bool, error) {
	return d.store.Delete(ctx, ns, id, opts)
}

// Link creates or revives a directed edge; Unlink soft-deletes it.
func (d *DB) Link(ctx context.Context, fromNS, fromID, predicate, toNS, toID string, opts LinkOptions) (*Relationship, error) {
	return d.store.Link(ctx, fromNS, fromID, predicate, toNS, toID, opts)
}

func (d *DB) Unlink(ctx context.Context, fromNS, fromID, predicate, toNS, toID, actor string) (bool, error) {
	return d.store.Unlink(ctx, fromNS, fromID, predicate, toNS, toID, actor)
}

// Relationships lists live outbound edges.
func (d *DB) Relationships(ns, id, predicate string) []*Relationship {
	return d.store.Relationships(ns, id, predicate)
}

// Find evaluates filter over ns. The index selector routes $text to FTS
// and, when matching secondary indexes exist, $in to sharded hash probes
// and ranges to SST shards; everything else scans the live view with the
// filter applied directly.
func (d *DB) Find(ctx context.Context, ns string, filter Filter, opts FindOptions) (*FindResult, error) {
	items, err := d.findItems(ctx, ns, filter, opts)
	if err != nil {
		return nil, err
	}

	// Total counts all matches before paging.
	unpaged := opts
	unpaged.Limit = 0
	unpaged.Offset = 0
	all, err := d.findItems(ctx, ns, filter, unpaged)
	if err != nil {
		return nil, err
	}
	return &FindResult{
		Items:   items,
		Total:   len(all),
		HasMore: opts.Limit > 0 && opts.Offset+len(items) < len(all),
	}, nil
}

func (d *DB) findItems(ctx context.Context, ns string, filter Filter, opts FindOptions) ([]*Entity, error) {
	if opts.AsOf != nil {
		return d.store.Find(ctx, ns, filter, opts)
	}

	cat, err := d.reader.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	plan := index.Select(filter, cat)

	switch plan.Strategy {
	case index.StrategyFTS:
		res, err := d.reader.TextSearch(ctx, plan.Entry, plan.Query)
		if err != nil {
			return nil, err
		}
		return d.entitiesByDocIDs(ctx, ns, res.DocIDs, opts)
	case index.StrategyHash:
		res, err := d.reader.HashLookup(ctx, plan.Entry, plan.Values...)
		if err != nil {
			return nil, err
		}
		return d.entitiesByDocIDs(ctx, ns, res.DocIDs, opts)
	case index.StrategySST:
		res, err := d.reader.RangeLookup(ctx, plan.Entry, plan.Bounds)
		if err != nil {
			return nil, err
		}
		return d.entitiesByDocIDs(ctx, ns, res.DocIDs, opts)
	default:
		return d.store.Find(ctx, ns, filter, opts)
	}
}

func (d *DB) entitiesByDocIDs(ctx context.Context, ns string, docIDs []string, opts FindOptions) ([]*Entity, error) {
	items := make([]*Entity, 0, len(docIDs))
	for _, docID := range docIDs {
		id := docID
		if idx := strings.IndexByte(docID, '/'); idx >= 0 {
			if docID[:idx] != ns {
				continue
			}
			id = docID[idx+1:]
		}
		e, err := d.store.Get(ctx, ns, id, GetOptions{IncludeDeleted: opts.IncludeDeleted})
		if err != nil {
			return nil, err
		}
		if e != nil {
			items = append(items, e)
		}
	}
	return items, nil
}

// Flush drains every namespace's buffer into WAL rows and materializes the
// Parquet artifacts.
func (d *DB) Flush(ctx context.Context) error {
	for _, ns := range d.store.Namespaces() {
		if err := d.wal.Flush(ctx, ns); err != nil {
			return err
		}
	}
	return d.mat.Flush(ctx)
}

// CDCRecords returns every CDC record produced so far; empty when CDC was
// not configured.
func (d *DB) CDCRecords() []cdc.Record {
	if d.sink == nil {
		return nil
	}
	return d.sink.Records()
}

// IndexCacheStats exposes the shared index cache occupancy.
func (d *DB) IndexCacheStats() index.Stats {
	return d.reader.Cache().Stats()
}

// Close flushes and releases resources. Closing twice is a no-op.
func (d *DB) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if err := d.Flush(ctx); err != nil {
		level.Error(d.logger).Log("msg", "flush on close", "err", err)
		d.wal.Close()
		return err
	}
	return d.wal.Close()
}
