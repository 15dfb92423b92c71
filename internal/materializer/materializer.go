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

// Package materializer turns unflushed WAL batches into the three canonical
// Parquet artifacts — data.parquet, rels.parquet, events.parquet. A flush
// reads the prior artifacts, folds the new events on top, and swaps the
// results in atomically; a failure anywhere leaves the WAL rows unflushed
// so the whole pass retries.
package materializer

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/parquetio"
	"github.com/arrowarc/parquedb/internal/storage"
	"github.com/arrowarc/parquedb/internal/variant"
	"github.com/arrowarc/parquedb/internal/wal"
)

// Artifact paths under the dataset root.
const (
	DataPath   = "data.parquet"
	RelsPath   = "rels.parquet"
	EventsPath = "events.parquet"
)

// Materializer replays WAL batches into Parquet artifacts on the storage
// plane and records a checkpoint for every successful pass.
type Materializer struct {
	wal     *wal.WAL
	backend storage.Backend
	opts    *parquetio.Options
	logger  log.Logger
}

// New builds a Materializer. opts nil means parquetio.DefaultOptions
// (SNAPPY); logger nil means no logging.
func New(w *wal.WAL, backend storage.Backend, opts *parquetio.Options, logger log.Logger) *Materializer {
	if opts == nil {
		opts = parquetio.DefaultOptions()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Materializer{wal: w, backend: backend, opts: opts, logger: logger}
}

// Flush materializes every unflushed WAL batch across all namespaces. It is
// a no-op when nothing is pending.
func (m *Materializer) Flush(ctx context.Context) error {
	namespaces, err := m.wal.Namespaces(ctx)
	if err != nil {
		return err
	}
	if len(namespaces) == 0 {
		return nil
	}

	var rowIDs []int64
	lastSeqByNS := make(map[string]int64)
	var newEvents []wal.Event
	var pending []wal.PendingRowGroup
	for _, ns := range namespaces {
		rows, err := m.wal.Unflushed(ctx, ns)
		if err != nil {
			return err
		}
		for _, row := range rows {
			events, err := wal.DecodeEventBlob(row.Events)
			if err != nil {
				return err
			}
			newEvents = append(newEvents, events...)
			rowIDs = append(rowIDs, row.ID)
			if row.LastSeq > lastSeqByNS[ns] {
				lastSeqByNS[ns] = row.LastSeq
			}
		}
		groups, err := m.wal.PendingRowGroups(ctx, ns)
		if err != nil {
			return err
		}
		pending = append(pending, groups...)
	}
	if len(newEvents) == 0 && len(pending) == 0 {
		return nil
	}

	prior, err := m.readPriorEvents(ctx)
	if err != nil {
		return err
	}

	newRows := make([]parquetio.EventRow, 0, len(newEvents))
	for _, ev := range newEvents {
		row, err := eventToRow(ev)
		if err != nil {
			return err
		}
		newRows = append(newRows, row)
	}

	all := append(prior, newRows...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].TS != all[j].TS {
			return all[i].TS < all[j].TS
		}
		return all[i].ID < all[j].ID
	})

	dataRows, relRows, touched, err := fold(all)
	if err != nil {
		return err
	}
	dataRows, err = m.mergeEventlessRows(ctx, dataRows, touched, pending)
	if err != nil {
		return err
	}

	if err := m.writeArtifacts(ctx, all, dataRows, relRows); err != nil {
		return err
	}

	if len(newRows) > 0 {
		checkpointID, err := m.wal.RecordCheckpoint(ctx, EventsPath, newRows[0].ID, newRows[len(newRows)-1].ID, len(newRows))
		if err != nil {
			return err
		}
		if err := m.wal.MarkFlushed(ctx, rowIDs); err != nil {
			return err
		}
		for ns, lastSeq := range lastSeqByNS {
			if _, err := m.wal.DeleteFlushedBefore(ctx, ns, lastSeq); err != nil {
				return err
			}
		}
		level.Info(m.logger).Log("msg", "materialized wal batches",
			"checkpoint", checkpointID, "events", len(newRows), "entities", len(dataRows), "rels", len(relRows))
	}

	if len(pending) > 0 {
		ids := make([]int64, 0, len(pending))
		for _, g := range pending {
			ids = append(ids, g.ID)
		}
		if err := m.wal.DeletePendingRowGroups(ctx, ids); err != nil {
			return err
		}
		for _, g := range pending {
			if _, err := m.backend.Delete(ctx, g.Path); err != nil {
				level.Warn(m.logger).Log("msg", "remove consumed staging artifact", "path", g.Path, "err", err)
			}
		}
		level.Info(m.logger).Log("msg", "folded bulk staging artifacts", "groups", len(pending))
	}
	return nil
}

// mergeEventlessRows carries forward the data.parquet rows the event log
// does not own: bulk-staged entities, both freshly pending and already
// folded by an earlier flush. An id touched by any entity event belongs to
// the fold result and is never carried.
func (m *Materializer) mergeEventlessRows(ctx context.Context, dataRows []parquetio.DataRow, touched map[string]struct{}, pending []wal.PendingRowGroup) ([]parquetio.DataRow, error) {
	seen := make(map[string]struct{}, len(dataRows))
	for _, row := range dataRows {
		seen[row.ID] = struct{}{}
	}
	carry := func(rows []parquetio.DataRow) {
		for _, row := range rows {
			if _, owned := touched[row.ID]; owned {
				continue
			}
			if _, dup := seen[row.ID]; dup {
				continue
			}
			seen[row.ID] = struct{}{}
			dataRows = append(dataRows, row)
		}
	}

	priorData, err := m.readPriorData(ctx)
	if err != nil {
		return nil, err
	}
	carry(priorData)

	for _, g := range pending {
		staged, err := m.backend.Read(ctx, g.Path)
		if err != nil {
			return nil, err
		}
		rows, err := parquetio.ReadRows[parquetio.DataRow](bytes.NewReader(staged))
		if err != nil {
			return nil, err
		}
		carry(rows)
	}

	sort.Slice(dataRows, func(i, j int) bool { return dataRows[i].ID < dataRows[j].ID })
	return dataRows, nil
}

func (m *Materializer) readPriorEvents(ctx context.Context) ([]parquetio.EventRow, error) {
	data, err := m.backend.Read(ctx, EventsPath)
	if err != nil {
		if parqerr.Is(err, parqerr.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return parquetio.ReadRows[parquetio.EventRow](bytes.NewReader(data))
}

func (m *Materializer) readPriorData(ctx context.Context) ([]parquetio.DataRow, error) {
	data, err := m.backend.Read(ctx, DataPath)
	if err != nil {
		if parqerr.Is(err, parqerr.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return parquetio.ReadRows[parquetio.DataRow](bytes.NewReader(data))
}

func (m *Materializer) writeArtifacts(ctx context.Context, events []parquetio.EventRow, dataRows []parquetio.DataRow, relRows []parquetio.RelRow) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var buf bytes.Buffer
		if err := parquetio.WriteEvents(&buf, events, m.opts); err != nil {
			return err
		}
		_, err := m.backend.WriteAtomic(gctx, EventsPath, buf.Bytes(), storage.WriteOptions{})
		return err
	})
	g.Go(func() error {
		var buf bytes.Buffer
		if err := parquetio.WriteData(&buf, dataRows, m.opts); err != nil {
			return err
		}
		_, err := m.backend.WriteAtomic(gctx, DataPath, buf.Bytes(), storage.WriteOptions{})
		return err
	})
	g.Go(func() error {
		// rels.parquet exists only when edges do.
		if len(relRows) == 0 {
			return nil
		}
		var buf bytes.Buffer
		if err := parquetio.WriteRels(&buf, relRows, m.opts); err != nil {
			return err
		}
		_, err := m.backend.WriteAtomic(gctx, RelsPath, buf.Bytes(), storage.WriteOptions{})
		return err
	})
	return g.Wait()
}

func eventToRow(ev wal.Event) (parquetio.EventRow, error) {
	row := parquetio.EventRow{ID: ev.ID, TS: ev.TS, Op: ev.Op, Target: ev.Target, Actor: ev.Actor}
	var err error
	if ev.Before != nil {
		if row.Before, err = variant.Encode(ev.Before); err != nil {
			return row, parqerr.Wrap(parqerr.KindInvalidInput, err, "encode event %s before image", ev.ID)
		}
	}
	if ev.After != nil {
		if row.After, err = variant.Encode(ev.After); err != nil {
			return row, parqerr.Wrap(parqerr.KindInvalidInput, err, "encode event %s after image", ev.ID)
		}
	}
	if ev.Metadata != nil {
		if row.Metadata, err = variant.Encode(ev.Metadata); err != nil {
			return row, parqerr.Wrap(parqerr.KindInvalidInput, err, "encode event %s metadata", ev.ID)
		}
	}
	return row, nil
}

// fold replays the full, ordered event log into the entity snapshot and
// the live-edge set, also reporting which "ns/id" ids the log touched.
// Soft-deleted entities stay in data.parquet with their deletedAt inside
// $data; hard-deleted ones disappear.
func fold(events []parquetio.EventRow) ([]parquetio.DataRow, []parquetio.RelRow, map[string]struct{}, error) {
	docs := make(map[string]map[string]any)   // "ns/id" -> latest document
	rels := make(map[string]parquetio.RelRow) // rel target -> live edge
	touched := make(map[string]struct{})      // every entity id the log mentions

	for _, ev := range events {
		after, err := decodeVariantDoc(ev.After)
		if err != nil {
			return nil, nil, nil, parqerr.Wrap(parqerr.KindInvalidInput, err, "decode event %s after image", ev.ID)
		}

		if strings.Contains(ev.Target, ":") {
			id := strings.Replace(ev.Target, ":", "/", 1)
			touched[id] = struct{}{}
			switch ev.Op {
			case "CREATE", "UPDATE":
				docs[id] = after
			case "DELETE":
				if after == nil {
					delete(docs, id)
				} else {
					docs[id] = after
				}
			}
			continue
		}

		// Relationship event: the after image carries the edge triple.
		switch ev.Op {
		case "CREATE":
			if after == nil {
				continue
			}
			from, _ := after["from"].(string)
			predicate, _ := after["predicate"].(string)
			to, _ := after["to"].(string)
			rels[ev.Target] = parquetio.RelRow{
				SourceID:    from,
				SourceField: predicate,
				TargetID:    to,
				CreatedAt:   ev.TS,
			}
		case "DELETE":
			delete(rels, ev.Target)
		}
	}

	dataRows := make([]parquetio.DataRow, 0, len(docs))
	for id, doc := range docs {
		typ, _ := doc["$type"].(string)
		name, _ := doc["name"].(string)
		encoded, err := variant.Encode(doc)
		if err != nil {
			return nil, nil, nil, parqerr.Wrap(parqerr.KindInvalidInput, err, "encode entity %s document", id)
		}
		dataRows = append(dataRows, parquetio.DataRow{ID: id, Type: typ, Name: name, Data: encoded})
	}
	sort.Slice(dataRows, func(i, j int) bool { return dataRows[i].ID < dataRows[j].ID })

	relRows := make([]parquetio.RelRow, 0, len(rels))
	for _, r := range rels {
		relRows = append(relRows, r)
	}
	sort.Slice(relRows, func(i, j int) bool {
		if relRows[i].SourceID != relRows[j].SourceID {
			return relRows[i].SourceID < relRows[j].SourceID
		}
		return relRows[i].TargetID < relRows[j].TargetID
	})
	return dataRows, relRows, touched, nil
}

// DecodeEventRow is the inverse of the encoding Flush applies: an
// events.parquet row back into the event shape the WAL and the time-travel
// engine work with. The startup rehydration path replays these.
func DecodeEventRow(row parquetio.EventRow) (wal.Event, error) {
	ev := wal.Event{ID: row.ID, TS: row.TS, Op: row.Op, Target: row.Target, Actor: row.Actor}
	var err error
	if len(row.Before) > 0 {
		if ev.Before, err = variant.Decode(row.Before); err != nil {
			return ev, parqerr.Wrap(parqerr.KindInvalidInput, err, "decode event %s before image", row.ID)
		}
	}
	if len(row.After) > 0 {
		if ev.After, err = variant.Decode(row.After); err != nil {
			return ev, parqerr.Wrap(parqerr.KindInvalidInput, err, "decode event %s after image", row.ID)
		}
	}
	if len(row.Metadata) > 0 {
		if ev.Metadata, err = variant.Decode(row.Metadata); err != nil {
			return ev, parqerr.Wrap(parqerr.KindInvalidInput, err, "decode event %s metadata", row.ID)
		}
	}
	return ev, nil
}

func decodeVariantDoc(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	v, err := variant.Decode(b)
	if err != nil {
		return nil, err
	}
	doc, _ := v.(map[string]any)
	return doc, nil
}
