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

package parquedb

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/go-kit/log/level"

	"github.com/arrowarc/parquedb/internal/materializer"
	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/parquetio"
	"github.com/arrowarc/parquedb/internal/store"
	"github.com/arrowarc/parquedb/internal/variant"
	"github.com/arrowarc/parquedb/internal/wal"
)

// rehydrate rebuilds the live view and the time-travel engine from what
// the dataset already persisted: the decoded events.parquet log, any
// unflushed WAL rows, and the rows only the artifacts know about —
// bulk-staged entities, whether already folded into data.parquet or still
// pending in a staging artifact.
func (d *DB) rehydrate(ctx context.Context) error {
	events, err := d.persistedEvents(ctx)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		d.store.Rehydrate(events)

		byNS := make(map[string][]wal.Event)
		var order []string
		for _, ev := range events {
			ns := namespaceOf(ev.Target)
			if ns == "" {
				continue
			}
			if _, ok := byNS[ns]; !ok {
				order = append(order, ns)
			}
			byNS[ns] = append(byNS[ns], ev)
		}
		for _, ns := range order {
			d.engine.Replay(ctx, ns, byNS[ns])
		}
		level.Debug(d.logger).Log("msg", "replayed persisted events", "events", len(events), "namespaces", len(order))
	}

	if err := d.seedDataRows(ctx); err != nil {
		return err
	}
	return d.seedPendingRows(ctx)
}

// persistedEvents merges the materialized event log with unflushed WAL
// rows, ordered by (ts, id) the way the materializer would fold them.
func (d *DB) persistedEvents(ctx context.Context) ([]wal.Event, error) {
	var events []wal.Event

	data, err := d.backend.Read(ctx, materializer.EventsPath)
	switch {
	case err == nil:
		rows, err := parquetio.ReadRows[parquetio.EventRow](bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			ev, err := materializer.DecodeEventRow(row)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
	case !parqerr.Is(err, parqerr.KindNotFound):
		return nil, err
	}

	namespaces, err := d.wal.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	for _, ns := range namespaces {
		rows, err := d.wal.Unflushed(ctx, ns)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			decoded, err := wal.DecodeEventBlob(row.Events)
			if err != nil {
				return nil, err
			}
			events = append(events, decoded...)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].TS != events[j].TS {
			return events[i].TS < events[j].TS
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

// seedDataRows seeds data.parquet rows the event replay did not produce.
func (d *DB) seedDataRows(ctx context.Context) error {
	data, err := d.backend.Read(ctx, materializer.DataPath)
	if err != nil {
		if parqerr.Is(err, parqerr.KindNotFound) {
			return nil
		}
		return err
	}
	rows, err := parquetio.ReadRows[parquetio.DataRow](bytes.NewReader(data))
	if err != nil {
		return err
	}
	return d.seedRows(rows)
}

// seedPendingRows seeds entities from bulk staging artifacts not yet
// folded by a flush.
func (d *DB) seedPendingRows(ctx context.Context) error {
	namespaces, err := d.wal.Namespaces(ctx)
	if err != nil {
		return err
	}
	for _, ns := range namespaces {
		groups, err := d.wal.PendingRowGroups(ctx, ns)
		if err != nil {
			return err
		}
		for _, g := range groups {
			staged, err := d.backend.Read(ctx, g.Path)
			if err != nil {
				if parqerr.Is(err, parqerr.KindNotFound) {
					level.Warn(d.logger).Log("msg", "staging artifact missing", "path", g.Path)
					continue
				}
				return err
			}
			rows, err := parquetio.ReadRows[parquetio.DataRow](bytes.NewReader(staged))
			if err != nil {
				return err
			}
			if err := d.seedRows(rows); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *DB) seedRows(rows []parquetio.DataRow) error {
	entities := make([]*store.Entity, 0, len(rows))
	for _, row := range rows {
		i := strings.IndexByte(row.ID, '/')
		if i <= 0 {
			continue
		}
		ns, id := row.ID[:i], row.ID[i+1:]
		doc, err := decodeDataDoc(row.Data)
		if err != nil {
			return parqerr.Wrap(parqerr.KindInvalidInput, err, "decode entity %s document", row.ID)
		}
		if doc == nil {
			continue
		}
		entities = append(entities, store.EntityFromSnapshot(ns, id, doc))
	}
	d.store.SeedEntities(entities)
	return nil
}

func decodeDataDoc(b []byte) (map[string]any, error) {
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

// namespaceOf extracts the owning namespace from an event target: "ns:id"
// for entities, "fromNS/fromID-..." for relationship triples.
func namespaceOf(target string) string {
	if i := strings.IndexByte(target, ':'); i > 0 {
		return target[:i]
	}
	if i := strings.IndexByte(target, '/'); i > 0 {
		return target[:i]
	}
	return ""
}
