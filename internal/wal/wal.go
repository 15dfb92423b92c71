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

// Package wal buffers events per namespace in memory and flushes them as
// single BLOB rows into an embedded modernc.org/sqlite state machine. A
// bulk-create path bypasses the buffer entirely, reserving a dense
// sequence range and recording a pending_row_groups row instead.
package wal

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/ulidgen"
)

// Event is one append-only record of activity against a namespace. Before/
// After/Metadata are arbitrary JSON-able values; the materializer later
// encodes them into the variant format for events.parquet.
type Event struct {
	ID       string `json:"id"`
	TS       int64  `json:"ts"`
	Op       string `json:"op"`
	Target   string `json:"target"`
	Before   any    `json:"before,omitempty"`
	After    any    `json:"after,omitempty"`
	Actor    string `json:"actor,omitempty"`
	Metadata any    `json:"metadata,omitempty"`
}

// Row is one unflushed or flushed events_wal row.
type Row struct {
	ID        int64
	Namespace string
	FirstSeq  int64
	LastSeq   int64
	Count     int
	MinTS     int64
	MaxTS     int64
	Events    []byte
	Flushed   bool
	CreatedAt time.Time
}

// PendingRowGroup is one bulk-create staging record.
type PendingRowGroup struct {
	ID        int64
	Namespace string
	Path      string
	RowCount  int
	FirstSeq  int64
	LastSeq   int64
	CreatedAt time.Time
}

// Config tunes the per-namespace buffer thresholds.
type Config struct {
	MaxBufferSize  int // event count threshold, default 100
	MaxBufferBytes int // serialized-byte threshold, default 64 KiB
	BulkThreshold  int // entities-per-call threshold to bypass the buffer, default 5
}

func (c *Config) applyDefaults() {
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = 100
	}
	if c.MaxBufferBytes <= 0 {
		c.MaxBufferBytes = 64 * 1024
	}
	if c.BulkThreshold <= 0 {
		c.BulkThreshold = 5
	}
}

type buffer struct {
	mu        sync.Mutex
	events    []Event
	firstSeq  int64
	lastSeq   int64
	sizeBytes int
}

// WAL is the write-ahead log: one in-memory buffer per namespace backed by
// a shared sqlite database for durable flushes, bulk staging, and
// checkpoints.
type WAL struct {
	db  *sql.DB
	cfg Config

	mu      sync.Mutex
	buffers map[string]*buffer
}

// Open opens (or creates) the sqlite database at path, applies WAL-mode
// pragmas, runs schema migrations, and primes per-namespace sequence
// counters by scanning MAX(last_seq) across events_wal and
// pending_row_groups.
func Open(path string, cfg Config) (*WAL, error) {
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, parqerr.Wrap(parqerr.KindPermanent, err, "create wal directory %q", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, parqerr.Wrap(parqerr.KindPermanent, err, "open wal database %q", path)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is a single-writer engine

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, parqerr.Wrap(parqerr.KindPermanent, err, "configure wal database: %s", p)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	w := &WAL{db: db, cfg: cfg, buffers: make(map[string]*buffer)}
	if err := w.primeSequences(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events_wal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ns TEXT NOT NULL,
			first_seq INTEGER NOT NULL,
			last_seq INTEGER NOT NULL,
			count INTEGER NOT NULL,
			min_ts INTEGER NOT NULL,
			max_ts INTEGER NOT NULL,
			events BLOB NOT NULL,
			flushed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_wal_ns ON events_wal(ns, flushed)`,
		`CREATE TABLE IF NOT EXISTS pending_row_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ns TEXT NOT NULL,
			path TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			first_seq INTEGER NOT NULL,
			last_seq INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			event_count INTEGER NOT NULL,
			first_event_id TEXT NOT NULL,
			last_event_id TEXT NOT NULL,
			parquet_path TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return parqerr.Wrap(parqerr.KindPermanent, err, "migrate wal schema")
		}
	}
	return nil
}

func (w *WAL) primeSequences() error {
	rows, err := w.db.Query(`
		SELECT ns, MAX(last_seq) FROM (
			SELECT ns, last_seq FROM events_wal
			UNION ALL
			SELECT ns, last_seq FROM pending_row_groups
		) GROUP BY ns`)
	if err != nil {
		return parqerr.Wrap(parqerr.KindPermanent, err, "scan wal sequence counters")
	}
	defer rows.Close()

	for rows.Next() {
		var ns string
		var lastSeq int64
		if err := rows.Scan(&ns, &lastSeq); err != nil {
			return parqerr.Wrap(parqerr.KindPermanent, err, "scan wal sequence row")
		}
		w.bufferFor(ns).lastSeq = lastSeq
	}
	return rows.Err()
}

func (w *WAL) bufferFor(ns string) *buffer {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.buffers[ns]
	if !ok {
		b = &buffer{}
		w.buffers[ns] = b
	}
	return b
}

// Close closes the underlying database handle.
func (w *WAL) Close() error { return w.db.Close() }

// Append adds ev to ns's in-memory buffer, assigning it the next sequence
// number, and flushes automatically once a threshold is crossed. It fails
// on an encoding error or when that automatic flush fails; in the latter
// case the event stays in the buffer with its sequence number assigned.
func (w *WAL) Append(ctx context.Context, ns string, ev Event) (seq int64, flushed bool, err error) {
	encoded, err := json.Marshal(ev)
	if err != nil {
		return 0, false, parqerr.Wrap(parqerr.KindInvalidInput, err, "encode event")
	}

	b := w.bufferFor(ns)
	b.mu.Lock()
	b.lastSeq++
	seq = b.lastSeq
	if len(b.events) == 0 {
		b.firstSeq = seq
	}
	b.events = append(b.events, ev)
	b.sizeBytes += len(encoded)
	shouldFlush := len(b.events) >= w.cfg.MaxBufferSize || b.sizeBytes >= w.cfg.MaxBufferBytes
	b.mu.Unlock()

	if shouldFlush {
		if err := w.Flush(ctx, ns); err != nil {
			return seq, false, err
		}
		flushed = true
	}
	return seq, flushed, nil
}

// Flush serializes ns's buffered events into a single events_wal row and
// clears the buffer. A flush failure leaves the buffer intact so the
// caller can retry safely.
func (w *WAL) Flush(ctx context.Context, ns string) error {
	b := w.bufferFor(ns)
	b.mu.Lock()
	if len(b.events) == 0 {
		b.mu.Unlock()
		return nil
	}
	events := make([]Event, len(b.events))
	copy(events, b.events)
	firstSeq, lastSeq := b.firstSeq, b.lastSeq
	b.mu.Unlock()

	blob, err := EncodeEventBlob(events)
	if err != nil {
		return parqerr.Wrap(parqerr.KindInvalidInput, err, "encode wal batch for ns %q", ns)
	}
	minTS, maxTS := events[0].TS, events[0].TS
	for _, e := range events {
		if e.TS < minTS {
			minTS = e.TS
		}
		if e.TS > maxTS {
			maxTS = e.TS
		}
	}

	_, err = w.db.ExecContext(ctx, `
		INSERT INTO events_wal (ns, first_seq, last_seq, count, min_ts, max_ts, events, flushed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		ns, firstSeq, lastSeq, len(events), minTS, maxTS, blob, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return parqerr.Wrap(parqerr.KindTransient, err, "insert wal row for ns %q", ns)
	}

	b.mu.Lock()
	b.events = nil
	b.sizeBytes = 0
	b.mu.Unlock()
	return nil
}

// ReserveSequenceRange reserves n consecutive sequence numbers for ns
// without touching the in-memory event buffer, preserving dense
// per-namespace numbering across the bulk-create bypass.
func (w *WAL) ReserveSequenceRange(ns string, n int) (firstSeq, lastSeq int64) {
	b := w.bufferFor(ns)
	b.mu.Lock()
	defer b.mu.Unlock()
	firstSeq = b.lastSeq + 1
	b.lastSeq += int64(n)
	lastSeq = b.lastSeq
	return firstSeq, lastSeq
}

// RecordPendingRowGroup stores a bulk-create staging row: rowCount entities
// have already been streamed to path on the storage plane outside the
// event buffer.
func (w *WAL) RecordPendingRowGroup(ctx context.Context, ns, path string, rowCount int, firstSeq, lastSeq int64) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO pending_row_groups (ns, path, row_count, first_seq, last_seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ns, path, rowCount, firstSeq, lastSeq, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return parqerr.Wrap(parqerr.KindTransient, err, "record pending row group for ns %q", ns)
	}
	return nil
}

// BulkThreshold reports the configured entities-per-call threshold above
// which callers should use ReserveSequenceRange/RecordPendingRowGroup
// instead of Append.
func (w *WAL) BulkThreshold() int { return w.cfg.BulkThreshold }

// Unflushed returns every events_wal row not yet superseded by a
// checkpoint, ordered by id, for the materializer to replay.
func (w *WAL) Unflushed(ctx context.Context, ns string) ([]Row, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, ns, first_seq, last_seq, count, min_ts, max_ts, events, flushed, created_at
		FROM events_wal WHERE ns = ? AND flushed = 0 ORDER BY id`, ns)
	if err != nil {
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "list unflushed wal rows for ns %q", ns)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var flushed int
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Namespace, &r.FirstSeq, &r.LastSeq, &r.Count, &r.MinTS, &r.MaxTS, &r.Events, &flushed, &createdAt); err != nil {
			return nil, parqerr.Wrap(parqerr.KindTransient, err, "scan wal row")
		}
		r.Flushed = flushed != 0
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkFlushed marks the given events_wal row ids as flushed (materialized),
// eligible for deletion once superseded by a checkpoint.
func (w *WAL) MarkFlushed(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := w.db.ExecContext(ctx, `UPDATE events_wal SET flushed = 1 WHERE id = ?`, id); err != nil {
			return parqerr.Wrap(parqerr.KindTransient, err, "mark wal row %d flushed", id)
		}
	}
	return nil
}

// DeleteFlushedBefore deletes events_wal rows already marked flushed once a
// checkpoint has superseded them.
func (w *WAL) DeleteFlushedBefore(ctx context.Context, ns string, lastSeq int64) (int64, error) {
	res, err := w.db.ExecContext(ctx, `DELETE FROM events_wal WHERE ns = ? AND flushed = 1 AND last_seq <= ?`, ns, lastSeq)
	if err != nil {
		return 0, parqerr.Wrap(parqerr.KindTransient, err, "delete flushed wal rows for ns %q", ns)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecordCheckpoint writes a checkpoint row naming the Parquet artifact that
// has absorbed [firstEventID, lastEventID].
func (w *WAL) RecordCheckpoint(ctx context.Context, parquetPath, firstEventID, lastEventID string, eventCount int) (string, error) {
	id := ulidgen.NewID()
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, created_at, event_count, first_event_id, last_event_id, parquet_path)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339Nano), eventCount, firstEventID, lastEventID, parquetPath)
	if err != nil {
		return "", parqerr.Wrap(parqerr.KindTransient, err, "record checkpoint")
	}
	return id, nil
}

// Namespaces returns every namespace with pending work — an unflushed
// events_wal row or a bulk staging record — for the materializer's flush
// sweep.
func (w *WAL) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT DISTINCT ns FROM (
			SELECT ns FROM events_wal WHERE flushed = 0
			UNION
			SELECT ns FROM pending_row_groups
		) ORDER BY ns`)
	if err != nil {
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "list wal namespaces")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, parqerr.Wrap(parqerr.KindTransient, err, "scan wal namespace")
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

// PendingRowGroups returns every bulk-create staging row, ordered by id.
func (w *WAL) PendingRowGroups(ctx context.Context, ns string) ([]PendingRowGroup, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, ns, path, row_count, first_seq, last_seq, created_at
		FROM pending_row_groups WHERE ns = ? ORDER BY id`, ns)
	if err != nil {
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "list pending row groups for ns %q", ns)
	}
	defer rows.Close()

	var out []PendingRowGroup
	for rows.Next() {
		var g PendingRowGroup
		var createdAt string
		if err := rows.Scan(&g.ID, &g.Namespace, &g.Path, &g.RowCount, &g.FirstSeq, &g.LastSeq, &createdAt); err != nil {
			return nil, parqerr.Wrap(parqerr.KindTransient, err, "scan pending row group")
		}
		g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeletePendingRowGroups removes staging records the materializer has
// folded into data.parquet.
func (w *WAL) DeletePendingRowGroups(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := w.db.ExecContext(ctx, `DELETE FROM pending_row_groups WHERE id = ?`, id); err != nil {
			return parqerr.Wrap(parqerr.KindTransient, err, "delete pending row group %d", id)
		}
	}
	return nil
}

// compressThreshold is the serialized size above which a batch blob is
// stored zstd-compressed instead of as plain JSON.
const compressThreshold = 4 * 1024

var (
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
}

// EncodeEventBlob serializes events as a JSON array, the format this WAL
// writes, zstd-framing batches above compressThreshold. DecodeEventBlob
// reads back only this JSON form (plain or zstd-framed); CBOR-encoded
// blobs are not decoded and are rejected.
func EncodeEventBlob(events []Event) ([]byte, error) {
	encoded, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	if len(encoded) >= compressThreshold {
		return zstdEncoder.EncodeAll(encoded, make([]byte, 0, len(encoded)/2)), nil
	}
	return encoded, nil
}

// DecodeEventBlob decodes an events_wal BLOB column, sniffing the leading
// bytes:
// the zstd frame magic means a compressed JSON array, a leading '[' a plain
// one. Anything else is rejected, since no CBOR producer exists in this
// deployment's write path.
func DecodeEventBlob(data []byte) ([]Event, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		decoded, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, parqerr.Wrap(parqerr.KindInvalidInput, err, "decompress wal event blob")
		}
		data = decoded
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, parqerr.New(parqerr.KindInvalidInput, "wal blob is not a JSON event array (CBOR producers are not supported by this build)")
	}
	var events []Event
	if err := json.Unmarshal(trimmed, &events); err != nil {
		return nil, parqerr.Wrap(parqerr.KindInvalidInput, err, "decode wal event blob")
	}
	return events, nil
}
