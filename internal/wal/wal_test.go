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

package wal_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowarc/parquedb/internal/wal"
)

func openTestWAL(t *testing.T, cfg wal.Config) *wal.WAL {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wal.db")
	w, err := wal.Open(path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestAppendAssignsDenseSequenceNumbers(t *testing.T) {
	ctx := context.Background()
	w := openTestWAL(t, wal.Config{MaxBufferSize: 100, MaxBufferBytes: 1 << 20})

	seq1, flushed1, err := w.Append(ctx, "people", wal.Event{ID: "e1", TS: 1, Op: "create", Target: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq1)
	assert.False(t, flushed1)

	seq2, _, err := w.Append(ctx, "people", wal.Event{ID: "e2", TS: 2, Op: "update", Target: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq2)
}

func TestAppendFlushesAtCountThreshold(t *testing.T) {
	ctx := context.Background()
	w := openTestWAL(t, wal.Config{MaxBufferSize: 2, MaxBufferBytes: 1 << 20})

	_, flushed1, err := w.Append(ctx, "ns", wal.Event{ID: "e1", TS: 1, Op: "create", Target: "t1"})
	require.NoError(t, err)
	assert.False(t, flushed1)

	_, flushed2, err := w.Append(ctx, "ns", wal.Event{ID: "e2", TS: 2, Op: "create", Target: "t2"})
	require.NoError(t, err)
	assert.True(t, flushed2)

	rows, err := w.Unflushed(ctx, "ns")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Count)

	events, err := wal.DecodeEventBlob(rows[0].Events)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestFlushClearsBufferAfterSuccess(t *testing.T) {
	ctx := context.Background()
	w := openTestWAL(t, wal.Config{MaxBufferSize: 100, MaxBufferBytes: 1 << 20})

	_, _, err := w.Append(ctx, "ns", wal.Event{ID: "e1", TS: 1, Op: "create", Target: "t1"})
	require.NoError(t, err)
	require.NoError(t, w.Flush(ctx, "ns"))

	rows, err := w.Unflushed(ctx, "ns")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Flushing again with an empty buffer is a no-op, not a duplicate row.
	require.NoError(t, w.Flush(ctx, "ns"))
	rows, err = w.Unflushed(ctx, "ns")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSequenceCountersSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wal.db")

	w, err := wal.Open(path, wal.Config{MaxBufferSize: 1})
	require.NoError(t, err)
	_, _, err = w.Append(ctx, "ns", wal.Event{ID: "e1", TS: 1, Op: "create", Target: "t1"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := wal.Open(path, wal.Config{})
	require.NoError(t, err)
	defer w2.Close()

	seq, _, err := w2.Append(ctx, "ns", wal.Event{ID: "e2", TS: 2, Op: "create", Target: "t2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

func TestReserveSequenceRangeBypassesBuffer(t *testing.T) {
	ctx := context.Background()
	w := openTestWAL(t, wal.Config{})

	first, last := w.ReserveSequenceRange("ns", 10)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(10), last)

	require.NoError(t, w.RecordPendingRowGroup(ctx, "ns", "staging/part-0.parquet", 10, first, last))

	rows, err := w.Unflushed(ctx, "ns")
	require.NoError(t, err)
	assert.Empty(t, rows, "bulk create must not append to the event buffer")

	nextSeq, _, err := w.Append(ctx, "ns", wal.Event{ID: "e11", TS: 11, Op: "create", Target: "t11"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), nextSeq, "sequence numbering must stay dense across the bulk bypass")
}

func TestDecodeEventBlobRejectsNonJSON(t *testing.T) {
	_, err := wal.DecodeEventBlob([]byte{0x82, 0x01, 0x02})
	assert.Error(t, err)
}

func TestLargeEventBlobsRoundtripCompressed(t *testing.T) {
	events := make([]wal.Event, 200)
	for i := range events {
		events[i] = wal.Event{
			ID: "e", TS: int64(i), Op: "create", Target: "ns:id",
			After: map[string]any{"payload": "0123456789012345678901234567890123456789"},
		}
	}
	blob, err := wal.EncodeEventBlob(events)
	require.NoError(t, err)
	assert.NotEqual(t, byte('['), blob[0], "large batches are stored zstd-framed")

	decoded, err := wal.DecodeEventBlob(blob)
	require.NoError(t, err)
	require.Len(t, decoded, 200)
	assert.Equal(t, int64(199), decoded[199].TS)
}

func TestNamespacesListsUnflushed(t *testing.T) {
	ctx := context.Background()
	w := openTestWAL(t, wal.Config{MaxBufferSize: 1})

	_, _, err := w.Append(ctx, "b", wal.Event{ID: "e1", TS: 1, Op: "create", Target: "t"})
	require.NoError(t, err)
	_, _, err = w.Append(ctx, "a", wal.Event{ID: "e2", TS: 2, Op: "create", Target: "t"})
	require.NoError(t, err)

	namespaces, err := w.Namespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, namespaces)
}

func TestRecordCheckpointAndMarkFlushed(t *testing.T) {
	ctx := context.Background()
	w := openTestWAL(t, wal.Config{MaxBufferSize: 1})

	_, _, err := w.Append(ctx, "ns", wal.Event{ID: "e1", TS: 1, Op: "create", Target: "t1"})
	require.NoError(t, err)

	rows, err := w.Unflushed(ctx, "ns")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	checkpointID, err := w.RecordCheckpoint(ctx, "artifacts/data.parquet", "e1", "e1", 1)
	require.NoError(t, err)
	assert.NotEmpty(t, checkpointID)

	require.NoError(t, w.MarkFlushed(ctx, []int64{rows[0].ID}))
	deleted, err := w.DeleteFlushedBefore(ctx, "ns", rows[0].LastSeq)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := w.Unflushed(ctx, "ns")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
