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

// Package parquetio writes and reads the three canonical artifacts the
// materializer produces — data.parquet, rels.parquet, events.parquet —
// using github.com/parquet-go/parquet-go. Rows here are plain Go
// structs rather than Arrow records: ParqueDB's materializer assembles one
// entity/relationship/event at a time off the WAL, so a row-oriented writer
// fits the shape of the problem better than the Arrow-record batch API the
// rest of the corpus favors for bulk ETL (see DESIGN.md).
package parquetio

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// EventRow is one row of events.parquet. Audit fields live inside After,
// not as top-level columns.
type EventRow struct {
	ID       string `parquet:"id,dict"`
	TS       int64  `parquet:"ts"`
	Op       string `parquet:"op,dict"`
	Target   string `parquet:"target,dict"`
	Before   []byte `parquet:"before,optional"`
	After    []byte `parquet:"after,optional"`
	Actor    string `parquet:"actor,dict,optional"`
	Metadata []byte `parquet:"metadata,optional"`
}

// DataRow is one row of data.parquet: exactly four columns, with Data a
// variant-encoded blob carrying every user field plus audit fields.
type DataRow struct {
	ID   string `parquet:"$id,dict"`
	Type string `parquet:"$type,dict"`
	Name string `parquet:"$name,dict,optional"`
	Data []byte `parquet:"$data"`
}

// RelRow is one row of rels.parquet: one row per live edge.
type RelRow struct {
	SourceID    string `parquet:"sourceId,dict"`
	SourceField string `parquet:"sourceField,dict"`
	TargetID    string `parquet:"targetId,dict"`
	CreatedAt   int64  `parquet:"createdAt"`
}

// Options carries the writer knobs tuned per deployment: a codec and a
// row-group size cap.
type Options struct {
	Compression      compress.Codec
	MaxRowsPerGroup  int
	CreatedByProgram string
	CreatedByVersion string
}

// DefaultOptions returns Options with SNAPPY compression.
func DefaultOptions() *Options {
	return &Options{
		Compression:      &parquet.Snappy,
		MaxRowsPerGroup:  1_000_000,
		CreatedByProgram: "parquedb",
		CreatedByVersion: "0",
	}
}

func (o *Options) writerOptions(schema *parquet.Schema) []parquet.WriterOption {
	if o == nil {
		o = DefaultOptions()
	}
	opts := []parquet.WriterOption{
		schema,
		parquet.Compression(o.Compression),
		parquet.CreatedBy(o.CreatedByProgram, o.CreatedByVersion, ""),
	}
	if o.MaxRowsPerGroup > 0 {
		opts = append(opts, parquet.MaxRowsPerRowGroup(int64(o.MaxRowsPerGroup)))
	}
	return opts
}

// WriteEvents writes rows, which callers keep ordered by TS ascending, to w.
func WriteEvents(w io.Writer, rows []EventRow, opts *Options) error {
	return writeRows(w, rows, parquet.SchemaOf(new(EventRow)), opts)
}

// WriteData writes rows to w.
func WriteData(w io.Writer, rows []DataRow, opts *Options) error {
	return writeRows(w, rows, parquet.SchemaOf(new(DataRow)), opts)
}

// WriteRels writes rows to w. Callers should skip calling this entirely
// when there are no live edges.
func WriteRels(w io.Writer, rows []RelRow, opts *Options) error {
	return writeRows(w, rows, parquet.SchemaOf(new(RelRow)), opts)
}

func writeRows[T any](w io.Writer, rows []T, schema *parquet.Schema, opts *Options) error {
	writer := parquet.NewGenericWriter[T](w, opts.writerOptions(schema)...)
	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		return fmt.Errorf("writing %T rows: %w", *new(T), err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing parquet writer for %T: %w", *new(T), err)
	}
	return nil
}

// ReadEventsFile reads every EventRow out of the file at path.
func ReadEventsFile(path string) ([]EventRow, error) { return readRowsFile[EventRow](path) }

// ReadDataFile reads every DataRow out of the file at path.
func ReadDataFile(path string) ([]DataRow, error) { return readRowsFile[DataRow](path) }

// ReadRelsFile reads every RelRow out of the file at path.
func ReadRelsFile(path string) ([]RelRow, error) { return readRowsFile[RelRow](path) }

func readRowsFile[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadRows[T](f)
}

// ReadRows reads every row of T out of r, which may be any io.ReaderAt —
// an *os.File, a *bytes.Reader over an in-memory artifact, or a
// storage.Backend-backed section reader.
func ReadRows[T any](r io.ReaderAt) ([]T, error) {
	reader := parquet.NewGenericReader[T](r)
	defer reader.Close()

	rows := make([]T, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading %T rows: %w", *new(T), err)
	}
	return rows[:n], nil
}
