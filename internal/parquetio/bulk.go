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

package parquetio

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
)

// bulkSchema is the staging artifact's shape: the same four columns as
// data.parquet, so a staged row group can later be absorbed without
// reshaping.
var bulkSchema = arrow.NewSchema([]arrow.Field{
	{Name: "$id", Type: arrow.BinaryTypes.String},
	{Name: "$type", Type: arrow.BinaryTypes.String},
	{Name: "$name", Type: arrow.BinaryTypes.String},
	{Name: "$data", Type: arrow.BinaryTypes.Binary},
}, nil)

// BulkEntityWriter streams bulk-created entities straight to a staging
// Parquet artifact, bypassing the event buffer. Rows accumulate
// in Arrow builders and are written out one record batch per Flush.
type BulkEntityWriter struct {
	builder *array.RecordBuilder
	writer  *pqarrow.FileWriter
	rows    int
}

// NewBulkEntityWriter opens a staging writer over w, using Snappy-compressed
// DataPageV2 pages.
func NewBulkEntityWriter(w io.Writer) (*BulkEntityWriter, error) {
	mem := memory.NewGoAllocator()
	props := parquet.NewWriterProperties(
		parquet.WithAllocator(mem),
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDataPageVersion(parquet.DataPageV2),
	)
	fw, err := pqarrow.NewFileWriter(bulkSchema, w, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, fmt.Errorf("creating bulk staging writer: %w", err)
	}
	return &BulkEntityWriter{
		builder: array.NewRecordBuilder(mem, bulkSchema),
		writer:  fw,
	}, nil
}

// Append buffers one entity row. data is the variant-encoded document.
func (b *BulkEntityWriter) Append(id, typ, name string, data []byte) {
	b.builder.Field(0).(*array.StringBuilder).Append(id)
	b.builder.Field(1).(*array.StringBuilder).Append(typ)
	b.builder.Field(2).(*array.StringBuilder).Append(name)
	b.builder.Field(3).(*array.BinaryBuilder).Append(data)
	b.rows++
}

// Flush writes the buffered rows as one record batch (one row group).
func (b *BulkEntityWriter) Flush() error {
	if b.rows == 0 {
		return nil
	}
	rec := b.builder.NewRecord()
	defer rec.Release()
	if err := b.writer.Write(rec); err != nil {
		return fmt.Errorf("writing bulk staging batch: %w", err)
	}
	b.rows = 0
	return nil
}

// Rows reports how many rows are buffered but not yet flushed.
func (b *BulkEntityWriter) Rows() int { return b.rows }

// Close flushes any buffered rows and finalizes the Parquet footer.
func (b *BulkEntityWriter) Close() error {
	if err := b.Flush(); err != nil {
		return err
	}
	b.builder.Release()
	if err := b.writer.Close(); err != nil {
		return fmt.Errorf("closing bulk staging writer: %w", err)
	}
	return nil
}
