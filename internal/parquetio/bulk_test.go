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

package parquetio_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowarc/parquedb/internal/parquetio"
)

func TestBulkEntityWriterProducesReadableStaging(t *testing.T) {
	var buf bytes.Buffer
	bw, err := parquetio.NewBulkEntityWriter(&buf)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		bw.Append(fmt.Sprintf("rows/%02d", i), "Row", "row", []byte{0x01, byte(i)})
	}
	assert.Equal(t, 20, bw.Rows())
	require.NoError(t, bw.Close())
	assert.Equal(t, 0, bw.Rows())

	data := buf.Bytes()
	assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
	assert.True(t, bytes.HasSuffix(data, []byte("PAR1")))

	// The staging artifact carries the same four columns as data.parquet,
	// so the row-oriented reader absorbs it unchanged.
	rows, err := parquetio.ReadRows[parquetio.DataRow](bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 20)
	assert.Equal(t, "rows/00", rows[0].ID)
	assert.Equal(t, "Row", rows[0].Type)
	assert.Equal(t, []byte{0x01, 0x00}, rows[0].Data)
}

func TestBulkEntityWriterFlushWritesBatches(t *testing.T) {
	var buf bytes.Buffer
	bw, err := parquetio.NewBulkEntityWriter(&buf)
	require.NoError(t, err)

	bw.Append("rows/a", "Row", "a", nil)
	require.NoError(t, bw.Flush())
	bw.Append("rows/b", "Row", "b", nil)
	require.NoError(t, bw.Close())

	rows, err := parquetio.ReadRows[parquetio.DataRow](bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
