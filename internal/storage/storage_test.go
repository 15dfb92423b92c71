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

package storage_test

import (
	"context"
	"testing"

	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]storage.Backend {
	fs, err := storage.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return map[string]storage.Backend{
		"memory":     storage.NewMemory(),
		"filesystem": fs,
	}
}

// TestReadRangeSliceSemantics checks slice semantics across backends: for
// bytes [0..9], readRange must behave exactly like Array.slice.
func TestReadRangeSliceSemantics(t *testing.T) {
	ctx := context.Background()
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	for name, b := range backends(t) {
		name, b := name, b
		t.Run(name, func(t *testing.T) {
			_, err := b.Write(ctx, "nums", data, storage.WriteOptions{})
			require.NoError(t, err)

			got, err := b.ReadRange(ctx, "nums", 0, 5)
			require.NoError(t, err)
			assert.Equal(t, []byte{0, 1, 2, 3, 4}, got)

			got, err = b.ReadRange(ctx, "nums", 5, 6)
			require.NoError(t, err)
			assert.Equal(t, []byte{5}, got)

			got, err = b.ReadRange(ctx, "nums", 5, 5)
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = b.ReadRange(ctx, "nums", 0, 100)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			got, err = b.ReadRange(ctx, "nums", 100, 200)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestWriteIfNoneMatchPreventsOverwrite(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		name, b := name, b
		t.Run(name, func(t *testing.T) {
			_, err := b.Write(ctx, "x", []byte("a"), storage.WriteOptions{IfNoneMatch: "*"})
			require.NoError(t, err)

			_, err = b.Write(ctx, "x", []byte("b"), storage.WriteOptions{IfNoneMatch: "*"})
			assert.True(t, parqerr.Is(err, parqerr.KindPreconditionFail))
		})
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		name, b := name, b
		t.Run(name, func(t *testing.T) {
			_, err := b.Read(ctx, "missing")
			assert.True(t, parqerr.Is(err, parqerr.KindNotFound))
		})
	}
}

func TestPathTraversalRejected(t *testing.T) {
	_, err := storage.NormalizePath("../etc/passwd")
	assert.True(t, parqerr.Is(err, parqerr.KindInvalidInput))
}

func TestDeleteReturnsWhetherExisted(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		name, b := name, b
		t.Run(name, func(t *testing.T) {
			existed, err := b.Delete(ctx, "nope")
			require.NoError(t, err)
			assert.False(t, existed)

			_, err = b.Write(ctx, "here", []byte("v"), storage.WriteOptions{})
			require.NoError(t, err)
			existed, err = b.Delete(ctx, "here")
			require.NoError(t, err)
			assert.True(t, existed)
		})
	}
}

func TestListWithDelimiter(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		name, b := name, b
		t.Run(name, func(t *testing.T) {
			_, err := b.Write(ctx, "indexes/secondary/a.idx", []byte("1"), storage.WriteOptions{})
			require.NoError(t, err)
			_, err = b.Write(ctx, "indexes/secondary/b.idx", []byte("2"), storage.WriteOptions{})
			require.NoError(t, err)
			_, err = b.Write(ctx, "indexes/_catalog.json", []byte("{}"), storage.WriteOptions{})
			require.NoError(t, err)

			res, err := b.List(ctx, "indexes", storage.ListOptions{Delimiter: "/"})
			require.NoError(t, err)
			assert.Len(t, res.Files, 1)
			assert.NotEmpty(t, res.DelimitedPrefixes)
		})
	}
}
