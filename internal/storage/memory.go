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

package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

// Memory is an in-process Backend, primarily used in tests and for
// embedding ParqueDB without an external object store.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]*memObject
}

type memObject struct {
	data     []byte
	etag     string
	modified time.Time
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]*memObject)}
}

func etagOf(data []byte) string {
	return fmt.Sprintf("%x", xxhash.Sum64(data))
}

func (m *Memory) Read(_ context.Context, p string) ([]byte, error) {
	p, err := NormalizePath(p)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[p]
	if !ok {
		return nil, parqerr.New(parqerr.KindNotFound, "object %q not found", p)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (m *Memory) ReadRange(ctx context.Context, p string, start, end int64) ([]byte, error) {
	p, err := NormalizePath(p)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	obj, ok := m.objects[p]
	m.mu.RUnlock()
	if !ok {
		return nil, parqerr.New(parqerr.KindNotFound, "object %q not found", p)
	}
	return sliceRange(obj.data, start, end), nil
}

// sliceRange implements the Array.slice-like clamp semantics required by
// end exclusive, clamp to size, start >= size -> empty.
func sliceRange(data []byte, start, end int64) []byte {
	n := int64(len(data))
	if start < 0 {
		start = 0
	}
	if start >= n {
		return []byte{}
	}
	if end > n {
		end = n
	}
	if end <= start {
		return []byte{}
	}
	out := make([]byte, end-start)
	copy(out, data[start:end])
	return out
}

func (m *Memory) Exists(_ context.Context, p string) (bool, error) {
	p, err := NormalizePath(p)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[p]
	return ok, nil
}

func (m *Memory) Stat(_ context.Context, p string) (*Info, error) {
	p, err := NormalizePath(p)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[p]
	if !ok {
		return nil, nil
	}
	return &Info{Path: p, Size: int64(len(obj.data)), ETag: obj.etag, Modified: obj.modified}, nil
}

func (m *Memory) Write(ctx context.Context, p string, data []byte, opts WriteOptions) (*WriteResult, error) {
	p, err := NormalizePath(p)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.objects[p]
	if opts.IfNoneMatch == "*" && ok {
		return nil, parqerr.New(parqerr.KindPreconditionFail, "object %q already exists", p)
	}
	if opts.IfMatch != "" {
		if !ok || existing.etag != opts.IfMatch {
			return nil, parqerr.New(parqerr.KindPreconditionFail, "etag mismatch for %q", p)
		}
	}

	out := make([]byte, len(data))
	copy(out, data)
	obj := &memObject{data: out, etag: etagOf(out), modified: time.Now()}
	m.objects[p] = obj
	return &WriteResult{ETag: obj.etag, Size: int64(len(out))}, nil
}

func (m *Memory) WriteAtomic(ctx context.Context, p string, data []byte, opts WriteOptions) (*WriteResult, error) {
	return m.Write(ctx, p, data, opts)
}

func (m *Memory) WriteConditional(ctx context.Context, p string, data []byte, expectedETag *string) (*WriteResult, error) {
	opts := WriteOptions{}
	if expectedETag == nil {
		opts.IfNoneMatch = "*"
	} else {
		opts.IfMatch = *expectedETag
	}
	return m.Write(ctx, p, data, opts)
}

func (m *Memory) Append(_ context.Context, p string, data []byte) error {
	p, err := NormalizePath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[p]
	if !ok {
		out := make([]byte, len(data))
		copy(out, data)
		m.objects[p] = &memObject{data: out, etag: etagOf(out), modified: time.Now()}
		return nil
	}
	obj.data = append(obj.data, data...)
	obj.etag = etagOf(obj.data)
	obj.modified = time.Now()
	return nil
}

func (m *Memory) Delete(_ context.Context, p string) (bool, error) {
	p, err := NormalizePath(p)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[p]
	delete(m.objects, p)
	return ok, nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) (int, error) {
	prefix, err := NormalizePath(prefix)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.objects {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			delete(m.objects, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) List(_ context.Context, prefix string, opts ListOptions) (*ListResult, error) {
	prefix, err := NormalizePath(prefix)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if prefix == "" || k == prefix || strings.HasPrefix(k, prefix+"/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	res := &ListResult{}
	seenPrefixes := make(map[string]bool)
	start := 0
	if opts.Cursor != "" {
		for i, k := range keys {
			if k > opts.Cursor {
				start = i
				break
			}
			start = i + 1
		}
	}

	limit := opts.Limit
	count := 0
	for i := start; i < len(keys); i++ {
		k := keys[i]
		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(k, prefix)
			rest = strings.TrimPrefix(rest, "/")
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				dirPrefix := k[:len(k)-len(rest)] + rest[:idx+len(opts.Delimiter)]
				if !seenPrefixes[dirPrefix] {
					seenPrefixes[dirPrefix] = true
					res.DelimitedPrefixes = append(res.DelimitedPrefixes, dirPrefix)
				}
				continue
			}
		}
		obj := m.objects[k]
		res.Files = append(res.Files, Info{Path: k, Size: int64(len(obj.data)), ETag: obj.etag, Modified: obj.modified})
		count++
		if limit > 0 && count >= limit {
			if i+1 < len(keys) {
				res.Cursor = k
				res.HasMore = true
			}
			break
		}
	}
	return res, nil
}

func (m *Memory) Copy(ctx context.Context, src, dst string) error {
	data, err := m.Read(ctx, src)
	if err != nil {
		return err
	}
	_, err = m.Write(ctx, dst, data, WriteOptions{})
	return err
}

func (m *Memory) Move(ctx context.Context, src, dst string) error {
	if err := m.Copy(ctx, src, dst); err != nil {
		return err
	}
	_, err := m.Delete(ctx, src)
	return err
}

func (m *Memory) Mkdir(_ context.Context, _ string) error { return nil }
func (m *Memory) Rmdir(ctx context.Context, p string, recursive bool) error {
	if !recursive {
		return nil
	}
	_, err := m.DeletePrefix(ctx, p)
	return err
}
