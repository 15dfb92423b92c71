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
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

// Filesystem is a Backend rooted at a local directory. Conditional and
// "atomic" writes use a temp-file-then-rename sequence, the same technique
// transparency-dev/trillian-tessera's POSIX storage driver relies on for
// torn-write safety on a single host.
type Filesystem struct {
	root string
	mu   sync.Mutex
}

// NewFilesystem roots a Backend at dir, creating it if absent.
func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root %q: %w", dir, err)
	}
	return &Filesystem{root: dir}, nil
}

func (f *Filesystem) abs(p string) (string, error) {
	clean, err := NormalizePath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

func (f *Filesystem) Read(_ context.Context, p string) ([]byte, error) {
	abs, err := f.abs(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, parqerr.New(parqerr.KindNotFound, "object %q not found", p)
		}
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "read %q", p)
	}
	return data, nil
}

func (f *Filesystem) ReadRange(_ context.Context, p string, start, end int64) ([]byte, error) {
	abs, err := f.abs(p)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, parqerr.New(parqerr.KindNotFound, "object %q not found", p)
		}
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "open %q", p)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "stat %q", p)
	}
	n := info.Size()
	if start < 0 {
		start = 0
	}
	if start >= n {
		return []byte{}, nil
	}
	if end > n {
		end = n
	}
	if end <= start {
		return []byte{}, nil
	}
	buf := make([]byte, end-start)
	if _, err := fh.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "read range %q", p)
	}
	return buf, nil
}

func (f *Filesystem) Exists(_ context.Context, p string) (bool, error) {
	abs, err := f.abs(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(abs)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, parqerr.Wrap(parqerr.KindTransient, err, "stat %q", p)
}

func (f *Filesystem) Stat(_ context.Context, p string) (*Info, error) {
	abs, err := f.abs(p)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "stat %q", p)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "read %q for etag", p)
	}
	return &Info{Path: p, Size: fi.Size(), ETag: etagOf(data), Modified: fi.ModTime()}, nil
}

func (f *Filesystem) currentETag(abs string) (string, bool) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", false
	}
	return etagOf(data), true
}

// Write performs a rename-based atomic replace, guarded by ifNoneMatch/ifMatch.
func (f *Filesystem) Write(_ context.Context, p string, data []byte, opts WriteOptions) (*WriteResult, error) {
	abs, err := f.abs(p)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	etag, exists := f.currentETag(abs)
	if opts.IfNoneMatch == "*" && exists {
		return nil, parqerr.New(parqerr.KindPreconditionFail, "object %q already exists", p)
	}
	if opts.IfMatch != "" {
		if !exists || etag != opts.IfMatch {
			return nil, parqerr.New(parqerr.KindPreconditionFail, "etag mismatch for %q", p)
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "mkdir for %q", p)
	}

	tmp := abs + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "write temp file for %q", p)
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "rename into place %q", p)
	}

	return &WriteResult{ETag: etagOf(data), Size: int64(len(data))}, nil
}

// WriteAtomic is identical to Write here: rename is already the atomic
// primitive this backend uses for every write.
func (f *Filesystem) WriteAtomic(ctx context.Context, p string, data []byte, opts WriteOptions) (*WriteResult, error) {
	return f.Write(ctx, p, data, opts)
}

func (f *Filesystem) WriteConditional(ctx context.Context, p string, data []byte, expectedETag *string) (*WriteResult, error) {
	opts := WriteOptions{}
	if expectedETag == nil {
		opts.IfNoneMatch = "*"
	} else {
		opts.IfMatch = *expectedETag
	}
	return f.Write(ctx, p, data, opts)
}

func (f *Filesystem) Append(_ context.Context, p string, data []byte) error {
	abs, err := f.abs(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return parqerr.Wrap(parqerr.KindTransient, err, "mkdir for %q", p)
	}
	fh, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return parqerr.Wrap(parqerr.KindTransient, err, "open for append %q", p)
	}
	defer fh.Close()
	_, err = fh.Write(data)
	return err
}

func (f *Filesystem) Delete(_ context.Context, p string) (bool, error) {
	abs, err := f.abs(p)
	if err != nil {
		return false, err
	}
	err = os.Remove(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, parqerr.Wrap(parqerr.KindTransient, err, "delete %q", p)
	}
	return true, nil
}

func (f *Filesystem) DeletePrefix(_ context.Context, prefix string) (int, error) {
	abs, err := f.abs(prefix)
	if err != nil {
		return 0, err
	}
	n := 0
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return n, parqerr.Wrap(parqerr.KindTransient, err, "walk prefix %q", prefix)
	}
	if err := os.RemoveAll(abs); err != nil {
		return n, parqerr.Wrap(parqerr.KindTransient, err, "remove prefix %q", prefix)
	}
	return n, nil
}

func (f *Filesystem) List(_ context.Context, prefix string, opts ListOptions) (*ListResult, error) {
	abs, err := f.abs(prefix)
	if err != nil {
		return nil, err
	}

	var all []string
	seenDirs := make(map[string]bool)
	res := &ListResult{}

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if path == abs {
			return nil
		}
		rel, _ := filepath.Rel(f.root, path)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if opts.Delimiter != "" {
				if !seenDirs[rel] {
					seenDirs[rel] = true
					res.DelimitedPrefixes = append(res.DelimitedPrefixes, rel+"/")
				}
				return fs.SkipDir
			}
			return nil
		}
		all = append(all, rel)
		return nil
	})
	if err != nil {
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "list %q", prefix)
	}
	sort.Strings(all)
	sort.Strings(res.DelimitedPrefixes)

	start := 0
	if opts.Cursor != "" {
		for i, k := range all {
			if k > opts.Cursor {
				start = i
				break
			}
			start = i + 1
		}
	}
	count := 0
	for i := start; i < len(all); i++ {
		rel := all[i]
		fi, statErr := os.Stat(filepath.Join(f.root, filepath.FromSlash(rel)))
		if statErr != nil {
			continue
		}
		data, _ := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(rel)))
		res.Files = append(res.Files, Info{Path: rel, Size: fi.Size(), ETag: etagOf(data), Modified: fi.ModTime()})
		count++
		if opts.Limit > 0 && count >= opts.Limit {
			if i+1 < len(all) {
				res.Cursor = rel
				res.HasMore = true
			}
			break
		}
	}
	return res, nil
}

func (f *Filesystem) Copy(_ context.Context, src, dst string) error {
	absSrc, err := f.abs(src)
	if err != nil {
		return err
	}
	absDst, err := f.abs(dst)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(absSrc)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return parqerr.New(parqerr.KindNotFound, "object %q not found", src)
		}
		return parqerr.Wrap(parqerr.KindTransient, err, "read %q", src)
	}
	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return parqerr.Wrap(parqerr.KindTransient, err, "mkdir for %q", dst)
	}
	return os.WriteFile(absDst, data, 0o644)
}

func (f *Filesystem) Move(_ context.Context, src, dst string) error {
	absSrc, err := f.abs(src)
	if err != nil {
		return err
	}
	absDst, err := f.abs(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return parqerr.Wrap(parqerr.KindTransient, err, "mkdir for %q", dst)
	}
	if err := os.Rename(absSrc, absDst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return parqerr.New(parqerr.KindNotFound, "object %q not found", src)
		}
		return parqerr.Wrap(parqerr.KindTransient, err, "move %q -> %q", src, dst)
	}
	return nil
}

func (f *Filesystem) Mkdir(_ context.Context, p string) error {
	abs, err := f.abs(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0o755)
}

func (f *Filesystem) Rmdir(_ context.Context, p string, recursive bool) error {
	abs, err := f.abs(p)
	if err != nil {
		return err
	}
	if recursive {
		return os.RemoveAll(abs)
	}
	err = os.Remove(abs)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
