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

// Package storage defines the uniform object-storage capability set that
// every backend — filesystem, in-memory, and object-storage (S3/GCS via
// thanos-io/objstore) — implements.
package storage

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

// WriteOptions controls conditional-write behavior.
type WriteOptions struct {
	// IfNoneMatch == "*" means the write must fail with PreconditionFailed
	// if an object already exists at path.
	IfNoneMatch string
	// IfMatch, when set, means the write must fail with PreconditionFailed
	// unless the current object's ETag equals IfMatch.
	IfMatch string
}

// WriteResult is returned by every write-shaped operation.
type WriteResult struct {
	ETag string
	Size int64
}

// Info describes an object's metadata without transferring its bytes.
type Info struct {
	Path     string
	Size     int64
	ETag     string
	Modified time.Time
}

// ListOptions page and filter a List call.
type ListOptions struct {
	Cursor    string
	Limit     int
	Delimiter string
}

// ListResult is one page of a List call.
type ListResult struct {
	Files             []Info
	DelimitedPrefixes []string
	Cursor            string
	HasMore           bool
}

// PartResult describes one completed multipart upload part.
type PartResult struct {
	PartNumber int
	ETag       string
}

// MultipartUpload is the capability returned by CreateMultipartUpload.
// Part numbers are 1-based and ordered; Complete concatenates in
// PartNumber order.
type MultipartUpload interface {
	UploadID() string
	UploadPart(ctx context.Context, partNumber int, data []byte) (PartResult, error)
	Complete(ctx context.Context, parts []PartResult) (*WriteResult, error)
	Abort(ctx context.Context) error
}

// Backend is the uniform object-storage capability set. Every mutating
// call reports PreconditionFailed/NotFound through parqerr kinds.
type Backend interface {
	Read(ctx context.Context, p string) ([]byte, error)
	// ReadRange returns bytes in [start, end) — end is exclusive, clamped
	// to the object's size.
	ReadRange(ctx context.Context, p string, start, end int64) ([]byte, error)
	Exists(ctx context.Context, p string) (bool, error)
	Stat(ctx context.Context, p string) (*Info, error)

	Write(ctx context.Context, p string, data []byte, opts WriteOptions) (*WriteResult, error)
	WriteAtomic(ctx context.Context, p string, data []byte, opts WriteOptions) (*WriteResult, error)
	WriteConditional(ctx context.Context, p string, data []byte, expectedETag *string) (*WriteResult, error)
	Append(ctx context.Context, p string, data []byte) error

	Delete(ctx context.Context, p string) (bool, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	List(ctx context.Context, prefix string, opts ListOptions) (*ListResult, error)

	Copy(ctx context.Context, src, dst string) error
	Move(ctx context.Context, src, dst string) error

	Mkdir(ctx context.Context, p string) error
	Rmdir(ctx context.Context, p string, recursive bool) error
}

// MultipartCapable is implemented by backends that support multipart
// uploads; callers discover it with a type assertion.
type MultipartCapable interface {
	CreateMultipartUpload(ctx context.Context, p string) (MultipartUpload, error)
}

// NormalizePath rejects ".." traversal and collapses the path to a clean,
// posix-style, backend-root-relative form.
func NormalizePath(p string) (string, error) {
	if p == "" {
		return "", parqerr.New(parqerr.KindInvalidInput, "empty path")
	}
	clean := path.Clean("/" + p)
	clean = strings.TrimPrefix(clean, "/")
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".." {
			return "", parqerr.New(parqerr.KindInvalidInput, "path %q escapes the backend root", p)
		}
	}
	return clean, nil
}
