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
	"sync/atomic"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

type atomicCounter struct{ n int64 }

func (c *atomicCounter) next() int64 { return atomic.AddInt64(&c.n, 1) }

var nonceCounter atomicCounter

// GCSSink is a GCS-backed Backend used when a dataset root lives in a
// single bucket+prefix and the deployment wants the native GCS client
// rather than the generic objstore.Bucket abstraction — e.g. to get GCS's
// object composition for multipart uploads. Named after and grounded on
// integrations/gcs/gcs.go's GCSSink.
type GCSSink struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSSink opens a GCS client rooted at bucketName/prefix. credsFile may
// be empty to use ambient application-default credentials.
func NewGCSSink(ctx context.Context, bucketName, prefix, credsFile string) (*GCSSink, error) {
	var opts []option.ClientOption
	if credsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSSink{client: client, bucketName: bucketName, prefix: prefix}, nil
}

func (s *GCSSink) object(p string) (string, error) {
	clean, err := NormalizePath(p)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return clean, nil
	}
	return s.prefix + "/" + clean, nil
}

func (s *GCSSink) Close() error {
	return s.client.Close()
}

func (s *GCSSink) Read(ctx context.Context, p string) ([]byte, error) {
	name, err := s.object(p)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucketName).Object(name).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, parqerr.New(parqerr.KindNotFound, "object %q not found", p)
		}
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "open reader %q", p)
	}
	defer r.Close()
	buf := make([]byte, 0, r.Attrs.Size)
	for {
		chunk := make([]byte, 32*1024)
		n, rerr := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if rerr != nil {
			break
		}
	}
	return buf, nil
}

func (s *GCSSink) ReadRange(ctx context.Context, p string, start, end int64) ([]byte, error) {
	name, err := s.object(p)
	if err != nil {
		return nil, err
	}
	attrs, err := s.client.Bucket(s.bucketName).Object(name).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, parqerr.New(parqerr.KindNotFound, "object %q not found", p)
		}
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "attrs %q", p)
	}
	n := attrs.Size
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
	r, err := s.client.Bucket(s.bucketName).Object(name).NewRangeReader(ctx, start, end-start)
	if err != nil {
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "range reader %q", p)
	}
	defer r.Close()
	buf := make([]byte, end-start)
	if _, err := r.Read(buf); err != nil {
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "read range %q", p)
	}
	return buf, nil
}

func (s *GCSSink) Exists(ctx context.Context, p string) (bool, error) {
	info, err := s.Stat(ctx, p)
	return info != nil, err
}

func (s *GCSSink) Stat(ctx context.Context, p string) (*Info, error) {
	name, err := s.object(p)
	if err != nil {
		return nil, err
	}
	attrs, err := s.client.Bucket(s.bucketName).Object(name).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, nil
		}
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "attrs %q", p)
	}
	return &Info{Path: p, Size: attrs.Size, ETag: attrs.Etag, Modified: attrs.Updated}, nil
}

func (s *GCSSink) write(ctx context.Context, p string, data []byte, opts WriteOptions) (*WriteResult, error) {
	name, err := s.object(p)
	if err != nil {
		return nil, err
	}
	obj := s.client.Bucket(s.bucketName).Object(name)
	if opts.IfNoneMatch == "*" {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	} else if opts.IfMatch != "" {
		attrs, err := obj.Attrs(ctx)
		if err == storage.ErrObjectNotExist || (err == nil && attrs.Etag != opts.IfMatch) {
			return nil, parqerr.New(parqerr.KindPreconditionFail, "etag mismatch for %q", p)
		}
		if err != nil {
			return nil, parqerr.Wrap(parqerr.KindTransient, err, "attrs %q", p)
		}
		obj = obj.If(storage.Conditions{GenerationMatch: attrs.Generation})
	}
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "write %q", p)
	}
	if err := w.Close(); err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && (gerr.Code == 412 || gerr.Code == 409) {
			return nil, parqerr.New(parqerr.KindPreconditionFail, "precondition failed for %q", p)
		}
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "close writer %q", p)
	}
	return &WriteResult{ETag: w.Attrs().Etag, Size: int64(len(data))}, nil
}

func (s *GCSSink) Write(ctx context.Context, p string, data []byte, opts WriteOptions) (*WriteResult, error) {
	return s.write(ctx, p, data, opts)
}

func (s *GCSSink) WriteAtomic(ctx context.Context, p string, data []byte, opts WriteOptions) (*WriteResult, error) {
	return s.write(ctx, p, data, opts)
}

func (s *GCSSink) WriteConditional(ctx context.Context, p string, data []byte, expectedETag *string) (*WriteResult, error) {
	opts := WriteOptions{}
	if expectedETag == nil {
		opts.IfNoneMatch = "*"
	} else {
		opts.IfMatch = *expectedETag
	}
	return s.write(ctx, p, data, opts)
}

func (s *GCSSink) Append(ctx context.Context, p string, data []byte) error {
	existing, err := s.Read(ctx, p)
	if err != nil && !parqerr.Is(err, parqerr.KindNotFound) {
		return err
	}
	_, err = s.write(ctx, p, append(existing, data...), WriteOptions{})
	return err
}

func (s *GCSSink) Delete(ctx context.Context, p string) (bool, error) {
	name, err := s.object(p)
	if err != nil {
		return false, err
	}
	existed, _ := s.Exists(ctx, p)
	err = s.client.Bucket(s.bucketName).Object(name).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return false, parqerr.Wrap(parqerr.KindTransient, err, "delete %q", p)
	}
	return existed, nil
}

func (s *GCSSink) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	name, err := s.object(prefix)
	if err != nil {
		return 0, err
	}
	it := s.client.Bucket(s.bucketName).Objects(ctx, &storage.Query{Prefix: name})
	n := 0
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return n, parqerr.Wrap(parqerr.KindTransient, err, "iterate prefix %q", prefix)
		}
		if err := s.client.Bucket(s.bucketName).Object(attrs.Name).Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
			return n, parqerr.Wrap(parqerr.KindTransient, err, "delete %q", attrs.Name)
		}
		n++
	}
	return n, nil
}

func (s *GCSSink) List(ctx context.Context, prefix string, opts ListOptions) (*ListResult, error) {
	name, err := s.object(prefix)
	if err != nil {
		return nil, err
	}
	q := &storage.Query{Prefix: name, Delimiter: opts.Delimiter}
	it := s.client.Bucket(s.bucketName).Objects(ctx, q)
	res := &ListResult{}
	count := 0
	skipping := opts.Cursor != ""
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, parqerr.Wrap(parqerr.KindTransient, err, "iterate %q", prefix)
		}
		if attrs.Prefix != "" {
			res.DelimitedPrefixes = append(res.DelimitedPrefixes, attrs.Prefix)
			continue
		}
		if skipping {
			if attrs.Name == opts.Cursor {
				skipping = false
			}
			continue
		}
		res.Files = append(res.Files, Info{Path: attrs.Name, Size: attrs.Size, ETag: attrs.Etag, Modified: attrs.Updated})
		count++
		if opts.Limit > 0 && count >= opts.Limit {
			res.Cursor = attrs.Name
			res.HasMore = true
			break
		}
	}
	return res, nil
}

func (s *GCSSink) Copy(ctx context.Context, src, dst string) error {
	srcName, err := s.object(src)
	if err != nil {
		return err
	}
	dstName, err := s.object(dst)
	if err != nil {
		return err
	}
	srcObj := s.client.Bucket(s.bucketName).Object(srcName)
	dstObj := s.client.Bucket(s.bucketName).Object(dstName)
	_, err = dstObj.CopierFrom(srcObj).Run(ctx)
	if err != nil {
		return parqerr.Wrap(parqerr.KindTransient, err, "copy %q -> %q", src, dst)
	}
	return nil
}

func (s *GCSSink) Move(ctx context.Context, src, dst string) error {
	if err := s.Copy(ctx, src, dst); err != nil {
		return err
	}
	_, err := s.Delete(ctx, src)
	return err
}

func (s *GCSSink) Mkdir(_ context.Context, _ string) error { return nil }
func (s *GCSSink) Rmdir(ctx context.Context, p string, recursive bool) error {
	if !recursive {
		return nil
	}
	_, err := s.DeletePrefix(ctx, p)
	return err
}

// --- multipart capability via GCS object composition ---

type gcsMultipart struct {
	sink     *GCSSink
	p        string
	uploadID string
	parts    []string // temp object names, index 0-based
}

func (s *GCSSink) CreateMultipartUpload(ctx context.Context, p string) (MultipartUpload, error) {
	name, err := s.object(p)
	if err != nil {
		return nil, err
	}
	return &gcsMultipart{sink: s, p: name, uploadID: fmt.Sprintf("%s-%d", name, ctxNonce())}, nil
}

func ctxNonce() int64 {
	// A monotonically distinct value per call is sufficient here; the
	// upload id only needs to namespace this upload's temp part objects.
	return nonceCounter.next()
}

func (m *gcsMultipart) UploadID() string { return m.uploadID }

func (m *gcsMultipart) UploadPart(ctx context.Context, partNumber int, data []byte) (PartResult, error) {
	partName := fmt.Sprintf("%s.part-%06d", m.uploadID, partNumber)
	w := m.sink.client.Bucket(m.sink.bucketName).Object(partName).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return PartResult{}, parqerr.Wrap(parqerr.KindTransient, err, "upload part %d", partNumber)
	}
	if err := w.Close(); err != nil {
		return PartResult{}, parqerr.Wrap(parqerr.KindTransient, err, "close part %d", partNumber)
	}
	for len(m.parts) < partNumber {
		m.parts = append(m.parts, "")
	}
	m.parts[partNumber-1] = partName
	return PartResult{PartNumber: partNumber, ETag: w.Attrs().Etag}, nil
}

func (m *gcsMultipart) Complete(ctx context.Context, parts []PartResult) (*WriteResult, error) {
	bucket := m.sink.client.Bucket(m.sink.bucketName)
	srcs := make([]*storage.ObjectHandle, 0, len(parts))
	for _, pr := range parts {
		if pr.PartNumber < 1 || pr.PartNumber > len(m.parts) || m.parts[pr.PartNumber-1] == "" {
			return nil, parqerr.New(parqerr.KindInvalidInput, "missing part %d", pr.PartNumber)
		}
		srcs = append(srcs, bucket.Object(m.parts[pr.PartNumber-1]))
	}
	dst := bucket.Object(m.p)
	attrs, err := dst.ComposerFrom(srcs...).Run(ctx)
	if err != nil {
		return nil, parqerr.Wrap(parqerr.KindTransient, err, "compose %q", m.p)
	}
	for _, name := range m.parts {
		if name != "" {
			_ = bucket.Object(name).Delete(ctx)
		}
	}
	return &WriteResult{ETag: attrs.Etag, Size: attrs.Size}, nil
}

func (m *gcsMultipart) Abort(ctx context.Context) error {
	bucket := m.sink.client.Bucket(m.sink.bucketName)
	for _, name := range m.parts {
		if name != "" {
			_ = bucket.Object(name).Delete(ctx)
		}
	}
	return nil
}
