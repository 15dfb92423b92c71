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

package observed

import (
	"context"

	"github.com/arrowarc/parquedb/internal/storage"
)

// BreakerBackend layers a CircuitBreaker in front of a storage.Backend so a
// degraded object-storage provider fails fast instead of piling up timeouts
// . Pair it with Wrap to get both observability and breaker
// protection: Wrap(NewBreakerBackend(inner, cfg), hooks, logger).
type BreakerBackend struct {
	inner   storage.Backend
	breaker *CircuitBreaker
}

// NewBreakerBackend wraps inner with a circuit breaker built from cfg.
func NewBreakerBackend(inner storage.Backend, cfg CircuitBreakerConfig) *BreakerBackend {
	return &BreakerBackend{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

// Breaker exposes the underlying breaker, e.g. for State() in health checks.
func (b *BreakerBackend) Breaker() *CircuitBreaker { return b.breaker }

func (b *BreakerBackend) Read(ctx context.Context, p string) (data []byte, err error) {
	err = b.breaker.Call(func() error {
		var innerErr error
		data, innerErr = b.inner.Read(ctx, p)
		return innerErr
	})
	return data, err
}

func (b *BreakerBackend) ReadRange(ctx context.Context, p string, start, end int64) (data []byte, err error) {
	err = b.breaker.Call(func() error {
		var innerErr error
		data, innerErr = b.inner.ReadRange(ctx, p, start, end)
		return innerErr
	})
	return data, err
}

func (b *BreakerBackend) Exists(ctx context.Context, p string) (bool, error) {
	return b.inner.Exists(ctx, p)
}

func (b *BreakerBackend) Stat(ctx context.Context, p string) (*storage.Info, error) {
	return b.inner.Stat(ctx, p)
}

func (b *BreakerBackend) Write(ctx context.Context, p string, data []byte, opts storage.WriteOptions) (res *storage.WriteResult, err error) {
	err = b.breaker.Call(func() error {
		var innerErr error
		res, innerErr = b.inner.Write(ctx, p, data, opts)
		return innerErr
	})
	return res, err
}

func (b *BreakerBackend) WriteAtomic(ctx context.Context, p string, data []byte, opts storage.WriteOptions) (res *storage.WriteResult, err error) {
	err = b.breaker.Call(func() error {
		var innerErr error
		res, innerErr = b.inner.WriteAtomic(ctx, p, data, opts)
		return innerErr
	})
	return res, err
}

func (b *BreakerBackend) WriteConditional(ctx context.Context, p string, data []byte, expectedETag *string) (res *storage.WriteResult, err error) {
	err = b.breaker.Call(func() error {
		var innerErr error
		res, innerErr = b.inner.WriteConditional(ctx, p, data, expectedETag)
		return innerErr
	})
	return res, err
}

func (b *BreakerBackend) Append(ctx context.Context, p string, data []byte) error {
	return b.breaker.Call(func() error { return b.inner.Append(ctx, p, data) })
}

func (b *BreakerBackend) Delete(ctx context.Context, p string) (existed bool, err error) {
	err = b.breaker.Call(func() error {
		var innerErr error
		existed, innerErr = b.inner.Delete(ctx, p)
		return innerErr
	})
	return existed, err
}

func (b *BreakerBackend) DeletePrefix(ctx context.Context, prefix string) (n int, err error) {
	err = b.breaker.Call(func() error {
		var innerErr error
		n, innerErr = b.inner.DeletePrefix(ctx, prefix)
		return innerErr
	})
	return n, err
}

func (b *BreakerBackend) List(ctx context.Context, prefix string, opts storage.ListOptions) (res *storage.ListResult, err error) {
	err = b.breaker.Call(func() error {
		var innerErr error
		res, innerErr = b.inner.List(ctx, prefix, opts)
		return innerErr
	})
	return res, err
}

func (b *BreakerBackend) Copy(ctx context.Context, src, dst string) error {
	return b.breaker.Call(func() error { return b.inner.Copy(ctx, src, dst) })
}

func (b *BreakerBackend) Move(ctx context.Context, src, dst string) error {
	return b.breaker.Call(func() error { return b.inner.Move(ctx, src, dst) })
}

func (b *BreakerBackend) Mkdir(ctx context.Context, p string) error { return b.inner.Mkdir(ctx, p) }
func (b *BreakerBackend) Rmdir(ctx context.Context, p string, recursive bool) error {
	return b.inner.Rmdir(ctx, p, recursive)
}

var _ storage.Backend = (*BreakerBackend)(nil)
