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

// Package observed decorates a storage.Backend with an observability
// publish/subscribe surface and, separately, a circuit breaker.
// Hooks are pure functions of (context, result|error); a hook panicking or
// erroring is isolated and never changes the decorated operation's outcome.
package observed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/arrowarc/parquedb/internal/storage"
)

// OpContext is passed to every hook before an operation runs.
type OpContext struct {
	OperationType string // "read", "readRange", "write", "writeAtomic", "writeConditional", "append", "delete", "deletePrefix", "copy", "move"
	Path          string
	RangeStart    *int64
	RangeEnd      *int64
}

// OpResult is passed to read/write/delete hooks after a successful operation.
type OpResult struct {
	BytesTransferred int64
	FileCount        *int
	ETag             string
	DurationMs       float64
}

// ReadHook, WriteHook, DeleteHook and ErrorHook are the four dispatchable
// hook shapes. onStorageError always receives a Go error, even when the
// underlying backend panicked with a non-error value.
type ReadHook func(ctx OpContext, result OpResult)
type WriteHook func(ctx OpContext, result OpResult)
type DeleteHook func(ctx OpContext, result OpResult)
type ErrorHook func(ctx OpContext, err error)

// Hooks is a registry of subscribers. The zero value has no subscribers.
type Hooks struct {
	mu      sync.RWMutex
	onRead  []ReadHook
	onWrite []WriteHook
	onDel   []DeleteHook
	onErr   []ErrorHook
}

// NewHooks returns an empty hook registry. Call RegisterXxx on it, or use
// Global for a process-wide registry populated once at startup.
func NewHooks() *Hooks { return &Hooks{} }

// Global is the process-wide hook registry used when an Observed backend
// is built without an explicit Hooks value.
var Global = NewHooks()

func (h *Hooks) RegisterRead(fn ReadHook) {
	h.mu.Lock()
	h.onRead = append(h.onRead, fn)
	h.mu.Unlock()
}
func (h *Hooks) RegisterWrite(fn WriteHook) {
	h.mu.Lock()
	h.onWrite = append(h.onWrite, fn)
	h.mu.Unlock()
}
func (h *Hooks) RegisterDelete(fn DeleteHook) {
	h.mu.Lock()
	h.onDel = append(h.onDel, fn)
	h.mu.Unlock()
}
func (h *Hooks) RegisterError(fn ErrorHook) {
	h.mu.Lock()
	h.onErr = append(h.onErr, fn)
	h.mu.Unlock()
}

func (h *Hooks) dispatchRead(ctx OpContext, res OpResult, logger log.Logger) {
	h.mu.RLock()
	fns := append([]ReadHook(nil), h.onRead...)
	h.mu.RUnlock()
	for _, fn := range fns {
		safeCall(logger, "onRead", func() { fn(ctx, res) })
	}
}

func (h *Hooks) dispatchWrite(ctx OpContext, res OpResult, logger log.Logger) {
	h.mu.RLock()
	fns := append([]WriteHook(nil), h.onWrite...)
	h.mu.RUnlock()
	for _, fn := range fns {
		safeCall(logger, "onWrite", func() { fn(ctx, res) })
	}
}

func (h *Hooks) dispatchDelete(ctx OpContext, res OpResult, logger log.Logger) {
	h.mu.RLock()
	fns := append([]DeleteHook(nil), h.onDel...)
	h.mu.RUnlock()
	for _, fn := range fns {
		safeCall(logger, "onDelete", func() { fn(ctx, res) })
	}
}

func (h *Hooks) dispatchError(ctx OpContext, err error, logger log.Logger) {
	h.mu.RLock()
	fns := append([]ErrorHook(nil), h.onErr...)
	h.mu.RUnlock()
	for _, fn := range fns {
		safeCall(logger, "onStorageError", func() { fn(ctx, err) })
	}
}

func safeCall(logger log.Logger, hookName string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(logger).Log("msg", "storage hook panicked", "hook", hookName, "panic", r)
		}
	}()
	fn()
}

// Backend decorates a storage.Backend, dispatching hooks for read/write/
// delete/error on the operations that move bytes. Lightweight operations
// (Exists, Stat, Mkdir) emit no hooks.
type Backend struct {
	Inner  storage.Backend
	hooks  *Hooks
	logger log.Logger
	now    func() time.Time
}

// alreadyObserved lets Wrap be idempotent: wrapping an Observed backend
// returns it unchanged.
type alreadyObserved interface {
	isObserved()
}

func (*Backend) isObserved() {}

// Wrap decorates inner with observability hooks. If inner is already a
// *Backend, Wrap is a no-op identity (decorating twice has no effect).
func Wrap(inner storage.Backend, hooks *Hooks, logger log.Logger) *Backend {
	if already, ok := inner.(alreadyObserved); ok {
		_ = already
		return inner.(*Backend)
	}
	if hooks == nil {
		hooks = Global
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Backend{Inner: inner, hooks: hooks, logger: logger, now: time.Now}
}

func (b *Backend) timed(fn func() error) (dur float64, err error) {
	start := b.now()
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("storage backend panicked: %v", r)
			}
		}
		dur = float64(b.now().Sub(start)) / float64(time.Millisecond)
	}()
	return 0, fn()
}

func (b *Backend) Read(ctx context.Context, p string) ([]byte, error) {
	octx := OpContext{OperationType: "read", Path: p}
	var data []byte
	dur, err := b.timed(func() error {
		var innerErr error
		data, innerErr = b.Inner.Read(ctx, p)
		return innerErr
	})
	if err != nil {
		b.hooks.dispatchError(octx, asError(err), b.logger)
		return nil, err
	}
	b.hooks.dispatchRead(octx, OpResult{BytesTransferred: int64(len(data)), DurationMs: dur}, b.logger)
	return data, nil
}

func (b *Backend) ReadRange(ctx context.Context, p string, start, end int64) ([]byte, error) {
	octx := OpContext{OperationType: "readRange", Path: p, RangeStart: &start, RangeEnd: &end}
	var data []byte
	dur, err := b.timed(func() error {
		var innerErr error
		data, innerErr = b.Inner.ReadRange(ctx, p, start, end)
		return innerErr
	})
	if err != nil {
		b.hooks.dispatchError(octx, asError(err), b.logger)
		return nil, err
	}
	b.hooks.dispatchRead(octx, OpResult{BytesTransferred: int64(len(data)), DurationMs: dur}, b.logger)
	return data, nil
}

func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	return b.Inner.Exists(ctx, p)
}

func (b *Backend) Stat(ctx context.Context, p string) (*storage.Info, error) {
	return b.Inner.Stat(ctx, p)
}

func (b *Backend) Write(ctx context.Context, p string, data []byte, opts storage.WriteOptions) (*storage.WriteResult, error) {
	octx := OpContext{OperationType: "write", Path: p}
	var res *storage.WriteResult
	dur, err := b.timed(func() error {
		var innerErr error
		res, innerErr = b.Inner.Write(ctx, p, data, opts)
		return innerErr
	})
	if err != nil {
		b.hooks.dispatchError(octx, asError(err), b.logger)
		return nil, err
	}
	b.hooks.dispatchWrite(octx, OpResult{BytesTransferred: res.Size, ETag: res.ETag, DurationMs: dur}, b.logger)
	return res, nil
}

func (b *Backend) WriteAtomic(ctx context.Context, p string, data []byte, opts storage.WriteOptions) (*storage.WriteResult, error) {
	octx := OpContext{OperationType: "writeAtomic", Path: p}
	var res *storage.WriteResult
	dur, err := b.timed(func() error {
		var innerErr error
		res, innerErr = b.Inner.WriteAtomic(ctx, p, data, opts)
		return innerErr
	})
	if err != nil {
		b.hooks.dispatchError(octx, asError(err), b.logger)
		return nil, err
	}
	b.hooks.dispatchWrite(octx, OpResult{BytesTransferred: res.Size, ETag: res.ETag, DurationMs: dur}, b.logger)
	return res, nil
}

func (b *Backend) WriteConditional(ctx context.Context, p string, data []byte, expectedETag *string) (*storage.WriteResult, error) {
	octx := OpContext{OperationType: "writeConditional", Path: p}
	var res *storage.WriteResult
	dur, err := b.timed(func() error {
		var innerErr error
		res, innerErr = b.Inner.WriteConditional(ctx, p, data, expectedETag)
		return innerErr
	})
	if err != nil {
		b.hooks.dispatchError(octx, asError(err), b.logger)
		return nil, err
	}
	b.hooks.dispatchWrite(octx, OpResult{BytesTransferred: res.Size, ETag: res.ETag, DurationMs: dur}, b.logger)
	return res, nil
}

func (b *Backend) Append(ctx context.Context, p string, data []byte) error {
	octx := OpContext{OperationType: "append", Path: p}
	_, err := b.timed(func() error {
		return b.Inner.Append(ctx, p, data)
	})
	if err != nil {
		b.hooks.dispatchError(octx, asError(err), b.logger)
		return err
	}
	b.hooks.dispatchWrite(octx, OpResult{BytesTransferred: int64(len(data))}, b.logger)
	return nil
}

func (b *Backend) Delete(ctx context.Context, p string) (bool, error) {
	octx := OpContext{OperationType: "delete", Path: p}
	var existed bool
	_, err := b.timed(func() error {
		var innerErr error
		existed, innerErr = b.Inner.Delete(ctx, p)
		return innerErr
	})
	if err != nil {
		b.hooks.dispatchError(octx, asError(err), b.logger)
		return false, err
	}
	b.hooks.dispatchDelete(octx, OpResult{}, b.logger)
	return existed, nil
}

func (b *Backend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	octx := OpContext{OperationType: "deletePrefix", Path: prefix}
	var n int
	_, err := b.timed(func() error {
		var innerErr error
		n, innerErr = b.Inner.DeletePrefix(ctx, prefix)
		return innerErr
	})
	if err != nil {
		b.hooks.dispatchError(octx, asError(err), b.logger)
		return 0, err
	}
	b.hooks.dispatchDelete(octx, OpResult{FileCount: &n}, b.logger)
	return n, nil
}

func (b *Backend) List(ctx context.Context, prefix string, opts storage.ListOptions) (*storage.ListResult, error) {
	return b.Inner.List(ctx, prefix, opts)
}

func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	octx := OpContext{OperationType: "copy", Path: src}
	_, err := b.timed(func() error { return b.Inner.Copy(ctx, src, dst) })
	if err != nil {
		b.hooks.dispatchError(octx, asError(err), b.logger)
		return err
	}
	b.hooks.dispatchWrite(octx, OpResult{}, b.logger)
	return nil
}

func (b *Backend) Move(ctx context.Context, src, dst string) error {
	octx := OpContext{OperationType: "move", Path: src}
	_, err := b.timed(func() error { return b.Inner.Move(ctx, src, dst) })
	if err != nil {
		b.hooks.dispatchError(octx, asError(err), b.logger)
		return err
	}
	b.hooks.dispatchWrite(octx, OpResult{}, b.logger)
	return nil
}

func (b *Backend) Mkdir(ctx context.Context, p string) error { return b.Inner.Mkdir(ctx, p) }
func (b *Backend) Rmdir(ctx context.Context, p string, recursive bool) error {
	return b.Inner.Rmdir(ctx, p, recursive)
}

// CreateMultipartUpload forwards to Inner when it supports multipart.
func (b *Backend) CreateMultipartUpload(ctx context.Context, p string) (storage.MultipartUpload, error) {
	mc, ok := b.Inner.(storage.MultipartCapable)
	if !ok {
		return nil, nil
	}
	return mc.CreateMultipartUpload(ctx, p)
}

// asError makes sure onStorageError always receives a real error, even if
// something upstream threw a non-error value through a recover() path.
func asError(err error) error {
	if err == nil {
		return nil
	}
	return err
}

var _ storage.Backend = (*Backend)(nil)
