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

package observed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/storage"
	"github.com/arrowarc/parquedb/internal/storage/observed"
)

func TestWrapDispatchesReadAndWriteHooks(t *testing.T) {
	ctx := context.Background()
	hooks := observed.NewHooks()

	var mu sync.Mutex
	var writes []observed.OpContext
	var reads []observed.OpContext
	hooks.RegisterWrite(func(c observed.OpContext, r observed.OpResult) {
		mu.Lock()
		defer mu.Unlock()
		writes = append(writes, c)
		assert.Equal(t, int64(5), r.BytesTransferred)
	})
	hooks.RegisterRead(func(c observed.OpContext, r observed.OpResult) {
		mu.Lock()
		defer mu.Unlock()
		reads = append(reads, c)
	})

	b := observed.Wrap(storage.NewMemory(), hooks, nil)

	_, err := b.Write(ctx, "greeting", []byte("hello"), storage.WriteOptions{})
	require.NoError(t, err)
	_, err = b.Read(ctx, "greeting")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, writes, 1)
	assert.Equal(t, "write", writes[0].OperationType)
	require.Len(t, reads, 1)
	assert.Equal(t, "read", reads[0].OperationType)
}

func TestWrapEmitsNoHooksForLightweightOps(t *testing.T) {
	ctx := context.Background()
	hooks := observed.NewHooks()
	called := false
	hooks.RegisterRead(func(observed.OpContext, observed.OpResult) { called = true })
	hooks.RegisterWrite(func(observed.OpContext, observed.OpResult) { called = true })

	b := observed.Wrap(storage.NewMemory(), hooks, nil)
	_, err := b.Exists(ctx, "anything")
	require.NoError(t, err)
	_, err = b.Stat(ctx, "anything")
	require.NoError(t, err)
	assert.False(t, called)
}

func TestWrapIsIdempotent(t *testing.T) {
	b1 := observed.Wrap(storage.NewMemory(), nil, nil)
	b2 := observed.Wrap(b1, nil, nil)
	assert.Same(t, b1, b2)
}

func TestWrapDispatchesErrorHookOnNotFound(t *testing.T) {
	ctx := context.Background()
	hooks := observed.NewHooks()
	var gotErr error
	hooks.RegisterError(func(c observed.OpContext, err error) { gotErr = err })

	b := observed.Wrap(storage.NewMemory(), hooks, nil)
	_, err := b.Read(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, err, gotErr)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAfterThresholdFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := observed.NewCircuitBreaker(observed.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeoutMs:   1000,
		Now:              clock.Now,
	})

	for i := 0; i < 3; i++ {
		err := cb.Call(func() error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, observed.StateOpen, cb.State())

	err := cb.Call(func() error { return nil })
	var openErr *observed.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, int64(1000), openErr.RemainingMs)
}

func TestCircuitBreakerHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := observed.NewCircuitBreaker(observed.CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		ResetTimeoutMs:   500,
		Now:              clock.Now,
	})

	require.ErrorIs(t, cb.Call(func() error { return errBoom }), errBoom)
	assert.Equal(t, observed.StateOpen, cb.State())

	clock.Advance(600 * time.Millisecond)

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, observed.StateHalfOpen, cb.State())

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, observed.StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopensImmediately(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := observed.NewCircuitBreaker(observed.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeoutMs:   100,
		Now:              clock.Now,
	})

	require.ErrorIs(t, cb.Call(func() error { return errBoom }), errBoom)
	clock.Advance(200 * time.Millisecond)
	require.ErrorIs(t, cb.Call(func() error { return errBoom }), errBoom)
	assert.Equal(t, observed.StateOpen, cb.State())
}

func TestCircuitBreakerNotFoundNeverTrips(t *testing.T) {
	cb := observed.NewCircuitBreaker(observed.CircuitBreakerConfig{FailureThreshold: 1})
	notFound := parqerr.New(parqerr.KindNotFound, "missing")
	for i := 0; i < 10; i++ {
		_ = cb.Call(func() error { return notFound })
	}
	assert.Equal(t, observed.StateClosed, cb.State())
}

func TestBreakerBackendFailsFastWhileOpen(t *testing.T) {
	ctx := context.Background()
	under := &flakyBackend{Backend: storage.NewMemory(), failAlways: true}
	bb := observed.NewBreakerBackend(under, observed.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeoutMs: 60_000})

	_, err := bb.Read(ctx, "x")
	require.Error(t, err)
	assert.Equal(t, 1, under.calls)

	_, err = bb.Read(ctx, "x")
	var openErr *observed.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 1, under.calls, "breaker must short-circuit without calling inner backend")
}

type flakyBackend struct {
	storage.Backend
	failAlways bool
	calls      int
}

func (f *flakyBackend) Read(ctx context.Context, p string) ([]byte, error) {
	f.calls++
	if f.failAlways {
		return nil, parqerr.New(parqerr.KindTransient, "flaky")
	}
	return f.Backend.Read(ctx, p)
}
