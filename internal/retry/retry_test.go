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

package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/retry"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := retry.Do(context.Background(), retry.Config{InitialInterval: time.Millisecond, MaxAttempts: 5}, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return parqerr.New(parqerr.KindTransient, "not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	nonRetryable := parqerr.New(parqerr.KindInvalidInput, "bad input")
	err := retry.Do(context.Background(), retry.Config{InitialInterval: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return nonRetryable
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, nonRetryable)
}

func TestDoExhaustsAttemptsAndReportsMetrics(t *testing.T) {
	attempts := 0
	err := retry.Do(context.Background(), retry.Config{InitialInterval: time.Millisecond, MaxAttempts: 3}, func(ctx context.Context) error {
		attempts++
		return parqerr.New(parqerr.KindTransient, "still failing")
	})
	require.Error(t, err)
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, exhausted.Metrics.Attempts)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retry.Do(ctx, retry.Config{InitialInterval: 50 * time.Millisecond, MaxAttempts: 10}, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return parqerr.New(parqerr.KindTransient, "fail")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 2)
}

func TestDoCustomRetryablePredicate(t *testing.T) {
	sentinel := errors.New("custom")
	attempts := 0
	cfg := retry.Config{
		InitialInterval: time.Millisecond,
		MaxAttempts:     3,
		Retryable:       func(err error) bool { return errors.Is(err, sentinel) },
	}
	err := retry.Do(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}
