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

// Package retry wraps github.com/cenkalti/backoff/v4 with the retry
// semantics the store's mutation path needs: a pluggable retryable predicate (default
// parqerr.Retryable), an injectable clock/abort signal for tests, and retry
// metrics attached to the final error when every attempt is exhausted.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

// Config tunes the exponential backoff schedule. Zero values fall back to
// conservative defaults suited to storage and version conflicts: an
// initial 1s interval tripling on each attempt, randomized, capped at
// MaxAttempts tries.
type Config struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     uint64

	// Retryable decides whether err should be retried. Defaults to
	// parqerr.Retryable, which excludes NotFound/InvalidInput/Permanent.
	Retryable func(err error) bool

	// Clock, when set, replaces time.Now for the backoff's elapsed-time
	// accounting and for Metrics.TotalElapsed in tests.
	Clock func() time.Time
}

func (c *Config) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 3
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 4
	}
	if c.Retryable == nil {
		c.Retryable = parqerr.Retryable
	}
}

// Metrics records what happened across a Do call's attempts.
type Metrics struct {
	Attempts     int
	TotalElapsed time.Duration
}

// ExhaustedError is returned by Do when every attempt failed. It carries
// the last underlying error and the attempt metrics.
type ExhaustedError struct {
	Last    error
	Metrics Metrics
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempt(s) in %s: %v", e.Metrics.Attempts, e.Metrics.TotalElapsed, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do runs fn, retrying on errors Config.Retryable accepts, using
// exponential backoff with jitter. It stops early, without retrying, on a
// non-retryable error, and it stops immediately if ctx is canceled.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg.applyDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialInterval
	eb.Multiplier = cfg.Multiplier
	eb.MaxInterval = cfg.MaxInterval
	if cfg.Clock != nil {
		eb.Clock = clockFunc(cfg.Clock)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, cfg.MaxAttempts-1), ctx)

	metrics := Metrics{}
	start := timeNow(cfg.Clock)

	var lastErr error
	err := backoff.Retry(func() error {
		metrics.Attempts++
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !cfg.Retryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, bo)

	metrics.TotalElapsed = timeNow(cfg.Clock).Sub(start)

	if err == nil {
		return nil
	}
	if lastErr == nil {
		lastErr = err
	}
	if !cfg.Retryable(lastErr) {
		return lastErr
	}
	return &ExhaustedError{Last: lastErr, Metrics: metrics}
}

func timeNow(clock func() time.Time) time.Time {
	if clock != nil {
		return clock()
	}
	return time.Now()
}

// clockFunc adapts a plain func() time.Time to backoff.Clock.
type clockFunc func() time.Time

func (c clockFunc) Now() time.Time { return c() }
