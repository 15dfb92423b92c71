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

package cdc

import (
	"context"
	"sync"
)

// Handler processes one record. An error stops handler dispatch for that
// record and leaves the cursor where it was, so the record redelivers.
type Handler func(ctx context.Context, r Record) error

// ConsumerOptions filter which records a consumer processes.
type ConsumerOptions struct {
	FromSeq int64
	// Operations restricts to the given op codes; empty means all.
	Operations []string
	// FromTimestamp drops records older than this (nanoseconds); 0 means
	// no time filter.
	FromTimestamp int64
}

// Consumer dispatches matching records to handlers in registration order
// and tracks a resumable position. Duplicate delivery after a seek is the
// caller's responsibility.
type Consumer struct {
	mu       sync.Mutex
	opts     ConsumerOptions
	handlers []Handler
	position int64
	ops      map[string]struct{}
}

// NewConsumer builds a consumer starting at opts.FromSeq.
func NewConsumer(opts ConsumerOptions) *Consumer {
	c := &Consumer{opts: opts, position: opts.FromSeq}
	if len(opts.Operations) > 0 {
		c.ops = make(map[string]struct{}, len(opts.Operations))
		for _, op := range opts.Operations {
			c.ops[op] = struct{}{}
		}
	}
	return c
}

// Register appends a handler. Handlers run in registration order.
func (c *Consumer) Register(h Handler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

// Position returns the next sequence number the consumer expects.
func (c *Consumer) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *Consumer) matches(r Record) bool {
	if r.Seq < c.position {
		return false
	}
	if c.ops != nil {
		if _, ok := c.ops[r.Op]; !ok {
			return false
		}
	}
	if c.opts.FromTimestamp > 0 && r.TS < c.opts.FromTimestamp {
		return false
	}
	return true
}

// Process dispatches r if it passes the filters. On success the position
// advances to max(position, seq+1); filtered records are dropped silently
// and report false.
func (c *Consumer) Process(ctx context.Context, r Record) (bool, error) {
	c.mu.Lock()
	if !c.matches(r) {
		c.mu.Unlock()
		return false, nil
	}
	handlers := append([]Handler(nil), c.handlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, r); err != nil {
			return false, err
		}
	}

	c.mu.Lock()
	if r.Seq+1 > c.position {
		c.position = r.Seq + 1
	}
	c.mu.Unlock()
	return true, nil
}

// SeekTo resets the cursor to sequence n.
func (c *Consumer) SeekTo(n int64) {
	c.mu.Lock()
	c.position = n
	c.mu.Unlock()
}

// SeekToTimestamp resets the cursor to the beginning and raises the time
// filter to t, so only records at or after t are processed.
func (c *Consumer) SeekToTimestamp(t int64) {
	c.mu.Lock()
	c.position = 0
	c.opts.FromTimestamp = t
	c.mu.Unlock()
}
