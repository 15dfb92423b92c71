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

	"github.com/arrowarc/parquedb/internal/wal"
)

// StoreSink mirrors the store's event stream into CDC records: subscribe
// it to a Store and every CREATE/UPDATE/DELETE event becomes a c/u/d
// record through the bound producer.
type StoreSink struct {
	producer *Producer

	mu      sync.Mutex
	records []Record
	fanout  []func(Record)
}

// NewStoreSink builds a sink emitting through producer.
func NewStoreSink(producer *Producer) *StoreSink {
	return &StoreSink{producer: producer}
}

// OnEvent implements store.EventSink.
func (s *StoreSink) OnEvent(_ context.Context, _ string, ev wal.Event) {
	var rec Record
	switch ev.Op {
	case "CREATE":
		rec = s.producer.Create(ev.Target, ev.After, nil)
	case "UPDATE":
		rec = s.producer.Update(ev.Target, ev.Before, ev.After, nil)
	case "DELETE":
		rec = s.producer.Delete(ev.Target, ev.Before, nil)
	default:
		return
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	fanout := append([]func(Record){}, s.fanout...)
	s.mu.Unlock()
	for _, fn := range fanout {
		fn(rec)
	}
}

// Subscribe registers fn to receive every record as it is produced.
func (s *StoreSink) Subscribe(fn func(Record)) {
	s.mu.Lock()
	s.fanout = append(s.fanout, fn)
	s.mu.Unlock()
}

// Records returns a copy of everything produced so far, in sequence order.
func (s *StoreSink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}
