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

// Package cdc implements Change-Data-Capture production and consumption:
// per-source monotone sequence numbers, the c/u/d/r operation codes, a
// filtered consumer with a resumable cursor, and Delta Lake change-type
// interop.
package cdc

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Operation codes.
const (
	OpCreate   = "c"
	OpUpdate   = "u"
	OpDelete   = "d"
	OpSnapshot = "r"
)

// Source identifies the (system, database, collection) a producer is bound
// to.
type Source struct {
	System     string `json:"system"`
	Database   string `json:"database,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// Record is one CDC record. Seq is the producer-monotone sequence number
// and TS is wall-clock nanoseconds; both are int64 here — the JSON surface
// still reads as the arbitrary-precision integers the interop contract
// names, since int64 covers every sequence and nanosecond timestamp this
// store can produce.
type Record struct {
	ID     string `json:"_id"`
	Seq    int64  `json:"_seq"`
	Op     string `json:"_op"`
	Before any    `json:"_before"`
	After  any    `json:"_after"`
	TS     int64  `json:"_ts"`
	Source Source `json:"_source"`
	Txn    any    `json:"_txn,omitempty"`
}

// MarshalRecord serializes r to its JSON wire form.
func MarshalRecord(r Record) ([]byte, error) { return json.Marshal(r) }

// UnmarshalRecord parses a JSON wire-form record.
func UnmarshalRecord(data []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(data, &r)
	return r, err
}

// Producer emits CDC records for one source, stamping each with the next
// sequence number and a nanosecond timestamp.
type Producer struct {
	source Source
	now    func() time.Time

	mu  sync.Mutex
	seq int64
}

// NewProducer binds a producer to source. now defaults to time.Now.
func NewProducer(source Source, now func() time.Time) *Producer {
	if now == nil {
		now = time.Now
	}
	return &Producer{source: source, now: now}
}

func (p *Producer) next(id, op string, before, after, txn any) Record {
	p.mu.Lock()
	seq := p.seq
	p.seq++
	p.mu.Unlock()
	return Record{
		ID: id, Seq: seq, Op: op,
		Before: before, After: after,
		TS:     p.now().UnixNano(),
		Source: p.source, Txn: txn,
	}
}

// Create emits a 'c' record.
func (p *Producer) Create(id string, after any, txn any) Record {
	return p.next(id, OpCreate, nil, after, txn)
}

// Update emits a 'u' record with both images.
func (p *Producer) Update(id string, before, after any, txn any) Record {
	return p.next(id, OpUpdate, before, after, txn)
}

// Delete emits a 'd' record.
func (p *Producer) Delete(id string, before any, txn any) Record {
	return p.next(id, OpDelete, before, nil, txn)
}

// SnapshotEntity names one entity for Snapshot.
type SnapshotEntity struct {
	ID    string
	State any
}

// Snapshot emits one 'r' record per entity, each with a nil before image
// .
func (p *Producer) Snapshot(entities []SnapshotEntity) []Record {
	out := make([]Record, 0, len(entities))
	for _, e := range entities {
		out = append(out, p.next(e.ID, OpSnapshot, nil, e.State, nil))
	}
	return out
}

// GetSequence returns the next sequence number to be assigned.
func (p *Producer) GetSequence() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// ResetSequence rewinds (or advances) the producer's counter.
func (p *Producer) ResetSequence(n int64) {
	p.mu.Lock()
	p.seq = n
	p.mu.Unlock()
}
