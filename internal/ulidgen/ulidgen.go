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

// Package ulidgen generates lexicographically sortable, time-ordered ids for
// entities and events. Entity ids and event ids share the same generator so
// both sort consistently with their creation order.
package ulidgen

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

// Generator produces monotonically increasing ULIDs even when called faster
// than the millisecond clock advances, by reusing oklog/ulid's monotonic
// entropy source under a mutex.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

// New returns a Generator with its own math/rand source seeded from the
// current time.
func New() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Next returns a new ULID string for the given timestamp.
func (g *Generator) Next(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(t), g.entropy)
	return id.String()
}

// NextNow returns a new ULID string for the current time.
func (g *Generator) NextNow() string {
	return g.Next(time.Now())
}

var defaultGenerator = New()

// NewID generates a ULID using a shared default generator. Convenient for
// call sites that don't need a dedicated Generator instance.
func NewID() string { return defaultGenerator.NextNow() }

// Valid reports whether s parses as a well-formed ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
