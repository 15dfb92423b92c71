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

package store

import (
	"context"
	"time"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

// Reconstructor answers time-travel lookups. The timetravel package
// implements it; the Store only knows the live view, so asOf reads are
// delegated here.
type Reconstructor interface {
	// EntityAsOf returns the entity's state at asOf, or (nil, nil) if it
	// did not exist (or had been hard-deleted) at that instant. A
	// soft-deleted entity is returned with DeletedAt set.
	EntityAsOf(ctx context.Context, ns, id string, asOf time.Time) (*Entity, error)
	// KnownEntities returns every entity id ever seen in ns, for asOf
	// scans that must consider entities no longer in the live view.
	KnownEntities(ns string) []string
}

// SetReconstructor attaches the time-travel engine. A Store without one
// rejects asOf reads rather than silently answering from the live view.
func (s *Store) SetReconstructor(r Reconstructor) {
	s.mu.Lock()
	s.rec = r
	s.mu.Unlock()
}

func (s *Store) reconstructor() Reconstructor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *Store) getAsOf(ctx context.Context, ns, id string, asOf time.Time) (*Entity, error) {
	rec := s.reconstructor()
	if rec == nil {
		return nil, parqerr.New(parqerr.KindInvalidInput, "asOf read requires a time-travel engine")
	}
	return rec.EntityAsOf(ctx, ns, id, asOf)
}

// findAsOf reconstructs every entity ever seen in ns at opts.AsOf and
// applies filter post-reconstruction.
func (s *Store) findAsOf(ctx context.Context, ns string, filter Filter, opts FindOptions) ([]*Entity, error) {
	rec := s.reconstructor()
	if rec == nil {
		return nil, parqerr.New(parqerr.KindInvalidInput, "asOf find requires a time-travel engine")
	}
	var matches []*Entity
	for _, id := range rec.KnownEntities(ns) {
		e, err := rec.EntityAsOf(ctx, ns, id, *opts.AsOf)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		if e.DeletedAt != nil && !opts.IncludeDeleted {
			continue
		}
		if filter.matches(e) {
			matches = append(matches, e)
		}
	}
	return applySortAndPage(matches, opts), nil
}
