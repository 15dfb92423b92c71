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
	"sort"
	"strings"
	"time"
)

// Filter is a predicate tree over entity fields: $eq, $gt, $gte, $lt,
// $lte, $in, $text, combined with $and/$or/$not.
type Filter struct {
	Field string
	Eq    any
	Gt    any
	Gte   any
	Lt    any
	Lte   any
	In    []any
	Text  string

	And []Filter
	Or  []Filter
	Not *Filter
}

// FindOptions controls paging, ordering, visibility, and time-travel.
type FindOptions struct {
	Limit          int
	Offset         int
	Sort           string // field name; "-field" for descending
	IncludeDeleted bool
	AsOf           *time.Time
}

func fieldValue(e *Entity, field string) any {
	switch field {
	case "$type":
		return e.Type
	case "name":
		return e.Name
	case "version":
		return e.Version
	default:
		return e.Data[field]
	}
}

func compareOrdered(a, b any) int {
	switch av := a.(type) {
	case float64:
		bv, ok := toFloat(b)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0
		}
		return strings.Compare(av, bv)
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func equal(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func (f Filter) matches(e *Entity) bool {
	if len(f.And) > 0 {
		for _, sub := range f.And {
			if !sub.matches(e) {
				return false
			}
		}
		return true
	}
	if len(f.Or) > 0 {
		for _, sub := range f.Or {
			if sub.matches(e) {
				return true
			}
		}
		return false
	}
	if f.Not != nil {
		return !f.Not.matches(e)
	}
	if f.Field == "" {
		return true
	}
	v := fieldValue(e, f.Field)
	if f.Eq != nil && !equal(v, f.Eq) {
		return false
	}
	if f.Gt != nil && compareOrdered(v, f.Gt) <= 0 {
		return false
	}
	if f.Gte != nil && compareOrdered(v, f.Gte) < 0 {
		return false
	}
	if f.Lt != nil && compareOrdered(v, f.Lt) >= 0 {
		return false
	}
	if f.Lte != nil && compareOrdered(v, f.Lte) > 0 {
		return false
	}
	if len(f.In) > 0 {
		found := false
		for _, candidate := range f.In {
			if equal(v, candidate) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Text != "" {
		s, ok := v.(string)
		if !ok || !strings.Contains(strings.ToLower(s), strings.ToLower(f.Text)) {
			return false
		}
	}
	return true
}

// Find evaluates filter against every live (or, if requested, soft-deleted)
// entity in ns, applies sort/offset/limit, and returns matches. asOf
// time-travel is delegated to the caller-supplied Reconstructor when set;
// Find itself only walks the live view.
func (s *Store) Find(ctx context.Context, ns string, filter Filter, opts FindOptions) ([]*Entity, error) {
	if opts.AsOf != nil {
		return s.findAsOf(ctx, ns, filter, opts)
	}
	nsState := s.namespace(ns)
	nsState.mu.RLock()
	matches := make([]*Entity, 0, len(nsState.entities))
	for _, e := range nsState.entities {
		if e.DeletedAt != nil && !opts.IncludeDeleted {
			continue
		}
		if filter.matches(e) {
			matches = append(matches, e.clone())
		}
	}
	nsState.mu.RUnlock()

	return applySortAndPage(matches, opts), nil
}

func applySortAndPage(matches []*Entity, opts FindOptions) []*Entity {
	if opts.Sort != "" {
		field := opts.Sort
		desc := false
		if strings.HasPrefix(field, "-") {
			desc = true
			field = field[1:]
		}
		sort.SliceStable(matches, func(i, j int) bool {
			cmp := compareOrdered(fieldValue(matches[i], field), fieldValue(matches[j], field))
			if desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(matches) {
			return []*Entity{}
		}
		matches = matches[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matches) {
		matches = matches[:opts.Limit]
	}
	return matches
}
