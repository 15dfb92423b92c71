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
	"strings"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

// CreateBulk inserts many entities into the live view without emitting
// per-entity events. It exists for the bulk-create bypass: the
// caller is responsible for streaming the rows to a staging artifact and
// recording the pending row group against the WAL's reserved sequence
// range. Validation matches Create; the whole call fails before any state
// change if any item is invalid.
func (s *Store) CreateBulk(ctx context.Context, ns string, items []map[string]any, opts CreateOptions) ([]*Entity, error) {
	for i, data := range items {
		typ, _ := data["$type"].(string)
		if strings.TrimSpace(typ) == "" {
			return nil, parqerr.New(parqerr.KindInvalidInput, "item %d: $type is required", i)
		}
		name, _ := data["name"].(string)
		if strings.TrimSpace(name) == "" {
			return nil, parqerr.New(parqerr.KindInvalidInput, "item %d: name is required", i)
		}
	}

	writer := s.writerLock(ns)
	writer.Lock()
	defer writer.Unlock()

	now := s.now()
	nsState := s.namespace(ns)

	out := make([]*Entity, 0, len(items))
	nsState.mu.Lock()
	for _, data := range items {
		typ, _ := data["$type"].(string)
		name, _ := data["name"].(string)
		userData := make(map[string]any, len(data))
		for k, v := range data {
			if k == "$type" || k == "name" {
				continue
			}
			userData[k] = v
		}
		e := &Entity{
			NS: ns, ID: s.ids.Next(now), Type: typ, Name: name, Version: 1,
			CreatedAt: now, CreatedBy: opts.Actor,
			UpdatedAt: now, UpdatedBy: opts.Actor,
			Data: userData,
		}
		nsState.entities[e.ID] = e
		out = append(out, e.clone())
	}
	nsState.mu.Unlock()
	return out, nil
}
