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
	"fmt"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

// Patch is an update document carrying the supported operator keys:
// $set, $unset, $inc, $push (with optional $each), $pull, $link, $unlink.
// The data operators reshape Data/Type/Name; Link/Unlink are edge
// mutations Update applies through Store.Link and Store.Unlink after the
// data patch lands.
type Patch struct {
	Set    map[string]any
	Unset  []string
	Inc    map[string]float64
	Push   map[string]PushOp
	Pull   map[string]func(any) bool
	Link   []LinkOp
	Unlink []LinkOp
}

// LinkOp is one $link or $unlink operator entry: the predicate and the
// "ns/id" target of the edge, with optional edge data and an explicit
// reverse label for $link.
type LinkOp struct {
	Predicate string
	Target    string
	Data      map[string]any
	Reverse   string
}

// PushOp appends Values to an array field; Each mirrors Mongo's $each,
// appending every element instead of the slice as a single item.
type PushOp struct {
	Values []any
	Each   bool
}

func (p Patch) apply(e *Entity) error {
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	for k, v := range p.Set {
		switch k {
		case "$type":
			s, ok := v.(string)
			if !ok {
				return parqerr.New(parqerr.KindInvalidInput, "$set $type must be a string")
			}
			e.Type = s
		case "name":
			s, ok := v.(string)
			if !ok {
				return parqerr.New(parqerr.KindInvalidInput, "$set name must be a string")
			}
			e.Name = s
		default:
			e.Data[k] = v
		}
	}
	for _, k := range p.Unset {
		delete(e.Data, k)
	}
	for k, delta := range p.Inc {
		cur, _ := e.Data[k].(float64)
		e.Data[k] = cur + delta
	}
	for k, op := range p.Push {
		existing, _ := e.Data[k].([]any)
		if op.Each {
			existing = append(existing, op.Values...)
		} else {
			existing = append(existing, any(op.Values))
		}
		e.Data[k] = existing
	}
	for k, pred := range p.Pull {
		existing, ok := e.Data[k].([]any)
		if !ok {
			continue
		}
		filtered := existing[:0:0]
		for _, item := range existing {
			if !pred(item) {
				filtered = append(filtered, item)
			}
		}
		e.Data[k] = filtered
	}
	return nil
}

// IsEmpty reports whether the patch has no operators at all.
func (p Patch) IsEmpty() bool {
	return len(p.Set) == 0 && len(p.Unset) == 0 && len(p.Inc) == 0 &&
		len(p.Push) == 0 && len(p.Pull) == 0 && len(p.Link) == 0 && len(p.Unlink) == 0
}

func (p Patch) String() string {
	return fmt.Sprintf("Patch{set:%d unset:%d inc:%d push:%d pull:%d link:%d unlink:%d}",
		len(p.Set), len(p.Unset), len(p.Inc), len(p.Push), len(p.Pull), len(p.Link), len(p.Unlink))
}
