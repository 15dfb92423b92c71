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

import "strconv"

// Delta Lake change-type interop:
//
//	c, r -> insert
//	d    -> delete
//	u    -> (update_preimage, update_postimage)
//
// The inverse collapses a preimage/postimage pair back into one 'u'.
const (
	DeltaInsert     = "insert"
	DeltaDelete     = "delete"
	DeltaUpdatePre  = "update_preimage"
	DeltaUpdatePost = "update_postimage"
)

// DeltaRecord is one row of a Delta change-data feed.
type DeltaRecord struct {
	ChangeType string `json:"_change_type"`
	ID         string `json:"_id"`
	Seq        int64  `json:"_seq"`
	TS         int64  `json:"_ts"`
	Data       any    `json:"data"`
}

// ToDelta maps one CDC record to its Delta change rows.
func ToDelta(r Record) []DeltaRecord {
	switch r.Op {
	case OpCreate, OpSnapshot:
		return []DeltaRecord{{ChangeType: DeltaInsert, ID: r.ID, Seq: r.Seq, TS: r.TS, Data: r.After}}
	case OpDelete:
		return []DeltaRecord{{ChangeType: DeltaDelete, ID: r.ID, Seq: r.Seq, TS: r.TS, Data: r.Before}}
	case OpUpdate:
		return []DeltaRecord{
			{ChangeType: DeltaUpdatePre, ID: r.ID, Seq: r.Seq, TS: r.TS, Data: r.Before},
			{ChangeType: DeltaUpdatePost, ID: r.ID, Seq: r.Seq, TS: r.TS, Data: r.After},
		}
	default:
		return nil
	}
}

// FromDelta maps Delta change rows back to CDC records, combining a
// preimage with the postimage that follows it (matched by id and sequence)
// into a single 'u' record. A postimage with no preceding preimage still
// becomes a 'u' with a nil before image.
func FromDelta(source Source, rows []DeltaRecord) []Record {
	var out []Record
	pre := make(map[string]any) // "id@seq" -> preimage data

	key := func(d DeltaRecord) string {
		return d.ID + "@" + strconv.FormatInt(d.Seq, 10)
	}

	for _, d := range rows {
		switch d.ChangeType {
		case DeltaInsert:
			out = append(out, Record{ID: d.ID, Seq: d.Seq, Op: OpCreate, After: d.Data, TS: d.TS, Source: source})
		case DeltaDelete:
			out = append(out, Record{ID: d.ID, Seq: d.Seq, Op: OpDelete, Before: d.Data, TS: d.TS, Source: source})
		case DeltaUpdatePre:
			pre[key(d)] = d.Data
		case DeltaUpdatePost:
			k := key(d)
			before := pre[k]
			delete(pre, k)
			out = append(out, Record{ID: d.ID, Seq: d.Seq, Op: OpUpdate, Before: before, After: d.Data, TS: d.TS, Source: source})
		}
	}
	return out
}
