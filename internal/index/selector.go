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

package index

import (
	"fmt"

	"github.com/arrowarc/parquedb/internal/store"
)

// Strategy says how a predicate should be answered.
type Strategy int

const (
	// StrategyScan means no index applies: evaluate against the
	// materialized rows directly.
	StrategyScan Strategy = iota
	// StrategyPushdown means Parquet-native predicate pushdown suffices
	// (equality on an indexed or dictionary column).
	StrategyPushdown
	// StrategyHash means probe a sharded hash index.
	StrategyHash
	// StrategySST means scan overlapping range shards.
	StrategySST
	// StrategyFTS means consult the full-text index.
	StrategyFTS
)

func (s Strategy) String() string {
	switch s {
	case StrategyScan:
		return "scan"
	case StrategyPushdown:
		return "pushdown"
	case StrategyHash:
		return "hash"
	case StrategySST:
		return "sst"
	case StrategyFTS:
		return "fts"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Plan is the selector's answer for one filter.
type Plan struct {
	Strategy Strategy
	Entry    *Entry
	Field    string
	// Values carries the probe values for hash lookups ($eq yields one,
	// $in several).
	Values []string
	// Bounds carries the range for SST lookups.
	Bounds RangeBounds
	// Query carries the $text query for FTS.
	Query string
}

// Select examines filter's top-level predicate and picks an index by the
// fixed priority: $text -> FTS; equality -> Parquet pushdown; $in ->
// hash if sharded else pushdown; range -> SST. Logical operators recurse
// only into their first indexable leaf, and only for $and (cheap
// intersection); $or/$not fall back to a scan.
func Select(filter store.Filter, cat *Catalog) Plan {
	if len(filter.And) > 0 {
		for _, sub := range filter.And {
			if plan := Select(sub, cat); plan.Strategy != StrategyScan {
				return plan
			}
		}
		return Plan{Strategy: StrategyScan}
	}
	if len(filter.Or) > 0 || filter.Not != nil {
		return Plan{Strategy: StrategyScan}
	}
	if filter.Field == "" && filter.Text == "" {
		return Plan{Strategy: StrategyScan}
	}

	if filter.Text != "" {
		field := filter.Field
		var entry *Entry
		if field != "" {
			entry = cat.FindEntry(TypeFTS, field)
		} else {
			// $text with no field targets any text index.
			for i := range cat.Indexes {
				if cat.Indexes[i].Type == TypeFTS {
					entry = &cat.Indexes[i]
					break
				}
			}
		}
		if entry != nil {
			return Plan{Strategy: StrategyFTS, Entry: entry, Field: entry.Field, Query: filter.Text}
		}
		return Plan{Strategy: StrategyScan}
	}

	if filter.Eq != nil {
		// Equality rides Parquet's native predicate pushdown; no secondary
		// hash probe needed.
		return Plan{Strategy: StrategyPushdown, Field: filter.Field, Values: []string{stringify(filter.Eq)}}
	}

	if len(filter.In) > 0 {
		if entry := cat.FindEntry(TypeHash, filter.Field); entry != nil && entry.Sharded {
			values := make([]string, 0, len(filter.In))
			for _, v := range filter.In {
				values = append(values, stringify(v))
			}
			return Plan{Strategy: StrategyHash, Entry: entry, Field: filter.Field, Values: values}
		}
		values := make([]string, 0, len(filter.In))
		for _, v := range filter.In {
			values = append(values, stringify(v))
		}
		return Plan{Strategy: StrategyPushdown, Field: filter.Field, Values: values}
	}

	if filter.Gt != nil || filter.Gte != nil || filter.Lt != nil || filter.Lte != nil {
		if entry := cat.FindEntry(TypeSST, filter.Field); entry != nil {
			bounds := RangeBounds{}
			if filter.Gt != nil {
				s := stringify(filter.Gt)
				bounds.Gt = &s
			}
			if filter.Gte != nil {
				s := stringify(filter.Gte)
				bounds.Gte = &s
			}
			if filter.Lt != nil {
				s := stringify(filter.Lt)
				bounds.Lt = &s
			}
			if filter.Lte != nil {
				s := stringify(filter.Lte)
				bounds.Lte = &s
			}
			return Plan{Strategy: StrategySST, Entry: entry, Field: filter.Field, Bounds: bounds}
		}
		return Plan{Strategy: StrategyScan}
	}

	return Plan{Strategy: StrategyScan}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}
