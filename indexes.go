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

package parquedb

import (
	"context"
	"fmt"

	"github.com/arrowarc/parquedb/internal/index"
	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/store"
)

// IndexSpec asks for one secondary index over a namespace's field.
type IndexSpec struct {
	Namespace string
	Field     string
	Type      index.IndexType
}

// BuildIndexes (re)builds the requested secondary indexes from the live
// view and saves the catalog. The materializer keeps artifacts current;
// index maintenance is a rebuild pass alongside flushes.
func (d *DB) BuildIndexes(ctx context.Context, specs []IndexSpec) error {
	cat, err := d.reader.Catalog(ctx)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		entities, err := d.store.Find(ctx, spec.Namespace, Filter{}, FindOptions{})
		if err != nil {
			return err
		}
		entry, err := d.buildOne(ctx, spec, entities)
		if err != nil {
			return err
		}
		replaceEntry(cat, entry)
	}

	if err := index.SaveCatalog(ctx, d.backend, d.reader.Cache(), cat); err != nil {
		return err
	}
	d.reader.InvalidateCatalog()
	return nil
}

func (d *DB) buildOne(ctx context.Context, spec IndexSpec, entities []*store.Entity) (index.Entry, error) {
	name := spec.Namespace + "_" + spec.Field

	switch spec.Type {
	case index.TypeHash:
		byValue := make(map[string][]index.Posting)
		for i, e := range entities {
			v, ok := indexedValue(e, spec.Field)
			if !ok {
				continue
			}
			byValue[v] = append(byValue[v], index.Posting{RowGroup: 0, RowOffset: uint64(i), DocID: spec.Namespace + "/" + e.ID})
		}
		return index.BuildHashIndex(ctx, d.backend, name, spec.Field, byValue)

	case index.TypeSST:
		var entries []index.SSTEntry
		for i, e := range entities {
			v, ok := indexedValue(e, spec.Field)
			if !ok {
				continue
			}
			entries = append(entries, index.SSTEntry{Value: v, DocID: spec.Namespace + "/" + e.ID, RowGroup: 0, RowOffset: uint64(i)})
		}
		return index.BuildSSTIndex(ctx, d.backend, name, spec.Field, entries)

	case index.TypeFTS:
		docs := make(map[string]string, len(entities))
		for _, e := range entities {
			if v, ok := indexedValue(e, spec.Field); ok {
				docs[spec.Namespace+"/"+e.ID] = v
			}
		}
		return index.BuildFTSIndex(ctx, d.backend, spec.Field, docs)

	default:
		return index.Entry{}, parqerr.New(parqerr.KindInvalidInput, "unknown index type %q", spec.Type)
	}
}

func replaceEntry(cat *index.Catalog, entry index.Entry) {
	for i := range cat.Indexes {
		if cat.Indexes[i].Name == entry.Name && cat.Indexes[i].Type == entry.Type {
			cat.Indexes[i] = entry
			return
		}
	}
	cat.Indexes = append(cat.Indexes, entry)
}

func indexedValue(e *store.Entity, field string) (string, bool) {
	var v any
	switch field {
	case "$id":
		v = e.ID
	case "$type":
		v = e.Type
	case "$name", "name":
		v = e.Name
	default:
		v = e.Data[field]
	}
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	default:
		return fmt.Sprintf("%v", s), true
	}
}
