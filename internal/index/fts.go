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
	"context"
	"sort"
	"strings"
	"unicode"

	json "github.com/goccy/go-json"

	"github.com/arrowarc/parquedb/internal/parqerr"
	"github.com/arrowarc/parquedb/internal/storage"
)

// FTSIndex is the JSON full-text index for one field: lowercased tokens
// mapped to postings with term frequencies. Only the $text operator reaches
// it; equality and range predicates never match FTS entries.
type FTSIndex struct {
	Version  int                     `json:"version"`
	Field    string                  `json:"field"`
	DocCount int                     `json:"docCount"`
	Postings map[string][]FTSPosting `json:"postings"`
}

// FTSPosting records one document's term frequency for a token.
type FTSPosting struct {
	DocID string `json:"docId"`
	TF    int    `json:"tf"`
}

// FTSResult carries matched docs and their accumulated scores.
type FTSResult struct {
	DocIDs []string
	Scores map[string]float64
}

// Tokenize lowercases and splits on any non-alphanumeric rune.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// FTSPathFor is the on-disk location of a field's FTS index.
func FTSPathFor(field string) string {
	return "indexes/fts/" + field + ".fts.json"
}

// BuildFTSIndex tokenizes each document's field text and writes the JSON
// index, returning its catalog entry.
func BuildFTSIndex(ctx context.Context, backend storage.Backend, field string, docs map[string]string) (Entry, error) {
	idx := FTSIndex{Version: 1, Field: field, DocCount: len(docs), Postings: make(map[string][]FTSPosting)}

	docIDs := make([]string, 0, len(docs))
	for id := range docs {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	for _, id := range docIDs {
		freq := make(map[string]int)
		for _, tok := range Tokenize(docs[id]) {
			freq[tok]++
		}
		for tok, tf := range freq {
			idx.Postings[tok] = append(idx.Postings[tok], FTSPosting{DocID: id, TF: tf})
		}
	}

	blob, err := json.Marshal(idx)
	if err != nil {
		return Entry{}, parqerr.Wrap(parqerr.KindInvalidInput, err, "encode fts index for field %s", field)
	}
	path := FTSPathFor(field)
	if _, err := backend.WriteAtomic(ctx, path, blob, storage.WriteOptions{}); err != nil {
		return Entry{}, err
	}
	return Entry{
		Name: "fts_" + field, Type: TypeFTS, Field: field, Path: path,
		SizeBytes: int64(len(blob)), EntryCount: len(idx.Postings),
	}, nil
}

func (r *Reader) ftsIndex(ctx context.Context, path string) (*FTSIndex, error) {
	key := "fts:" + path
	if v, ok := r.cache.Get(key); ok {
		return v.(*FTSIndex), nil
	}
	data, err := r.backend.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	var idx FTSIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, parqerr.Wrap(parqerr.KindInvalidInput, err, "decode fts index %s", path)
	}
	r.cache.Put(key, "fts", int64(len(data)), &idx)
	return &idx, nil
}

// TextSearch tokenizes query and unions postings per token, scoring each
// doc by summed term frequency.
func (r *Reader) TextSearch(ctx context.Context, entry *Entry, query string) (*FTSResult, error) {
	idx, err := r.ftsIndex(ctx, entry.Path)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64)
	for _, tok := range Tokenize(query) {
		for _, posting := range idx.Postings[tok] {
			scores[posting.DocID] += float64(posting.TF)
		}
	}

	res := &FTSResult{Scores: scores}
	for id := range scores {
		res.DocIDs = append(res.DocIDs, id)
	}
	sort.Slice(res.DocIDs, func(i, j int) bool {
		if scores[res.DocIDs[i]] != scores[res.DocIDs[j]] {
			return scores[res.DocIDs[i]] > scores[res.DocIDs[j]]
		}
		return res.DocIDs[i] < res.DocIDs[j]
	})
	return res, nil
}
