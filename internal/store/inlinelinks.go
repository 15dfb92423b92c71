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

import "regexp"

// inlineRef is one "ns/id" reference discovered inside a create() payload
// field, destined to become a relationship instead of a data column.
type inlineRef struct {
	ns, id string
}

type inlineLink struct {
	predicate string
	refs      []inlineRef
}

// refPattern matches the "namespace/id" shape used to recognize
// inline link fields: a namespace segment, a slash, and an id segment, with
// no other slashes or whitespace.
var refPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+/[A-Za-z0-9_-]+$`)

func parseRef(s string) (inlineRef, bool) {
	if !refPattern.MatchString(s) {
		return inlineRef{}, false
	}
	for i, c := range s {
		if c == '/' {
			return inlineRef{ns: s[:i], id: s[i+1:]}, true
		}
	}
	return inlineRef{}, false
}

// detectInlineLinks inspects a single create() field value and reports
// whether it is an inline link reference (or a collection of them): a bare
// "ns/id" string, a {display: "ns/id", ...} object, or an array of either
// form.
func detectInlineLinks(v any) ([]inlineRef, bool) {
	switch val := v.(type) {
	case string:
		ref, ok := parseRef(val)
		if !ok {
			return nil, false
		}
		return []inlineRef{ref}, true
	case map[string]any:
		display, ok := val["display"].(string)
		if !ok {
			return nil, false
		}
		ref, ok := parseRef(display)
		if !ok {
			return nil, false
		}
		return []inlineRef{ref}, true
	case []any:
		if len(val) == 0 {
			return nil, false
		}
		var refs []inlineRef
		for _, item := range val {
			found, ok := detectInlineLinks(item)
			if !ok {
				return nil, false
			}
			refs = append(refs, found...)
		}
		return refs, true
	default:
		return nil, false
	}
}
