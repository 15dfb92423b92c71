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

package variant_test

import (
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/arrowarc/parquedb/internal/variant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundtrip(t *testing.T, v any) any {
	t.Helper()
	enc, err := variant.Encode(v)
	require.NoError(t, err)
	dec, err := variant.Decode(enc)
	require.NoError(t, err)
	return dec
}

func TestRoundtripPrimitives(t *testing.T) {
	cases := []struct {
		name string
		in   any
	}{
		{"nil", nil},
		{"bool-true", true},
		{"bool-false", false},
		{"int", int64(-42)},
		{"float", 3.14159},
		{"string", "hello, parquedb"},
		{"bytes", []byte{1, 2, 3, 255}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.in, roundtrip(t, tc.in))
		})
	}
}

func TestRoundtripBigInt(t *testing.T) {
	n := new(big.Int)
	n.SetString("123456789012345678901234567890", 10)
	got := roundtrip(t, n).(*big.Int)
	assert.Equal(t, 0, n.Cmp(got))

	neg := new(big.Int).Neg(n)
	got2 := roundtrip(t, neg).(*big.Int)
	assert.Equal(t, 0, neg.Cmp(got2))
}

func TestRoundtripTime(t *testing.T) {
	now := time.Now().UTC().Round(time.Nanosecond)
	got := roundtrip(t, now).(time.Time)
	assert.True(t, now.Equal(got))
}

func TestRoundtripNestedArrayAndObject(t *testing.T) {
	v := map[string]any{
		"name":    "Hello",
		"version": int64(2),
		"tags":    []any{"a", "b", int64(3)},
		"nested": map[string]any{
			"deleted": false,
			"ref":     []any{map[string]any{"x": int64(1)}},
		},
	}
	got := roundtrip(t, v)
	assert.Equal(t, v, got)
}

func TestIsEncodableRejectsNonFinite(t *testing.T) {
	assert.False(t, variant.IsEncodable(math.NaN()))
	assert.False(t, variant.IsEncodable(math.Inf(1)))
	assert.False(t, variant.IsEncodable(math.Inf(-1)))
	assert.False(t, variant.IsEncodable(func() {}))
	assert.False(t, variant.IsEncodable(make(chan int)))
}

func TestEncodeRejectsNonEncodable(t *testing.T) {
	_, err := variant.Encode(func() {})
	assert.ErrorIs(t, err, variant.ErrNotEncodable)
}

func TestDictionaryDeduplicatesRepeatedKeys(t *testing.T) {
	v := []any{
		map[string]any{"name": "a", "version": int64(1)},
		map[string]any{"name": "b", "version": int64(2)},
	}
	enc, err := variant.Encode(v)
	require.NoError(t, err)
	// Two distinct keys shared across two objects; a non-deduplicated
	// encoding would need to repeat "name"/"version" as literal strings
	// four times. Assert the encoding stays smaller than that.
	assert.Less(t, len(enc), 4*len("name")+4*len("version")+64)

	dec := roundtrip(t, v)
	assert.Equal(t, v, dec)
}
