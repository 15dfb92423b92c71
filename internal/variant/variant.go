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

// Package variant implements the self-describing scalar/compound value
// encoding used for every Parquet column that carries heterogeneous user
// data ($data, before, after, metadata). Encoding is a
// compact binary form with a dictionary-encoded key metadata section
// followed by the value payload, mirroring the Parquet Variant shape
// without committing to its exact bit layout.
package variant

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"
)

const magic = "VAR1"

type kind byte

const (
	kindNull kind = iota
	kindBool
	kindInt
	kindFloat
	kindBigInt
	kindString
	kindBytes
	kindTimestamp
	kindArray
	kindObject
)

// ErrNotEncodable is returned by Encode for values IsEncodable rejects.
var ErrNotEncodable = errors.New("variant: value is not encodable")

// IsEncodable reports whether v (recursively) is representable: primitives,
// finite numbers, big.Int, strings, time.Time, []byte, arrays, and
// map[string]any objects. NaN, +/-Inf, functions, and channels are rejected.
func IsEncodable(v any) bool {
	switch x := v.(type) {
	case nil, bool, string, []byte, time.Time, *big.Int:
		return true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return !math.IsNaN(float64(x)) && !math.IsInf(float64(x), 0)
	case float64:
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	case []any:
		for _, e := range x {
			if !IsEncodable(e) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, e := range x {
			if !IsEncodable(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Encode serializes v into the variant wire format.
func Encode(v any) ([]byte, error) {
	if !IsEncodable(v) {
		return nil, fmt.Errorf("%w: %T", ErrNotEncodable, v)
	}

	dict := newDictBuilder()
	collectKeys(v, dict)

	var buf bytes.Buffer
	buf.WriteString(magic)
	writeDict(&buf, dict)
	if err := encodeValue(&buf, v, dict); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses the variant wire format back into a Go value tree made of
// nil, bool, int64, float64, *big.Int, string, []byte, time.Time, []any and
// map[string]any.
func Decode(b []byte) (any, error) {
	if len(b) < len(magic) || string(b[:len(magic)]) != magic {
		return nil, errors.New("variant: bad magic")
	}
	r := &reader{buf: b[len(magic):]}
	dict, err := readDict(r)
	if err != nil {
		return nil, err
	}
	return decodeValue(r, dict)
}

// --- dictionary ---

type dictBuilder struct {
	ids map[string]uint32
	ord []string
}

func newDictBuilder() *dictBuilder {
	return &dictBuilder{ids: make(map[string]uint32)}
}

func (d *dictBuilder) intern(key string) uint32 {
	if id, ok := d.ids[key]; ok {
		return id
	}
	id := uint32(len(d.ord))
	d.ids[key] = id
	d.ord = append(d.ord, key)
	return id
}

func collectKeys(v any, d *dictBuilder) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			d.intern(k)
			collectKeys(x[k], d)
		}
	case []any:
		for _, e := range x {
			collectKeys(e, d)
		}
	}
}

func writeDict(buf *bytes.Buffer, d *dictBuilder) {
	writeUvarint(buf, uint64(len(d.ord)))
	for _, k := range d.ord {
		writeUvarint(buf, uint64(len(k)))
		buf.WriteString(k)
	}
}

func readDict(r *reader) ([]string, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		l, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		s, err := r.take(int(l))
		if err != nil {
			return nil, err
		}
		out[i] = string(s)
	}
	return out, nil
}

// --- encode ---

func encodeValue(buf *bytes.Buffer, v any, dict *dictBuilder) error {
	switch x := v.(type) {
	case nil:
		buf.WriteByte(byte(kindNull))
	case bool:
		buf.WriteByte(byte(kindBool))
		if x {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		buf.WriteByte(byte(kindInt))
		writeVarint(buf, toInt64(x))
	case float32:
		encodeFloat(buf, float64(x))
	case float64:
		encodeFloat(buf, x)
	case *big.Int:
		buf.WriteByte(byte(kindBigInt))
		neg := x.Sign() < 0
		buf.WriteByte(boolByte(neg))
		b := new(big.Int).Abs(x).Bytes()
		writeUvarint(buf, uint64(len(b)))
		buf.Write(b)
	case string:
		buf.WriteByte(byte(kindString))
		writeUvarint(buf, uint64(len(x)))
		buf.WriteString(x)
	case []byte:
		buf.WriteByte(byte(kindBytes))
		writeUvarint(buf, uint64(len(x)))
		buf.Write(x)
	case time.Time:
		buf.WriteByte(byte(kindTimestamp))
		var tb [8]byte
		binary.BigEndian.PutUint64(tb[:], uint64(x.UnixNano()))
		buf.Write(tb[:])
	case []any:
		buf.WriteByte(byte(kindArray))
		writeUvarint(buf, uint64(len(x)))
		for _, e := range x {
			if err := encodeValue(buf, e, dict); err != nil {
				return err
			}
		}
	case map[string]any:
		buf.WriteByte(byte(kindObject))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeUvarint(buf, uint64(len(keys)))
		for _, k := range keys {
			writeUvarint(buf, uint64(dict.intern(k)))
			if err := encodeValue(buf, x[k], dict); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %T", ErrNotEncodable, v)
	}
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) {
	buf.WriteByte(byte(kindFloat))
	var fb [8]byte
	binary.BigEndian.PutUint64(fb[:], math.Float64bits(f))
	buf.Write(fb[:])
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	}
	return 0
}

// --- decode ---

func decodeValue(r *reader, dict []string) (any, error) {
	kb, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch kind(kb) {
	case kindNull:
		return nil, nil
	case kindBool:
		b, err := r.byte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case kindInt:
		n, err := r.varint()
		if err != nil {
			return nil, err
		}
		return n, nil
	case kindFloat:
		b, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case kindBigInt:
		negB, err := r.byte()
		if err != nil {
			return nil, err
		}
		l, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		b, err := r.take(int(l))
		if err != nil {
			return nil, err
		}
		n := new(big.Int).SetBytes(b)
		if negB != 0 {
			n.Neg(n)
		}
		return n, nil
	case kindString:
		l, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		b, err := r.take(int(l))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case kindBytes:
		l, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		b, err := r.take(int(l))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case kindTimestamp:
		b, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return time.Unix(0, int64(binary.BigEndian.Uint64(b))).UTC(), nil
	case kindArray:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := range out {
			out[i], err = decodeValue(r, dict)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case kindObject:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, n)
		for i := uint64(0); i < n; i++ {
			id, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			if int(id) >= len(dict) {
				return nil, fmt.Errorf("variant: dictionary id %d out of range", id)
			}
			v, err := decodeValue(r, dict)
			if err != nil {
				return nil, err
			}
			out[dict[id]] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("variant: unknown kind byte %d", kb)
	}
}

// --- low level buffer helpers ---

type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errors.New("variant: unexpected end of buffer")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errors.New("variant: unexpected end of buffer")
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, errors.New("variant: malformed uvarint")
	}
	r.pos += n
	return v, nil
}

func (r *reader) varint() (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		return 0, errors.New("variant: malformed varint")
	}
	r.pos += n
	return v, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeVarint(buf *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	buf.Write(tmp[:n])
}
