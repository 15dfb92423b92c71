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
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	metro "github.com/dgryski/go-metro"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

// Bloom filter wire format:
//
//	"PQBF" | version:u16 | numHashes:u16 | filterSize:u32 | numRowGroups:u16 | reserved:u16 | bits
//
// Double hashing: bit_i = (h1 + i*h2) mod (filterSize*8), with h1 = xxhash
// and h2 = metrohash of the probed value.
const (
	bloomMagic   = "PQBF"
	bloomVersion = 1
	bloomHeader  = 4 + 2 + 2 + 4 + 2 + 2
)

// Bloom is the probabilistic pre-filter consulted before shard loads. A
// negative probe means the value is definitely absent; a positive probe is
// resolved exactly by the shard lookup.
type Bloom struct {
	numHashes    uint16
	numRowGroups uint16
	bits         []byte
}

// NewBloom sizes a filter for roughly expected entries at ~1% false
// positives: 10 bits per entry, 7 hash rounds.
func NewBloom(expected int, numRowGroups uint16) *Bloom {
	if expected < 1 {
		expected = 1
	}
	sizeBytes := (expected*10 + 7) / 8
	if sizeBytes < 8 {
		sizeBytes = 8
	}
	return &Bloom{numHashes: 7, numRowGroups: numRowGroups, bits: make([]byte, sizeBytes)}
}

func (b *Bloom) hashPair(value string) (uint64, uint64) {
	return xxhash.Sum64String(value), metro.Hash64Str(value, 0)
}

// Add sets value's bits.
func (b *Bloom) Add(value string) {
	h1, h2 := b.hashPair(value)
	n := uint64(len(b.bits)) * 8
	for i := uint64(0); i < uint64(b.numHashes); i++ {
		bit := (h1 + i*h2) % n
		b.bits[bit/8] |= 1 << (bit % 8)
	}
}

// MayContain probes value. False means definitely absent.
func (b *Bloom) MayContain(value string) bool {
	h1, h2 := b.hashPair(value)
	n := uint64(len(b.bits)) * 8
	for i := uint64(0); i < uint64(b.numHashes); i++ {
		bit := (h1 + i*h2) % n
		if b.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// Marshal serializes the filter in the PQBF wire format.
func (b *Bloom) Marshal() []byte {
	out := make([]byte, bloomHeader+len(b.bits))
	copy(out, bloomMagic)
	binary.BigEndian.PutUint16(out[4:], bloomVersion)
	binary.BigEndian.PutUint16(out[6:], b.numHashes)
	binary.BigEndian.PutUint32(out[8:], uint32(len(b.bits)))
	binary.BigEndian.PutUint16(out[12:], b.numRowGroups)
	copy(out[bloomHeader:], b.bits)
	return out
}

// UnmarshalBloom parses a PQBF blob.
func UnmarshalBloom(data []byte) (*Bloom, error) {
	if len(data) < bloomHeader || string(data[:4]) != bloomMagic {
		return nil, parqerr.New(parqerr.KindInvalidInput, "bloom filter: bad magic")
	}
	if v := binary.BigEndian.Uint16(data[4:]); v != bloomVersion {
		return nil, parqerr.New(parqerr.KindInvalidInput, "bloom filter: unsupported version %d", v)
	}
	numHashes := binary.BigEndian.Uint16(data[6:])
	filterSize := binary.BigEndian.Uint32(data[8:])
	numRowGroups := binary.BigEndian.Uint16(data[12:])
	if int(filterSize) != len(data)-bloomHeader {
		return nil, parqerr.New(parqerr.KindInvalidInput, "bloom filter: truncated bits (want %d, have %d)", filterSize, len(data)-bloomHeader)
	}
	return &Bloom{numHashes: numHashes, numRowGroups: numRowGroups, bits: data[bloomHeader:]}, nil
}
