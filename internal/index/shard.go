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
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

// Compact v3 shard format:
//
//	[version:1][flags:1][entryCount:u32 BE][entries...]
//
// each entry: [rowGroup:u16 BE][rowOffset:varint][docIdLen:u8][docId:bytes]
const shardVersion = 3

// Posting locates one document: its row group, the row offset inside it,
// and the document id.
type Posting struct {
	RowGroup  uint16
	RowOffset uint64
	DocID     string
}

// EncodeShard serializes postings in the compact v3 format.
func EncodeShard(postings []Posting) ([]byte, error) {
	buf := make([]byte, 0, 6+len(postings)*16)
	buf = append(buf, shardVersion, 0)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(postings)))
	for _, p := range postings {
		if len(p.DocID) > 255 {
			return nil, parqerr.New(parqerr.KindInvalidInput, "doc id %q exceeds 255 bytes", p.DocID)
		}
		buf = binary.BigEndian.AppendUint16(buf, p.RowGroup)
		buf = binary.AppendUvarint(buf, p.RowOffset)
		buf = append(buf, byte(len(p.DocID)))
		buf = append(buf, p.DocID...)
	}
	return buf, nil
}

// DecodeShard parses a compact v3 shard blob.
func DecodeShard(data []byte) ([]Posting, error) {
	if len(data) < 6 {
		return nil, parqerr.New(parqerr.KindInvalidInput, "shard blob too short")
	}
	if data[0] != shardVersion {
		return nil, parqerr.New(parqerr.KindInvalidInput, "shard blob: unsupported version %d", data[0])
	}
	count := binary.BigEndian.Uint32(data[2:])
	postings := make([]Posting, 0, count)
	off := 6
	for i := uint32(0); i < count; i++ {
		if off+2 > len(data) {
			return nil, parqerr.New(parqerr.KindInvalidInput, "shard blob truncated at entry %d", i)
		}
		rowGroup := binary.BigEndian.Uint16(data[off:])
		off += 2
		rowOffset, n := binary.Uvarint(data[off:])
		if n <= 0 {
			return nil, parqerr.New(parqerr.KindInvalidInput, "shard blob: bad varint at entry %d", i)
		}
		off += n
		if off >= len(data) {
			return nil, parqerr.New(parqerr.KindInvalidInput, "shard blob truncated at entry %d", i)
		}
		idLen := int(data[off])
		off++
		if off+idLen > len(data) {
			return nil, parqerr.New(parqerr.KindInvalidInput, "shard blob truncated at entry %d", i)
		}
		postings = append(postings, Posting{
			RowGroup:  rowGroup,
			RowOffset: rowOffset,
			DocID:     string(data[off : off+idLen]),
		})
		off += idLen
	}
	return postings, nil
}

// ShardNameFor derives a stable shard name from an indexed value: the hex
// form of its xxhash. Values route to shards by content, not ordinal, so
// incremental rebuilds touch only the shards whose values changed.
func ShardNameFor(value string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(value))
}
