// Copyright 2024 The Boson Network Authors
// This file is part of the dht-go library.
//
// The dht-go library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The dht-go library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dht-go library. If not, see <http://www.gnu.org/licenses/>.

package dht

import (
	"encoding/hex"
	"errors"
	"math/bits"
)

// IDLength is the width of the flat keyspace, in bytes.
const IDLength = 32

// Id is a 256-bit identifier in the DHT's flat keyspace. It is a value
// type: two Ids with equal bytes are the same id, regardless of how
// they were produced.
type Id [IDLength]byte

// MaxId is the all-ones identifier, the conventional "farthest possible
// point" used to seed bootstrap lookups and as the sentinel distance
// for an empty candidate queue.
var MaxId = func() Id {
	var id Id
	for i := range id {
		id[i] = 0xff
	}
	return id
}()

// ZeroId is the all-zeros identifier.
var ZeroId Id

// IdFromBytes copies b into an Id. It panics if len(b) != IDLength
// rather than silently truncating or zero-padding a malformed
// fixed-width wire field.
func IdFromBytes(b []byte) Id {
	if len(b) != IDLength {
		panic("dht: wrong length for Id")
	}
	var id Id
	copy(id[:], b)
	return id
}

// IdFromHex decodes a hex string into an Id.
func IdFromHex(s string) (Id, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Id{}, err
	}
	if len(b) != IDLength {
		return Id{}, errors.New("dht: wrong length for Id")
	}
	return IdFromBytes(b), nil
}

func (id Id) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns a freshly allocated copy of the id's bytes.
func (id Id) Bytes() []byte {
	b := make([]byte, IDLength)
	copy(b, id[:])
	return b
}

// Distance returns a XOR b, the Kademlia XOR-metric distance between
// two ids, itself interpreted as an unsigned 256-bit integer.
func Distance(a, b Id) Id {
	var d Id
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// ApproxDistance returns floor(log2(distance(a,b))), i.e. the index of
// the highest set bit in the XOR distance, counting from the
// least-significant bit. It is used only for human-readable shell
// logging (which routing-table bucket a node falls in) and has no
// bearing on lookup correctness. Returns -1 when a == b.
func ApproxDistance(a, b Id) int {
	d := Distance(a, b)
	for i := 0; i < IDLength; i++ {
		if d[i] != 0 {
			// d[i] is the highest non-zero byte; bit position counts
			// from the LSB of the whole 256-bit value.
			bitInByte := bits.Len8(d[i]) - 1
			return (IDLength-1-i)*8 + bitInByte
		}
	}
	return -1
}

// compareId returns -1, 0 or 1 comparing two Ids as big-endian unsigned
// integers.
func compareId(a, b Id) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ThreeWayCompare orders x and y by proximity to pivot: it returns
// sign(distance(pivot,x) - distance(pivot,y)). A negative result means
// x is closer to pivot than y is; zero means equidistant (which, since
// XOR distance is a bijection, only happens when x == y).
func ThreeWayCompare(pivot, x, y Id) int {
	return compareId(Distance(pivot, x), Distance(pivot, y))
}

// Less reports whether x is strictly closer to pivot than y.
func Less(pivot, x, y Id) bool {
	return ThreeWayCompare(pivot, x, y) < 0
}
