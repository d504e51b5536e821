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
	"encoding/binary"
	"testing"
)

// idAtDistance returns the id whose XOR distance from pivot is exactly
// d (d in the low 64 bits).
func idAtDistance(pivot Id, d uint64) Id {
	var delta Id
	binary.BigEndian.PutUint64(delta[IDLength-8:], d)
	return Distance(pivot, delta)
}

func TestDistance(t *testing.T) {
	a, _ := IdFromHex("0000000000000000000000000000000000000000000000000000000000000001")
	b, _ := IdFromHex("0000000000000000000000000000000000000000000000000000000000000003")
	d := Distance(a, b)
	want, _ := IdFromHex("0000000000000000000000000000000000000000000000000000000000000002")
	if d != want {
		t.Fatalf("distance = %s, want %s", d, want)
	}
	if Distance(a, a) != ZeroId {
		t.Fatalf("distance to self must be zero")
	}
	if Distance(a, b) != Distance(b, a) {
		t.Fatalf("distance must be symmetric")
	}
}

func TestApproxDistance(t *testing.T) {
	var pivot Id
	cases := []struct {
		d    uint64
		want int
	}{
		{1, 0},
		{2, 1},
		{3, 1},
		{255, 7},
		{256, 8},
		{1 << 30, 30},
	}
	for _, tc := range cases {
		if got := ApproxDistance(pivot, idAtDistance(pivot, tc.d)); got != tc.want {
			t.Errorf("approxDistance(%d) = %d, want %d", tc.d, got, tc.want)
		}
	}
	if got := ApproxDistance(pivot, pivot); got != -1 {
		t.Errorf("approxDistance to self = %d, want -1", got)
	}
	if got := ApproxDistance(ZeroId, MaxId); got != 255 {
		t.Errorf("approxDistance(0, max) = %d, want 255", got)
	}
}

func TestThreeWayCompare(t *testing.T) {
	pivot := idAtDistance(Id{}, 100)
	near := idAtDistance(pivot, 1)
	far := idAtDistance(pivot, 2)

	if ThreeWayCompare(pivot, near, far) >= 0 {
		t.Fatalf("near must order before far")
	}
	if ThreeWayCompare(pivot, far, near) <= 0 {
		t.Fatalf("far must order after near")
	}
	if ThreeWayCompare(pivot, near, near) != 0 {
		t.Fatalf("compare with itself must be zero")
	}
	if !Less(pivot, near, far) || Less(pivot, far, near) {
		t.Fatalf("Less inconsistent with ThreeWayCompare")
	}
}

func TestIdHexRoundTrip(t *testing.T) {
	id := idAtDistance(MaxId, 12345)
	parsed, err := IdFromHex(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != id {
		t.Fatalf("hex round-trip mismatch")
	}
	if _, err := IdFromHex("abcd"); err == nil {
		t.Fatalf("short hex must be rejected")
	}
}
