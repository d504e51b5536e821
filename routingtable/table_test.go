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

package routingtable

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/bosonnetwork/dht-go/dht"
)

func idAt(pivot dht.Id, d uint64) dht.Id {
	var delta dht.Id
	binary.BigEndian.PutUint64(delta[dht.IDLength-8:], d)
	return dht.Distance(pivot, delta)
}

func entryAt(pivot dht.Id, d uint64) dht.KBucketEntry {
	return dht.KBucketEntry{
		Node:     dht.NodeInfo{ID: idAt(pivot, d), IP: net.IPv4(127, 0, 0, 1), Port: int(50000 + d)},
		LastSeen: time.Now(),
	}
}

func TestPutAndLen(t *testing.T) {
	local := idAt(dht.Id{}, 0x1234)
	table, err := New(local, 8)
	if err != nil {
		t.Fatal(err)
	}
	for d := uint64(1); d <= 5; d++ {
		table.Put(entryAt(local, d))
	}
	if table.Len() != 5 {
		t.Fatalf("len = %d, want 5", table.Len())
	}
	// Re-putting refreshes rather than duplicates.
	table.Put(entryAt(local, 3))
	if table.Len() != 5 {
		t.Fatalf("re-put duplicated an entry")
	}
	// The local node never enters its own table.
	table.Put(dht.KBucketEntry{Node: dht.NodeInfo{ID: local, IP: net.IPv4(127, 0, 0, 1), Port: 1}})
	if table.Len() != 5 {
		t.Fatalf("local id entered the table")
	}
	if !table.IsLocalId(local) || table.IsLocalId(idAt(local, 1)) {
		t.Fatalf("isLocalId wrong")
	}
}

func TestBucketOverflowEvictsOldest(t *testing.T) {
	local := idAt(dht.Id{}, 0x9)
	table, err := New(local, 2)
	if err != nil {
		t.Fatal(err)
	}
	// Distances 4..7 share approxDistance 2, overflowing a k=2 shell.
	oldest := entryAt(local, 4)
	oldest.LastSeen = time.Now().Add(-time.Hour)
	table.Put(oldest)
	table.Put(entryAt(local, 5))
	table.Put(entryAt(local, 6))

	bucket := table.Bucket(oldest.Node.ID)
	if len(bucket) != 2 {
		t.Fatalf("bucket len = %d, want 2", len(bucket))
	}
	for _, e := range bucket {
		if e.Node.ID == oldest.Node.ID {
			t.Fatalf("least recently seen entry survived the overflow")
		}
	}
}

func TestClosestNodesOrderingAndFilter(t *testing.T) {
	local := idAt(dht.Id{}, 0xf00)
	// All twenty entries below fall into the same shell (highest
	// differing bit 35), so k must be large enough to hold them all.
	table, err := New(local, 20)
	if err != nil {
		t.Fatal(err)
	}
	target := idAt(dht.Id{}, 1<<35)
	for d := uint64(1); d <= 20; d++ {
		e := entryAt(target, d)
		if d%2 == 0 {
			e.Failures = 10
		}
		table.Put(e)
	}

	got := table.ClosestNodes(target, 5).
		Filter(func(e dht.KBucketEntry) bool { return e.EligibleForLocalLookup(5) }).
		Fill()
	if len(got) != 5 {
		t.Fatalf("fill returned %d entries, want 5", len(got))
	}
	// Only odd distances pass the filter; the five closest of them are
	// 1, 3, 5, 7, 9, in order.
	for i, e := range got {
		want := idAt(target, uint64(2*i+1))
		if e.Node.ID != want {
			t.Fatalf("entry %d is at distance %v, want %d", i, dht.Distance(target, e.Node.ID), 2*i+1)
		}
	}
}

func TestTouchAndUnsolicited(t *testing.T) {
	local := idAt(dht.Id{}, 0x31)
	table, err := New(local, 4)
	if err != nil {
		t.Fatal(err)
	}

	known := entryAt(local, 3)
	known.Failures = 2
	known.LastSeen = time.Now().Add(-time.Hour)
	table.Put(known)

	table.Touch(known.Node)
	bucket := table.Bucket(known.Node.ID)
	refreshed := false
	for _, e := range bucket {
		if e.Node.ID == known.Node.ID && e.Failures == 0 && time.Since(e.LastSeen) < time.Minute {
			refreshed = true
		}
	}
	if !refreshed {
		t.Fatalf("touch did not refresh the bucketed entry")
	}

	stranger := entryAt(local, 1<<20).Node
	table.Touch(stranger)
	if table.LenUnsolicited() != 1 {
		t.Fatalf("unknown node not cached as unsolicited")
	}
	// Unsolicited nodes still seed lookups.
	got := table.ClosestNodes(stranger.ID, 1).Fill()
	if len(got) != 1 || got[0].Node.ID != stranger.ID {
		t.Fatalf("unsolicited node missing from closestNodes")
	}
}

func TestRemoveIfBad(t *testing.T) {
	local := idAt(dht.Id{}, 0x77)
	table, err := New(local, 4)
	if err != nil {
		t.Fatal(err)
	}
	e := entryAt(local, 6)
	table.Put(e)

	// Unforced removals only count failures until the threshold.
	table.RemoveIfBad(e.Node.ID, false)
	if table.Len() != 1 {
		t.Fatalf("single failure evicted the entry")
	}
	table.RemoveIfBad(e.Node.ID, true)
	if table.Len() != 0 {
		t.Fatalf("forced removal did not evict")
	}
}
