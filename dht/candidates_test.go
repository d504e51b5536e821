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
	"net"
	"testing"
	"time"
)

// testNodes builds n synthetic nodes at distances 1..n from target,
// each with a distinct localhost port.
func testNodes(target Id, n int) []NodeInfo {
	nodes := make([]NodeInfo, 0, n)
	for i := 1; i <= n; i++ {
		nodes = append(nodes, NodeInfo{
			ID:   idAtDistance(target, uint64(i)),
			IP:   net.IPv4(127, 0, 0, 1),
			Port: 10000 + i,
		})
	}
	return nodes
}

func TestCandidatesOrderAndNext(t *testing.T) {
	target := idAtDistance(Id{}, 1<<40)
	q := NewClosestCandidates(target, 8, true)
	nodes := testNodes(target, 10)
	// Insert shuffled: farthest first.
	for i := len(nodes) - 1; i >= 0; i-- {
		q.Add(nodes[i:i+1], nil)
	}
	if q.Len() != 10 {
		t.Fatalf("len = %d, want 10", q.Len())
	}
	cn, ok := q.Next()
	if !ok || cn.Node.ID != nodes[0].ID {
		t.Fatalf("next must return the closest candidate")
	}
	// In-flight candidates are skipped by next.
	cn.setSent(time.Now())
	cn2, ok := q.Next()
	if !ok || cn2.Node.ID != nodes[1].ID {
		t.Fatalf("next must skip in-flight candidates")
	}
}

func TestCandidatesDedupIsIdempotent(t *testing.T) {
	target := idAtDistance(Id{}, 7)
	q := NewClosestCandidates(target, 8, true)
	nodes := testNodes(target, 5)
	q.Add(nodes, nil)
	q.Add(nodes, nil)
	if q.Len() != 5 {
		t.Fatalf("re-adding the same nodes grew the queue to %d", q.Len())
	}
	// Dedup memory persists across removal.
	q.Remove(nodes[0].ID)
	if q.Len() != 4 {
		t.Fatalf("remove failed")
	}
	q.Add(nodes[:1], nil)
	if q.Len() != 4 {
		t.Fatalf("previously processed node was re-admitted")
	}
	if !q.HasSeen(nodes[0].ID) {
		t.Fatalf("dedup memory lost after removal")
	}
}

func TestCandidatesLocationDedup(t *testing.T) {
	target := idAtDistance(Id{}, 3)
	sameIP := []NodeInfo{
		{ID: idAtDistance(target, 1), IP: net.IPv4(10, 0, 0, 9), Port: 1111},
		{ID: idAtDistance(target, 2), IP: net.IPv4(10, 0, 0, 9), Port: 2222},
	}

	prod := NewClosestCandidates(target, 8, false)
	prod.Add(sameIP, nil)
	if prod.Len() != 1 {
		t.Fatalf("production mode admitted %d same-IP nodes, want 1", prod.Len())
	}

	dev := NewClosestCandidates(target, 8, true)
	dev.Add(sameIP, nil)
	if dev.Len() != 2 {
		t.Fatalf("developer mode admitted %d same-IP nodes, want 2", dev.Len())
	}
}

func TestCandidatesPruneKeepsInFlight(t *testing.T) {
	target := idAtDistance(Id{}, 5)
	k := 2 // capacity 6
	q := NewClosestCandidates(target, k, true)
	initial := testNodes(target, 6)
	for i := range initial {
		initial[i].ID = idAtDistance(target, uint64(200+i))
	}
	q.Add(initial, nil)

	// Mark the farthest candidate in-flight, then overflow the queue
	// with closer nodes; the in-flight one must survive the prune.
	var farthest *CandidateNode
	q.tree.Descend(func(e *candidateEntry) bool {
		farthest = e.node
		return false
	})
	farthest.setSent(time.Now())

	extra := []NodeInfo{
		{ID: idAtDistance(target, 100), IP: net.IPv4(127, 0, 0, 1), Port: 20001},
		{ID: idAtDistance(target, 101), IP: net.IPv4(127, 0, 0, 1), Port: 20002},
	}
	q.Add(extra, nil)
	if q.Len() != q.capacity {
		t.Fatalf("len = %d, want capacity %d", q.Len(), q.capacity)
	}
	found := false
	q.tree.Ascend(func(e *candidateEntry) bool {
		if e.node == farthest {
			found = true
			return false
		}
		return true
	})
	if !found {
		t.Fatalf("in-flight candidate was pruned")
	}
}

func TestCandidatesHeadSentinel(t *testing.T) {
	target := idAtDistance(Id{}, 9)
	q := NewClosestCandidates(target, 8, true)
	if q.Head() != Distance(target, MaxId) {
		t.Fatalf("empty queue head must be the max-id sentinel distance")
	}
	nodes := testNodes(target, 1)
	q.Add(nodes, nil)
	if q.Head() != Distance(target, nodes[0].ID) {
		t.Fatalf("head must be the closest candidate's distance")
	}
}

func TestCandidateNodeLifecycle(t *testing.T) {
	cn := newCandidateNode(NodeInfo{IP: net.IPv4(127, 0, 0, 1), Port: 1}, true)
	if cn.IsSent() || cn.IsUnreachable() || !cn.IsEligible() {
		t.Fatalf("fresh candidate state wrong")
	}
	now := time.Now()
	cn.setSent(now)
	if !cn.IsSent() || cn.IsEligible() || cn.Pinged() != 1 {
		t.Fatalf("sent candidate state wrong")
	}
	cn.clearSent()
	if cn.IsSent() || !cn.IsEligible() {
		t.Fatalf("cleared candidate must be re-eligible")
	}
	cn.setSent(now)
	cn.clearSent()
	cn.setSent(now)
	if !cn.IsUnreachable() || cn.IsEligible() {
		t.Fatalf("three pings must make the candidate unreachable")
	}
	cn.setReplied(now, 42)
	if cn.Token() != 42 {
		t.Fatalf("token not recorded")
	}
}
