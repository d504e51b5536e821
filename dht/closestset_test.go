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
)

func candidateAt(target Id, d uint64) *CandidateNode {
	return newCandidateNode(NodeInfo{
		ID:   idAtDistance(target, d),
		IP:   net.IPv4(127, 0, 0, 1),
		Port: int(30000 + d),
	}, true)
}

func TestClosestSetCapacityAndOrder(t *testing.T) {
	target := idAtDistance(Id{}, 1<<50)
	s := NewClosestSet(target, 4)
	for d := uint64(10); d >= 1; d-- {
		s.Add(candidateAt(target, d))
	}
	if s.Len() != 4 {
		t.Fatalf("len = %d, want 4", s.Len())
	}
	entries := s.Entries()
	for i, cn := range entries {
		want := idAtDistance(target, uint64(i+1))
		if cn.Node.ID != want {
			t.Fatalf("entry %d = %s, want distance %d", i, cn.Node.ID, i+1)
		}
	}
	tail, ok := s.Tail()
	if !ok || tail != idAtDistance(target, 4) {
		t.Fatalf("tail wrong")
	}
}

func TestClosestSetStabilityCounters(t *testing.T) {
	target := idAtDistance(Id{}, 999)
	k := 3
	s := NewClosestSet(target, k)

	// Fill with distances 1..3; each insert modifies the tail.
	for d := uint64(1); d <= 3; d++ {
		s.Add(candidateAt(target, d))
	}
	if s.InsertAttemptsSinceTailModification() != 0 {
		t.Fatalf("tail counter after tail-changing inserts = %d, want 0",
			s.InsertAttemptsSinceTailModification())
	}
	if s.IsEligible() {
		t.Fatalf("set must not be eligible right after filling")
	}

	// Insert k+1 farther candidates: the tail never changes (the new
	// entry is evicted immediately), so each attempt increments.
	for i := 0; i <= k; i++ {
		s.Add(candidateAt(target, uint64(100+i)))
	}
	if got := s.InsertAttemptsSinceTailModification(); got != k+1 {
		t.Fatalf("tail counter = %d, want %d", got, k+1)
	}
	if !s.IsEligible() {
		t.Fatalf("set must be eligible after more than k stable attempts")
	}

	// A closer candidate changes the head and the tail (eviction) and
	// resets both counters.
	if s.InsertAttemptsSinceHeadModification() == 0 {
		t.Fatalf("head counter should have accumulated")
	}
	s.Add(candidateAt(target, 0x0)) // distance 0 == target itself is fine for counter purposes
	if s.InsertAttemptsSinceHeadModification() != 0 {
		t.Fatalf("head counter must reset when the head changes")
	}
	if s.IsEligible() {
		t.Fatalf("eligibility must drop after the tail changed")
	}
}

func TestClosestSetNeverExceedsK(t *testing.T) {
	target := idAtDistance(Id{}, 77)
	s := NewClosestSet(target, 8)
	for d := uint64(1); d <= 100; d++ {
		s.Add(candidateAt(target, d))
		if s.Len() > 8 {
			t.Fatalf("size %d exceeded k after insert %d", s.Len(), d)
		}
	}
}
