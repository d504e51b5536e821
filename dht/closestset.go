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
	"sync"

	"github.com/google/btree"
)

// ClosestSet is the bounded ordered set of the k best responders a
// lookup has confirmed, ordered by XOR distance from target. It tracks
// how many insert attempts have happened since its head and tail last
// changed; once the tail has survived more than k successive attempts
// the frontier has stopped improving at the far end and the lookup is
// at fixpoint.
type ClosestSet struct {
	mu       sync.Mutex
	target   Id
	capacity int

	tree *btree.BTreeG[*candidateEntry]

	insertAttemptsSinceTailModification int
	insertAttemptsSinceHeadModification int
}

// NewClosestSet creates an empty set targeting target with capacity k.
func NewClosestSet(target Id, k int) *ClosestSet {
	less := func(a, b *candidateEntry) bool {
		if c := compareId(Distance(target, a.id), Distance(target, b.id)); c != 0 {
			return c < 0
		}
		return compareId(a.id, b.id) < 0
	}
	return &ClosestSet{
		target:   target,
		capacity: k,
		tree:     btree.NewG(32, less),
	}
}

// Len returns the number of confirmed responders currently held.
func (s *ClosestSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

// Add inserts cn, evicting the farthest entry when the set exceeds
// capacity, and updates the stability counters: a counter resets when
// its end of the set changed, and increments otherwise.
func (s *ClosestSet) Add(cn *CandidateNode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prevHead, prevTail Id
	hadAny := s.tree.Len() > 0
	if hadAny {
		if min, ok := s.tree.Min(); ok {
			prevHead = min.id
		}
		if max, ok := s.tree.Max(); ok {
			prevTail = max.id
		}
	}

	s.tree.ReplaceOrInsert(&candidateEntry{id: cn.Node.ID, node: cn})
	if s.tree.Len() > s.capacity {
		s.tree.DeleteMax()
	}

	head, _ := s.tree.Min()
	tail, _ := s.tree.Max()
	if !hadAny || head.id != prevHead {
		s.insertAttemptsSinceHeadModification = 0
	} else {
		s.insertAttemptsSinceHeadModification++
	}
	if !hadAny || tail.id != prevTail {
		s.insertAttemptsSinceTailModification = 0
	} else {
		s.insertAttemptsSinceTailModification++
	}
}

// Contains reports whether id is currently one of the k best
// responders.
func (s *ClosestSet) Contains(id Id) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Has(&candidateEntry{id: id})
}

// Tail returns the id of the farthest confirmed responder. ok is false
// when the set is empty.
func (s *ClosestSet) Tail() (Id, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max, ok := s.tree.Max(); ok {
		return max.id, true
	}
	return Id{}, false
}

// IsEligible reports whether the set has converged: it is full and the
// tail has not changed for more than capacity successive insert
// attempts.
func (s *ClosestSet) IsEligible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len() == s.capacity && s.insertAttemptsSinceTailModification > s.capacity
}

// Entries returns the confirmed responders in ascending distance
// order.
func (s *ClosestSet) Entries() []*CandidateNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*CandidateNode, 0, s.tree.Len())
	s.tree.Ascend(func(e *candidateEntry) bool {
		out = append(out, e.node)
		return true
	})
	return out
}

// InsertAttemptsSinceTailModification exposes the tail stability
// counter, mostly for tests and status reporting.
func (s *ClosestSet) InsertAttemptsSinceTailModification() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertAttemptsSinceTailModification
}

// InsertAttemptsSinceHeadModification exposes the head stability
// counter.
func (s *ClosestSet) InsertAttemptsSinceHeadModification() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertAttemptsSinceHeadModification
}
