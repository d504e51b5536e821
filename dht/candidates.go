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
	mapset "github.com/deckarep/golang-set/v2"
)

type candidateEntry struct {
	id   Id
	node *CandidateNode
}

// ClosestCandidates is the bounded priority queue of yet-to-query
// nodes for a single lookup: a sorted mapping of Id -> CandidateNode
// ordered by proximity to target, plus a dedup memory that survives
// removal so a node already processed by this lookup is never
// re-queued.
//
// It is backed by github.com/google/btree's generic BTreeG rather than
// a hand-rolled balanced tree. Since XOR distance from a fixed pivot
// is a bijection, distance order alone is already a strict total order
// over distinct ids, so the classical "(distance, pings)" ordering for
// next() and pruning degenerates to distance order here.
type ClosestCandidates struct {
	mu       sync.Mutex
	target   Id
	capacity int
	dev      bool

	tree *btree.BTreeG[*candidateEntry]

	seenIDs  mapset.Set[Id]
	seenLocs mapset.Set[string]
}

// NewClosestCandidates creates an empty queue targeting target, with
// capacity = k*3 and developerMode controlling the dedup location-key
// choice (IP:port in developer mode, IP alone otherwise).
func NewClosestCandidates(target Id, k int, developerMode bool) *ClosestCandidates {
	less := func(a, b *candidateEntry) bool {
		if c := compareId(Distance(target, a.id), Distance(target, b.id)); c != 0 {
			return c < 0
		}
		return compareId(a.id, b.id) < 0
	}
	return &ClosestCandidates{
		target:   target,
		capacity: k * 3,
		dev:      developerMode,
		tree:     btree.NewG(32, less),
		seenIDs:  mapset.NewThreadUnsafeSet[Id](),
		seenLocs: mapset.NewThreadUnsafeSet[string](),
	}
}

// Len returns the number of candidates currently queued.
func (q *ClosestCandidates) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

// Add inserts nodes not already seen (by id or by location key) into
// the queue, then prunes the farthest non-in-flight entries if the
// queue exceeds capacity. Re-adding an already-seen node is a no-op:
// dedup memory persists across removal.
func (q *ClosestCandidates) Add(nodes []NodeInfo, reachable func(NodeInfo) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, n := range nodes {
		loc := n.locationKey(q.dev)
		if q.seenIDs.Contains(n.ID) || q.seenLocs.Contains(loc) {
			continue
		}
		q.seenIDs.Add(n.ID)
		q.seenLocs.Add(loc)
		r := false
		if reachable != nil {
			r = reachable(n)
		}
		q.tree.ReplaceOrInsert(&candidateEntry{id: n.ID, node: newCandidateNode(n, r)})
	}
	q.pruneLocked()
}

// pruneLocked discards the farthest non-in-flight candidates beyond
// capacity. Already-in-flight (IsSent) candidates are never pruned.
func (q *ClosestCandidates) pruneLocked() {
	over := q.tree.Len() - q.capacity
	if over <= 0 {
		return
	}
	var toRemove []*candidateEntry
	q.tree.Descend(func(e *candidateEntry) bool {
		if len(toRemove) >= over {
			return false
		}
		if !e.node.IsSent() {
			toRemove = append(toRemove, e)
		}
		return true
	})
	for _, e := range toRemove {
		q.tree.Delete(e)
	}
}

// Next returns the minimum-distance eligible candidate (not currently
// sent, fewer than 3 pings), or (nil, false) when no
// candidate qualifies right now.
func (q *ClosestCandidates) Next() (*CandidateNode, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var found *CandidateNode
	q.tree.Ascend(func(e *candidateEntry) bool {
		if e.node.IsEligible() {
			found = e.node
			return false
		}
		return true
	})
	return found, found != nil
}

// Head returns the closest candidate's distance from target, or the
// sentinel distance(target, MaxId) when the queue is empty.
func (q *ClosestCandidates) Head() Id {
	q.mu.Lock()
	defer q.mu.Unlock()
	if min, ok := q.tree.Min(); ok {
		return Distance(q.target, min.id)
	}
	return Distance(q.target, MaxId)
}

// Remove deletes id from the sorted map (but not from dedup memory),
// e.g. because it replied or became permanently unreachable.
func (q *ClosestCandidates) Remove(id Id) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tree.Delete(&candidateEntry{id: id, node: &CandidateNode{}})
}

// RemoveFunc removes every candidate matching pred.
func (q *ClosestCandidates) RemoveFunc(pred func(*CandidateNode) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var toRemove []*candidateEntry
	q.tree.Ascend(func(e *candidateEntry) bool {
		if pred(e.node) {
			toRemove = append(toRemove, e)
		}
		return true
	})
	for _, e := range toRemove {
		q.tree.Delete(e)
	}
}

// HasSeen reports whether id has already been seen by this queue (whether
// currently present or previously removed).
func (q *ClosestCandidates) HasSeen(id Id) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seenIDs.Contains(id)
}

// AnyInFlight reports whether any queued candidate currently has an
// outstanding request.
func (q *ClosestCandidates) AnyInFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	inFlight := false
	q.tree.Ascend(func(e *candidateEntry) bool {
		if e.node.IsSent() {
			inFlight = true
			return false
		}
		return true
	})
	return inFlight
}
