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
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// EligibleValue filters and retains at most one Value for a target id
// during a value lookup. A returned false from Update tells the task
// the responding node handed back garbage, so its other contributions
// should be dropped too.
type EligibleValue struct {
	target                 Id
	expectedSequenceNumber int32

	value *Value
}

// NewEligibleValue creates a validator for target.
// expectedSequenceNumber < 0 accepts any sequence.
func NewEligibleValue(target Id, expectedSequenceNumber int32) *EligibleValue {
	return &EligibleValue{target: target, expectedSequenceNumber: expectedSequenceNumber}
}

// Update accepts v iff it is stored under target, meets the expected
// sequence number, and its signature verifies. Among accepted values
// the highest sequence number is retained, so a true return guarantees
// the retained value's sequence is >= v's.
func (e *EligibleValue) Update(v Value) bool {
	if v.Id() != e.target {
		return false
	}
	if e.expectedSequenceNumber >= 0 && v.SequenceNumber < e.expectedSequenceNumber {
		return false
	}
	if !v.IsValid() {
		return false
	}
	if e.value == nil || v.SequenceNumber >= e.value.SequenceNumber {
		e.value = &v
	}
	return true
}

// Get returns the retained value, if any acceptance has happened yet.
func (e *EligibleValue) Get() (Value, bool) {
	if e.value == nil {
		return Value{}, false
	}
	return *e.value, true
}

// EligiblePeers accumulates validated peer records for a target peer
// id across a peer lookup, deduplicating by announcing node. Batches
// are accepted atomically: one bad record poisons the whole response
// it came in, because an untrustworthy peer contaminates everything it
// said.
type EligiblePeers struct {
	target   Id
	capacity int

	peers map[Id]PeerInfo // keyed by announcing NodeId
	seen  mapset.Set[Id]  // fingerprints already merged
}

// NewEligiblePeers creates an accumulator for target, holding at most
// capacity records. Capacity is enforced only by an explicit Prune.
func NewEligiblePeers(target Id, capacity int) *EligiblePeers {
	return &EligiblePeers{
		target:   target,
		capacity: capacity,
		peers:    make(map[Id]PeerInfo),
		seen:     mapset.NewThreadUnsafeSet[Id](),
	}
}

// Add validates every record in batch (target match and signature) and
// merges them all, or rejects the entire batch if any record fails.
func (e *EligiblePeers) Add(batch []PeerInfo) bool {
	for i := range batch {
		if batch[i].PeerId != e.target || !batch[i].IsValid() {
			return false
		}
	}
	for _, p := range batch {
		fp := p.Fingerprint()
		if e.seen.Contains(fp) {
			continue
		}
		e.seen.Add(fp)
		e.peers[p.NodeId] = p
	}
	return true
}

// Len returns the number of distinct announcers merged so far.
func (e *EligiblePeers) Len() int {
	return len(e.peers)
}

// List returns the merged records in display order: authenticated
// before unauthenticated, then by the announcing node's XOR distance
// from the target.
func (e *EligiblePeers) List() []PeerInfo {
	out := make([]PeerInfo, 0, len(e.peers))
	for _, p := range e.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsAuthenticated() != out[j].IsAuthenticated() {
			return out[i].IsAuthenticated()
		}
		return Less(e.target, out[i].NodeId, out[j].NodeId)
	})
	return out
}

// Prune drops records beyond capacity, keeping the best in List order.
func (e *EligiblePeers) Prune() {
	if len(e.peers) <= e.capacity {
		return
	}
	for _, p := range e.List()[e.capacity:] {
		delete(e.peers, p.NodeId)
	}
}
