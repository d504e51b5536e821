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

// Package routingtable is the in-memory collaborator behind the lookup
// engine's RoutingTable contract: a flat array of distance shells with
// capacity k each, plus a bounded cache of recently-seen but not yet
// bucketed nodes. It deliberately implements no bucket splitting, no
// re-verification scheduling and no persistence — the engine only
// needs closestNodes, removeIfBad and isLocalId to run.
package routingtable

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bosonnetwork/dht-go/dht"
)

const unsolicitedCacheSize = 500

// Table is a fixed 256-shell routing table: entry i holds nodes whose
// XOR distance from the local id has its highest bit at position i.
type Table struct {
	mu      sync.Mutex
	localId dht.Id
	k       int

	buckets [dht.IDLength * 8][]dht.KBucketEntry

	// unsolicited remembers nodes learned from traffic that did not
	// earn a bucket slot, so bootstrap seeding has somewhere to start
	// even before any bucket fills.
	unsolicited *lru.Cache[dht.Id, dht.NodeInfo]
}

// New creates a table for localId with bucket capacity k.
func New(localId dht.Id, k int) (*Table, error) {
	cache, err := lru.New[dht.Id, dht.NodeInfo](unsolicitedCacheSize)
	if err != nil {
		return nil, err
	}
	return &Table{localId: localId, k: k, unsolicited: cache}, nil
}

func (t *Table) bucketIndex(id dht.Id) int {
	d := dht.ApproxDistance(t.localId, id)
	if d < 0 {
		return 0
	}
	return d
}

// Put inserts or refreshes entry. A refreshed entry keeps its slot and
// gets its liveness fields updated; on overflow the least recently
// seen entry in the shell is evicted.
func (t *Table) Put(entry dht.KBucketEntry) {
	if entry.Node.ID == t.localId {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndex(entry.Node.ID)
	bucket := t.buckets[idx]
	for i := range bucket {
		if bucket[i].Node.ID == entry.Node.ID {
			bucket[i] = entry
			return
		}
	}
	if len(bucket) < t.k {
		t.buckets[idx] = append(bucket, entry)
		return
	}
	oldest := 0
	for i := range bucket {
		if bucket[i].LastSeen.Before(bucket[oldest].LastSeen) {
			oldest = i
		}
	}
	bucket[oldest] = entry
}

// Touch records traffic from id: a bucketed entry's LastSeen moves
// forward and its failure count clears; an unknown node lands in the
// unsolicited cache.
func (t *Table) Touch(node dht.NodeInfo) {
	t.mu.Lock()
	idx := t.bucketIndex(node.ID)
	for i := range t.buckets[idx] {
		if t.buckets[idx][i].Node.ID == node.ID {
			t.buckets[idx][i].LastSeen = time.Now()
			t.buckets[idx][i].Failures = 0
			t.buckets[idx][i].Reachable = true
			t.mu.Unlock()
			return
		}
	}
	t.mu.Unlock()
	t.unsolicited.Add(node.ID, node)
}

// Bucket returns a copy of the shell holding id, for refresh tasks.
func (t *Table) Bucket(id dht.Id) []dht.KBucketEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]dht.KBucketEntry(nil), t.buckets[t.bucketIndex(id)]...)
}

// Len counts bucketed entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.buckets {
		n += len(t.buckets[i])
	}
	return n
}

// LenUnsolicited counts cached not-yet-bucketed nodes.
func (t *Table) LenUnsolicited() int {
	return t.unsolicited.Len()
}

// IsLocalId implements dht.RoutingTable.
func (t *Table) IsLocalId(id dht.Id) bool {
	return id == t.localId
}

// RemoveIfBad implements dht.RoutingTable: it drops id when forced or
// when the entry has accumulated failures; otherwise it just counts
// one more failure against it.
func (t *Table) RemoveIfBad(id dht.Id, force bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.bucketIndex(id)
	bucket := t.buckets[idx]
	for i := range bucket {
		if bucket[i].Node.ID != id {
			continue
		}
		bucket[i].Failures++
		if force || bucket[i].Failures >= dht.DefaultK {
			t.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
		}
		return
	}
	t.unsolicited.Remove(id)
}

// ClosestNodes implements dht.RoutingTable as a lazy builder over a
// snapshot of the bucketed entries plus the unsolicited cache.
func (t *Table) ClosestNodes(target dht.Id, count int) dht.KClosestNodes {
	t.mu.Lock()
	entries := make([]dht.KBucketEntry, 0, count)
	for i := range t.buckets {
		entries = append(entries, t.buckets[i]...)
	}
	t.mu.Unlock()
	for _, node := range t.unsolicited.Values() {
		entries = append(entries, dht.KBucketEntry{Node: node})
	}
	return &kClosestNodes{target: target, count: count, entries: entries}
}

type kClosestNodes struct {
	target  dht.Id
	count   int
	entries []dht.KBucketEntry
	preds   []func(dht.KBucketEntry) bool
}

// Filter narrows the candidate set; predicates accumulate.
func (q *kClosestNodes) Filter(pred func(dht.KBucketEntry) bool) dht.KClosestNodes {
	q.preds = append(q.preds, pred)
	return q
}

// Fill materializes the query: apply the predicates, order by distance
// to target, cut to count.
func (q *kClosestNodes) Fill() []dht.KBucketEntry {
	kept := make([]dht.KBucketEntry, 0, len(q.entries))
outer:
	for _, e := range q.entries {
		for _, pred := range q.preds {
			if !pred(e) {
				continue outer
			}
		}
		kept = append(kept, e)
	}
	sort.Slice(kept, func(i, j int) bool {
		return dht.Less(q.target, kept[i].Node.ID, kept[j].Node.ID)
	})
	if len(kept) > q.count {
		kept = kept[:q.count]
	}
	return kept
}
