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

// RoutingTable is the collaborator the lookup engine consults to seed
// bootstrap lookups and to drop nodes that have gone bad. The engine
// never implements bucket splitting, ageing or persistence itself —
// see routingtable.Table for a concrete implementation.
type RoutingTable interface {
	// ClosestNodes returns a lazy builder over the count closest known
	// entries to target.
	ClosestNodes(target Id, count int) KClosestNodes
	// RemoveIfBad removes id from the table if it is stale or, when
	// force is set, unconditionally.
	RemoveIfBad(id Id, force bool)
	// IsLocalId reports whether id names this node itself, so lookup
	// tasks never contact themselves.
	IsLocalId(id Id) bool
}

// KClosestNodes is a lazy closest-node query: Filter narrows the
// candidate set by predicate, Fill materializes it.
type KClosestNodes interface {
	Filter(pred func(KBucketEntry) bool) KClosestNodes
	Fill() []KBucketEntry
}

// RpcServer sends a call asynchronously and is responsible for driving
// the call's state machine through its Mark* methods, dropping any
// response whose txid is unknown. A response whose sender does not
// match the call's target is still delivered, flagged on the call (see
// RpcCall.IsIdMismatched).
type RpcServer interface {
	SendCall(call *RpcCall) error
}

// ResultFilter lets a concrete lookup task's caller judge a candidate
// result and decide whether the lookup should keep iterating or stop
// immediately once a match is found. R is the per-lookup result type:
// NodeLookupTask passes each returned NodeInfo whose id equals the
// target, PeerLookupTask passes its merged []PeerInfo. ValueLookupTask
// takes no filter.
type ResultFilter[R any] interface {
	// Accept returns whether the result is acceptable and whether the
	// lookup should stop now.
	Accept(result R) (accept bool, done bool)
}
