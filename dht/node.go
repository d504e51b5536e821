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
	"time"
)

// NodeInfo is the wire-domain triple (id, ip, port). Identity is the
// full triple, not the id alone: the same id reachable at two
// different endpoints is two distinct NodeInfo values.
type NodeInfo struct {
	ID   Id
	IP   net.IP
	Port int
}

func NewNodeInfo(id Id, ip net.IP, port int) NodeInfo {
	return NodeInfo{ID: id, IP: ip, Port: port}
}

func (n NodeInfo) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: n.IP, Port: n.Port}
}

// locationKey returns the dedup key used by ClosestCandidates. In
// production mode only the IP matters (one entry per host, to resist
// Sybil swarms behind a single address); in developer mode the port is
// folded in too, so unit tests running many synthetic nodes on
// 127.0.0.1 are not all collapsed into one.
func (n NodeInfo) locationKey(developerMode bool) string {
	if developerMode {
		return n.Addr().String()
	}
	return n.IP.String()
}

// KBucketEntry is a NodeInfo refined with the liveness predicates the
// lookup engine reads (but never mutates) from its routing-table
// collaborator.
type KBucketEntry struct {
	Node NodeInfo

	// LastSeen is the last time any packet was received from this
	// node, used by NeedsPing.
	LastSeen time.Time
	// LastPinged is the last time this node was actively pinged.
	LastPinged time.Time
	// Failures is the number of consecutive failed liveness checks.
	Failures int
	// Reachable seeds CandidateNode.reachable when this entry enters a
	// lookup's candidate queue.
	Reachable bool
}

// NeedsPing reports whether the entry is stale enough to warrant an
// active liveness check.
func (e KBucketEntry) NeedsPing(staleAfter time.Duration) bool {
	return time.Since(e.LastSeen) > staleAfter
}

// EligibleForLocalLookup reports whether this entry may be returned to
// a peer answering a FIND_NODE/FIND_PEER/FIND_VALUE request: nodes with
// too many consecutive failures are withheld even though they have not
// yet been evicted from the table.
func (e KBucketEntry) EligibleForLocalLookup(maxFailures int) bool {
	return e.Failures < maxFailures
}

// IsReachable reports the seeded reachability flag used to initialize
// CandidateNode.reachable.
func (e KBucketEntry) IsReachable() bool {
	return e.Reachable
}

// maxPings is the number of outstanding pings a CandidateNode tolerates
// (initial send plus two retries) before it is permanently considered
// unreachable and evicted from its ClosestCandidates queue.
const maxPings = 3

// CandidateNode wraps a NodeInfo with the mutable, lookup-local state
// a single LookupTask instance tracks while it is in flight: whether it
// has been sent a request, when it last replied, how many times it has
// been pinged, and the opaque write token the remote handed back.
//
// A CandidateNode is owned by exactly one ClosestCandidates for its
// entire lifetime; it is created the first time a NodeInfo enters a
// task's candidate queue and discarded when the task ends or the queue
// prunes it.
type CandidateNode struct {
	Node NodeInfo

	lastSent  int64 // unix millis, 0 means "not sent"
	lastReply int64 // unix millis, 0 means "no reply yet"
	pinged    int
	token     uint32
	reachable bool
}

func newCandidateNode(n NodeInfo, reachable bool) *CandidateNode {
	return &CandidateNode{Node: n, reachable: reachable}
}

// IsSent reports whether a request is currently outstanding to this
// candidate. isSent ⇔ lastSent != 0.
func (c *CandidateNode) IsSent() bool { return c.lastSent != 0 }

// IsUnreachable reports whether this candidate has exhausted its retry
// budget. isUnreachable ⇔ pinged >= 3.
func (c *CandidateNode) IsUnreachable() bool { return c.pinged >= maxPings }

// IsEligible reports whether next() may return this candidate:
// isEligible ⇔ !isSent && pinged < 3.
func (c *CandidateNode) IsEligible() bool { return !c.IsSent() && c.pinged < maxPings }

// setSent marks the candidate as having an outstanding request and
// increments its ping count. Called from the before-send hook so a
// subsequent next() call skips it.
func (c *CandidateNode) setSent(now time.Time) {
	c.lastSent = now.UnixMilli()
	c.pinged++
}

// clearSent clears the outstanding-request flag, making the candidate
// re-eligible for one more attempt. Used on a recoverable timeout.
func (c *CandidateNode) clearSent() {
	c.lastSent = 0
}

// setReplied records a successful response and the token the remote
// returned for subsequent writes.
func (c *CandidateNode) setReplied(now time.Time, token uint32) {
	c.lastReply = now.UnixMilli()
	c.token = token
}

// Token returns the opaque write-token this candidate handed back in
// its most recent response, or 0 if none was ever received.
func (c *CandidateNode) Token() uint32 { return c.token }

// Pinged returns the number of requests sent to this candidate so far.
func (c *CandidateNode) Pinged() int { return c.pinged }

// Reachable returns the liveness flag seeded from the originating
// KBucketEntry.
func (c *CandidateNode) Reachable() bool { return c.reachable }
