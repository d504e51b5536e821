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

	"github.com/bosonnetwork/dht-go/dht/wire"
)

// maxLookupFailures is the consecutive-failure count at which a
// bucket entry is withheld from lookup seeding.
const maxLookupFailures = 5

// lookupHooks are the bits that differ between the node/value/peer
// lookup variants: which request to send and what to do with a
// response body.
type lookupHooks interface {
	buildRequest(cn *CandidateNode) *wire.Message
	handleResponse(cn *CandidateNode, resp *wire.Message)
}

// lookupTask is the iterative Kademlia convergence template:
// candidates feed RPCs, responses feed the closest set and fresh
// candidates, and the loop terminates once the frontier stops
// improving. Concrete lookups embed it and provide lookupHooks.
type lookupTask struct {
	*taskBase
	sub lookupHooks

	target     Id
	candidates *ClosestCandidates
	closest    *ClosestSet

	calls map[uint32]*CandidateNode // txid -> in-flight candidate

	lookupDone     bool
	iterationCount int
	maxIterations  int
}

func newLookupTask(mgr *TaskManager, name string, target Id) *lookupTask {
	k := mgr.cfg.K
	t := &lookupTask{
		target:        target,
		candidates:    NewClosestCandidates(target, k, mgr.cfg.DeveloperMode),
		closest:       NewClosestSet(target, k),
		calls:         make(map[uint32]*CandidateNode),
		maxIterations: 3 * k,
	}
	t.taskBase = newTaskBase(mgr, name, nil)
	return t
}

// Target returns the id this lookup converges on.
func (t *lookupTask) Target() Id { return t.target }

// ClosestSet exposes the confirmed responders, typically handed to an
// announce task after the lookup completes.
func (t *lookupTask) ClosestSet() *ClosestSet { return t.closest }

// addressEligible implements the admission rule: in production only
// globally-routable unicast addresses are allowed; in developer mode
// any unicast address is.
func addressEligible(ip net.IP, developerMode bool) bool {
	if len(ip) == 0 || ip.IsUnspecified() || ip.IsMulticast() {
		return false
	}
	if developerMode {
		return true
	}
	return ip.IsGlobalUnicast() && !ip.IsPrivate()
}

// AddCandidates admits nodes into the candidate queue, filtering out
// ineligible addresses, the local node, and nodes already confirmed in
// the closest set. The queue's own dedup memory handles everything
// previously seen.
func (t *lookupTask) AddCandidates(nodes []NodeInfo) {
	accepted := nodes[:0:0]
	for _, n := range nodes {
		if !addressEligible(n.IP, t.mgr.cfg.DeveloperMode) {
			continue
		}
		if n.ID == t.mgr.cfg.LocalId {
			continue
		}
		if t.mgr.rt != nil && t.mgr.rt.IsLocalId(n.ID) {
			continue
		}
		if t.closest.Contains(n.ID) {
			continue
		}
		accepted = append(accepted, n)
	}
	t.candidates.Add(accepted, nil)
}

// seedFromRoutingTable primes the candidate queue. In bootstrap mode
// the seed pivot is the complement of the target — the farthest shell —
// to maximise path coverage on a cold start.
func (t *lookupTask) seedFromRoutingTable(bootstrap bool) {
	if t.mgr.rt == nil {
		return
	}
	pivot := t.target
	if bootstrap {
		pivot = Distance(t.target, MaxId)
	}
	entries := t.mgr.rt.ClosestNodes(pivot, t.mgr.cfg.K*3).
		Filter(func(e KBucketEntry) bool { return e.EligibleForLocalLookup(maxLookupFailures) }).
		Fill()

	reach := make(map[Id]bool, len(entries))
	nodes := make([]NodeInfo, 0, len(entries))
	for _, e := range entries {
		if e.Node.ID == t.mgr.cfg.LocalId || !addressEligible(e.Node.IP, t.mgr.cfg.DeveloperMode) {
			continue
		}
		reach[e.Node.ID] = e.IsReachable()
		nodes = append(nodes, e.Node)
	}
	t.candidates.Add(nodes, func(n NodeInfo) bool { return reach[n.ID] })
}

func (t *lookupTask) prepare() {}

func (t *lookupTask) iterate() {
	t.iterationCount++
	for t.candidates.Len() > 0 && t.canDoRequest() {
		cn, ok := t.candidates.Next()
		if !ok {
			// Nothing eligible right now; a later RPC transition will
			// re-enter iterate.
			break
		}
		req := t.sub.buildRequest(cn)
		t.sendCall(cn.Node, req, func(call *RpcCall) {
			cn.setSent(time.Now())
			t.calls[call.Txid()] = cn
		})
	}
}

func (t *lookupTask) callSent(*RpcCall) {}

func (t *lookupTask) callResponded(call *RpcCall, resp *wire.Message) {
	cn := t.calls[call.Txid()]
	delete(t.calls, call.Txid())
	if cn == nil {
		return
	}
	if call.IsIdMismatched() {
		// The round-trip is terminal but the body is not authoritative:
		// drop the impostor from the queue without confirming it, and
		// ignore everything it said.
		t.candidates.Remove(cn.Node.ID)
		return
	}

	t.candidates.Remove(cn.Node.ID)
	cn.setReplied(time.Now(), responseToken(resp.Body))
	t.closest.Add(cn)

	if resp.Type == wire.TypeError {
		if body, ok := resp.Body.(wire.ErrorBody); ok {
			t.mgr.logger.Debug("remote error", "task", t.name, "from", cn.Node.Addr(), "code", body.Code, "message", body.Message)
		}
		return
	}
	t.sub.handleResponse(cn, resp)
}

func (t *lookupTask) callError(call *RpcCall) {
	cn := t.calls[call.Txid()]
	delete(t.calls, call.Txid())
	if cn == nil {
		return
	}
	t.candidates.Remove(cn.Node.ID)
}

func (t *lookupTask) callTimeout(call *RpcCall) {
	cn := t.calls[call.Txid()]
	delete(t.calls, call.Txid())
	if cn == nil {
		return
	}
	if cn.IsUnreachable() {
		t.candidates.Remove(cn.Node.ID)
		return
	}
	// Retry budget left: clear the sent flag so next() can pick the
	// candidate again. The ping counter already went up on setSent.
	cn.clearSent()
}

func (t *lookupTask) isDone() bool {
	if t.lookupDone {
		return true
	}
	if t.iterationCount >= t.maxIterations {
		return true
	}
	if t.inFlightCount() > 0 {
		return false
	}
	if t.candidates.Len() == 0 {
		return true
	}
	if t.closest.IsEligible() {
		if tail, ok := t.closest.Tail(); ok {
			// Every remaining candidate is farther than our current
			// worst confirmed responder: fixpoint.
			if compareId(Distance(t.target, tail), t.candidates.Head()) <= 0 {
				return true
			}
		}
	}
	return false
}

// responseToken pulls the write token out of whichever response body
// carries one.
func responseToken(body any) uint32 {
	switch b := body.(type) {
	case wire.FindNodeResponse:
		return b.Token
	case wire.FindPeerResponse:
		return b.Token
	case wire.FindValueResponse:
		return b.Token
	default:
		return 0
	}
}

// nodesFromResponse merges a response's v4 and v6 node lists into
// NodeInfos.
func nodesFromResponse(nodes4, nodes6 []wire.Node) []NodeInfo {
	out := make([]NodeInfo, 0, len(nodes4)+len(nodes6))
	for _, n := range nodes4 {
		out = append(out, nodeFromWire(n))
	}
	for _, n := range nodes6 {
		out = append(out, nodeFromWire(n))
	}
	return out
}
