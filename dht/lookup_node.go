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
	"github.com/bosonnetwork/dht-go/dht/wire"
)

// NodeLookupTask converges on the k closest nodes to a target id.
// With WantToken set the FIND_NODE requests ask each responder for a
// write token, so the resulting closest set can be fed straight into
// an announce task.
type NodeLookupTask struct {
	*lookupTask

	bootstrap bool
	wantToken bool
	filter    ResultFilter[NodeInfo]

	result []NodeInfo
}

// NewNodeLookupTask creates a node lookup for target.
func NewNodeLookupTask(mgr *TaskManager, target Id) *NodeLookupTask {
	t := &NodeLookupTask{lookupTask: newLookupTask(mgr, "node-lookup", target)}
	t.lookupTask.sub = t
	t.taskBase.hooks = t
	return t
}

// SetBootstrap switches the seeding pivot to the farthest shell from
// target, maximising early path coverage on a cold start.
func (t *NodeLookupTask) SetBootstrap(b bool) { t.bootstrap = b }

// SetWantToken asks responders for write tokens.
func (t *NodeLookupTask) SetWantToken(w bool) { t.wantToken = w }

// SetResultFilter attaches a filter consulted whenever a returned node
// matches the target id exactly.
func (t *NodeLookupTask) SetResultFilter(f ResultFilter[NodeInfo]) { t.filter = f }

// Result returns the target-id matches the filter accepted (often a
// single node, when looking a specific node up by id).
func (t *NodeLookupTask) Result() []NodeInfo { return t.result }

func (t *NodeLookupTask) prepare() {
	t.seedFromRoutingTable(t.bootstrap)
}

func (t *NodeLookupTask) buildRequest(*CandidateNode) *wire.Message {
	return &wire.Message{
		Type:   wire.TypeRequest,
		Method: wire.MethodFindNode,
		Body: wire.FindNodeRequest{
			Target:    [IDLength]byte(t.target),
			Want4:     true,
			Want6:     true,
			WantToken: t.wantToken,
		},
	}
}

func (t *NodeLookupTask) handleResponse(_ *CandidateNode, resp *wire.Message) {
	body, ok := resp.Body.(wire.FindNodeResponse)
	if !ok {
		return
	}
	nodes := nodesFromResponse(body.Nodes4, body.Nodes6)
	t.AddCandidates(nodes)

	if t.filter == nil {
		return
	}
	for _, n := range nodes {
		if n.ID != t.target {
			continue
		}
		accept, done := t.filter.Accept(n)
		if accept {
			t.result = append(t.result, n)
		}
		if done {
			t.lookupDone = true
		}
	}
}
