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

// PeerLookupTask retrieves the peer records announced for a content
// id, merged across every announcer on the path.
type PeerLookupTask struct {
	*lookupTask

	filter   ResultFilter[[]PeerInfo]
	eligible *EligiblePeers
}

// NewPeerLookupTask creates a peer lookup for target.
func NewPeerLookupTask(mgr *TaskManager, target Id) *PeerLookupTask {
	t := &PeerLookupTask{
		lookupTask: newLookupTask(mgr, "peer-lookup", target),
		eligible:   NewEligiblePeers(target, mgr.cfg.K*mgr.cfg.K),
	}
	t.lookupTask.sub = t
	t.taskBase.hooks = t
	return t
}

// SetResultFilter attaches a filter that receives the merged record
// list after each response that adds records and may terminate the
// lookup early. Its accept result is not used: records already merged
// stay in the result whatever the filter returns.
func (t *PeerLookupTask) SetResultFilter(f ResultFilter[[]PeerInfo]) { t.filter = f }

// Result returns the merged peer records, best first.
func (t *PeerLookupTask) Result() []PeerInfo {
	t.eligible.Prune()
	return t.eligible.List()
}

func (t *PeerLookupTask) prepare() {
	t.seedFromRoutingTable(false)
}

func (t *PeerLookupTask) buildRequest(*CandidateNode) *wire.Message {
	return &wire.Message{
		Type:   wire.TypeRequest,
		Method: wire.MethodFindPeer,
		Body: wire.FindPeerRequest{
			Target: [IDLength]byte(t.target),
			Want4:  true,
			Want6:  true,
		},
	}
}

func (t *PeerLookupTask) handleResponse(cn *CandidateNode, resp *wire.Message) {
	body, ok := resp.Body.(wire.FindPeerResponse)
	if !ok {
		return
	}
	if len(body.Peers) > 0 {
		batch := make([]PeerInfo, 0, len(body.Peers))
		for _, p := range body.Peers {
			batch = append(batch, peerFromWire(p))
		}
		if !t.eligible.Add(batch) {
			// One bad signature condemns the entire response.
			t.mgr.logger.Debug("dropping response with invalid peer record", "task", t.name, "from", cn.Node.Addr())
			return
		}
		if t.filter != nil {
			if _, done := t.filter.Accept(t.eligible.List()); done {
				t.lookupDone = true
			}
		}
		return
	}
	t.AddCandidates(nodesFromResponse(body.Nodes4, body.Nodes6))
}
