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

// ValueLookupTask retrieves a value by id. By default it keeps
// iterating after the first acceptable value so it can collect the
// highest sequence number present anywhere on the path; with
// doneOnEligibleResult set it completes on the first acceptance.
type ValueLookupTask struct {
	*lookupTask

	expectedSequenceNumber int32
	doneOnEligibleResult   bool

	eligible *EligibleValue
}

// NewValueLookupTask creates a value lookup for target.
// expectedSequenceNumber < 0 accepts any version.
func NewValueLookupTask(mgr *TaskManager, target Id, expectedSequenceNumber int32) *ValueLookupTask {
	t := &ValueLookupTask{
		lookupTask:             newLookupTask(mgr, "value-lookup", target),
		expectedSequenceNumber: expectedSequenceNumber,
		eligible:               NewEligibleValue(target, expectedSequenceNumber),
	}
	t.lookupTask.sub = t
	t.taskBase.hooks = t
	return t
}

// SetDoneOnEligibleResult makes the task complete right after the
// first valid value acceptance instead of converging on the whole
// network's best version.
func (t *ValueLookupTask) SetDoneOnEligibleResult(b bool) { t.doneOnEligibleResult = b }

// Result returns the best value retrieved, if any.
func (t *ValueLookupTask) Result() (Value, bool) { return t.eligible.Get() }

func (t *ValueLookupTask) prepare() {
	t.seedFromRoutingTable(false)
}

func (t *ValueLookupTask) buildRequest(*CandidateNode) *wire.Message {
	return &wire.Message{
		Type:   wire.TypeRequest,
		Method: wire.MethodFindValue,
		Body: wire.FindValueRequest{
			Target:         [IDLength]byte(t.target),
			Want4:          true,
			Want6:          true,
			SequenceNumber: t.expectedSequenceNumber,
		},
	}
}

func (t *ValueLookupTask) handleResponse(cn *CandidateNode, resp *wire.Message) {
	body, ok := resp.Body.(wire.FindValueResponse)
	if !ok {
		return
	}
	if body.Value != nil {
		if !t.eligible.Update(valueFromWire(*body.Value)) {
			// An invalid payload poisons the whole response: the
			// sender's node list is not to be trusted either.
			t.mgr.logger.Debug("dropping response with invalid value", "task", t.name, "from", cn.Node.Addr())
			return
		}
		if t.doneOnEligibleResult {
			t.lookupDone = true
			return
		}
	}
	t.AddCandidates(nodesFromResponse(body.Nodes4, body.Nodes6))
}
