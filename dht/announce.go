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
	"container/list"

	"github.com/bosonnetwork/dht-go/dht/wire"
)

// announceTask is the shared "drain the todo deque" machinery of the
// two announce variants: each entry of a pre-computed closest set gets
// one write RPC, entries without a token are skipped, and the task is
// done when the deque and the in-flight table are both empty.
type announceTask struct {
	*taskBase
	noopHooks

	todo *list.List // of *CandidateNode

	buildWrite func(cn *CandidateNode) *wire.Message
}

func newAnnounceTask(mgr *TaskManager, name string, closest *ClosestSet) *announceTask {
	t := &announceTask{todo: list.New()}
	t.taskBase = newTaskBase(mgr, name, nil)
	for _, cn := range closest.Entries() {
		t.todo.PushBack(cn)
	}
	return t
}

func (t *announceTask) iterate() {
	for t.todo.Len() > 0 && t.canDoRequest() {
		e := t.todo.Front()
		t.todo.Remove(e)
		cn := e.Value.(*CandidateNode)
		if cn.Token() == 0 {
			t.mgr.logger.Warn("skipping announce target without token", "task", t.name, "to", cn.Node.Addr())
			continue
		}
		t.sendCall(cn.Node, t.buildWrite(cn), nil)
	}
}

func (t *announceTask) callResponded(call *RpcCall, resp *wire.Message) {
	if resp.Type != wire.TypeError {
		return
	}
	if body, ok := resp.Body.(wire.ErrorBody); ok {
		// Token and sequence rejections are terminal for that target;
		// no retry.
		t.mgr.logger.Debug("announce rejected", "task", t.name, "from", call.Target.Addr(), "code", body.Code, "message", body.Message)
	}
}

func (t *announceTask) isDone() bool {
	return t.todo.Len() == 0 && t.inFlightCount() == 0
}

// ValueAnnounceTask stores a value on the k closest nodes found by a
// preceding node lookup that requested tokens.
type ValueAnnounceTask struct {
	*announceTask

	value                  Value
	expectedSequenceNumber int32
}

// NewValueAnnounceTask creates the announce for value against the
// given closest set. expectedSequenceNumber implements the receiver's
// compare-and-swap: the store proceeds only if its current sequence
// is >= expected.
func NewValueAnnounceTask(mgr *TaskManager, closest *ClosestSet, value Value, expectedSequenceNumber int32) *ValueAnnounceTask {
	t := &ValueAnnounceTask{
		announceTask:           newAnnounceTask(mgr, "value-announce", closest),
		value:                  value,
		expectedSequenceNumber: expectedSequenceNumber,
	}
	t.announceTask.buildWrite = t.buildWrite
	t.taskBase.hooks = t
	return t
}

func (t *ValueAnnounceTask) buildWrite(cn *CandidateNode) *wire.Message {
	return &wire.Message{
		Type:   wire.TypeRequest,
		Method: wire.MethodStoreValue,
		Body: wire.StoreValueRequest{
			Value:                  valueToWire(t.value),
			Token:                  cn.Token(),
			ExpectedSequenceNumber: t.expectedSequenceNumber,
		},
	}
}

// PeerAnnounceTask announces a peer record to the k closest nodes
// found by a preceding node lookup that requested tokens.
type PeerAnnounceTask struct {
	*announceTask

	peer PeerInfo
}

// NewPeerAnnounceTask creates the announce for peer against the given
// closest set.
func NewPeerAnnounceTask(mgr *TaskManager, closest *ClosestSet, peer PeerInfo) *PeerAnnounceTask {
	t := &PeerAnnounceTask{
		announceTask: newAnnounceTask(mgr, "peer-announce", closest),
		peer:         peer,
	}
	t.announceTask.buildWrite = t.buildWrite
	t.taskBase.hooks = t
	return t
}

func (t *PeerAnnounceTask) buildWrite(cn *CandidateNode) *wire.Message {
	return &wire.Message{
		Type:   wire.TypeRequest,
		Method: wire.MethodAnnouncePeer,
		Body: wire.AnnouncePeerRequest{
			Peer:  peerToWire(t.peer, t.mgr.cfg.LocalId),
			Token: cn.Token(),
		},
	}
}
