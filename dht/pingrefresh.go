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

// PingRefreshOptions selects which entries of a bucket get probed and
// what happens when one does not answer.
type PingRefreshOptions struct {
	// CheckAll pings every entry instead of only the stale ones.
	CheckAll bool
	// ProbeReplacements pings the bucket's replacement-cache entries
	// too.
	ProbeReplacements bool
	// RemoveOnTimeout asks the routing table to drop an entry that
	// does not answer.
	RemoveOnTimeout bool
}

// PingRefreshTask keeps a bucket honest: it pings the entries that
// need it and reports the dead ones back to the routing table. It is
// a plain drain-the-queue task, not an iterative lookup.
type PingRefreshTask struct {
	*taskBase
	noopHooks

	opts PingRefreshOptions
	todo *list.List // of NodeInfo
}

// NewPingRefreshTask creates a refresh over a bucket's entries and,
// optionally, its replacement cache.
func NewPingRefreshTask(mgr *TaskManager, entries, replacements []KBucketEntry, opts PingRefreshOptions) *PingRefreshTask {
	t := &PingRefreshTask{opts: opts, todo: list.New()}
	t.taskBase = newTaskBase(mgr, "ping-refresh", t)
	t.SetLowPriority()

	for _, e := range entries {
		if opts.CheckAll || e.NeedsPing(mgr.cfg.PingStaleAfter) {
			t.todo.PushBack(e.Node)
		}
	}
	if opts.ProbeReplacements {
		for _, e := range replacements {
			t.todo.PushBack(e.Node)
		}
	}
	return t
}

func (t *PingRefreshTask) iterate() {
	for t.todo.Len() > 0 && t.canDoRequest() {
		e := t.todo.Front()
		t.todo.Remove(e)
		node := e.Value.(NodeInfo)
		t.sendCall(node, &wire.Message{Type: wire.TypeRequest, Method: wire.MethodPing}, nil)
	}
}

func (t *PingRefreshTask) callTimeout(call *RpcCall) {
	if !t.opts.RemoveOnTimeout || t.mgr.rt == nil {
		return
	}
	// Look the entry up by id at timeout-time rather than holding a
	// bucket reference: the table may have split or shuffled buckets
	// while the ping was in flight.
	t.mgr.rt.RemoveIfBad(call.Target.ID, true)
}

func (t *PingRefreshTask) isDone() bool {
	return t.todo.Len() == 0 && t.inFlightCount() == 0
}
