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
	"sync"

	"github.com/bosonnetwork/dht-go/dht/wire"
)

// TaskState is a task's lifecycle state. Transitions are monotonic by
// ordinal and only along the edges checked in legalTaskTransition; an
// attempted illegal transition is logged and refused.
type TaskState int

const (
	TaskInitial TaskState = iota
	TaskQueued
	TaskRunning
	TaskCompleted
	TaskCanceled
)

func (s TaskState) String() string {
	switch s {
	case TaskInitial:
		return "INITIAL"
	case TaskQueued:
		return "QUEUED"
	case TaskRunning:
		return "RUNNING"
	case TaskCompleted:
		return "COMPLETED"
	case TaskCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// IsEnd reports whether s is terminal.
func (s TaskState) IsEnd() bool {
	return s == TaskCompleted || s == TaskCanceled
}

func legalTaskTransition(from, to TaskState) bool {
	switch to {
	case TaskQueued:
		return from == TaskInitial
	case TaskRunning:
		return from == TaskInitial || from == TaskQueued
	case TaskCompleted:
		return from == TaskRunning
	case TaskCanceled:
		return !from.IsEnd()
	default:
		return false
	}
}

// TaskListener receives lifecycle events. Ended always fires exactly
// once, strictly after Completed or Canceled. A listener added after
// the task has already terminated receives the terminal events
// synchronously from AddListener.
type TaskListener struct {
	Started   func(Task)
	Completed func(Task)
	Canceled  func(Task)
	Ended     func(Task)
}

// Task is the common surface of every cooperative task the manager
// schedules. Concrete tasks are built by embedding *taskBase and
// providing the taskHooks callbacks.
type Task interface {
	Name() string
	State() TaskState
	IsEnd() bool
	AddListener(TaskListener)

	// Start schedules the task to run on the event loop. The manager
	// calls this for queued tasks; callers may also start a task
	// manually, in which case Add just tracks it in the running set.
	Start()
	// Cancel cooperatively terminates the task and its nested task.
	// In-flight RPCs are not aborted; their later transitions are
	// ignored because the task has ended.
	Cancel()

	base() *taskBase
}

// taskHooks are the per-subclass callbacks the base drives. All hooks
// run on the event loop.
type taskHooks interface {
	// prepare runs once, before the first iterate.
	prepare()
	// iterate is the driver: invoked once on start and again after
	// each terminal-or-stalled RPC transition.
	iterate()

	callSent(*RpcCall)
	callResponded(*RpcCall, *wire.Message)
	callError(*RpcCall)
	callTimeout(*RpcCall)

	// isDone is polled after iterate and after each RPC event.
	isDone() bool
}

// taskBase carries lifecycle, the in-flight call table, the
// concurrency cap, nested-task handling and listener fan-out. The
// state/listeners pair is mutex-guarded so State and AddListener work
// from any goroutine; everything else is loop-confined.
type taskBase struct {
	name        string
	mgr         *TaskManager
	hooks       taskHooks
	lowPriority bool

	mu        sync.Mutex
	state     TaskState
	listeners []TaskListener

	prepared   bool
	inFlight   map[uint32]*RpcCall
	nested     Task
	endHandler func()
}

func newTaskBase(mgr *TaskManager, name string, hooks taskHooks) *taskBase {
	return &taskBase{
		name:     name,
		mgr:      mgr,
		hooks:    hooks,
		inFlight: make(map[uint32]*RpcCall),
	}
}

func (t *taskBase) base() *taskBase { return t }

func (t *taskBase) Name() string { return t.name }

func (t *taskBase) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *taskBase) IsEnd() bool { return t.State().IsEnd() }

// SetLowPriority drops the task's in-flight cap from the regular to
// the low-priority limit. Only meaningful before the task starts.
func (t *taskBase) SetLowPriority() { t.lowPriority = true }

func (t *taskBase) AddListener(l TaskListener) {
	t.mu.Lock()
	state := t.state
	if !state.IsEnd() {
		t.listeners = append(t.listeners, l)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	if state == TaskCompleted && l.Completed != nil {
		l.Completed(t.self())
	}
	if state == TaskCanceled && l.Canceled != nil {
		l.Canceled(t.self())
	}
	if l.Ended != nil {
		l.Ended(t.self())
	}
}

// self returns the Task handed to listeners. The manager tracks the
// concrete task, so hand that out rather than the embedded base.
func (t *taskBase) self() Task {
	if ct, ok := t.hooks.(Task); ok {
		return ct
	}
	return t
}

// setState attempts a lifecycle transition and fires the matching
// listener events. It refuses (and logs) illegal transitions.
func (t *taskBase) setState(next TaskState) bool {
	t.mu.Lock()
	prev := t.state
	if !legalTaskTransition(prev, next) {
		t.mu.Unlock()
		t.mgr.logger.Debug("refusing illegal task transition", "task", t.name, "from", prev, "to", next)
		return false
	}
	t.state = next
	listeners := append([]TaskListener(nil), t.listeners...)
	t.mu.Unlock()

	self := t.self()
	switch next {
	case TaskRunning:
		for _, l := range listeners {
			if l.Started != nil {
				l.Started(self)
			}
		}
	case TaskCompleted:
		for _, l := range listeners {
			if l.Completed != nil {
				l.Completed(self)
			}
		}
		for _, l := range listeners {
			if l.Ended != nil {
				l.Ended(self)
			}
		}
	case TaskCanceled:
		for _, l := range listeners {
			if l.Canceled != nil {
				l.Canceled(self)
			}
		}
		for _, l := range listeners {
			if l.Ended != nil {
				l.Ended(self)
			}
		}
	}
	return true
}

func (t *taskBase) Start() {
	t.mgr.loop.post(t.startOnLoop)
}

func (t *taskBase) startOnLoop() {
	if !t.setState(TaskRunning) {
		return
	}
	if !t.prepared {
		t.prepared = true
		t.hooks.prepare()
	}
	t.runIterate()
}

// runIterate drives one cooperative step: let the subclass issue
// whatever requests it can, then check for termination.
func (t *taskBase) runIterate() {
	if t.IsEnd() {
		return
	}
	t.hooks.iterate()
	if t.IsEnd() {
		return
	}
	if t.hooks.isDone() {
		t.complete()
	}
}

// complete moves the task to COMPLETED and runs the end-handler.
func (t *taskBase) complete() {
	if t.setState(TaskCompleted) {
		t.finish()
	}
}

func (t *taskBase) Cancel() {
	t.mgr.loop.post(t.cancelOnLoop)
}

func (t *taskBase) cancelOnLoop() {
	if !t.setState(TaskCanceled) {
		return
	}
	if t.nested != nil {
		t.nested.base().cancelOnLoop()
		t.nested = nil
	}
	t.finish()
}

func (t *taskBase) finish() {
	eh := t.endHandler
	t.endHandler = nil
	if eh != nil {
		eh()
	}
}

// setNestedTask attaches a subordinate task that must not outlive this
// one; Cancel propagates to it.
func (t *taskBase) setNestedTask(nested Task) {
	t.nested = nested
}

func (t *taskBase) setEndHandler(fn func()) { t.endHandler = fn }
func (t *taskBase) clearEndHandler()        { t.endHandler = nil }

func (t *taskBase) maxInFlight() int {
	if t.lowPriority {
		return t.mgr.cfg.MaxConcurrentRequestsLowPriority
	}
	return t.mgr.cfg.MaxConcurrentRequests
}

// canDoRequest reports whether the task may issue another call without
// exceeding its concurrency cap.
func (t *taskBase) canDoRequest() bool {
	return len(t.inFlight) < t.maxInFlight()
}

func (t *taskBase) inFlightCount() int { return len(t.inFlight) }

// sendCall stamps the request envelope, registers the call in the
// in-flight table and hands it to the RpcServer. beforeSend runs after
// the txid is assigned but before dispatch, so lookup tasks can mark
// the candidate as sent before any state change can be observed.
func (t *taskBase) sendCall(target NodeInfo, req *wire.Message, beforeSend func(*RpcCall)) bool {
	if !t.canDoRequest() {
		return false
	}
	req.Txid = t.mgr.nextTxid()
	req.Version = ProtocolVersion
	req.SenderId = t.mgr.cfg.LocalId

	call := NewRpcCall(target, req)
	if beforeSend != nil {
		beforeSend(call)
	}
	t.inFlight[call.Txid()] = call
	call.AddListener(t.onCallState)

	if err := t.mgr.rpc.SendCall(call); err != nil {
		t.mgr.logger.Debug("send failed", "task", t.name, "to", target.Addr(), "err", err)
		call.MarkError()
	}
	return true
}

// onCallState is the RpcCall listener: it runs on whatever goroutine
// the RpcServer delivers from, so it only re-posts onto the event
// loop.
func (t *taskBase) onCallState(call *RpcCall, _, next CallState) {
	t.mgr.loop.post(func() { t.handleCallState(call, next) })
}

func (t *taskBase) handleCallState(call *RpcCall, next CallState) {
	if t.IsEnd() {
		// Ignore if the task is already in a terminal state: in-flight
		// calls are not aborted on cancel, their transitions are simply
		// no longer observed.
		return
	}
	switch next {
	case CallSent:
		t.hooks.callSent(call)
		return
	case CallStalled:
		// A stalled call frees no concurrency slot, but the task gets a
		// chance to make progress elsewhere.
		t.runIterate()
		return
	case CallResponded:
		delete(t.inFlight, call.Txid())
		t.hooks.callResponded(call, call.GetResponse())
	case CallError:
		delete(t.inFlight, call.Txid())
		t.hooks.callError(call)
	case CallTimeout:
		delete(t.inFlight, call.Txid())
		t.hooks.callTimeout(call)
	default:
		return
	}
	t.runIterate()
}

// noopHooks provides default no-op RPC callbacks for tasks that do not
// care about one of them.
type noopHooks struct{}

func (noopHooks) prepare()                             {}
func (noopHooks) callSent(*RpcCall)                    {}
func (noopHooks) callResponded(*RpcCall, *wire.Message) {}
func (noopHooks) callError(*RpcCall)                   {}
func (noopHooks) callTimeout(*RpcCall)                 {}
