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
	"sync/atomic"
	"testing"
	"time"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/bosonnetwork/dht-go/dht/wire"
)

// stubRpcServer answers every call synchronously through respond. A
// nil respond leaves calls in SENT forever (until the test drives them
// by hand).
type stubRpcServer struct {
	mu      sync.Mutex
	calls   []*RpcCall
	respond func(call *RpcCall)
}

func (s *stubRpcServer) SendCall(call *RpcCall) error {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	respond := s.respond
	s.mu.Unlock()
	call.MarkSent()
	if respond != nil {
		respond(call)
	}
	return nil
}

func (s *stubRpcServer) sent() []*RpcCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*RpcCall(nil), s.calls...)
}

// respondWith builds a response envelope echoing the request's txid
// and claiming senderId.
func respondWith(call *RpcCall, senderId Id, body any) {
	call.MarkResponded(&wire.Message{
		Type:     wire.TypeResponse,
		Method:   call.Request.Method,
		Txid:     call.Request.Txid,
		Version:  ProtocolVersion,
		SenderId: [IDLength]byte(senderId),
		Body:     body,
	})
}

func newTestManager(t *testing.T, rpc RpcServer, rt RoutingTable, mutate func(*Config)) *TaskManager {
	t.Helper()
	cfg := Config{
		LocalId:       idAtDistance(MaxId, 0xbeef),
		K:             8,
		DeveloperMode: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewTaskManager(cfg, rpc, rt, log.New())
	t.Cleanup(m.Close)
	return m
}

// testTask runs until told to finish.
type testTask struct {
	*taskBase
	noopHooks
	done atomic.Bool
}

func newTestTask(m *TaskManager) *testTask {
	t := &testTask{}
	t.taskBase = newTaskBase(m, "test-task", t)
	return t
}

func (t *testTask) iterate()     {}
func (t *testTask) isDone() bool { return t.done.Load() }

func (t *testTask) finishNow() {
	t.done.Store(true)
	t.mgr.loop.post(t.runIterate)
}

func waitEnded(t *testing.T, task Task) TaskState {
	t.Helper()
	done := make(chan TaskState, 1)
	task.AddListener(TaskListener{Ended: func(tk Task) { done <- tk.State() }})
	select {
	case s := <-done:
		return s
	case <-time.After(5 * time.Second):
		t.Fatalf("task %s did not end", task.Name())
		return TaskInitial
	}
}

func TestTaskLifecycleEvents(t *testing.T) {
	m := newTestManager(t, &stubRpcServer{}, nil, nil)
	task := newTestTask(m)

	var order []string
	var mu sync.Mutex
	record := func(ev string) func(Task) {
		return func(Task) {
			mu.Lock()
			order = append(order, ev)
			mu.Unlock()
		}
	}
	task.AddListener(TaskListener{
		Started:   record("started"),
		Completed: record("completed"),
		Canceled:  record("canceled"),
		Ended:     record("ended"),
	})

	if err := m.Add(task, false); err != nil {
		t.Fatal(err)
	}
	task.finishNow()
	if state := waitEnded(t, task); state != TaskCompleted {
		t.Fatalf("state = %s, want COMPLETED", state)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"started", "completed", "ended"}
	if len(order) != len(want) {
		t.Fatalf("events = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("events = %v, want %v", order, want)
		}
	}
}

func TestTaskLateListenerGetsTerminalEvents(t *testing.T) {
	m := newTestManager(t, &stubRpcServer{}, nil, nil)
	task := newTestTask(m)
	if err := m.Add(task, false); err != nil {
		t.Fatal(err)
	}
	task.finishNow()
	waitEnded(t, task)

	var gotCompleted, gotEnded bool
	task.AddListener(TaskListener{
		Completed: func(Task) { gotCompleted = true },
		Ended:     func(Task) { gotEnded = true },
	})
	if !gotCompleted || !gotEnded {
		t.Fatalf("late listener missed terminal events: completed=%v ended=%v", gotCompleted, gotEnded)
	}
}

func TestTaskStateMachineIsMonotonic(t *testing.T) {
	m := newTestManager(t, &stubRpcServer{}, nil, nil)
	task := newTestTask(m)
	if err := m.Add(task, false); err != nil {
		t.Fatal(err)
	}

	endedCount := 0
	var mu sync.Mutex
	task.AddListener(TaskListener{Ended: func(Task) {
		mu.Lock()
		endedCount++
		mu.Unlock()
	}})

	task.Cancel()
	if state := waitEnded(t, task); state != TaskCanceled {
		t.Fatalf("state = %s, want CANCELED", state)
	}
	// Further transitions must be refused.
	task.Cancel()
	task.finishNow()
	time.Sleep(50 * time.Millisecond)
	if task.State() != TaskCanceled {
		t.Fatalf("terminal state was revisited: %s", task.State())
	}
	mu.Lock()
	defer mu.Unlock()
	if endedCount != 1 {
		t.Fatalf("ended fired %d times, want exactly once", endedCount)
	}
}

func TestTaskConcurrencyCap(t *testing.T) {
	stub := &stubRpcServer{} // never responds
	m := newTestManager(t, stub, nil, func(c *Config) {
		c.MaxConcurrentRequests = 4
	})

	target := idAtDistance(Id{}, 1<<32)
	task := NewNodeLookupTask(m, target)
	task.AddCandidates(testNodes(target, 10))
	if err := m.Add(task, false); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(stub.sent()) >= 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(stub.sent()); got != 4 {
		t.Fatalf("in-flight calls = %d, want the cap of 4", got)
	}
}

func TestManagerQueueRespectsActiveLimit(t *testing.T) {
	m := newTestManager(t, &stubRpcServer{}, nil, func(c *Config) {
		c.MaxActiveTasks = 2
	})

	tasks := make([]*testTask, 5)
	for i := range tasks {
		tasks[i] = newTestTask(m)
		if err := m.Add(tasks[i], false); err != nil {
			t.Fatal(err)
		}
	}

	waitFor := func(cond func() bool, what string) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if cond() {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %s", what)
	}

	waitFor(func() bool { return m.RunningCount() == 2 && m.QueuedCount() == 3 },
		"two running, three queued")

	tasks[0].finishNow()
	waitEnded(t, tasks[0])
	waitFor(func() bool { return m.RunningCount() == 2 && m.QueuedCount() == 2 },
		"queue refill after completion")

	for _, task := range tasks[1:] {
		task.finishNow()
		waitEnded(t, task)
	}
	waitFor(func() bool { return m.RunningCount() == 0 && m.QueuedCount() == 0 },
		"drained manager")
}

func TestManagerPriorityEnqueue(t *testing.T) {
	m := newTestManager(t, &stubRpcServer{}, nil, func(c *Config) {
		c.MaxActiveTasks = 1
	})

	blocker := newTestTask(m)
	if err := m.Add(blocker, false); err != nil {
		t.Fatal(err)
	}

	var order []string
	var mu sync.Mutex
	makeTracked := func(name string) *testTask {
		task := newTestTask(m)
		task.name = name
		task.AddListener(TaskListener{Started: func(Task) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}})
		return task
	}
	back := makeTracked("back")
	front := makeTracked("front")
	if err := m.Add(back, false); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(front, true); err != nil {
		t.Fatal(err)
	}

	for _, task := range []*testTask{blocker, front, back} {
		task.finishNow()
		waitEnded(t, task)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "front" || order[1] != "back" {
		t.Fatalf("start order = %v, want [front back]", order)
	}
}

func TestManagerCancelAll(t *testing.T) {
	m := newTestManager(t, &stubRpcServer{}, nil, func(c *Config) {
		c.MaxActiveTasks = 2
	})

	tasks := make([]*testTask, 4)
	for i := range tasks {
		tasks[i] = newTestTask(m)
		if err := m.Add(tasks[i], false); err != nil {
			t.Fatal(err)
		}
	}

	// An add issued from an Ended listener during cancelAll must be
	// rejected: the task never gets scheduled.
	rejected := newTestTask(m)
	tasks[0].AddListener(TaskListener{Ended: func(Task) {
		_ = m.Add(rejected, false)
	}})

	m.CancelAll()

	for _, task := range tasks {
		if state := waitEnded(t, task); state != TaskCanceled {
			t.Fatalf("task %s state = %s, want CANCELED", task.Name(), state)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if rejected.State() != TaskInitial {
		t.Fatalf("add during cancelAll was accepted: %s", rejected.State())
	}
	if m.RunningCount() != 0 || m.QueuedCount() != 0 {
		t.Fatalf("collections not cleared")
	}
}

func TestCancelPropagatesToNestedTask(t *testing.T) {
	m := newTestManager(t, &stubRpcServer{}, nil, nil)
	outer := newTestTask(m)
	inner := newTestTask(m)
	if err := m.Add(outer, false); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(inner, false); err != nil {
		t.Fatal(err)
	}
	m.loop.post(func() { outer.setNestedTask(inner) })

	outer.Cancel()
	if state := waitEnded(t, inner); state != TaskCanceled {
		t.Fatalf("nested task state = %s, want CANCELED", state)
	}
}

func TestRpcCallStateMachine(t *testing.T) {
	target := NodeInfo{ID: idAtDistance(Id{}, 5), IP: []byte{127, 0, 0, 1}, Port: 1}
	call := NewRpcCall(target, &wire.Message{Type: wire.TypeRequest, Method: wire.MethodPing, Txid: 7})

	var transitions []CallState
	call.AddListener(func(_ *RpcCall, _, next CallState) {
		transitions = append(transitions, next)
	})

	call.MarkSent()
	call.MarkStalled()
	call.MarkTimeout()
	// Terminal: a late response must be dropped.
	respondWith(call, target.ID, nil)

	want := []CallState{CallSent, CallStalled, CallTimeout}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
	if call.GetResponse() != nil {
		t.Fatalf("late response was recorded after timeout")
	}
}

func TestRpcCallIdMismatch(t *testing.T) {
	target := NodeInfo{ID: idAtDistance(Id{}, 5), IP: []byte{127, 0, 0, 1}, Port: 1}
	call := NewRpcCall(target, &wire.Message{Type: wire.TypeRequest, Method: wire.MethodPing, Txid: 9})
	call.MarkSent()
	respondWith(call, idAtDistance(Id{}, 6), nil)

	if call.State() != CallResponded {
		t.Fatalf("mismatched response must still be RESPONDED")
	}
	if !call.IsIdMismatched() {
		t.Fatalf("id mismatch not flagged")
	}
}
