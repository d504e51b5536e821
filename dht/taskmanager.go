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
	"errors"
	"sync"
	"sync/atomic"

	"github.com/erigontech/erigon-lib/log/v3"
)

// ErrCanceling is returned by Add once the manager's event loop has
// shut down (after Close). An Add that lands while CancelAll runs is
// rejected on the loop instead, without an error to the caller.
var ErrCanceling = errors.New("task manager is canceling")

// TaskStats is the small observer surface the manager reports task
// lifecycle to; metrics implementations hang off it. A nil stats is
// legal.
type TaskStats interface {
	TaskQueued()
	TaskStarted()
	TaskEnded(canceled bool)
}

// TaskManager schedules cooperative tasks on a single event loop: a
// FIFO queue of QUEUED tasks drains into a bounded running set, and
// every task's end-handler removes it from whichever collection holds
// it and pulls the next one in.
type TaskManager struct {
	cfg    Config
	rpc    RpcServer
	rt     RoutingTable
	logger log.Logger
	stats  TaskStats

	loop *eventLoop
	txid atomic.Uint32

	// loop-confined
	queue     *list.List
	running   map[Task]struct{}
	canceling bool

	closeOnce sync.Once
}

// NewTaskManager wires the scheduler to its collaborators. rt may be
// nil for tests that drive tasks with synthetic candidates only.
func NewTaskManager(cfg Config, rpc RpcServer, rt RoutingTable, logger log.Logger) *TaskManager {
	m := &TaskManager{
		cfg:     cfg.withDefaults(),
		rpc:     rpc,
		rt:      rt,
		logger:  logger,
		loop:    newEventLoop(),
		queue:   list.New(),
		running: make(map[Task]struct{}),
	}
	return m
}

// SetStats attaches a lifecycle observer. Call before the first Add.
func (m *TaskManager) SetStats(s TaskStats) { m.stats = s }

// Config returns the manager's effective (defaulted) configuration.
func (m *TaskManager) Config() Config { return m.cfg }

// nextTxid hands out transaction ids. Zero is skipped: a zero txid is
// indistinguishable from an unset field.
func (m *TaskManager) nextTxid() uint32 {
	for {
		if id := m.txid.Add(1); id != 0 {
			return id
		}
	}
}

// Add registers task with the manager. A task already RUNNING (started
// manually by the caller) just joins the running set; otherwise it is
// queued — at the front when prior is set — and a dequeue pass is
// scheduled on the next event-loop tick. Add is asynchronous and safe
// to call from listener callbacks running on the event loop; it only
// returns an error when the manager has already shut down. An Add that
// lands during CancelAll's guarded phase is rejected (the task stays
// in INITIAL and is never scheduled).
func (m *TaskManager) Add(task Task, prior bool) error {
	if !m.loop.post(func() { m.addOnLoop(task, prior) }) {
		return ErrCanceling
	}
	return nil
}

func (m *TaskManager) addOnLoop(task Task, prior bool) {
	if m.canceling {
		m.logger.Debug("rejecting task during cancelAll", "task", task.Name())
		return
	}

	tb := task.base()
	tb.setEndHandler(func() { m.taskEnded(task) })

	if task.State() == TaskRunning {
		m.running[task] = struct{}{}
		if m.stats != nil {
			m.stats.TaskStarted()
		}
		return
	}

	if !tb.setState(TaskQueued) {
		tb.clearEndHandler()
		return
	}
	if prior {
		m.queue.PushFront(task)
	} else {
		m.queue.PushBack(task)
	}
	if m.stats != nil {
		m.stats.TaskQueued()
	}
	m.loop.post(m.dequeue)
}

// taskEnded is every managed task's end-handler: drop the task from
// whichever collection holds it and let the queue refill the running
// set.
func (m *TaskManager) taskEnded(task Task) {
	if _, ok := m.running[task]; ok {
		delete(m.running, task)
	} else {
		for e := m.queue.Front(); e != nil; e = e.Next() {
			if e.Value.(Task) == task {
				m.queue.Remove(e)
				break
			}
		}
	}
	if m.stats != nil {
		m.stats.TaskEnded(task.State() == TaskCanceled)
	}
	m.dequeue()
}

// dequeue moves queued tasks into the running set until the running
// cap is reached, scheduling each start on the event loop.
func (m *TaskManager) dequeue() {
	for len(m.running) < m.cfg.MaxActiveTasks && m.queue.Len() > 0 {
		e := m.queue.Front()
		m.queue.Remove(e)
		task := e.Value.(Task)
		if task.IsEnd() {
			continue
		}
		m.running[task] = struct{}{}
		if m.stats != nil {
			m.stats.TaskStarted()
		}
		m.loop.post(task.base().startOnLoop)
	}
}

// QueuedCount and RunningCount report scheduler occupancy for status
// output; they round-trip through the loop for a consistent snapshot.
func (m *TaskManager) QueuedCount() int {
	n := make(chan int, 1)
	if !m.loop.post(func() { n <- m.queue.Len() }) {
		return 0
	}
	return <-n
}

func (m *TaskManager) RunningCount() int {
	n := make(chan int, 1)
	if !m.loop.post(func() { n <- len(m.running) }) {
		return 0
	}
	return <-n
}

// CancelAll enters a guarded canceling phase, rejects new adds while
// it runs, cancels every tracked task with its end-handler nulled out
// (to avoid re-entrant removal from the collections being iterated),
// then clears both collections and leaves the phase.
func (m *TaskManager) CancelAll() {
	done := make(chan struct{})
	if !m.loop.post(func() { m.cancelAllOnLoop(); close(done) }) {
		return
	}
	<-done
}

func (m *TaskManager) cancelAllOnLoop() {
	m.canceling = true
	// The phase is left via a posted event rather than inline, so that
	// adds posted by listener callbacks fired during the cancellation
	// below still observe the guard and are rejected.
	defer m.loop.post(func() { m.canceling = false })

	for e := m.queue.Front(); e != nil; e = e.Next() {
		task := e.Value.(Task)
		task.base().clearEndHandler()
		task.base().cancelOnLoop()
	}
	for task := range m.running {
		task.base().clearEndHandler()
		task.base().cancelOnLoop()
		if m.stats != nil {
			m.stats.TaskEnded(true)
		}
	}
	m.queue.Init()
	m.running = make(map[Task]struct{})
}

// Close cancels everything and stops the event loop. The manager is
// unusable afterwards.
func (m *TaskManager) Close() {
	m.closeOnce.Do(func() {
		m.CancelAll()
		m.loop.close()
	})
}
