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
	"time"

	"github.com/bosonnetwork/dht-go/dht/wire"
)

// CallState is the RpcCall state machine's ordinal. Transitions are
// monotonic: a call never revisits a lower-numbered state.
type CallState int

const (
	CallUnsent CallState = iota
	CallSent
	CallStalled
	CallResponded
	CallError
	CallTimeout
)

func (s CallState) String() string {
	switch s {
	case CallUnsent:
		return "UNSENT"
	case CallSent:
		return "SENT"
	case CallStalled:
		return "STALLED"
	case CallResponded:
		return "RESPONDED"
	case CallError:
		return "ERROR"
	case CallTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// isTerminal reports whether s ends the call's lifecycle.
func (s CallState) isTerminal() bool {
	return s == CallResponded || s == CallError || s == CallTimeout
}

// CallListener receives every state transition a call makes, in order.
type CallListener func(call *RpcCall, previous, next CallState)

// RpcCall is a single request/response round-trip: its own little
// state machine, independent of the Task that issued it. Ownership is
// joint between the issuing Task (keyed by Txid in its in-flight
// table) and the RpcServer, until a terminal state is reached, at
// which point the Task releases it.
type RpcCall struct {
	Target  NodeInfo
	Request *wire.Message

	mu        sync.Mutex
	state     CallState
	listeners []CallListener

	response     *wire.Message
	idMismatched bool
	sentAt       int64 // unix millis
	respondedAt  int64 // unix millis
}

// NewRpcCall creates an unsent call for target carrying request. Txid
// is expected to already be set on request by the caller (the task),
// since the in-flight table is keyed by it.
func NewRpcCall(target NodeInfo, request *wire.Message) *RpcCall {
	return &RpcCall{Target: target, Request: request}
}

// Txid returns the transaction id this call's request/response pair is
// matched on.
func (c *RpcCall) Txid() uint32 { return c.Request.Txid }

// AddListener registers fn to receive every subsequent state
// transition. If the call has already reached a terminal state, fn is
// invoked synchronously and immediately with the terminal transition,
// mirroring Task's "late listener gets terminal events synchronously"
// contract applied at the call level too.
func (c *RpcCall) AddListener(fn CallListener) {
	c.mu.Lock()
	if state := c.state; state.isTerminal() {
		c.mu.Unlock()
		fn(c, state, state)
		return
	}
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// State returns the call's current state.
func (c *RpcCall) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetResponse returns the response message, if one has arrived.
func (c *RpcCall) GetResponse() *wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response
}

// SentAt and RespondedAt return unix-millisecond stamps of the send
// and the response arrival, 0 when the event has not happened yet.
func (c *RpcCall) SentAt() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sentAt
}

func (c *RpcCall) RespondedAt() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.respondedAt
}

// IsIdMismatched reports whether a response arrived whose senderId did
// not match the call's target id. Such a response still counts as
// RESPONDED (the remote is alive), but its body is not authoritative:
// the caller should treat the round-trip as terminal while discarding
// the payload.
func (c *RpcCall) IsIdMismatched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idMismatched
}

func (c *RpcCall) transition(next CallState) {
	c.mu.Lock()
	prev := c.state
	if prev.isTerminal() {
		c.mu.Unlock()
		return
	}
	c.state = next
	listeners := append([]CallListener(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(c, prev, next)
	}
}

// The Mark* methods below are the driving side of the call's state
// machine. They are exported because the RpcServer collaborator lives
// in a separate package; tasks only ever observe transitions through
// AddListener.

// MarkSent transitions UNSENT -> SENT and records the send time.
func (c *RpcCall) MarkSent() {
	c.mu.Lock()
	c.sentAt = time.Now().UnixMilli()
	c.mu.Unlock()
	c.transition(CallSent)
}

// MarkStalled transitions SENT -> STALLED when the soft deadline
// elapses without a response. Not all RpcServer implementations use
// the soft deadline; it is legal to go straight from SENT to a
// terminal state.
func (c *RpcCall) MarkStalled() {
	c.transition(CallStalled)
}

// MarkResponded records the response (and whether its sender id
// matched the target) and transitions to RESPONDED. A call already in a
// terminal state ignores the response.
func (c *RpcCall) MarkResponded(resp *wire.Message) {
	c.mu.Lock()
	if c.state.isTerminal() {
		c.mu.Unlock()
		return
	}
	c.response = resp
	c.idMismatched = Id(resp.SenderId) != c.Target.ID
	c.respondedAt = time.Now().UnixMilli()
	c.mu.Unlock()
	c.transition(CallResponded)
}

// MarkError transitions to ERROR, e.g. because the request failed to
// encode or the transport refused to send it.
func (c *RpcCall) MarkError() {
	c.transition(CallError)
}

// MarkTimeout transitions to TIMEOUT. Once this fires no further
// transitions happen: a late-arriving response with this call's txid
// must be dropped by the RpcServer before it ever reaches
// MarkResponded.
func (c *RpcCall) MarkTimeout() {
	c.transition(CallTimeout)
}
