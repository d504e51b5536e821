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

package main

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/bosonnetwork/dht-go/dht"
	"github.com/bosonnetwork/dht-go/dht/wire"
	"github.com/bosonnetwork/dht-go/routingtable"
)

const (
	tokenLifetime = 5 * time.Minute
	maxStoredData = 64 * 1024
)

// nodeHandler answers the six inbound request kinds against the
// routing table and a volatile value/peer store. It stands in for the
// persistent store the full node would carry; everything here is
// in-memory and forgotten on restart.
type nodeHandler struct {
	localId dht.Id
	k       int
	table   *routingtable.Table
	log     log.Logger

	mu     sync.Mutex
	tokens map[string]issuedToken // by remote "ip:port"
	values map[dht.Id]dht.Value
	peers  map[dht.Id]map[dht.Id]dht.PeerInfo // target -> announcer -> record
}

type issuedToken struct {
	token    uint32
	issuedAt time.Time
}

func newNodeHandler(localId dht.Id, k int, table *routingtable.Table, logger log.Logger) *nodeHandler {
	return &nodeHandler{
		localId: localId,
		k:       k,
		table:   table,
		log:     logger,
		tokens:  make(map[string]issuedToken),
		values:  make(map[dht.Id]dht.Value),
		peers:   make(map[dht.Id]map[dht.Id]dht.PeerInfo),
	}
}

// issueToken hands out (and remembers) the write token for a remote
// endpoint. Tokens rotate by expiry, not per request, so a FIND
// followed by a STORE within the lifetime succeeds.
func (h *nodeHandler) issueToken(from *net.UDPAddr) uint32 {
	key := from.String()
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.tokens[key]; ok && time.Since(t.issuedAt) < tokenLifetime {
		return t.token
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		h.log.Warn("token entropy unavailable", "err", err)
	}
	token := binary.BigEndian.Uint32(b[:])
	if token == 0 {
		token = 1
	}
	h.tokens[key] = issuedToken{token: token, issuedAt: time.Now()}
	return token
}

func (h *nodeHandler) checkToken(from *net.UDPAddr, token uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tokens[from.String()]
	return ok && t.token == token && time.Since(t.issuedAt) < tokenLifetime
}

func (h *nodeHandler) closestTo(target dht.Id) []wire.Node {
	entries := h.table.ClosestNodes(target, h.k).
		Filter(func(e dht.KBucketEntry) bool { return e.EligibleForLocalLookup(h.k) }).
		Fill()
	nodes := make([]dht.NodeInfo, 0, len(entries))
	for _, e := range entries {
		nodes = append(nodes, e.Node)
	}
	return dht.NodesToWire(nodes)
}

func errorResponse(method wire.Method, code int32, msg string) *wire.Message {
	return &wire.Message{
		Type:   wire.TypeError,
		Method: method,
		Body:   wire.ErrorBody{Code: code, Message: msg},
	}
}

// HandleRequest implements transport.Handler.
func (h *nodeHandler) HandleRequest(from *net.UDPAddr, msg *wire.Message) *wire.Message {
	switch msg.Method {
	case wire.MethodPing:
		return &wire.Message{Type: wire.TypeResponse, Method: wire.MethodPing}

	case wire.MethodFindNode:
		body, ok := msg.Body.(wire.FindNodeRequest)
		if !ok {
			return errorResponse(msg.Method, wire.ErrCodeInvalidMessage, "bad find_node body")
		}
		resp := wire.FindNodeResponse{}
		if body.Want4 || body.Want6 {
			resp.Nodes4 = h.closestTo(dht.Id(body.Target))
		}
		if body.WantToken {
			resp.Token = h.issueToken(from)
		}
		return &wire.Message{Type: wire.TypeResponse, Method: msg.Method, Body: resp}

	case wire.MethodFindValue:
		body, ok := msg.Body.(wire.FindValueRequest)
		if !ok {
			return errorResponse(msg.Method, wire.ErrCodeInvalidMessage, "bad find_value body")
		}
		resp := wire.FindValueResponse{Token: h.issueToken(from)}
		h.mu.Lock()
		v, have := h.values[dht.Id(body.Target)]
		h.mu.Unlock()
		if have && (body.SequenceNumber < 0 || v.SequenceNumber >= body.SequenceNumber) {
			wv := dht.ValueToWire(v)
			resp.Value = &wv
		} else {
			resp.Nodes4 = h.closestTo(dht.Id(body.Target))
		}
		return &wire.Message{Type: wire.TypeResponse, Method: msg.Method, Body: resp}

	case wire.MethodFindPeer:
		body, ok := msg.Body.(wire.FindPeerRequest)
		if !ok {
			return errorResponse(msg.Method, wire.ErrCodeInvalidMessage, "bad find_peer body")
		}
		resp := wire.FindPeerResponse{Token: h.issueToken(from)}
		h.mu.Lock()
		records := h.peers[dht.Id(body.Target)]
		for _, p := range records {
			resp.Peers = append(resp.Peers, dht.PeerToWire(p, h.localId))
		}
		h.mu.Unlock()
		if len(resp.Peers) == 0 {
			resp.Nodes4 = h.closestTo(dht.Id(body.Target))
		}
		return &wire.Message{Type: wire.TypeResponse, Method: msg.Method, Body: resp}

	case wire.MethodStoreValue:
		body, ok := msg.Body.(wire.StoreValueRequest)
		if !ok {
			return errorResponse(msg.Method, wire.ErrCodeInvalidMessage, "bad store_value body")
		}
		if !h.checkToken(from, body.Token) {
			return errorResponse(msg.Method, wire.ErrCodeTokenMismatch, "token mismatch")
		}
		v := dht.ValueFromWire(body.Value)
		if len(v.Data) > maxStoredData || !v.IsValid() {
			return errorResponse(msg.Method, wire.ErrCodeInvalidMessage, "invalid value")
		}
		id := v.Id()
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, have := h.values[id]; have && v.IsMutable() {
			if body.ExpectedSequenceNumber >= 0 && cur.SequenceNumber < body.ExpectedSequenceNumber {
				return errorResponse(msg.Method, wire.ErrCodeSequenceConflict, "sequence number conflict")
			}
			if v.SequenceNumber < cur.SequenceNumber {
				return errorResponse(msg.Method, wire.ErrCodeSequenceConflict, "stale sequence number")
			}
		}
		h.values[id] = v
		return &wire.Message{Type: wire.TypeResponse, Method: msg.Method}

	case wire.MethodAnnouncePeer:
		body, ok := msg.Body.(wire.AnnouncePeerRequest)
		if !ok {
			return errorResponse(msg.Method, wire.ErrCodeInvalidMessage, "bad announce_peer body")
		}
		if !h.checkToken(from, body.Token) {
			return errorResponse(msg.Method, wire.ErrCodeTokenMismatch, "token mismatch")
		}
		p := dht.PeerFromWire(body.Peer)
		if !p.IsValid() {
			return errorResponse(msg.Method, wire.ErrCodeInvalidMessage, "invalid peer record")
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.peers[p.PeerId] == nil {
			h.peers[p.PeerId] = make(map[dht.Id]dht.PeerInfo)
		}
		h.peers[p.PeerId][p.NodeId] = p
		return &wire.Message{Type: wire.TypeResponse, Method: msg.Method}

	default:
		return errorResponse(msg.Method, wire.ErrCodeUnknownMethod, "unknown method")
	}
}

// Seen implements transport.Observer: traffic refreshes the table.
func (h *nodeHandler) Seen(node dht.NodeInfo) {
	h.table.Touch(node)
}
