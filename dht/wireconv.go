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
	"net"

	"github.com/bosonnetwork/dht-go/dht/wire"
)

// Conversions between the wire package's plain structs (which know
// nothing about package dht) and the domain types.

func nodeToWire(n NodeInfo) wire.Node {
	return wire.Node{Id: [IDLength]byte(n.ID), IP: n.IP, Port: uint16(n.Port)}
}

func nodeFromWire(n wire.Node) NodeInfo {
	return NodeInfo{ID: Id(n.Id), IP: net.IP(n.IP), Port: int(n.Port)}
}

// NodesToWire converts a node list for a response body.
func NodesToWire(nodes []NodeInfo) []wire.Node {
	out := make([]wire.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeToWire(n))
	}
	return out
}

func peerFromWire(p wire.Peer) PeerInfo {
	return PeerInfo{
		PeerId:         Id(p.PeerId),
		NodeId:         Id(p.NodeId),
		OriginNodeId:   Id(p.OriginNodeId),
		Port:           int(p.Port),
		AlternativeURL: p.AlternativeURL,
		Signature:      p.Signature,
	}
}

// peerToWire serializes p, eliding the peer id on the wire when it
// equals senderId; the parser reconstructs it from context.
func peerToWire(p PeerInfo, senderId Id) wire.Peer {
	w := wire.Peer{
		PeerId:         [IDLength]byte(p.PeerId),
		NodeId:         [IDLength]byte(p.NodeId),
		OriginNodeId:   [IDLength]byte(p.OriginNodeId),
		Port:           uint16(p.Port),
		AlternativeURL: p.AlternativeURL,
		Signature:      p.Signature,
	}
	if p.PeerId == senderId {
		w.PeerId = [IDLength]byte{}
		w.Elided = true
	}
	return w
}

// PeerToWire is peerToWire for collaborators outside the package (the
// transport's request handler answering FIND_PEER).
func PeerToWire(p PeerInfo, senderId Id) wire.Peer { return peerToWire(p, senderId) }

func valueFromWire(v wire.Value) Value {
	return Value{
		PublicKey:      v.PublicKey,
		Recipient:      v.Recipient,
		Nonce:          v.Nonce,
		SequenceNumber: v.SequenceNumber,
		Signature:      v.Signature,
		Data:           v.Data,
	}
}

func valueToWire(v Value) wire.Value {
	return wire.Value{
		PublicKey:      v.PublicKey,
		Recipient:      v.Recipient,
		Nonce:          v.Nonce,
		SequenceNumber: v.SequenceNumber,
		Signature:      v.Signature,
		Data:           v.Data,
	}
}

// ValueToWire is valueToWire for collaborators outside the package.
func ValueToWire(v Value) wire.Value { return valueToWire(v) }

// ValueFromWire is valueFromWire for collaborators outside the package.
func ValueFromWire(v wire.Value) Value { return valueFromWire(v) }

// PeerFromWire is peerFromWire for collaborators outside the package.
func PeerFromWire(p wire.Peer) PeerInfo { return peerFromWire(p) }
