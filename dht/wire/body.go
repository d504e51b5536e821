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

package wire

// Node is a NodeInfo as it appears in FIND_NODE/FIND_PEER/FIND_VALUE
// responses.
type Node struct {
	Id   [32]byte `codec:"id"`
	IP   []byte   `codec:"ip"`
	Port uint16   `codec:"p"`
}

// Peer is a PeerInfo as it appears on the wire. PeerId is omitted
// (left zero, Elided set) when it equals the envelope's SenderId, and
// is reconstructed from the parse context by the codec.
type Peer struct {
	PeerId         [32]byte `codec:"pid"`
	Elided         bool     `codec:"e"`
	NodeId         [32]byte `codec:"nid"`
	OriginNodeId   [32]byte `codec:"oid"`
	Port           uint16   `codec:"p"`
	AlternativeURL string   `codec:"u"`
	Signature      []byte   `codec:"sig"`
}

// Value is a Value as it appears on the wire.
type Value struct {
	PublicKey      []byte `codec:"pk"`
	Recipient      []byte `codec:"rcpt"`
	Nonce          []byte `codec:"n"`
	SequenceNumber int32  `codec:"seq"`
	Signature      []byte `codec:"sig"`
	Data           []byte `codec:"d"`
}

// FindNodeRequest is FIND_NODE's request body.
type FindNodeRequest struct {
	Target    [32]byte `codec:"t"`
	Want4     bool     `codec:"w4"`
	Want6     bool     `codec:"w6"`
	WantToken bool     `codec:"wt"`
}

// FindNodeResponse is FIND_NODE's response body.
type FindNodeResponse struct {
	Nodes4 []Node `codec:"n4"`
	Nodes6 []Node `codec:"n6"`
	Token  uint32 `codec:"tok"`
}

// FindPeerRequest is FIND_PEER's request body.
type FindPeerRequest struct {
	Target [32]byte `codec:"t"`
	Want4  bool     `codec:"w4"`
	Want6  bool     `codec:"w6"`
}

// FindPeerResponse is FIND_PEER's response body: exactly one of Peers
// or (Nodes4, Nodes6) is non-empty.
type FindPeerResponse struct {
	Nodes4 []Node `codec:"n4"`
	Nodes6 []Node `codec:"n6"`
	Peers  []Peer `codec:"peers"`
	Token  uint32 `codec:"tok"`
}

// FindValueRequest is FIND_VALUE's request body. SequenceNumber == -1
// means "any version is acceptable".
type FindValueRequest struct {
	Target         [32]byte `codec:"t"`
	Want4          bool     `codec:"w4"`
	Want6          bool     `codec:"w6"`
	SequenceNumber int32    `codec:"seq"`
}

// FindValueResponse is FIND_VALUE's response body.
type FindValueResponse struct {
	Nodes4 []Node `codec:"n4"`
	Nodes6 []Node `codec:"n6"`
	Value  *Value `codec:"v"`
	Token  uint32 `codec:"tok"`
}

// StoreValueRequest is STORE_VALUE's request body.
// ExpectedSequenceNumber implements compare-and-swap: the receiver
// proceeds only if its current sequence number is >= this value.
type StoreValueRequest struct {
	Value                  Value  `codec:"v"`
	Token                  uint32 `codec:"tok"`
	ExpectedSequenceNumber int32  `codec:"exp"`
}

// AnnouncePeerRequest is ANNOUNCE_PEER's request body.
type AnnouncePeerRequest struct {
	Peer  Peer   `codec:"peer"`
	Token uint32 `codec:"tok"`
}

// ErrorBody is the body of an ERROR-typed envelope.
type ErrorBody struct {
	Code    int32  `codec:"c"`
	Message string `codec:"m"`
}

// Reserved error codes; domain-defined codes may use any other int32
// value.
const (
	ErrCodeUnknownMethod    int32 = 1
	ErrCodeInvalidMessage   int32 = 2
	ErrCodeTokenMismatch    int32 = 3
	ErrCodeSequenceConflict int32 = 4
)
