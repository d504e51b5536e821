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

// Package wire implements the binary envelope and per-method body
// shapes for the DHT's request/response/error messages. It has no
// dependency on package dht, so dht can depend on it without a cycle;
// ids are plain [32]byte here and converted at the dht package
// boundary.
package wire

import "fmt"

// MessageType is the envelope's outer kind.
type MessageType byte

const (
	TypeRequest MessageType = iota
	TypeResponse
	TypeError
)

func (t MessageType) String() string {
	switch t {
	case TypeRequest:
		return "REQUEST"
	case TypeResponse:
		return "RESPONSE"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("TYPE(%d)", t)
	}
}

// Method identifies which RPC the envelope carries.
type Method byte

const (
	MethodPing Method = iota
	MethodFindNode
	MethodFindPeer
	MethodFindValue
	MethodStoreValue
	MethodAnnouncePeer
)

func (m Method) String() string {
	switch m {
	case MethodPing:
		return "PING"
	case MethodFindNode:
		return "FIND_NODE"
	case MethodFindPeer:
		return "FIND_PEER"
	case MethodFindValue:
		return "FIND_VALUE"
	case MethodStoreValue:
		return "STORE_VALUE"
	case MethodAnnouncePeer:
		return "ANNOUNCE_PEER"
	default:
		return fmt.Sprintf("METHOD(%d)", m)
	}
}

// Message is the wire envelope: a fixed header (type, method, txid,
// version, sender id) plus a body whose Go type depends on (Type,
// Method) — see the request/response structs and ErrorBody in body.go. Body is nil for PING
// requests/responses and for STORE_VALUE/ANNOUNCE_PEER responses,
// which are pure acknowledgements.
type Message struct {
	Type     MessageType
	Method   Method
	Txid     uint32
	Version  uint32
	SenderId [32]byte
	Body     any
}

// VersionString renders Version as "<name>/<major>": the high 16 bits
// are a 2-byte ASCII name tag, the low 16 bits the major number.
func (m Message) VersionString() string {
	if m.Version == 0 {
		return "unknown/0"
	}
	tag := uint16(m.Version >> 16)
	major := uint16(m.Version)
	name := string([]byte{byte(tag >> 8), byte(tag)})
	return fmt.Sprintf("%s/%d", name, major)
}

// hasBody reports whether (type, method) carries a body on the wire.
func hasBody(t MessageType, m Method) bool {
	if t == TypeError {
		return true
	}
	switch m {
	case MethodPing:
		return false
	case MethodStoreValue, MethodAnnouncePeer:
		return t == TypeRequest // responses are bare acks
	default:
		return true
	}
}
