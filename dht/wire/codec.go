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

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ugorji/go/codec"
)

// ErrInvalidMessage is returned by Parse when the envelope or its body
// violates the method's shape.
var ErrInvalidMessage = errors.New("wire: invalid message")

// headerLen is the fixed envelope size before the body: 1 composite
// byte + 4-byte txid + 4-byte version + 32-byte sender id.
const headerLen = 1 + 4 + 4 + 32

var cborHandle = &codec.CborHandle{}

func init() {
	cborHandle.Canonical = true
}

// Encode serializes m into its wire form. estimatedSize is an upper
// bound on len(out): callers use it to verify the encoded envelope
// will fit in a single UDP datagram before committing to send.
func Encode(m *Message) (out []byte, estimatedSize int, err error) {
	var bodyBytes []byte
	if hasBody(m.Type, m.Method) {
		if m.Body == nil {
			return nil, 0, fmt.Errorf("%w: %s/%s requires a body", ErrInvalidMessage, m.Type, m.Method)
		}
		var buf []byte
		enc := codec.NewEncoderBytes(&buf, cborHandle)
		if err := enc.Encode(m.Body); err != nil {
			return nil, 0, fmt.Errorf("%w: encoding body: %v", ErrInvalidMessage, err)
		}
		bodyBytes = buf
	}

	out = make([]byte, headerLen+len(bodyBytes))
	out[0] = byte(m.Type)<<4 | byte(m.Method)
	binary.BigEndian.PutUint32(out[1:5], m.Txid)
	binary.BigEndian.PutUint32(out[5:9], m.Version)
	copy(out[9:41], m.SenderId[:])
	copy(out[41:], bodyBytes)

	return out, len(out), nil
}

// EstimatedSize reports Encode's size estimate, for callers that only
// need to budget datagram size. It runs a full Encode and discards the
// encoded bytes.
func EstimatedSize(m *Message) (int, error) {
	_, n, err := Encode(m)
	return n, err
}

// Parse decodes a wire message. senderIdHint, when non-nil, is the
// already-known sender id (e.g. from the UDP source address's bonded
// node) and is used to reconstruct a Peer.PeerId that was elided on
// the wire because it equalled the sender id.
func Parse(data []byte, senderIdHint *[32]byte) (*Message, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: short envelope (%d bytes)", ErrInvalidMessage, len(data))
	}
	composite := data[0]
	m := &Message{
		Type:    MessageType(composite >> 4),
		Method:  Method(composite & 0x0f),
		Txid:    binary.BigEndian.Uint32(data[1:5]),
		Version: binary.BigEndian.Uint32(data[5:9]),
	}
	copy(m.SenderId[:], data[9:41])

	if m.Type > TypeError {
		return nil, fmt.Errorf("%w: unknown type %d", ErrInvalidMessage, composite>>4)
	}
	if m.Method > MethodAnnouncePeer {
		return nil, fmt.Errorf("%w: unknown method %d", ErrInvalidMessage, composite&0x0f)
	}

	body := data[headerLen:]
	if !hasBody(m.Type, m.Method) {
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: %s/%s must carry no body", ErrInvalidMessage, m.Type, m.Method)
		}
		return m, nil
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s/%s requires a body", ErrInvalidMessage, m.Type, m.Method)
	}

	target := m.bodyTarget()
	dec := codec.NewDecoderBytes(body, cborHandle)
	if err := dec.Decode(target); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrInvalidMessage, err)
	}
	m.Body = derefBody(target)

	reconstructElidedPeerId(m, senderIdHint)

	return m, nil
}

// bodyTarget returns a pointer to a zero value of the Go type that
// (Type, Method) decodes into.
func (m *Message) bodyTarget() any {
	if m.Type == TypeError {
		return &ErrorBody{}
	}
	switch m.Method {
	case MethodFindNode:
		if m.Type == TypeRequest {
			return &FindNodeRequest{}
		}
		return &FindNodeResponse{}
	case MethodFindPeer:
		if m.Type == TypeRequest {
			return &FindPeerRequest{}
		}
		return &FindPeerResponse{}
	case MethodFindValue:
		if m.Type == TypeRequest {
			return &FindValueRequest{}
		}
		return &FindValueResponse{}
	case MethodStoreValue:
		return &StoreValueRequest{} // response has no body
	case MethodAnnouncePeer:
		return &AnnouncePeerRequest{} // response has no body
	default:
		return &struct{}{}
	}
}

func derefBody(target any) any {
	switch v := target.(type) {
	case *FindNodeRequest:
		return *v
	case *FindNodeResponse:
		return *v
	case *FindPeerRequest:
		return *v
	case *FindPeerResponse:
		return *v
	case *FindValueRequest:
		return *v
	case *FindValueResponse:
		return *v
	case *StoreValueRequest:
		return *v
	case *AnnouncePeerRequest:
		return *v
	case *ErrorBody:
		return *v
	default:
		return target
	}
}

// reconstructElidedPeerId fills in Peer.PeerId from senderIdHint for
// any Peer body (FindPeerResponse's Peers, or an AnnouncePeerRequest's
// Peer) whose PeerId was elided because it equals the sender.
func reconstructElidedPeerId(m *Message, senderIdHint *[32]byte) {
	hint := m.SenderId
	if senderIdHint != nil {
		hint = *senderIdHint
	}
	switch b := m.Body.(type) {
	case FindPeerResponse:
		for i := range b.Peers {
			if b.Peers[i].Elided {
				b.Peers[i].PeerId = hint
			}
		}
		m.Body = b
	case AnnouncePeerRequest:
		if b.Peer.Elided {
			b.Peer.PeerId = hint
		}
		m.Body = b
	}
}
