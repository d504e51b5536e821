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
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"

	"github.com/erigontech/erigon-lib/crypto"
)

// Value is an immutable-or-signed blob published into the DHT. It has
// three shapes, distinguished by which fields are populated:
//
//   - immutable:         only Data is set; Id = hash(Data).
//   - signed mutable:    PublicKey, Nonce, SequenceNumber, Signature and
//     Data are set; Id = hash(PublicKey).
//   - encrypted mutable: signed mutable plus Recipient.
//
// SequenceNumber is monotone per id; a higher sequence replaces a lower
// one wherever the value is stored.
type Value struct {
	PublicKey      []byte // 64-byte public key, nil for immutable values
	Recipient      []byte // nil unless encrypted
	Nonce          []byte
	SequenceNumber int32
	Signature      []byte // 65-byte recoverable secp256k1 signature
	Data           []byte
}

// NewImmutableValue wraps data as a content-addressed value.
func NewImmutableValue(data []byte) Value {
	return Value{Data: data}
}

// NewSignedValue builds and signs a mutable value under key. recipient
// may be nil; a non-nil recipient makes the value an encrypted one
// (the caller is expected to have already encrypted Data for it).
func NewSignedValue(key *ecdsa.PrivateKey, recipient, nonce []byte, sequenceNumber int32, data []byte) (Value, error) {
	v := Value{
		PublicKey:      crypto.MarshalPubkey(&key.PublicKey),
		Recipient:      recipient,
		Nonce:          nonce,
		SequenceNumber: sequenceNumber,
		Data:           data,
	}
	sig, err := crypto.Sign(crypto.Keccak256(v.canonicalPayload()), key)
	if err != nil {
		return Value{}, err
	}
	v.Signature = sig
	return v, nil
}

// IsMutable reports whether this value carries a public key (and is
// therefore subject to sequence-number ordering and signature checks).
func (v Value) IsMutable() bool {
	return len(v.PublicKey) > 0
}

// IsEncrypted reports whether this value is addressed to a specific
// recipient.
func (v Value) IsEncrypted() bool {
	return len(v.Recipient) > 0
}

// Id is the key this value is stored/retrieved under.
func (v Value) Id() Id {
	if v.IsMutable() {
		return IdFromBytes(crypto.Keccak256(v.PublicKey))
	}
	return IdFromBytes(crypto.Keccak256(v.Data))
}

// canonicalPayload is the byte sequence a mutable value's signature
// covers.
func (v Value) canonicalPayload() []byte {
	var buf bytes.Buffer
	buf.Write(v.Recipient)
	buf.Write(v.Nonce)
	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], uint32(v.SequenceNumber))
	buf.Write(seqBuf[:])
	buf.Write(v.Data)
	return buf.Bytes()
}

// IsValid reports whether a mutable value's signature verifies: the key
// recovered from the signature must be the value's own PublicKey.
// Immutable values (no public key) are valid whenever they carry data —
// their integrity is the content-addressed Id itself.
func (v Value) IsValid() bool {
	if !v.IsMutable() {
		return len(v.Data) > 0
	}
	if v.SequenceNumber < 0 || len(v.Signature) != crypto.SignatureLength {
		return false
	}
	recovered, err := crypto.Ecrecover(crypto.Keccak256(v.canonicalPayload()), v.Signature)
	if err != nil {
		return false
	}
	return bytes.Equal(recovered[1:], v.PublicKey)
}
