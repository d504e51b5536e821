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

// PeerInfo is a signed record announcing that a peer (identified by its
// own public key, whose hash is PeerId) is reachable through NodeId at
// the given port, optionally via an alternative URL instead of the DHT
// transport.
type PeerInfo struct {
	PeerId         Id
	NodeId         Id
	OriginNodeId   Id // equals PeerId for a self-announced record
	Port           int
	AlternativeURL string
	Signature      []byte // 65-byte recoverable secp256k1 signature

	authenticated bool
}

// NewPeerInfo builds and signs a peer record under key. The record's
// PeerId is derived from the key the same way a node id is derived from
// its node key.
func NewPeerInfo(key *ecdsa.PrivateKey, nodeId Id, port int, alternativeURL string) (PeerInfo, error) {
	peerId := IdFromBytes(crypto.Keccak256(crypto.MarshalPubkey(&key.PublicKey)))
	p := PeerInfo{
		PeerId:         peerId,
		NodeId:         nodeId,
		OriginNodeId:   peerId,
		Port:           port,
		AlternativeURL: alternativeURL,
	}
	sig, err := crypto.Sign(crypto.Keccak256(p.canonicalPayload()), key)
	if err != nil {
		return PeerInfo{}, err
	}
	p.Signature = sig
	return p, nil
}

// Delegated re-announces p through another node. The signature still
// covers only (peerId, port, alternativeURL), so it stays valid across
// delegation.
func (p PeerInfo) Delegated(nodeId Id) PeerInfo {
	d := p
	d.NodeId = nodeId
	d.OriginNodeId = nodeId
	return d
}

// IsDelegated reports whether this record was announced by a node
// other than the peer itself.
func (p PeerInfo) IsDelegated() bool {
	return p.OriginNodeId != p.PeerId
}

// canonicalPayload is the byte sequence the signature covers:
// peerId || port (big-endian uint16) || alternativeURL.
func (p PeerInfo) canonicalPayload() []byte {
	var buf bytes.Buffer
	buf.Write(p.PeerId[:])
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(p.Port))
	buf.Write(portBuf[:])
	buf.WriteString(p.AlternativeURL)
	return buf.Bytes()
}

// IsValid verifies the signature over the canonical serialization of
// (peerId, port, alternativeURL). The signature is recoverable, so the
// record is self-certifying: the public key recovered from it must hash
// to PeerId. As a side effect of a successful verification,
// IsAuthenticated becomes true — verification is the only thing that
// flips it.
func (p *PeerInfo) IsValid() bool {
	if len(p.Signature) != crypto.SignatureLength {
		return false
	}
	recovered, err := crypto.Ecrecover(crypto.Keccak256(p.canonicalPayload()), p.Signature)
	if err != nil {
		return false
	}
	// Ecrecover returns the uncompressed key with its 0x04 prefix; node
	// and peer ids hash the 64-byte form.
	ok := IdFromBytes(crypto.Keccak256(recovered[1:])) == p.PeerId
	p.authenticated = ok
	return ok
}

// IsAuthenticated reports whether IsValid has previously succeeded for
// this record. It does not itself perform verification.
func (p PeerInfo) IsAuthenticated() bool {
	return p.authenticated
}

// Fingerprint is a stable hash over the full tuple, used to dedup
// identical peer records. Records that differ in any field, including
// the announcing node, have different fingerprints.
func (p PeerInfo) Fingerprint() Id {
	var buf bytes.Buffer
	buf.Write(p.PeerId[:])
	buf.Write(p.NodeId[:])
	buf.Write(p.OriginNodeId[:])
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(p.Port))
	buf.Write(portBuf[:])
	buf.WriteString(p.AlternativeURL)
	buf.Write(p.Signature)
	return IdFromBytes(crypto.Keccak256(buf.Bytes()))
}
