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

import "errors"

// Error kinds of the RPC layer. Each is local to the call or
// candidate it touches; none of them ever fails a Task outright — a
// Task only ever terminates via complete() or cancel().
var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrIdMismatch     = errors.New("sender id does not match target")
	ErrTimeout        = errors.New("rpc timeout")
	ErrInvalidPayload = errors.New("invalid signature or sequence number")
	ErrTokenMismatch  = errors.New("token mismatch")
	ErrClosed         = errors.New("rpc server closed")
)
