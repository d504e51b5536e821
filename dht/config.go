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

import "time"

// Protocol version tag rendered as "bs/<major>": high 16 bits are the
// two-byte name tag, low 16 bits the major number.
const ProtocolVersion uint32 = uint32('b')<<24 | uint32('s')<<16 | 1

// Limits from the task substrate. They are defaults, not hard-wired:
// Config can lower or raise them per node.
const (
	DefaultK = 8

	// MaxConcurrentTaskRequests caps in-flight calls per task.
	MaxConcurrentTaskRequests            = 16
	MaxConcurrentTaskRequestsLowPriority = 4

	// MaxActiveTasks caps the TaskManager's running set.
	MaxActiveTasks = 32
)

// Config carries the typed parameters the surrounding application
// layer feeds the task substrate. There is no process-wide state: the
// developer-mode flag and all limits are threaded through construction.
type Config struct {
	// LocalId is this node's own id; it becomes the SenderId of every
	// outgoing request and excludes the node from its own lookups.
	LocalId Id

	// K is the Kademlia replication factor / bucket size.
	K int

	// DeveloperMode admits any unicast address (so localhost test
	// clusters work) and widens the candidate dedup key from IP to
	// IP:port.
	DeveloperMode bool

	MaxConcurrentRequests            int
	MaxConcurrentRequestsLowPriority int
	MaxActiveTasks                   int

	// PingStaleAfter is how long a bucket entry may go without traffic
	// before PingRefreshTask considers it worth probing.
	PingStaleAfter time.Duration
}

// withDefaults fills in zero fields.
func (c Config) withDefaults() Config {
	if c.K == 0 {
		c.K = DefaultK
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = MaxConcurrentTaskRequests
	}
	if c.MaxConcurrentRequestsLowPriority == 0 {
		c.MaxConcurrentRequestsLowPriority = MaxConcurrentTaskRequestsLowPriority
	}
	if c.MaxActiveTasks == 0 {
		c.MaxActiveTasks = MaxActiveTasks
	}
	if c.PingStaleAfter == 0 {
		c.PingStaleAfter = 10 * time.Minute
	}
	return c
}
