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

// Package bosonconfig loads the node configuration the application
// layer feeds into the DHT core as typed parameters. The core itself
// never reads files or flags.
package bosonconfig

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/bosonnetwork/dht-go/dht"
)

// Config is the TOML-mapped node configuration.
type Config struct {
	// Listen is the UDP address to bind, host:port.
	Listen string `toml:"listen"`
	// K is the replication factor / bucket size.
	K int `toml:"k"`
	// DeveloperMode admits non-routable addresses and widens dedup
	// keys to IP:port, for localhost clusters.
	DeveloperMode bool `toml:"developerMode"`

	Concurrency Concurrency `toml:"concurrency"`
	Timeouts    Timeouts    `toml:"timeouts"`

	// BootstrapNodes are "hexid@host:port" entries dialed on startup.
	BootstrapNodes []string `toml:"bootstrapNodes"`

	// MetricsListen, when non-empty, exposes Prometheus metrics on
	// this HTTP address.
	MetricsListen string `toml:"metricsListen"`
}

type Concurrency struct {
	MaxPerTask            int `toml:"maxPerTask"`
	MaxPerTaskLowPriority int `toml:"maxPerTaskLowPriority"`
	MaxActiveTasks        int `toml:"maxActiveTasks"`
}

type Timeouts struct {
	Soft duration `toml:"soft"`
	Hard duration `toml:"hard"`
}

// duration is a time.Duration that unmarshals from a TOML string like
// "750ms".
type duration time.Duration

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) Duration() time.Duration { return time.Duration(d) }

// Default returns the configuration a node runs with when no file is
// given.
func Default() Config {
	return Config{
		Listen: "0.0.0.0:39001",
		K:      dht.DefaultK,
		Concurrency: Concurrency{
			MaxPerTask:            dht.MaxConcurrentTaskRequests,
			MaxPerTaskLowPriority: dht.MaxConcurrentTaskRequestsLowPriority,
			MaxActiveTasks:        dht.MaxActiveTasks,
		},
		Timeouts: Timeouts{
			Soft: duration(750 * time.Millisecond),
			Hard: duration(3 * time.Second),
		},
	}
}

// Load reads path and overlays it on Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the core would misbehave on.
func (c Config) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("k must be positive, got %d", c.K)
	}
	if c.Concurrency.MaxPerTask <= 0 || c.Concurrency.MaxActiveTasks <= 0 {
		return fmt.Errorf("concurrency limits must be positive")
	}
	if c.Timeouts.Hard.Duration() <= 0 {
		return fmt.Errorf("hard timeout must be positive")
	}
	if c.Timeouts.Soft.Duration() >= c.Timeouts.Hard.Duration() {
		return fmt.Errorf("soft timeout %s must be below hard timeout %s",
			c.Timeouts.Soft.Duration(), c.Timeouts.Hard.Duration())
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("bad listen address %q: %w", c.Listen, err)
	}
	for _, b := range c.BootstrapNodes {
		if _, err := ParseNode(b); err != nil {
			return err
		}
	}
	return nil
}

// ParseNode parses a "hexid@host:port" bootstrap entry.
func ParseNode(s string) (dht.NodeInfo, error) {
	idStr, addr, ok := strings.Cut(s, "@")
	if !ok {
		return dht.NodeInfo{}, fmt.Errorf("bootstrap node %q: missing @", s)
	}
	id, err := dht.IdFromHex(idStr)
	if err != nil {
		return dht.NodeInfo{}, fmt.Errorf("bootstrap node %q: bad id: %w", s, err)
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return dht.NodeInfo{}, fmt.Errorf("bootstrap node %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return dht.NodeInfo{}, fmt.Errorf("bootstrap node %q: bad port", s)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return dht.NodeInfo{}, fmt.Errorf("bootstrap node %q: unresolvable host", s)
		}
		ip = ips[0]
	}
	return dht.NodeInfo{ID: id, IP: ip, Port: port}, nil
}
