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

package bosonconfig

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
listen = "127.0.0.1:40001"
k = 16
developerMode = true
bootstrapNodes = [
  "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff@192.0.2.7:39001",
]

[concurrency]
maxPerTask = 8
maxPerTaskLowPriority = 2
maxActiveTasks = 16

[timeouts]
soft = "500ms"
hard = "2s"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boson.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "127.0.0.1:40001" || cfg.K != 16 || !cfg.DeveloperMode {
		t.Fatalf("basic fields not loaded: %+v", cfg)
	}
	if cfg.Concurrency.MaxPerTask != 8 || cfg.Concurrency.MaxActiveTasks != 16 {
		t.Fatalf("concurrency section not loaded: %+v", cfg.Concurrency)
	}
	if cfg.Timeouts.Soft.Duration() != 500*time.Millisecond || cfg.Timeouts.Hard.Duration() != 2*time.Second {
		t.Fatalf("timeouts not loaded: %+v", cfg.Timeouts)
	}
	if len(cfg.BootstrapNodes) != 1 {
		t.Fatalf("bootstrap nodes not loaded")
	}
}

func TestPartialConfigKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `listen = "0.0.0.0:41000"`))
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.K != def.K || cfg.Timeouts.Hard != def.Timeouts.Hard {
		t.Fatalf("unset fields lost their defaults: %+v", cfg)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero k", func(c *Config) { c.K = 0 }, "k must be positive"},
		{"soft equals hard", func(c *Config) { c.Timeouts.Soft = c.Timeouts.Hard }, "soft timeout"},
		{"bad listen", func(c *Config) { c.Listen = "nonsense" }, "listen address"},
		{"bad bootstrap", func(c *Config) { c.BootstrapNodes = []string{"no-at-sign"} }, "missing @"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate, got %v", err)
	}
}

func TestParseNode(t *testing.T) {
	id := strings.Repeat("ab", 32)
	node, err := ParseNode(id + "@198.51.100.4:39001")
	if err != nil {
		t.Fatal(err)
	}
	if node.ID.String() != id || !node.IP.Equal(net.IPv4(198, 51, 100, 4)) || node.Port != 39001 {
		t.Fatalf("parsed node wrong: %+v", node)
	}

	for _, bad := range []string{
		"missing-addr",
		"zzzz@127.0.0.1:1",
		id + "@127.0.0.1:0",
		id + "@127.0.0.1:99999",
		id + "@127.0.0.1",
	} {
		if _, err := ParseNode(bad); err == nil {
			t.Fatalf("ParseNode(%q) must fail", bad)
		}
	}
}
