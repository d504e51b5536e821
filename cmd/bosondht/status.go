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

package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/erigontech/erigon-lib/crypto"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/bosonnetwork/dht-go/bosonconfig"
	"github.com/bosonnetwork/dht-go/dht"
	"github.com/bosonnetwork/dht-go/dht/wire"
	"github.com/bosonnetwork/dht-go/transport"
)

// runStatus pings every configured bootstrap node once and prints a
// reachability table.
func runStatus(cliCtx *cli.Context) error {
	logger, err := setupLogger(cliCtx)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}
	if len(cfg.BootstrapNodes) == 0 {
		return fmt.Errorf("no bootstrap nodes configured")
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	localId := dht.IdFromBytes(crypto.Keccak256(crypto.MarshalPubkey(&key.PublicKey)))

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return err
	}
	srv := transport.NewServer(conn, localId, nil, logger, transport.Config{
		HardTimeout: cfg.Timeouts.Hard.Duration(),
	})
	defer srv.Close()

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Node", "Address", "State", "RTT", "Version"})

	for _, s := range cfg.BootstrapNodes {
		node, err := bosonconfig.ParseNode(s)
		if err != nil {
			return err
		}
		state, rtt, version := pingOnce(srv, localId, node)
		tw.AppendRow(table.Row{node.ID.String()[:16], node.Addr(), state, rtt, version})
	}
	tw.Render()
	return nil
}

func pingOnce(srv *transport.Server, localId dht.Id, node dht.NodeInfo) (dht.CallState, string, string) {
	req := &wire.Message{
		Type:     wire.TypeRequest,
		Method:   wire.MethodPing,
		Txid:     uint32(time.Now().UnixNano()),
		Version:  dht.ProtocolVersion,
		SenderId: [dht.IDLength]byte(localId),
	}
	call := dht.NewRpcCall(node, req)

	done := make(chan dht.CallState, 1)
	start := time.Now()
	call.AddListener(func(_ *dht.RpcCall, _, next dht.CallState) {
		switch next {
		case dht.CallResponded, dht.CallError, dht.CallTimeout:
			done <- next
		}
	})
	if err := srv.SendCall(call); err != nil {
		return dht.CallError, "-", "-"
	}

	state := <-done
	if state != dht.CallResponded {
		return state, "-", "-"
	}
	rtt := time.Since(start).Round(time.Millisecond).String()
	version := "unknown/0"
	if resp := call.GetResponse(); resp != nil {
		version = resp.VersionString()
	}
	return state, rtt, version
}
