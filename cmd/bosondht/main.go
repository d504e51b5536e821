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

// bosondht is the demonstration node: it wires the DHT core to a UDP
// transport, an in-memory routing table and a volatile store, joins
// the network through the configured bootstrap nodes, and keeps its
// buckets refreshed.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erigontech/erigon-lib/crypto"
	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/bosonnetwork/dht-go/bosonconfig"
	"github.com/bosonnetwork/dht-go/dht"
	"github.com/bosonnetwork/dht-go/metrics"
	"github.com/bosonnetwork/dht-go/routingtable"
	"github.com/bosonnetwork/dht-go/transport"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "Path to the TOML node configuration",
	}
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "UDP listen address, overrides the config file",
	}
	verbosityFlag = cli.StringFlag{
		Name:  "verbosity",
		Usage: "Log level (trace|debug|info|warn|error)",
		Value: "info",
	}
)

func main() {
	app := &cli.App{
		Name:  "bosondht",
		Usage: "Boson DHT node",
		Flags: []cli.Flag{&configFlag, &listenFlag, &verbosityFlag},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Join the network and serve lookups",
				Action: runNode,
			},
			{
				Name:   "status",
				Usage:  "Ping the configured bootstrap nodes and print a reachability table",
				Action: runStatus,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setupLogger(cliCtx *cli.Context) (log.Logger, error) {
	lvl, err := log.LvlFromString(cliCtx.String(verbosityFlag.Name))
	if err != nil {
		return nil, err
	}
	logger := log.New()
	logger.SetHandler(log.LvlFilterHandler(lvl, log.StderrHandler))
	return logger, nil
}

func loadConfig(cliCtx *cli.Context) (bosonconfig.Config, error) {
	cfg := bosonconfig.Default()
	if path := cliCtx.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = bosonconfig.Load(path); err != nil {
			return cfg, err
		}
	}
	if listen := cliCtx.String(listenFlag.Name); listen != "" {
		cfg.Listen = listen
	}
	return cfg, cfg.Validate()
}

func runNode(cliCtx *cli.Context) error {
	logger, err := setupLogger(cliCtx)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	localId := dht.IdFromBytes(crypto.Keccak256(crypto.MarshalPubkey(&key.PublicKey)))
	logger.Info("node identity", "id", localId)

	conn, err := net.ListenPacket("udp", cfg.Listen)
	if err != nil {
		return err
	}
	logger.Info("listening", "addr", conn.LocalAddr())

	table, err := routingtable.New(localId, cfg.K)
	if err != nil {
		return err
	}
	handler := newNodeHandler(localId, cfg.K, table, logger)

	srv := transport.NewServer(conn, localId, handler, logger, transport.Config{
		SoftTimeout: cfg.Timeouts.Soft.Duration(),
		HardTimeout: cfg.Timeouts.Hard.Duration(),
	})
	srv.SetObserver(handler)
	defer srv.Close()

	mgr := dht.NewTaskManager(dht.Config{
		LocalId:                          localId,
		K:                                cfg.K,
		DeveloperMode:                    cfg.DeveloperMode,
		MaxConcurrentRequests:            cfg.Concurrency.MaxPerTask,
		MaxConcurrentRequestsLowPriority: cfg.Concurrency.MaxPerTaskLowPriority,
		MaxActiveTasks:                   cfg.Concurrency.MaxActiveTasks,
	}, srv, table, logger)
	defer mgr.Close()

	if cfg.MetricsListen != "" {
		reg := prometheus.NewRegistry()
		collectors := metrics.New(reg)
		srv.SetStats(collectors)
		mgr.SetStats(collectors)
		go func() {
			if err := metrics.Serve(cfg.MetricsListen, reg); err != nil {
				logger.Warn("metrics server stopped", "err", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bootstrap(ctx, cfg, table, mgr, localId, logger) })
	g.Go(func() error { return refreshLoop(ctx, table, mgr, localId) })
	g.Go(func() error {
		<-ctx.Done()
		mgr.CancelAll()
		srv.Close()
		return ctx.Err()
	})

	err = g.Wait()
	if err == context.Canceled {
		logger.Info("shutting down")
		return nil
	}
	return err
}

// bootstrap seeds the table with the configured nodes and runs a
// self-lookup in bootstrap mode. The initial join retries with
// exponential backoff; this is an application-level reconnect policy,
// distinct from the task layer's fixed per-candidate retry budget.
func bootstrap(ctx context.Context, cfg bosonconfig.Config, table *routingtable.Table, mgr *dht.TaskManager, localId dht.Id, logger log.Logger) error {
	if len(cfg.BootstrapNodes) == 0 {
		logger.Warn("no bootstrap nodes configured, waiting for inbound traffic")
		return nil
	}
	for _, s := range cfg.BootstrapNodes {
		node, err := bosonconfig.ParseNode(s)
		if err != nil {
			return err
		}
		table.Put(dht.KBucketEntry{Node: node, LastSeen: time.Now(), Reachable: true})
	}

	join := func() error {
		done := make(chan dht.TaskState, 1)
		task := dht.NewNodeLookupTask(mgr, localId)
		task.SetBootstrap(true)
		task.AddListener(dht.TaskListener{Ended: func(t dht.Task) { done <- t.State() }})
		if err := mgr.Add(task, true); err != nil {
			return backoff.Permanent(err)
		}
		select {
		case <-done:
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
		if table.Len() == 0 {
			return fmt.Errorf("no nodes joined the table yet")
		}
		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(join, policy); err != nil {
		return err
	}
	logger.Info("bootstrap complete", "nodes", table.Len())
	return nil
}

// refreshLoop periodically pings the bucket around our own id and
// drops entries that no longer answer.
func refreshLoop(ctx context.Context, table *routingtable.Table, mgr *dht.TaskManager, localId dht.Id) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			task := dht.NewPingRefreshTask(mgr, table.Bucket(localId), nil, dht.PingRefreshOptions{
				RemoveOnTimeout: true,
			})
			if err := mgr.Add(task, false); err != nil {
				return err
			}
		}
	}
}
