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

// Package metrics exposes Prometheus collectors for the RPC and task
// layers. The core never imports this; the application wires the
// collectors in through the transport's and manager's observer hooks.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors bundles everything the demo node records.
type Collectors struct {
	RPCSentTotal      prometheus.Counter
	RPCRespondedTotal prometheus.Counter
	RPCTimeoutTotal   prometheus.Counter
	RPCErrorTotal     prometheus.Counter

	TasksQueuedTotal   prometheus.Counter
	TasksStartedTotal  prometheus.Counter
	TasksEndedTotal    *prometheus.CounterVec
	TasksRunning       prometheus.Gauge
}

// New registers the collectors on reg and returns the bundle.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		RPCSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boson", Subsystem: "rpc", Name: "sent_total",
			Help: "Requests dispatched to remote nodes.",
		}),
		RPCRespondedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boson", Subsystem: "rpc", Name: "responded_total",
			Help: "Requests that received a response.",
		}),
		RPCTimeoutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boson", Subsystem: "rpc", Name: "timeout_total",
			Help: "Requests that hit the hard deadline.",
		}),
		RPCErrorTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boson", Subsystem: "rpc", Name: "error_total",
			Help: "Requests that failed to encode or send.",
		}),
		TasksQueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boson", Subsystem: "tasks", Name: "queued_total",
			Help: "Tasks accepted into the scheduler queue.",
		}),
		TasksStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boson", Subsystem: "tasks", Name: "started_total",
			Help: "Tasks moved into the running set.",
		}),
		TasksEndedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boson", Subsystem: "tasks", Name: "ended_total",
			Help: "Tasks that reached a terminal state.",
		}, []string{"outcome"}),
		TasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "boson", Subsystem: "tasks", Name: "running",
			Help: "Tasks currently in the running set.",
		}),
	}
	reg.MustRegister(
		c.RPCSentTotal, c.RPCRespondedTotal, c.RPCTimeoutTotal, c.RPCErrorTotal,
		c.TasksQueuedTotal, c.TasksStartedTotal, c.TasksEndedTotal, c.TasksRunning,
	)
	return c
}

// RPCSent and friends implement transport.Stats.
func (c *Collectors) RPCSent()      { c.RPCSentTotal.Inc() }
func (c *Collectors) RPCResponded() { c.RPCRespondedTotal.Inc() }
func (c *Collectors) RPCTimeout()   { c.RPCTimeoutTotal.Inc() }
func (c *Collectors) RPCError()     { c.RPCErrorTotal.Inc() }

// TaskQueued and friends implement dht.TaskStats.
func (c *Collectors) TaskQueued()  { c.TasksQueuedTotal.Inc() }
func (c *Collectors) TaskStarted() { c.TasksStartedTotal.Inc(); c.TasksRunning.Inc() }
func (c *Collectors) TaskEnded(canceled bool) {
	c.TasksRunning.Dec()
	outcome := "completed"
	if canceled {
		outcome = "canceled"
	}
	c.TasksEndedTotal.WithLabelValues(outcome).Inc()
}

// Serve exposes reg's metrics over HTTP at /metrics. It blocks.
func Serve(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
