// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This file provides opt-in Prometheus telemetry mirroring the internal
// as_stat counters, so operators get a dashboard without the wire-format
// shared-memory ring being touched. Safe to call from the packet path:
// when disabled every Observe* function is a no-op.
package telemetry

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsEnabled atomic.Bool

	packetsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lb_as_packets_total",
		Help: "Total packets observed for a backend, by classification.",
	}, []string{"as", "vip", "class"})

	flowsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lb_as_flows_active",
		Help: "Decayed estimate of currently open flows for a backend.",
	}, []string{"as", "vip"})

	flowsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lb_as_flows_completed_total",
		Help: "Total flows closed by RST-ACK for a backend; flows reclaimed after an idle timeout are not counted.",
	}, []string{"as", "vip"})

	ringPublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lb_ring_publish_total",
		Help: "Total ring frames published on the outbound or inbound ring, by shared-memory segment name.",
	}, []string{"vip"})

	ringTornReadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lb_ring_torn_reads_total",
		Help: "Total inbound/outbound ring reads discarded due to a torn (mid-write) frame.",
	}, []string{"vip", "direction"})
)

func init() {
	prometheus.MustRegister(packetsTotal, flowsActive, flowsCompletedTotal, ringPublishTotal, ringTornReadsTotal)
}

// Enable turns the Prometheus exporter on or off. Disabled by default so
// unit tests and simulators that don't care about metrics pay nothing.
func Enable(on bool) { metricsEnabled.Store(on) }

// Enabled reports whether metrics collection is active.
func Enabled() bool { return metricsEnabled.Load() }

// ObservePacket records one packet's classification outcome for a
// backend/VIP pair. class is a tcpstate.PacketType label such as
// "normal", "first_ack", "dup_ack", "rtr_syn", "first_fin",
// "beyond_scope".
func ObservePacket(asID, vip, class string) {
	if !metricsEnabled.Load() {
		return
	}
	packetsTotal.WithLabelValues(asID, vip, class).Inc()
}

// ObserveFlowsActive publishes the current decayed n_flow_on estimate.
func ObserveFlowsActive(asID, vip string, n float64) {
	if !metricsEnabled.Load() {
		return
	}
	flowsActive.WithLabelValues(asID, vip).Set(n)
}

// ObserveFlowCompleted increments the completed-flow counter.
func ObserveFlowCompleted(asID, vip string) {
	if !metricsEnabled.Load() {
		return
	}
	flowsCompletedTotal.WithLabelValues(asID, vip).Inc()
}

// ObserveRingPublish increments the publish counter for a shared-memory
// segment; both Region.PublishOut and Region.PublishIn call it.
func ObserveRingPublish(vip string) {
	if !metricsEnabled.Load() {
		return
	}
	ringPublishTotal.WithLabelValues(vip).Inc()
}

// ObserveTornRead increments the torn-frame counter for a VIP/direction
// ("out" or "in").
func ObserveTornRead(vip, direction string) {
	if !metricsEnabled.Load() {
		return
	}
	ringTornReadsTotal.WithLabelValues(vip, direction).Inc()
}

// ServeMetrics exposes /metrics on addr in a background goroutine. Safe
// to call multiple times; each call starts its own listener, so callers
// are expected to pick one addr per process.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
