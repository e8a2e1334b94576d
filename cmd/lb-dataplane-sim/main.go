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

// Package main drives a synthetic TCP packet trace through a single
// vip.VIP, standing in for the pcap/VPP capture collaborator this
// module does not own. It demonstrates the full fast path — flow table,
// TCP state updater, telemetry, shared-memory publish — without
// needing a kernel capture or a VPP build.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"lbflow/internal/dataplane/shm"
	"lbflow/internal/dataplane/tcpstate"
	"lbflow/internal/dataplane/telemetry"
	"lbflow/internal/dataplane/vip"
)

func main() {
	vipID := flag.Uint("vip_id", 1, "VIP identifier")
	buckets := flag.Uint("buckets", 1024, "Flow table bucket count (power of two)")
	flowTimeout := flag.Uint("flow_timeout", 30, "Flow idle timeout in seconds")
	backends := flag.Int("backends", 4, "Number of backends behind the VIP")
	flows := flag.Int("flows", 200, "Number of synthetic flows to simulate")
	packetsPerFlow := flag.Int("packets_per_flow", 6, "Packets per simulated flow")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address")
	shmName := flag.String("shm_name", "", "If non-empty, publish telemetry to /dev/shm/<name>")
	seed := flag.Int64("seed", 1, "Random seed for the synthetic trace")
	flag.Parse()

	telemetry.Enable(*metricsAddr != "")
	if *metricsAddr != "" {
		fmt.Printf("Prometheus metrics listening on %s\n", *metricsAddr)
		telemetry.ServeMetrics(*metricsAddr)
	}

	v, ok := vip.New(vip.Config{
		ID:          uint32(*vipID),
		Buckets:     uint32(*buckets),
		FlowTimeout: uint32(*flowTimeout),
		NumBackends: *backends,
		Telemetry:   telemetry.DefaultConfig(),
		Seed:        *seed,
	})
	if !ok {
		fmt.Fprintln(os.Stderr, "buckets must be a power of two")
		os.Exit(1)
	}

	var region *shm.Region
	if *shmName != "" {
		r, err := shm.CreateRegion(*shmName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "shm: %v\n", err)
			os.Exit(1)
		}
		region = r
		defer region.Close()
		fmt.Printf("publishing telemetry to /dev/shm/%s\n", *shmName)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	rng := rand.New(rand.NewSource(*seed))
	var nowSec uint32
	var seq uint32

	fmt.Printf("simulating %d flows x %d packets across %d backends\n", *flows, *packetsPerFlow, *backends)
	for f := 0; f < *flows; f++ {
		select {
		case <-stop:
			fmt.Println("\ninterrupted, shutting down")
			return
		default:
		}

		hash := rng.Uint32()
		srcIP := rng.Uint32()
		srcPort := uint16(1024 + rng.Intn(60000))
		ack := rng.Uint32()

		runFlow(v, hash, srcIP, srcPort, ack, nowSec, *packetsPerFlow)
		nowSec++

		if region != nil && f%10 == 0 {
			publishSnapshot(region, v, seq, nowSec)
			seq++
		}
	}

	fmt.Printf("done: %d live flows remaining in table\n", v.LiveFlows(nowSec))
}

// runFlow feeds one SYN/ACK/.../RST-ACK sequence through the VIP.
func runFlow(v *vip.VIP, hash, srcIP uint32, srcPort uint16, ack uint32, nowSec uint32, packets int) {
	t := float64(nowSec)
	v.HandlePacket(hash, nowSec, tcpstate.Packet{TimeNow: t, TCPFlag: tcpstate.FlagSYN, SrcIP: srcIP, SrcPort: srcPort})
	t += 0.01
	v.HandlePacket(hash, nowSec, tcpstate.Packet{TimeNow: t, TCPAck: ack, Tsecr: 100, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: tcpstate.FlagACK})

	for i := 0; i < packets-2; i++ {
		t += 0.01
		ack += 500
		v.HandlePacket(hash, nowSec, tcpstate.Packet{TimeNow: t, TCPAck: ack, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: tcpstate.FlagACK})
	}

	t += 0.01
	v.HandlePacket(hash, nowSec, tcpstate.Packet{TimeNow: t, TCPAck: ack, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: tcpstate.FlagACK | tcpstate.FlagRST})
}

// publishSnapshot seals a best-effort outbound telemetry frame from the
// current per-backend counters, the same shape a real data plane would
// publish on its own tick.
func publishSnapshot(region *shm.Region, v *vip.VIP, seq uint32, nowSec uint32) {
	region.PublishOut(seq+1, func(m *shm.MsgOut) {
		m.TS = float32(nowSec)
		for i, b := range v.Backends() {
			if i >= shm.ASMax {
				break
			}
			s := b.Stat()
			m.Body[i] = shm.ASStat{
				ASIndex:  s.ASIndex,
				NFlowOn:  int32(s.NFlowOn),
				NFlow:    s.NFlow,
				NFCT:     s.NFCT,
				NPacket:  s.NPacket,
				NNormACK: s.NNormACK,
				NRtr:     s.NRtr,
				NDpk:     s.NDpk,
				NOoo:     s.NOoo,
				NCls:     s.NCls,
			}
			m.BHeader |= 1 << uint(i)
		}
	})
}

