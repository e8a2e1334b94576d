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

// Package vip composes the flow table, TCP state updater, telemetry and
// weighted-alias selector into the per-VIP packet handler a host
// framework drives. It is the module's boundary: a VPP plugin, a pcap
// harness, or (in this repo) the cmd/lb-dataplane-sim driver is the
// only thing that ever needs to import this package directly.
package vip

import (
	"math/rand"

	"lbflow/internal/dataplane/consistenthash"
	"lbflow/internal/dataplane/tcpstate"
	"lbflow/internal/dataplane/telemetry"
	"lbflow/pkg/alias"
	"lbflow/pkg/flowhash"
)

// Decision is the packet-out contract: which backend a packet was
// routed to, and whether the flow table gained a new entry for it.
type Decision struct {
	BackendIndex uint32
	Installed    bool
	PacketType   tcpstate.PacketType
}

// BackendState bundles one backend's telemetry, addressable by index.
type BackendState struct {
	stat       telemetry.ASStat
	ref        telemetry.RefAS
	reservoirs telemetry.ASReservoirs
}

// VIP owns one virtual IP's flow table, backend telemetry, alias table
// and stateless fallback router. HandlePacket requires single-threaded,
// run-to-completion calls: nothing here takes a lock.
type VIP struct {
	ID uint32

	table    *flowhash.Table
	ref      telemetry.RefLB
	reserv   telemetry.LBReservoirs
	backends []*BackendState
	weights  *alias.Table
	fallback *consistenthash.Router
	cfg      telemetry.Config
	rng      *rand.Rand
}

// Config bundles the construction knobs for a VIP.
type Config struct {
	ID           uint32
	Buckets      uint32 // flow table bucket count, must be a power of two
	FlowTimeout  uint32 // seconds
	NumBackends  int
	Weights      []float64 // initial alias weights, length NumBackends
	BackendNames []string  // stable ids for the fallback router
	Telemetry    telemetry.Config
	Seed         int64
}

// New builds a VIP ready to handle packets. The flow table allocation
// failure mode (non-power-of-two bucket count) is surfaced as a plain
// bool, mirroring flowhash.Alloc.
func New(cfg Config) (*VIP, bool) {
	table, ok := flowhash.Alloc(cfg.Buckets, cfg.FlowTimeout)
	if !ok {
		return nil, false
	}

	weights := cfg.Weights
	if weights == nil {
		weights = make([]float64, cfg.NumBackends)
		for i := range weights {
			weights[i] = 1
		}
	}
	aliasTbl, err := alias.Build(weights)
	if err != nil {
		return nil, false
	}

	names := cfg.BackendNames
	if names == nil {
		names = make([]string, cfg.NumBackends)
		for i := range names {
			names[i] = backendName(cfg.ID, i)
		}
	}

	backends := make([]*BackendState, cfg.NumBackends)
	for i := range backends {
		backends[i] = &BackendState{}
		backends[i].stat.ASIndex = uint32(i)
	}

	return &VIP{
		ID:       cfg.ID,
		table:    table,
		backends: backends,
		weights:  aliasTbl,
		fallback: consistenthash.NewRouter(names),
		cfg:      cfg.Telemetry,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}, true
}

func backendName(vipID uint32, index int) string {
	return "vip:" + itoa(vipID) + ":as:" + itoa(uint32(index))
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// HandlePacket is the fast path: resolve the flow, update TCP state and
// telemetry, and return which backend the packet belongs to.
//
// hash is the precomputed 32-bit flow fingerprint, computed upstream by
// whatever capture layer drives this package. nowSec is the monotonic
// eviction clock; pkt.TimeNow is the high-resolution telemetry clock.
func (v *VIP) HandlePacket(hash uint32, nowSec uint32, pkt tcpstate.Packet) Decision {
	isSYN := pkt.TCPFlag == tcpstate.FlagSYN
	suppressAvail := !isSYN

	value, avail, found := v.table.Lookup(hash, v.ID, nowSec, suppressAvail)
	if found {
		slot := v.table.Slot(hash, v.slotIndexOf(hash, value, nowSec))
		b := v.backendOrNil(value)
		if b == nil {
			telemetry.ObservePacket(itoa(value), itoa(v.ID), tcpstate.PacketBeyondScope.String())
			return Decision{BackendIndex: value, PacketType: tcpstate.PacketBeyondScope}
		}
		pt := tcpstate.OnHit(slot, pkt, nowSec,
			tcpstate.AS{Stat: &b.stat, Ref: &b.ref, Reservoirs: &b.reservoirs},
			tcpstate.VIPRef{Ref: &v.ref, Reservoirs: &v.reserv},
			v.cfg, v.rng)
		telemetry.ObservePacket(itoa(value), itoa(v.ID), pt.String())
		telemetry.ObserveFlowsActive(itoa(value), itoa(v.ID), b.stat.NFlowOn)
		if pt == tcpstate.PacketFirstFIN {
			telemetry.ObserveFlowCompleted(itoa(value), itoa(v.ID))
		}
		return Decision{BackendIndex: value, PacketType: pt}
	}

	if !isSYN || avail == flowhash.NoSlot {
		// No slot to claim (not a SYN, or the bucket is full): fall back
		// to stateless consistent-hash routing rather than drop.
		idx := v.fallbackIndex(pkt)
		telemetry.ObservePacket(itoa(idx), itoa(v.ID), tcpstate.PacketBeyondScope.String())
		return Decision{BackendIndex: idx, PacketType: tcpstate.PacketBeyondScope}
	}

	newValue := uint32(v.weights.Sample(v.rng))
	v.table.Insert(hash, v.ID, newValue, avail, nowSec)
	slot := v.table.Slot(hash, avail)
	slot.SrcIP, slot.SrcPort = pkt.SrcIP, pkt.SrcPort

	b := v.backendOrNil(newValue)
	if b == nil {
		telemetry.ObservePacket(itoa(newValue), itoa(v.ID), tcpstate.PacketBeyondScope.String())
		return Decision{BackendIndex: newValue, Installed: true, PacketType: tcpstate.PacketBeyondScope}
	}
	pt := tcpstate.OnMissInsert(slot, pkt, nowSec, newValue,
		tcpstate.AS{Stat: &b.stat, Ref: &b.ref, Reservoirs: &b.reservoirs},
		tcpstate.VIPRef{Ref: &v.ref, Reservoirs: &v.reserv},
		nil, v.cfg, v.rng)
	telemetry.ObservePacket(itoa(newValue), itoa(v.ID), pt.String())
	telemetry.ObserveFlowsActive(itoa(newValue), itoa(v.ID), b.stat.NFlowOn)
	return Decision{BackendIndex: newValue, Installed: true, PacketType: pt}
}

// slotIndexOf re-scans for the slot Lookup just matched. Lookup already
// did the bucket scan; this keeps HandlePacket's contract in terms of
// (hash, value) without requiring flowhash to leak its bucket index
// through Lookup's return signature, at the cost of one extra scan on
// the hit path — cheap relative to a single bucket's four slots.
func (v *VIP) slotIndexOf(hash, value, now uint32) int {
	for i := 0; i < flowhash.EntriesPerBucket; i++ {
		s := v.table.Slot(hash, i)
		if s.Hash == hash && s.VIP == v.ID && s.Value == value {
			return i
		}
	}
	return 0
}

func (v *VIP) backendOrNil(index uint32) *BackendState {
	if int(index) >= len(v.backends) {
		return nil
	}
	return v.backends[index]
}

// fallbackIndex routes a no-state packet via rendezvous hashing over the
// same backend set the alias table was built from.
func (v *VIP) fallbackIndex(pkt tcpstate.Packet) uint32 {
	key := itoa(pkt.SrcIP) + ":" + itoa(uint32(pkt.SrcPort))
	name := v.fallback.Route(key)
	for i := 0; i < len(v.backends); i++ {
		if backendName(v.ID, i) == name {
			return uint32(i)
		}
	}
	return 0
}

// Rebalance replaces the alias table with one built from new weights,
// e.g. after the inbound shared-memory ring or a weights.Source refresh
// delivers an updated vector. It never touches the flow table: existing
// flows keep their assigned backend until they expire or close.
func (v *VIP) Rebalance(newWeights []float64) error {
	tbl, err := alias.Build(newWeights)
	if err != nil {
		return err
	}
	v.weights = tbl
	return nil
}

// Backends returns the per-backend counter blocks for snapshotting into
// an outbound telemetry frame.
func (v *VIP) Backends() []*BackendState { return v.backends }

// LiveFlows reports the number of currently live flow-table entries.
func (v *VIP) LiveFlows(nowSec uint32) int { return v.table.LiveCount(nowSec) }

// Stat exposes backend i's counters read-only, for snapshotting.
func (b *BackendState) Stat() telemetry.ASStat { return b.stat }
