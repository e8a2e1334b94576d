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

package shm

import (
	"sync/atomic"

	"lbflow/internal/dataplane/telemetry"
)

// ScanPolicy selects how a consumer looks for the newest sealed frame in
// a ring: a reader either trusts sequential delivery and only looks one
// slot ahead of what it last saw, or re-scans every slot and keeps
// whichever carries the highest seal. Every ConsumeOut/ConsumeIn call
// names its policy; the zero value is ScanSequential, and
// cmd/lb-consumer-sim reads the outbound ring with ScanLatest.
type ScanPolicy int

const (
	// ScanSequential checks only slot (lastSeen+1) % RingDepth. Cheapest,
	// but a reader that falls behind by a full ring depth silently skips
	// frames instead of catching up.
	ScanSequential ScanPolicy = iota
	// ScanLatest walks all RingDepth slots and keeps the highest sealed
	// id greater than lastSeen. Costs a full ring scan per poll but never
	// silently skips the newest available frame.
	ScanLatest
)

// PublishOut writes a new outbound telemetry frame at ring slot
// seq % RingDepth. build populates every field except ID; the id is
// sealed last, with a release store, so a concurrent reader either
// sees the fully written previous content or learns (via the id) that
// it must retry.
func (r *Region) PublishOut(seq uint32, build func(*MsgOut)) {
	frame := r.MsgOutFrame(int(seq & RingMask))
	frame.ID = 0 // unseal first: a reader mid-copy must not trust stale content under a new id
	build(frame)
	atomic.StoreUint32(&frame.ID, seq)
	telemetry.ObserveRingPublish(r.name)
}

// ConsumeOut returns the newest outbound frame sealed with an id
// greater than lastSeen. ok is false when nothing new is available, or
// when the only candidate frame was torn by a concurrent publish (the
// caller should just retry on its next poll; a torn read is non-fatal).
func (r *Region) ConsumeOut(policy ScanPolicy, lastSeen uint32) (out MsgOut, seq uint32, ok bool) {
	switch policy {
	case ScanSequential:
		return r.consumeOutAt(int((lastSeen + 1) & RingMask), lastSeen)
	default:
		var bestSeq uint32
		var best MsgOut
		found := false
		for i := 0; i < RingDepth; i++ {
			frame, s, okSlot := r.consumeOutAt(i, lastSeen)
			if okSlot && (!found || int32(s-bestSeq) > 0) {
				best, bestSeq, found = frame, s, true
			}
		}
		return best, bestSeq, found
	}
}

// consumeOutAt attempts a torn-read-safe copy of ring slot idx,
// accepting it only if its sealed id is newer than lastSeen and the id
// has not changed since the copy began (re-check-after-copy).
func (r *Region) consumeOutAt(idx int, lastSeen uint32) (MsgOut, uint32, bool) {
	frame := r.MsgOutFrame(idx)
	before := atomic.LoadUint32(&frame.ID)
	if before == 0 || int32(before-lastSeen) <= 0 {
		return MsgOut{}, 0, false
	}
	snapshot := *frame
	after := atomic.LoadUint32(&frame.ID)
	if after != before {
		telemetry.ObserveTornRead(r.name, "out")
		return MsgOut{}, 0, false
	}
	return snapshot, before, true
}

// PublishIn writes a new inbound weight frame, sealed the same way as
// PublishOut. Used by the consumer side (or, in this module, the demo
// driver standing in for one) to push a fresh alias table.
func (r *Region) PublishIn(seq uint32, build func(*MsgIn)) {
	frame := r.MsgInFrame(int(seq & RingMask))
	frame.ID = 0
	build(frame)
	atomic.StoreUint32(&frame.ID, seq)
	telemetry.ObserveRingPublish(r.name)
}

// ConsumeIn mirrors ConsumeOut for the inbound ring: the data plane's
// read side when it adopts a freshly bootstrapped weight table.
func (r *Region) ConsumeIn(policy ScanPolicy, lastSeen uint32) (in MsgIn, seq uint32, ok bool) {
	switch policy {
	case ScanSequential:
		return r.consumeInAt(int((lastSeen + 1) & RingMask), lastSeen)
	default:
		var bestSeq uint32
		var best MsgIn
		found := false
		for i := 0; i < RingDepth; i++ {
			frame, s, okSlot := r.consumeInAt(i, lastSeen)
			if okSlot && (!found || int32(s-bestSeq) > 0) {
				best, bestSeq, found = frame, s, true
			}
		}
		return best, bestSeq, found
	}
}

func (r *Region) consumeInAt(idx int, lastSeen uint32) (MsgIn, uint32, bool) {
	frame := r.MsgInFrame(idx)
	before := atomic.LoadUint32(&frame.ID)
	if before == 0 || int32(before-lastSeen) <= 0 {
		return MsgIn{}, 0, false
	}
	snapshot := *frame
	after := atomic.LoadUint32(&frame.ID)
	if after != before {
		telemetry.ObserveTornRead(r.name, "in")
		return MsgIn{}, 0, false
	}
	return snapshot, before, true
}
