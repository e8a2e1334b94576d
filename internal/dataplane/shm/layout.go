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

// Package shm implements a fixed-layout shared-memory region: a single
// mapped block holding the outbound telemetry ring (data plane ->
// consumer) and the inbound weight ring (consumer -> data plane),
// synchronized without locks via a monotonically increasing "id" seal
// field on every ring slot.
//
// The field order below replaces the original's lb_foreach_layout
// X-macro with a single literal table; it IS the wire contract — an
// external reader must use the same offsets.
package shm

import "unsafe"

// Build-time layout constants.
const (
	RegionSize  = 1048576 // SHM_SIZE
	RegionOffset = 42      // SHM_OFFSET, bytes reserved before the layout begins
	ASMax       = 64      // AS_MAX, per-VIP backend capacity
	RingDepth   = 4       // M, ring depth (power of two)
	RingMask    = RingDepth - 1
	ReservoirBins = 32 // R
)

// TVPairF, TVPairU, TVPair are the three time-value sample encodings,
// distinguished by payload type (float32, uint32, int32).
type TVPairF struct {
	T float32
	V float32
}
type TVPairU struct {
	T float32
	V uint32
}
type TVPair struct {
	T float32
	V int32
}

// RefLB is the per-VIP reference block.
type RefLB struct {
	T0        uint32
	TLastFlow float32
}

// RefAS is the per-AS reference block.
type RefAS struct {
	T0ECR       uint32
	TLastFlow   float32
	TLastPacket float32
}

// ASStat is the per-AS counter block, laid out for the wire exactly as
// the outbound frame body entries.
type ASStat struct {
	ASIndex  uint32
	NFlowOn  int32
	NFlow    uint32
	NFCT     uint32
	NPacket  uint32
	NNormACK uint32
	NRtr     uint32
	NDpk     uint32
	NOoo     uint32
	NCls     uint32
}

// AliasEntry is the per-backend alias-method weight row {odd, alias}.
type AliasEntry struct {
	Odd   float32
	Alias uint32
}

// ReservoirLB bundles the one per-VIP sample family.
type ReservoirLB struct {
	IATFlowLB [ReservoirBins]TVPairF
}

// ReservoirAS bundles the twelve per-AS sample families.
type ReservoirAS struct {
	ByteF        [ReservoirBins]TVPairU
	ByteP        [ReservoirBins]TVPairU
	Win          [ReservoirBins]TVPairU
	DWin         [ReservoirBins]TVPair
	FCT          [ReservoirBins]TVPairF
	FlowDuration [ReservoirBins]TVPairF
	IATFlow      [ReservoirBins]TVPairF
	IATPacket    [ReservoirBins]TVPairF
	IATPerFlow   [ReservoirBins]TVPairF
	PT1st        [ReservoirBins]TVPairU
	PTGen        [ReservoirBins]TVPairU
	LatSynAck    [ReservoirBins]TVPairF
}

// MsgOut is the outbound telemetry frame. ID is the seal: written last
// by the publisher, checked first by readers.
type MsgOut struct {
	ID       uint32
	TS       float32
	BHeader  uint64 // active-AS bitmap
	Body     [ASMax]ASStat
}

// MsgIn is the inbound weight frame.
type MsgIn struct {
	ID      uint32
	TS      float32
	Score   [ASMax]float32
	Weights [ASMax]AliasEntry
}

// Layout describes the ordered field table of the shared-memory region.
// It is used both to compute byte offsets into the mapped region and
// as living documentation of the wire contract for an external
// consumer.
type Layout struct {
	NAsOffset           uintptr
	RefLBOffset         uintptr
	RefASOffset         uintptr // array of ASMax
	MsgOutCacheOffset   uintptr
	MsgOutFramesOffset  uintptr // array of RingDepth
	ResLBOffset         uintptr
	ResASOffset         uintptr // array of ASMax
	MsgInCacheOffset    uintptr
	MsgInFramesOffset   uintptr // array of RingDepth
	TotalSize           uintptr
}

// align4 rounds n up to the nearest 4-byte boundary, matching the
// alignment convention of the packed structs above.
func align4(n uintptr) uintptr {
	return (n + 3) &^ 3
}

// ComputeLayout walks the ordered field table and returns the byte
// offset of each field, relative to the start of the layout region
// (i.e. relative to RegionOffset within the mapped file).
func ComputeLayout() Layout {
	var l Layout
	off := uintptr(0)

	// n_as: u8
	l.NAsOffset = off
	off = align4(off + 1)

	l.RefLBOffset = off
	off += unsafe.Sizeof(RefLB{})
	off = align4(off)

	l.RefASOffset = off
	off += unsafe.Sizeof(RefAS{}) * ASMax
	off = align4(off)

	l.MsgOutCacheOffset = off
	off += unsafe.Sizeof(MsgOut{})

	l.MsgOutFramesOffset = off
	off += unsafe.Sizeof(MsgOut{}) * RingDepth

	l.ResLBOffset = off
	off += unsafe.Sizeof(ReservoirLB{})

	l.ResASOffset = off
	off += unsafe.Sizeof(ReservoirAS{}) * ASMax

	l.MsgInCacheOffset = off
	off += unsafe.Sizeof(MsgIn{})

	l.MsgInFramesOffset = off
	off += unsafe.Sizeof(MsgIn{}) * RingDepth

	l.TotalSize = off
	return l
}
