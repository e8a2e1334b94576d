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

// Package telemetry holds the per-AS and per-VIP accumulators: fixed
// reservoir samplers, reference timestamps, and flow/packet counters
// that the TCP state updater feeds on every packet.
package telemetry

import "math/rand"

// ReservoirBins is the fixed reservoir arity.
const ReservoirBins = 32

// TV is a time-value sample pair. The source distinguishes tv_pair (int32
// value), tv_pair_u (uint32 value) and tv_pair_f (float32 value); Go
// generics collapse those into one family parameterized on V.
type TV[V any] struct {
	T float64
	V V
}

// Reservoir is a fixed-cardinality, lossy sample family: each Sample
// call overwrites one uniformly-random bin. It holds exactly
// ReservoirBins entries at all times, seeded to the zero value on
// construction.
type Reservoir[V any] struct {
	bins [ReservoirBins]TV[V]
}

// Sample overwrites a uniformly random bin with (t, v). rng is supplied
// by the caller so the hot path shares one source instead of allocating
// per call.
func (r *Reservoir[V]) Sample(rng *rand.Rand, t float64, v V) {
	r.bins[rng.Intn(ReservoirBins)] = TV[V]{T: t, V: v}
}

// SampleAt overwrites a caller-chosen bin. The TCP updater draws one
// random bin index per packet and reuses it across every reservoir
// family it touches during that call, the way the original
// bucket_stat_update_get draws a single res_id and feeds every
// register_reservoir_as call with it — preserving the within-packet
// correlation across sample families.
func (r *Reservoir[V]) SampleAt(bin int, t float64, v V) {
	r.bins[bin] = TV[V]{T: t, V: v}
}

// Bins returns a snapshot of the current bins, e.g. for publishing into
// a shared-memory frame.
func (r *Reservoir[V]) Bins() [ReservoirBins]TV[V] {
	return r.bins
}

// ASReservoirs bundles the twelve per-AS sample families.
type ASReservoirs struct {
	ByteF       Reservoir[uint32]
	ByteP       Reservoir[uint32]
	Win         Reservoir[uint32]
	DWin        Reservoir[int32]
	FCT         Reservoir[float64]
	FlowDuration Reservoir[float64]
	IATFlow     Reservoir[float64]
	IATPacket   Reservoir[float64]
	IATPerFlow  Reservoir[float64]
	PT1st       Reservoir[uint32]
	PTGen       Reservoir[uint32]
	LatSynAck   Reservoir[float64]
}

// LBReservoirs bundles the per-VIP sample families ("lb_foreach_reservoir_lb").
type LBReservoirs struct {
	IATFlowLB Reservoir[float64]
}
