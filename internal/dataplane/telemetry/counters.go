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

package telemetry

// RefLB is the per-VIP reference state.
type RefLB struct {
	T0         uint32  // initial timestamp on the LB node, ms
	TLastFlow  float64 // time of the last flow arrival
}

// RefAS is the per-AS reference state. Cleared when the AS is removed.
type RefAS struct {
	T0ECR      uint32  // initial timestamp on the server node w/ tsecr, ms
	TLastFlow  float64
	TLastPacket float64
}

// Reset clears the reference back to its zero value, as happens on AS
// de-registration.
func (r *RefAS) Reset() { *r = RefAS{} }

// Config holds the build-time constants that affect counter/reservoir
// behavior.
type Config struct {
	// Decay is the multiplier applied to n_flow_on on every packet.
	// Default 1.0 (pure accumulation); configurable in (0,1] for true
	// geometric decay.
	Decay float64
	// PTOffset is the initial millisecond offset applied when seeding
	// RefLB.T0 from a slot's t_last on the first ACK of a flow.
	PTOffset uint32
}

// DefaultConfig returns the constants the original C build used.
func DefaultConfig() Config {
	return Config{Decay: 1.0, PTOffset: 0}
}

// ASStat is the per-AS counter block. n_flow_on is a signed,
// geometrically-decayed estimate of live flows; everything
// else is a monotonically increasing count the consumer diffs modulo
// wraparound.
type ASStat struct {
	ASIndex  uint32
	NFlowOn  float64 // signed; decays per packet (generalized from the source's int32*DECAY)
	NFlow    uint32
	NFCT     uint32
	NPacket  uint32
	NNormACK uint32
	NRtr     uint32
	NDpk     uint32
	NOoo     uint32
	NCls     uint32
}

// BumpFlowOn applies the per-packet decay-then-add update:
// n_flow_on = n_flow_on*DECAY + dNFlow.
func (s *ASStat) BumpFlowOn(decay float64, dNFlow int8) {
	s.NFlowOn = s.NFlowOn*decay + float64(dNFlow)
}

// TotalClassified sums every per-packet disposition counter. The
// result must never exceed NPacket.
func (s *ASStat) TotalClassified() uint32 {
	return s.NNormACK + s.NDpk + s.NOoo + s.NRtr + s.NCls + s.NFlow + s.NFCT
}
