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

package tcpstate

import (
	"math/rand"

	"lbflow/internal/dataplane/telemetry"
	"lbflow/pkg/flowhash"
)

// Packet is everything the capture collaborator hands the updater for
// one packet, on top of the flow fingerprint and VIP id already
// resolved by the caller.
type Packet struct {
	TimeNow float64 // high-resolution seconds clock
	TCPAck  uint32
	Tsecr   uint32
	SrcIP   uint32
	SrcPort uint16
	TCPWin  uint16
	TCPFlag uint8
	DNFlow  int8
}

// AS bundles the per-AS telemetry an updater call needs. Lifetime is
// owned by the VIP; the updater never allocates one.
type AS struct {
	Stat        *telemetry.ASStat
	Ref         *telemetry.RefAS
	Reservoirs  *telemetry.ASReservoirs
}

// VIPRef bundles the per-VIP telemetry.
type VIPRef struct {
	Ref        *telemetry.RefLB
	Reservoirs *telemetry.LBReservoirs
}

// DefaultFlowTimeout estimates FCT when a slot is reclaimed without
// having seen a clean close.
const DefaultFlowTimeout = 30.0

// OnHit handles a packet that matched a live slot. nowSec is the
// monotonic integer clock used for slot eviction; the
// float fields on Packet carry the high-resolution clock used for
// telemetry. rng supplies the single per-packet reservoir bin draw.
func OnHit(slot *flowhash.Slot, pkt Packet, nowSec uint32, as AS, vip VIPRef, cfg telemetry.Config, rng *rand.Rand) PacketType {
	stat := as.Stat

	// 1. Consistency check: collision with a slot reused by a different
	// source.
	if slot.SrcIP != pkt.SrcIP || slot.SrcPort != pkt.SrcPort {
		stat.NCls++
		stat.NPacket++
		return PacketBeyondScope
	}

	resBin := rng.Intn(telemetry.ReservoirBins)

	// 2. Global packet inter-arrival time for this AS.
	iatP := pkt.TimeNow - as.Ref.TLastPacket
	as.Ref.TLastPacket = pkt.TimeNow
	as.Reservoirs.IATPacket.SampleAt(resBin, pkt.TimeNow, iatP)

	flag := pkt.TCPFlag
	prevFlag := slot.TCPFlag
	packetType := PacketNormal

	switch {
	case hasACK(flag) && !isOnlyACK(flag) && hasRST(flag):
		// Flow close: evict, compute FCT + inter-packet-arrival gap.
		slot.Timeout = nowSec - 1
		packetType = PacketFirstFIN
		fct := pkt.TimeNow - slot.TInit
		iatPPF := pkt.TimeNow - slot.TLast
		pkt.DNFlow = -1
		stat.NFCT++
		as.Reservoirs.FCT.SampleAt(resBin, pkt.TimeNow, fct)
		as.Reservoirs.IATPerFlow.SampleAt(resBin, pkt.TimeNow, iatPPF)

	case hasACK(flag) && !isOnlyACK(flag) && hasPSH(flag):
		ackCur := pkt.TCPAck
		ackLast := slot.AckLast
		switch {
		case ackCur == ackLast:
			packetType = PacketPSHACK
			slot.AckInit = ackCur
		case ackCur < ackLast:
			packetType = PacketRetransmitPSHACK
			stat.NRtr++
		default:
			packetType = PacketOutOfOrderPSHACK
			stat.NOoo++
		}

	case hasACK(flag) && !isOnlyACK(flag):
		// ACK riding with anything other than RST/PSH is out of scope.
		packetType = PacketBeyondScope

	case isOnlyACK(flag):
		if hasACK(prevFlag) {
			// Established: ESTABLISHED|PSHACKED state already seen an ACK.
			ackCur := pkt.TCPAck
			ackLast := slot.AckLast
			switch {
			case ackCur > ackLast:
				packetType = PacketNormal
				bytePacket := ackCur - ackLast
				winCur := pkt.TCPWin
				dwin := int32(winCur) - int32(slot.WinLast)
				slot.WinLast = winCur
				stat.NNormACK++

				as.Reservoirs.DWin.SampleAt(resBin, pkt.TimeNow, dwin)
				byteFlow := ackCur - slot.AckInit
				as.Reservoirs.ByteF.SampleAt(resBin, pkt.TimeNow, byteFlow)
				flowDuration := pkt.TimeNow - slot.TInit
				as.Reservoirs.FlowDuration.SampleAt(resBin, pkt.TimeNow, flowDuration)
				as.Reservoirs.ByteP.SampleAt(resBin, pkt.TimeNow, bytePacket)
				as.Reservoirs.Win.SampleAt(resBin, pkt.TimeNow, uint32(winCur))

				if tsecrValid(pkt.Tsecr) {
					if slot.AckLast == slot.AckInit {
						ptFirst := uint32(pkt.TimeNow*1000) - (vip.Ref.T0 + pkt.Tsecr + as.Ref.T0ECR)
						as.Reservoirs.PT1st.SampleAt(resBin, pkt.TimeNow, ptFirst)
						packetType = PacketFirstData
					} else if pkt.Tsecr > slot.TsecrLast {
						ptGen := uint32(pkt.TimeNow*1000) - (vip.Ref.T0 + pkt.Tsecr + as.Ref.T0ECR)
						as.Reservoirs.PTGen.SampleAt(resBin, pkt.TimeNow, ptGen)
						slot.TsecrLast = pkt.Tsecr
					}
				} else {
					packetType = PacketTimestampInvalid
				}

				slot.AckLast = ackCur
			case ackCur == ackLast:
				packetType = PacketDupACK
				stat.NDpk++
			default:
				packetType = PacketOutOfOrderACK
				stat.NOoo++
			}
		} else {
			// First ACK: transition from SYN-only state.
			ackCur := pkt.TCPAck
			slot.AckLast = ackCur
			slot.WinLast = pkt.TCPWin
			packetType = PacketFirstACK

			if tsecrValid(pkt.Tsecr) {
				slot.TsecrLast = pkt.Tsecr
				if as.Ref.T0ECR == 0 {
					if vip.Ref.T0 == 0 {
						vip.Ref.T0 = uint32(slot.TLast*1000) + cfg.PTOffset
					}
					as.Ref.T0ECR = vip.Ref.T0 - pkt.Tsecr
				}
			}
			latSynAck := pkt.TimeNow - slot.TInit
			as.Reservoirs.LatSynAck.SampleAt(resBin, pkt.TimeNow, latSynAck)
		}

		iatPPF := pkt.TimeNow - slot.TLast
		as.Reservoirs.IATPerFlow.SampleAt(resBin, pkt.TimeNow, iatPPF)

	case isOnlySYN(flag):
		// SYN retransmission on an already-established slot.
		packetType = PacketRetransmitSYN
		stat.NRtr++

	case isOnlyRST(flag):
		packetType = PacketRetransmitRST
		stat.NRtr++

	default:
		packetType = PacketBeyondScope
	}

	if packetType < PacketRetransmitSYN {
		slot.TCPFlag = flag
	}
	slot.TLast = pkt.TimeNow
	stat.NPacket++
	stat.BumpFlowOn(cfg.Decay, pkt.DNFlow)

	return packetType
}

// PreviousTenant describes the flow that previously occupied a slot
// being reclaimed by OnMissInsert, so the old tenant's counters can be
// wrapped up before the new one overwrites the slot.
type PreviousTenant struct {
	Stat       *telemetry.ASStat
	Reservoirs *telemetry.ASReservoirs
}

// OnMissInsert handles a SYN packet that claims avail and installs new
// per-flow state. prev, when non-nil, is the telemetry for
// the backend the slot previously belonged to (value != newValue), used
// to wrap up a flow that timed out without a clean close.
func OnMissInsert(slot *flowhash.Slot, pkt Packet, nowSec uint32, newValue uint32, as AS, vip VIPRef, prev *PreviousTenant, cfg telemetry.Config, rng *rand.Rand) PacketType {
	stat := as.Stat
	resBin := rng.Intn(telemetry.ReservoirBins)

	if slot.TCPFlag != 0 && slot.TCPFlag != (FlagRST|FlagACK) {
		sameSource := slot.SrcIP == pkt.SrcIP && slot.SrcPort == pkt.SrcPort
		sameAS := slot.Value == newValue
		switch {
		case sameSource && sameAS:
			// Same flow rerouted to the same AS: nothing to wrap up.
		default:
			if prev != nil {
				fct := pkt.TimeNow - slot.TInit - DefaultFlowTimeout
				prev.Reservoirs.FCT.SampleAt(resBin, pkt.TimeNow, fct)
				prev.Stat.NFlowOn--
				prev.Stat.NFCT++
			}
		}
	}

	flag := pkt.TCPFlag
	packetType := PacketNormal

	switch {
	case isOnlySYN(flag):
		if as.Ref.TLastFlow > 0.1 {
			iatF := pkt.TimeNow - as.Ref.TLastFlow
			as.Reservoirs.IATFlow.SampleAt(resBin, pkt.TimeNow, iatF)
			iatFLB := pkt.TimeNow - vip.Ref.TLastFlow
			vip.Reservoirs.IATFlowLB.SampleAt(resBin, pkt.TimeNow, iatFLB)
		} else if vip.Ref.T0 == 0 {
			vip.Ref.T0 = uint32(pkt.TimeNow * 1000)
		}
		packetType = PacketFirstSYN
		stat.NFlow++
		pkt.DNFlow = 1
		as.Ref.TLastFlow = pkt.TimeNow
		vip.Ref.TLastFlow = pkt.TimeNow

	case isOnlyRST(flag):
		packetType = PacketRetransmitRST
		stat.NRtr++
		slot.Timeout = nowSec - 1

	default:
		packetType = PacketBeyondScope
	}

	if packetType < PacketRetransmitSYN {
		slot.TCPFlag = flag
	}
	slot.TLast = pkt.TimeNow
	slot.TInit = pkt.TimeNow
	stat.NPacket++

	iatP := pkt.TimeNow - as.Ref.TLastPacket
	as.Reservoirs.IATPacket.SampleAt(resBin, pkt.TimeNow, iatP)
	as.Ref.TLastPacket = pkt.TimeNow
	stat.BumpFlowOn(cfg.Decay, pkt.DNFlow)

	return packetType
}
