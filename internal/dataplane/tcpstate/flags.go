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

// Package tcpstate classifies packets against per-flow state held in a
// flowhash.Slot and mutates per-AS/per-VIP telemetry accordingly.
package tcpstate

// TCP flag bits, restricted to the ones the classifier cares about.
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
)

func hasACK(f uint8) bool { return f&FlagACK != 0 }
func hasSYN(f uint8) bool { return f&FlagSYN != 0 }
func hasRST(f uint8) bool { return f&FlagRST != 0 }
func hasPSH(f uint8) bool { return f&FlagPSH != 0 }

// isOnlyACK reports whether ACK is the *only* flag set. Anything else
// riding along with ACK besides RST or PSH (e.g. ACK+FIN, ACK+SYN) is
// out of scope, mirroring the source's `if_flag_not_only_ack` gate
// followed by an explicit RST/PSH check and a beyond-scope fallback.
func isOnlyACK(f uint8) bool {
	return f == FlagACK
}

// isOnlySYN / isOnlyRST mirror the source's plain `if_flag_is_syn` /
// `if_flag_is_rst` checks reached only once ACK has already been ruled
// out entirely.
func isOnlySYN(f uint8) bool { return f == FlagSYN }
func isOnlyRST(f uint8) bool { return f == FlagRST }

// PacketType mirrors the original's lb_foreach_stat_packet_type enum,
// carried forward so every branch of the classifier is nameable for
// tests and logs, not just the branches that get their own counter.
type PacketType uint8

const (
	PacketNormal PacketType = iota
	PacketFirstACK
	PacketFirstData
	PacketFirstSYN
	PacketFirstFIN
	PacketPSHACK
	PacketRetransmitSYN
	PacketRetransmitRST
	PacketRetransmitPSHACK
	PacketOutOfOrderACK
	PacketOutOfOrderRST
	PacketOutOfOrderPSHACK
	PacketDupACK
	PacketDupPSHACK
	PacketWeird
	PacketTimestampInvalid
	PacketBeyondScope
)

func (p PacketType) String() string {
	switch p {
	case PacketNormal:
		return "normal"
	case PacketFirstACK:
		return "first_ack"
	case PacketFirstData:
		return "first_data"
	case PacketFirstSYN:
		return "first_syn"
	case PacketFirstFIN:
		return "first_fin"
	case PacketPSHACK:
		return "pshack"
	case PacketRetransmitSYN:
		return "rtr_syn"
	case PacketRetransmitRST:
		return "rtr_rst"
	case PacketRetransmitPSHACK:
		return "rtr_pshack"
	case PacketOutOfOrderACK:
		return "ooo_ack"
	case PacketOutOfOrderRST:
		return "ooo_rst"
	case PacketOutOfOrderPSHACK:
		return "ooo_pshack"
	case PacketDupACK:
		return "dup_ack"
	case PacketDupPSHACK:
		return "dup_pshack"
	case PacketWeird:
		return "weird"
	case PacketTimestampInvalid:
		return "ts_invalid"
	case PacketBeyondScope:
		return "beyond_scope"
	default:
		return "unknown"
	}
}

// tsecrValid reports whether a TCP timestamp-echo-reply option value is
// usable for processing-time estimation. 0 means the option was absent.
func tsecrValid(tsecr uint32) bool {
	return tsecr != 0
}
