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

// Package flowhash provides a fixed-size, lazily-evicting hash table
// mapping a 32-bit flow fingerprint to a backend index. It is the
// MagLev-style flow table used by a stateful L4 load balancer's fast
// path: fixed bucket size, no chaining, no locking, lossy writes.
package flowhash

import "math/bits"

// EntriesPerBucket is the number of slots scanned per lookup/insert.
// The original C implementation relies on this being exactly 4 so the
// bucket fits two cache lines with telemetry fields attached; Go keeps
// the same constant rather than generalizing it.
const EntriesPerBucket = 4

// Slot is one entry of a bucket. hash==0 means the slot has never been
// written (cold); timeout<=now means the slot is not live regardless of
// hash.
type Slot struct {
	Hash    uint32
	VIP     uint32
	Value   uint32
	Timeout uint32 // monotonic seconds at which the slot expires

	// Telemetry fields, present regardless of whether telemetry is
	// enabled for a given table so the struct layout is stable; they
	// are simply left zero when unused.
	TInit    float64
	TLast    float64
	AckInit  uint32
	AckLast  uint32
	TsecrLast uint32
	WinLast  uint16
	SrcIP    uint32
	SrcPort  uint16
	TCPFlag  uint8
}

// live reports whether the slot is still valid at now, using a
// modular-aware signed comparison so that timeout wraparound (every
// 2^32 seconds) cannot make a live slot appear dead or vice versa.
func live(timeout, now uint32) bool {
	return int32(timeout-now) > 0
}

// Bucket holds EntriesPerBucket slots. The original C struct packs
// parallel arrays (hash[4], timeout[4], ...) to fit one cache line for
// the base fields; Go cannot express that layout portably without
// unsafe trickery that would buy nothing here; scalar access to
// Bucket.Slots[i] compiles to the same asymptotic behavior (first
// match wins, first free wins).
type Bucket struct {
	Slots [EntriesPerBucket]Slot
}

// Table is the fixed-size flow table: N buckets (N a power of two) plus
// one sentinel bucket appended for prefetch overrun.
type Table struct {
	mask    uint32
	timeout uint32
	buckets []Bucket
}

// Alloc allocates a table of the given bucket count and idle timeout.
// buckets must be a power of two; a non-power-of-two count fails
// allocation rather than silently rounding.
func Alloc(buckets uint32, timeout uint32) (*Table, bool) {
	if buckets == 0 || bits.OnesCount32(buckets) != 1 {
		return nil, false
	}
	return &Table{
		mask:    buckets - 1,
		timeout: timeout,
		// +1 bucket for prefetch overrun, mirroring lb_hash_alloc.
		buckets: make([]Bucket, buckets+1),
	}, true
}

// Free releases the table's backing storage. Present for symmetry with
// Alloc/the original's lb_hash_free; in Go this just drops the
// reference for the GC.
func (t *Table) Free() {
	t.buckets = nil
}

// Buckets returns the number of addressable buckets (excluding the
// prefetch sentinel).
func (t *Table) Buckets() uint32 {
	return t.mask + 1
}

// Prefetch issues a read-ahead hint for the bucket that hash maps to.
// Go offers no portable prefetch intrinsic, so this is a documented
// no-op: it exists purely so call sites mirror the compute-hash-then-
// lookup dataflow and to leave a seam for a future unsafe/asm
// specialization.
func (t *Table) Prefetch(hash uint32) {
	_ = t.bucketFor(hash)
}

func (t *Table) bucketFor(hash uint32) *Bucket {
	return &t.buckets[hash&t.mask]
}

const NoSlot = -1

// Lookup scans the bucket addressed by hash for a live slot matching
// (hash, vip). On a match it refreshes the slot's timeout and returns
// its value. It also reports the first non-live slot index as a
// candidate for insertion, unless suppressAvail is set (telemetry
// enabled + non-SYN packet), in which case avail is always NoSlot so a
// non-SYN miss cannot claim a slot.
func (t *Table) Lookup(hash, vip, now uint32, suppressAvail bool) (value uint32, avail int, found bool) {
	b := t.bucketFor(hash)
	avail = NoSlot
	for i := range b.Slots {
		s := &b.Slots[i]
		isLive := live(s.Timeout, now)
		if !isLive {
			if avail == NoSlot {
				avail = i
			}
			continue
		}
		if s.Hash == hash && s.VIP == vip {
			s.Timeout = now + t.timeout
			value = s.Value
			found = true
			break
		}
	}
	if suppressAvail {
		avail = NoSlot
	}
	return value, avail, found
}

// Slot returns a pointer to the slot at (hash's bucket, index), for
// callers that already resolved avail/found via Lookup and now need to
// mutate state in place (the TCP updater's hot path).
func (t *Table) Slot(hash uint32, index int) *Slot {
	return &t.bucketFor(hash).Slots[index]
}

// Insert writes a new occupant into the given slot index of the bucket
// addressed by hash. It performs no existence check and assumes a
// single writer per bucket; callers that found no avail index must
// skip the insert and route statelessly instead. Insertion is
// intentionally lossy.
func (t *Table) Insert(hash, vip, value uint32, index int, now uint32) {
	s := t.Slot(hash, index)
	s.Hash = hash
	s.VIP = vip
	s.Value = value
	s.Timeout = now + t.timeout
}

// LiveCount iterates every bucket and counts live slots. O(N); intended
// for diagnostics, not the packet path.
func (t *Table) LiveCount(now uint32) int {
	n := 0
	for bi := range t.buckets {
		if uint32(bi) > t.mask {
			break // skip the prefetch sentinel
		}
		for i := range t.buckets[bi].Slots {
			if live(t.buckets[bi].Slots[i].Timeout, now) {
				n++
			}
		}
	}
	return n
}
