package tcpstate

import (
	"math/rand"
	"testing"

	"lbflow/internal/dataplane/telemetry"
	"lbflow/pkg/flowhash"
)

func newAS() AS {
	return AS{
		Stat:       &telemetry.ASStat{},
		Ref:        &telemetry.RefAS{},
		Reservoirs: &telemetry.ASReservoirs{},
	}
}

func newVIP() VIPRef {
	return VIPRef{Ref: &telemetry.RefLB{}, Reservoirs: &telemetry.LBReservoirs{}}
}

// TestScenario_S1_HandshakeThenIdleClose exercises a SYN, first ACK,
// then RST-ACK close sequence.
func TestScenario_S1_HandshakeThenIdleClose(t *testing.T) {
	tbl, _ := flowhash.Alloc(16, 30)
	cfg := telemetry.DefaultConfig()
	rng := rand.New(rand.NewSource(1))
	as := newAS()
	vip := newVIP()

	const hash, vipID, value uint32 = 1, 1, 0
	srcIP, srcPort := uint32(0xC0A80001), uint16(4000)

	// SYN at t=0.
	_, avail, found := tbl.Lookup(hash, vipID, 0, false)
	if found || avail == flowhash.NoSlot {
		t.Fatal("expected a clean miss with an available slot for SYN")
	}
	tbl.Insert(hash, vipID, value, avail, 0)
	slot := tbl.Slot(hash, avail)
	slot.SrcIP, slot.SrcPort = srcIP, srcPort
	slot.TInit, slot.TLast = 0, 0

	OnMissInsert(slot, Packet{TimeNow: 0, TCPFlag: FlagSYN, SrcIP: srcIP, SrcPort: srcPort}, 0, value, as, vip, nil, cfg, rng)
	if as.Stat.NFlow != 1 {
		t.Fatalf("after SYN: NFlow = %d, want 1", as.Stat.NFlow)
	}
	if as.Stat.NFlowOn != 1 {
		t.Fatalf("after SYN: NFlowOn = %v, want 1", as.Stat.NFlowOn)
	}

	// First ACK at t=0.01.
	val, _, found := tbl.Lookup(hash, vipID, 0, false)
	if !found || val != value {
		t.Fatal("expected a hit on the installed SYN slot")
	}
	OnHit(slot, Packet{TimeNow: 0.01, TCPAck: 1001, Tsecr: 100, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: FlagACK}, 0, as, vip, cfg, rng)
	if as.Stat.NNormACK != 0 {
		t.Fatalf("first ACK should not count as a normal ack, NNormACK = %d", as.Stat.NNormACK)
	}

	// RST-ACK at t=0.1: flow close.
	OnHit(slot, Packet{TimeNow: 0.1, TCPAck: 1001, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: FlagACK | FlagRST}, 0, as, vip, cfg, rng)
	if as.Stat.NFCT != 1 {
		t.Fatalf("after RST-ACK: NFCT = %d, want 1", as.Stat.NFCT)
	}
	if as.Stat.NFlowOn != 0 {
		t.Fatalf("after RST-ACK: NFlowOn = %v, want 0", as.Stat.NFlowOn)
	}
	if int32(slot.Timeout-0) > 0 {
		t.Fatal("slot should be evicted after RST-ACK close")
	}
}

// TestScenario_S2_QueryRoundtrip exercises a request/response roundtrip
// after the handshake: one data-bearing ACK plus one pure duplicate
// ACK, checking NNormACK and NDpk land on the right packets.
func TestScenario_S2_QueryRoundtrip(t *testing.T) {
	tbl, _ := flowhash.Alloc(16, 30)
	cfg := telemetry.DefaultConfig()
	rng := rand.New(rand.NewSource(2))
	as := newAS()
	vip := newVIP()
	srcIP, srcPort := uint32(1), uint16(1)

	_, avail, _ := tbl.Lookup(10, 1, 0, false)
	slot := tbl.Slot(10, avail)
	slot.SrcIP, slot.SrcPort = srcIP, srcPort
	tbl.Insert(10, 1, 0, avail, 0)
	OnMissInsert(slot, Packet{TimeNow: 0, TCPFlag: FlagSYN, SrcIP: srcIP, SrcPort: srcPort}, 0, 0, as, vip, nil, cfg, rng)

	OnHit(slot, Packet{TimeNow: 0.01, TCPAck: 1001, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: FlagACK}, 0, as, vip, cfg, rng)
	OnHit(slot, Packet{TimeNow: 0.02, TCPAck: 1001, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: FlagACK | FlagPSH}, 0, as, vip, cfg, rng)
	OnHit(slot, Packet{TimeNow: 0.03, TCPAck: 1501, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: FlagACK}, 0, as, vip, cfg, rng)
	OnHit(slot, Packet{TimeNow: 0.04, TCPAck: 1501, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: FlagACK}, 0, as, vip, cfg, rng)

	if as.Stat.NNormACK != 1 {
		t.Errorf("NNormACK = %d, want 1", as.Stat.NNormACK)
	}
	if as.Stat.NDpk != 1 {
		t.Errorf("NDpk = %d, want 1", as.Stat.NDpk)
	}
}

// TestScenario_S3_RetransmittedSYN checks that a retransmitted SYN on
// an already-installed flow is counted as a retransmission and never
// disturbs the slot's existing ack state.
func TestScenario_S3_RetransmittedSYN(t *testing.T) {
	tbl, _ := flowhash.Alloc(16, 30)
	cfg := telemetry.DefaultConfig()
	rng := rand.New(rand.NewSource(3))
	as := newAS()
	vip := newVIP()
	srcIP, srcPort := uint32(1), uint16(1)

	_, avail, _ := tbl.Lookup(20, 1, 0, false)
	slot := tbl.Slot(20, avail)
	slot.SrcIP, slot.SrcPort = srcIP, srcPort
	tbl.Insert(20, 1, 0, avail, 0)
	OnMissInsert(slot, Packet{TimeNow: 0, TCPFlag: FlagSYN, SrcIP: srcIP, SrcPort: srcPort}, 0, 0, as, vip, nil, cfg, rng)
	OnHit(slot, Packet{TimeNow: 0.01, TCPAck: 1001, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: FlagACK}, 0, as, vip, cfg, rng)

	before := *slot
	OnHit(slot, Packet{TimeNow: 0.02, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: FlagSYN}, 0, as, vip, cfg, rng)

	if as.Stat.NRtr != 1 {
		t.Fatalf("NRtr = %d, want 1", as.Stat.NRtr)
	}
	if slot.AckLast != before.AckLast || slot.AckInit != before.AckInit {
		t.Fatal("SYN retransmission must not mutate ack state")
	}
}

// TestScenario_S4_CollisionWithReuse checks that a packet from a
// different source landing on an already-claimed slot is counted as a
// collision and never mutates the slot's existing state.
func TestScenario_S4_CollisionWithReuse(t *testing.T) {
	tbl, _ := flowhash.Alloc(16, 30)
	cfg := telemetry.DefaultConfig()
	rng := rand.New(rand.NewSource(4))
	as := newAS()
	vip := newVIP()

	_, avail, _ := tbl.Lookup(30, 1, 0, false)
	slot := tbl.Slot(30, avail)
	slot.SrcIP, slot.SrcPort = 0xAAAAAAAA, 1
	tbl.Insert(30, 1, 0, avail, 0)
	OnMissInsert(slot, Packet{TimeNow: 0, TCPFlag: FlagSYN, SrcIP: 0xAAAAAAAA, SrcPort: 1}, 0, 0, as, vip, nil, cfg, rng)

	before := *slot
	OnHit(slot, Packet{TimeNow: 0.5, TCPAck: 1, SrcIP: 0xBBBBBBBB, SrcPort: 2, TCPFlag: FlagACK}, 0, as, vip, cfg, rng)

	if as.Stat.NCls != 1 {
		t.Fatalf("NCls = %d, want 1", as.Stat.NCls)
	}
	if *slot != before {
		t.Fatal("collision-with-reuse must not mutate slot state")
	}
}

// TestScenario_S6_LazyEviction checks lazy eviction directly against the
// flow table (no tcpstate involvement needed for the assertion).
func TestScenario_S6_LazyEviction(t *testing.T) {
	tbl, _ := flowhash.Alloc(16, 30)
	_, avail, _ := tbl.Lookup(1, 1, 0, false)
	tbl.Insert(1, 1, 0, avail, 0)

	if _, _, found := tbl.Lookup(1, 1, 31, false); found {
		t.Fatal("expected the slot to be expired at t=31 with T=30")
	}
}
