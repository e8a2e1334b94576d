package vip

import (
	"testing"

	"lbflow/internal/dataplane/tcpstate"
	"lbflow/internal/dataplane/telemetry"
)

func newTestVIP(t *testing.T) *VIP {
	t.Helper()
	v, ok := New(Config{
		ID:          1,
		Buckets:     16,
		FlowTimeout: 30,
		NumBackends: 2,
		Weights:     []float64{1, 1},
		Telemetry:   telemetry.DefaultConfig(),
		Seed:        1,
	})
	if !ok {
		t.Fatal("New: construction failed")
	}
	return v
}

// TestScenario_S1_HandshakeThenIdleClose exercises a SYN, first ACK,
// then idle RST-ACK close sequence end to end through the VIP
// orchestration layer.
func TestScenario_S1_HandshakeThenIdleClose(t *testing.T) {
	v := newTestVIP(t)
	srcIP, srcPort := uint32(0xC0A80001), uint16(4000)

	d := v.HandlePacket(1, 0, tcpstate.Packet{TimeNow: 0, TCPFlag: tcpstate.FlagSYN, SrcIP: srcIP, SrcPort: srcPort})
	if !d.Installed {
		t.Fatal("SYN should install a new flow")
	}
	backend := d.BackendIndex

	v.HandlePacket(1, 0, tcpstate.Packet{TimeNow: 0.01, TCPAck: 1001, Tsecr: 100, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: tcpstate.FlagACK})
	d = v.HandlePacket(1, 0, tcpstate.Packet{TimeNow: 0.1, TCPAck: 1001, SrcIP: srcIP, SrcPort: srcPort, TCPFlag: tcpstate.FlagACK | tcpstate.FlagRST})

	if d.PacketType != tcpstate.PacketFirstFIN {
		t.Fatalf("PacketType = %v, want first_fin", d.PacketType)
	}
	stat := v.Backends()[backend].Stat()
	if stat.NFCT != 1 {
		t.Fatalf("NFCT = %d, want 1", stat.NFCT)
	}
	if stat.NFlowOn != 0 {
		t.Fatalf("NFlowOn = %v, want 0", stat.NFlowOn)
	}
}

// TestScenario_S4_CollisionWithReuse exercises a second source colliding
// onto an already-live slot end to end: the packet must be attributed
// to the slot's existing backend, not routed as a fresh flow.
func TestScenario_S4_CollisionWithReuse(t *testing.T) {
	v := newTestVIP(t)

	d := v.HandlePacket(30, 0, tcpstate.Packet{TimeNow: 0, TCPFlag: tcpstate.FlagSYN, SrcIP: 0xAAAAAAAA, SrcPort: 1})
	backend := d.BackendIndex

	d = v.HandlePacket(30, 0, tcpstate.Packet{TimeNow: 0.5, TCPAck: 1, SrcIP: 0xBBBBBBBB, SrcPort: 2, TCPFlag: tcpstate.FlagACK})
	if d.PacketType != tcpstate.PacketBeyondScope {
		t.Fatalf("PacketType = %v, want beyond_scope", d.PacketType)
	}
	if d.BackendIndex != backend {
		t.Fatalf("collision must report the slot's existing backend, got %d want %d", d.BackendIndex, backend)
	}
	if v.Backends()[backend].Stat().NCls != 1 {
		t.Fatalf("NCls = %d, want 1", v.Backends()[backend].Stat().NCls)
	}
}

// TestScenario_S6_LazyEviction checks that a flow installed at t=0 with
// a 30s timeout no longer owns its slot at t=31, so the next SYN for
// the same fingerprint installs fresh.
func TestScenario_S6_LazyEviction(t *testing.T) {
	v := newTestVIP(t)
	v.HandlePacket(5, 0, tcpstate.Packet{TimeNow: 0, TCPFlag: tcpstate.FlagSYN, SrcIP: 1, SrcPort: 1})

	d := v.HandlePacket(5, 31, tcpstate.Packet{TimeNow: 31, TCPFlag: tcpstate.FlagSYN, SrcIP: 2, SrcPort: 2})
	if !d.Installed {
		t.Fatal("expected the expired slot to be reclaimed as a fresh install")
	}
}

// TestHandlePacket_NonSYNMissFallsBackToConsistentHash checks the
// capacity/miss fallback path: a non-SYN packet that misses the table
// (or a SYN that finds no available slot) is still routed,
// deterministically, via the stateless fallback.
func TestHandlePacket_NonSYNMissFallsBackToConsistentHash(t *testing.T) {
	v := newTestVIP(t)
	pkt := tcpstate.Packet{TimeNow: 0, TCPFlag: tcpstate.FlagACK, SrcIP: 7, SrcPort: 7}

	first := v.HandlePacket(99, 0, pkt)
	if first.Installed {
		t.Fatal("a non-SYN miss must never install a flow-table entry")
	}
	second := v.HandlePacket(99, 0, pkt)
	if second.BackendIndex != first.BackendIndex {
		t.Fatalf("fallback routing must be stable for a fixed flow key, got %d then %d", first.BackendIndex, second.BackendIndex)
	}
}

// TestRebalance_DoesNotDisturbExistingFlows checks that replacing the
// alias table only affects future installs, never an already-assigned
// live flow.
func TestRebalance_DoesNotDisturbExistingFlows(t *testing.T) {
	v := newTestVIP(t)
	d := v.HandlePacket(42, 0, tcpstate.Packet{TimeNow: 0, TCPFlag: tcpstate.FlagSYN, SrcIP: 1, SrcPort: 1})
	backend := d.BackendIndex

	if err := v.Rebalance([]float64{0, 1}); err != nil {
		t.Fatalf("Rebalance: %v", err)
	}

	again := v.HandlePacket(42, 0, tcpstate.Packet{TimeNow: 0.01, TCPAck: 1, SrcIP: 1, SrcPort: 1, TCPFlag: tcpstate.FlagACK})
	if again.BackendIndex != backend {
		t.Fatalf("rebalancing must not move an already-installed flow: got %d, want %d", again.BackendIndex, backend)
	}
}
