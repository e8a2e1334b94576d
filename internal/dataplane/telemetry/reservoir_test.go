package telemetry

import (
	"math/rand"
	"testing"
)

func TestReservoir_AlwaysFullyPopulated(t *testing.T) {
	var r Reservoir[uint32]
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		r.Sample(rng, float64(i), uint32(i))
	}
	bins := r.Bins()
	if len(bins) != ReservoirBins {
		t.Fatalf("len(bins) = %d, want %d", len(bins), ReservoirBins)
	}
}

func TestReservoir_UniformBinSelection(t *testing.T) {
	var r Reservoir[uint32]
	rng := rand.New(rand.NewSource(7))
	// Sample many times over and check every bin gets hit.
	for i := 0; i < 5000; i++ {
		r.Sample(rng, float64(i+1), uint32(i+1))
	}
	hits := 0
	for _, b := range r.Bins() {
		if b.T != 0 {
			hits++
		}
	}
	if hits < ReservoirBins {
		t.Fatalf("only %d/%d bins observed across 5000 draws, selection looks non-uniform", hits, ReservoirBins)
	}
}

func TestASStat_BumpFlowOn(t *testing.T) {
	s := &ASStat{}
	s.BumpFlowOn(1.0, 1)
	s.BumpFlowOn(1.0, 1)
	if s.NFlowOn != 2 {
		t.Errorf("NFlowOn = %v, want 2 with decay=1.0", s.NFlowOn)
	}

	s2 := &ASStat{NFlowOn: 10}
	s2.BumpFlowOn(0.5, 0)
	if s2.NFlowOn != 5 {
		t.Errorf("NFlowOn = %v, want 5 after 0.5 decay", s2.NFlowOn)
	}
}

func TestASStat_TotalClassifiedNeverExceedsPackets(t *testing.T) {
	s := &ASStat{
		NNormACK: 3, NDpk: 1, NOoo: 2, NRtr: 1, NCls: 1, NFlow: 1, NFCT: 1,
		NPacket: 10,
	}
	if s.TotalClassified() > s.NPacket {
		t.Errorf("TotalClassified() = %d exceeds NPacket = %d", s.TotalClassified(), s.NPacket)
	}
}
