package shm

import "testing"

func TestRegion_CreateOpenRoundTrip(t *testing.T) {
	owner, err := CreateRegion("lbflow_test_region_roundtrip")
	if err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	defer owner.Close()

	*owner.NAs() = 7
	owner.RefLB().T0 = 1234
	owner.RefAS(3).T0ECR = 55

	reader, err := OpenRegion("lbflow_test_region_roundtrip")
	if err != nil {
		t.Fatalf("OpenRegion: %v", err)
	}
	defer reader.Close()

	if *reader.NAs() != 7 {
		t.Fatalf("NAs = %d, want 7", *reader.NAs())
	}
	if reader.RefLB().T0 != 1234 {
		t.Fatalf("RefLB().T0 = %d, want 1234", reader.RefLB().T0)
	}
	if reader.RefAS(3).T0ECR != 55 {
		t.Fatalf("RefAS(3).T0ECR = %d, want 55", reader.RefAS(3).T0ECR)
	}
}

func TestRegion_PerBackendSlotsAreIndependent(t *testing.T) {
	r, err := CreateRegion("lbflow_test_region_slots")
	if err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	defer r.Close()

	for i := 0; i < ASMax; i++ {
		r.RefAS(i).T0ECR = uint32(i)
	}
	for i := 0; i < ASMax; i++ {
		if got := r.RefAS(i).T0ECR; got != uint32(i) {
			t.Fatalf("RefAS(%d).T0ECR = %d, want %d", i, got, i)
		}
	}
}

func TestRegion_MsgOutFramesAreIndependent(t *testing.T) {
	r, err := CreateRegion("lbflow_test_region_frames")
	if err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	defer r.Close()

	for i := 0; i < RingDepth; i++ {
		r.MsgOutFrame(i).ID = uint32(100 + i)
	}
	for i := 0; i < RingDepth; i++ {
		if got := r.MsgOutFrame(i).ID; got != uint32(100+i) {
			t.Fatalf("MsgOutFrame(%d).ID = %d, want %d", i, got, 100+i)
		}
	}
}
