package client

import (
	"math"
	"testing"
)

func TestOverheadTwoPointModel(t *testing.T) {
	// A link with a 20-byte per-packet overhead and a gross capacity of
	// 1,000,000 bytes/s: pps * (L + 20) == 1_000_000.
	const trueOverhead = 20.0
	const grossBits = 1_000_000.0
	l0, l1 := 800, 1200
	pps0 := uint32(grossBits / (float64(l0) + trueOverhead))
	pps1 := uint32(grossBits / (float64(l1) + trueOverhead))

	overhead, gross, err := Overhead(pps0, l0, pps1, l1)
	if err != nil {
		t.Fatalf("Overhead: %v", err)
	}
	if math.Abs(overhead-trueOverhead) > 1.0 {
		t.Fatalf("overhead = %f, want ~%f", overhead, trueOverhead)
	}
	if math.Abs(gross-grossBits) > grossBits*0.01 {
		t.Fatalf("gross = %f, want ~%f", gross, grossBits)
	}
}

func TestOverheadRejectsEqualPayloadSizes(t *testing.T) {
	if _, _, err := Overhead(1000, 800, 900, 800); err == nil {
		t.Fatal("expected error when l0 == l1")
	}
}

func TestOverheadRejectsEqualPPS(t *testing.T) {
	if _, _, err := Overhead(1000, 800, 1000, 1200); err == nil {
		t.Fatal("expected error when pps0 == pps1")
	}
}
