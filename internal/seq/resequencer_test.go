package seq

import (
	"encoding/json"
	"math"
	"testing"
)

func ranges(rs []Range[uint32]) [][2]uint32 {
	out := make([][2]uint32, len(rs))
	for i, r := range rs {
		out[i] = [2]uint32{r.Lo, r.Hi}
	}
	return out
}

func assertRanges(t *testing.T, got []Range[uint32], want [][2]uint32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("missing ranges = %v, want %v", ranges(got), want)
	}
	for i, w := range want {
		if got[i].Lo != w[0] || got[i].Hi != w[1] {
			t.Fatalf("missing ranges = %v, want %v", ranges(got), want)
		}
	}
}

func TestReSequencerGap(t *testing.T) {
	rs := NewReSequencer32()
	rs.Track(0)
	rs.Track(2)
	rep := rs.Report()
	assertRanges(t, rep.Missing, [][2]uint32{{1, 1}})
	if rep.Dups != 0 {
		t.Fatalf("dups = %d, want 0", rep.Dups)
	}
}

func TestReSequencerWrapEdge(t *testing.T) {
	rs := NewReSequencer32()
	rs.Track(math.MaxUint32)
	rs.Track(1)
	assertRanges(t, rs.Report().Missing, [][2]uint32{{0, 0}})
}

func TestReSequencerWrapSplit(t *testing.T) {
	rs := NewReSequencer32()
	rs.Track(math.MaxUint32 - 1)
	rs.Track(1)
	assertRanges(t, rs.Report().Missing, [][2]uint32{{math.MaxUint32, math.MaxUint32}, {0, 0}})
}

func TestReSequencerDuplicateOld(t *testing.T) {
	rs := NewReSequencer32()
	rs.Track(2)
	rs.Track(0)
	rep := rs.Report()
	assertRanges(t, rep.Missing, nil)
	if rep.Dups != 1 {
		t.Fatalf("dups = %d, want 1", rep.Dups)
	}
}

func TestReSequencerFillSequence(t *testing.T) {
	rs := NewReSequencer32()
	for _, s := range []uint32{0, 2, 3, 3, 9, 5, 4, 6, 8, 1, 7} {
		rs.Track(s)
	}
	rep := rs.Report()
	assertRanges(t, rep.Missing, nil)
	if rep.Dups != 1 {
		t.Fatalf("dups = %d, want 1", rep.Dups)
	}
	if rep.Count != 11 {
		t.Fatalf("count = %d, want 11", rep.Count)
	}
}

func TestReSequencerContiguousRunHasNoGaps(t *testing.T) {
	rs := NewReSequencer32()
	const start, n = 1000, 500
	for i := 0; i < n; i++ {
		rs.Track(uint32(start + i))
	}
	rep := rs.Report()
	if len(rep.Missing) != 0 {
		t.Fatalf("missing = %v, want empty", ranges(rep.Missing))
	}
	if rep.Dups != 0 {
		t.Fatalf("dups = %d, want 0", rep.Dups)
	}
	if rep.LastSeq != start+n-1 {
		t.Fatalf("last_seq = %d, want %d", rep.LastSeq, start+n-1)
	}
}

func TestReSequencerRangesPairwiseDisjointAndOrdered(t *testing.T) {
	rs := NewReSequencer32()
	// Punch several holes of varying width, never revisit them, so the
	// missing list accumulates distinct, disjoint ranges.
	seqs := []uint32{0, 5, 10, 20, 21, 22, 30}
	for _, s := range seqs {
		rs.Track(s)
	}
	rep := rs.Report()
	for i, r := range rep.Missing {
		if r.Lo > r.Hi {
			t.Fatalf("range %d has lo %d > hi %d", i, r.Lo, r.Hi)
		}
	}
	for i := 0; i < len(rep.Missing); i++ {
		for j := i + 1; j < len(rep.Missing); j++ {
			a, b := rep.Missing[i], rep.Missing[j]
			if a.Lo <= b.Hi && b.Lo <= a.Hi {
				t.Fatalf("ranges %v and %v overlap", a, b)
			}
		}
	}
}

func TestReSequencerCountInvariant(t *testing.T) {
	rs := NewReSequencer32()
	stream := []uint32{0, 2, 3, 3, 9, 5, 4, 6, 8, 1, 7, 100, 100, 50}
	for _, s := range stream {
		rs.Track(s)
	}
	rep := rs.Report()
	distinct := map[uint32]bool{}
	for _, s := range stream {
		distinct[s] = true
	}
	if rep.Dups+uint64(len(distinct)) != uint64(len(stream)) {
		t.Fatalf("dups(%d) + distinct(%d) != total(%d)", rep.Dups, len(distinct), len(stream))
	}
}

func TestReSequencerReportJSONRoundTrip(t *testing.T) {
	rs := NewReSequencer32()
	rs.Track(0)
	rs.Track(2)
	rep := rs.Report()

	data, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Report32
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	assertRanges(t, decoded.Missing, [][2]uint32{{1, 1}})
	if decoded.Count != rep.Count || decoded.Dups != rep.Dups || decoded.LastSeq != rep.LastSeq {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, rep)
	}
}

func TestReSequencerNarrowWidth(t *testing.T) {
	// An 8-bit instantiation exercises the same wrap logic at a much
	// smaller (and exhaustively testable) modulus.
	rs := NewReSequencer[uint8]()
	rs.Track(254)
	rs.Track(0)
	assertRanges8(t, rs.Report().Missing, [][2]uint8{{255, 255}})
}

func assertRanges8(t *testing.T, got []Range[uint8], want [][2]uint8) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("missing ranges = %v, want %v", got, want)
	}
	for i, w := range want {
		if got[i].Lo != w[0] || got[i].Hi != w[1] {
			t.Fatalf("missing ranges = %v, want %v", got, want)
		}
	}
}
