package seq

import "encoding/json"

// Range is an inclusive, non-wrapping pair (lo, hi) of sequence numbers
// still missing from the observed stream. A wrap-around gap is represented
// as two Ranges rather than one wrapping Range, which keeps every
// comparison in ReSequencer a plain unsigned less-than-or-equal.
//
// Range marshals to the wire as a two-element JSON array, e.g. [100,105],
// matching the canonical control-channel encoding.
type Range[T Unsigned] struct {
	Lo T
	Hi T
}

// MarshalJSON encodes the range as [lo, hi].
func (r Range[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]T{r.Lo, r.Hi})
}

// UnmarshalJSON decodes a [lo, hi] array.
func (r *Range[T]) UnmarshalJSON(data []byte) error {
	var pair [2]T
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	r.Lo, r.Hi = pair[0], pair[1]
	return nil
}

// Report summarizes a ReSequencer's view of a finished flow: the last
// sequence number observed, the ranges still missing, the duplicate count,
// and the total number of observations folded in.
type Report[T Unsigned] struct {
	LastSeq T         `json:"last_seq"`
	Missing []Range[T] `json:"missing"`
	Dups    uint64     `json:"dups"`
	Count   uint64     `json:"cnt"`
}

// Report32 is the wire-compatible instantiation carried in control-channel
// Report messages.
type Report32 = Report[uint32]

// ReSequencer folds a stream of observed sequence numbers into a Report:
// it tracks the highest sequence number seen so far and the list of ranges
// still missing below it, detecting duplicates even across modular wrap.
//
// Not safe for concurrent use — one ReSequencer belongs to one flow worker,
// which is the only goroutine that calls Track.
type ReSequencer[T Unsigned] struct {
	have    bool
	last    T
	missing []Range[T]
	dups    uint64
	count   uint64
}

// NewReSequencer creates an empty ReSequencer.
func NewReSequencer[T Unsigned]() *ReSequencer[T] {
	return &ReSequencer[T]{}
}

// NewReSequencer32 creates the wire-compatible 32-bit instantiation.
func NewReSequencer32() *ReSequencer[uint32] {
	return NewReSequencer[uint32]()
}

// Track folds one observed sequence number into the analyzer's state.
func (rs *ReSequencer[T]) Track(seq T) {
	rs.count++

	// 1. Bootstrap: the first observation sets the baseline and is never
	// considered missing or duplicate.
	if !rs.have {
		rs.have = true
		rs.last = seq
		return
	}

	expected := rs.last + 1

	// 2/3. In-order: the common case, advances last and returns.
	if seq == expected {
		rs.last = seq
		return
	}

	// 4. Fill-in lookup: does this number land inside a known gap?
	if rs.fillGap(seq) {
		return
	}

	// 5. Not found: disambiguate a past retransmission from a forward
	// jump using the half-window rule. d is the forward distance from
	// expected to seq; doubling it and checking for wraparound is
	// equivalent to testing d >= 2^(width-1) without needing to know the
	// bit width of T explicitly — Go's unsigned arithmetic wraps at T's
	// own width.
	d := seq - expected
	if doubled := d * 2; doubled < d {
		rs.dups++
		return
	}

	if expected <= seq {
		rs.missing = append(rs.missing, Range[T]{Lo: expected, Hi: seq - 1})
	} else {
		rs.missing = append(rs.missing, Range[T]{Lo: expected, Hi: ^T(0)})
		if seq != 0 {
			rs.missing = append(rs.missing, Range[T]{Lo: 0, Hi: seq - 1})
		}
	}
	rs.last = seq
}

// fillGap scans the missing list in order for a range containing seq,
// updates it (delete, shrink, or split), and reports whether it found one.
func (rs *ReSequencer[T]) fillGap(seq T) bool {
	for i := range rs.missing {
		r := rs.missing[i]
		if seq < r.Lo || seq > r.Hi {
			continue
		}

		switch {
		case r.Lo == r.Hi:
			rs.missing = append(rs.missing[:i], rs.missing[i+1:]...)
		case seq == r.Lo:
			rs.missing[i].Lo++
		case seq == r.Hi:
			rs.missing[i].Hi--
		default:
			left := Range[T]{Lo: r.Lo, Hi: seq - 1}
			right := Range[T]{Lo: seq + 1, Hi: r.Hi}
			rs.missing = append(rs.missing, Range[T]{})
			copy(rs.missing[i+2:], rs.missing[i+1:])
			rs.missing[i] = left
			rs.missing[i+1] = right
		}
		return true
	}
	return false
}

// Report returns a snapshot of the analyzer's current state. The returned
// Missing slice is owned by the caller; further Track calls do not mutate
// it.
func (rs *ReSequencer[T]) Report() Report[T] {
	missing := make([]Range[T], len(rs.missing))
	copy(missing, rs.missing)
	return Report[T]{
		LastSeq: rs.last,
		Missing: missing,
		Dups:    rs.dups,
		Count:   rs.count,
	}
}
