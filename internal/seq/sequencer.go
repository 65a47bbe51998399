// Package seq implements the sequence-number generator and the wrap-aware
// sequence analyzer (ReSequencer) that together let a receiver summarize
// loss, duplication, and reordering of a 32-bit counter stream in constant
// memory proportional to the number of gaps.
package seq

// Unsigned is any fixed-width unsigned integer type. Arithmetic on these
// types wraps modulo 2^bitwidth in Go, which is exactly the modular
// behavior the sequence analyzer depends on: every comparison and
// subtraction below relies on the compiler wrapping overflow rather than
// trapping it.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Sequencer hands out a monotonically increasing counter that wraps at the
// width of T. It is not safe for concurrent use; callers that need a
// sequence number per outgoing datagram own it from a single goroutine
// (the Flow engine's fill function).
type Sequencer[T Unsigned] struct {
	next T
}

// NewSequencer creates a Sequencer starting at zero.
func NewSequencer[T Unsigned]() *Sequencer[T] {
	return &Sequencer[T]{}
}

// Next returns the current value and advances the counter, wrapping on
// overflow.
func (s *Sequencer[T]) Next() T {
	v := s.next
	s.next++
	return v
}

// Sequencer32 is the wire-compatible 32-bit instantiation used by the Flow
// engine when stamping outgoing datagrams.
type Sequencer32 = Sequencer[uint32]

// NewSequencer32 creates a 32-bit Sequencer.
func NewSequencer32() *Sequencer32 {
	return NewSequencer[uint32]()
}
