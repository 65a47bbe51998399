// Package flow implements the paced packet transmitter: it emits UDP
// datagrams at a requested constant rate for a fixed duration, compensating
// for scheduler jitter via absolute-deadline pacing, and reports transmit
// underruns when the target rate could not be sustained.
package flow

import (
	"fmt"
	"time"
)

// initialPoolSize is the number of pre-allocated payload buffers the pacer
// starts with in the recycled pool (the prepared pool starts empty), and the
// initial capacity of each pool.
const initialPoolSize = 10

// FillFunc stamps an owned buffer with payload content (e.g. a sequence
// number) and returns an owned buffer, possibly the same one. This
// decouples the pacer from payload semantics: the sequence-stamping
// Sequencer lives entirely in the closure's captured state.
type FillFunc func(buf []byte) ([]byte, error)

// Writer is the sending half of a connected socket. *net.UDPConn satisfies
// it.
type Writer interface {
	Write(b []byte) (int, error)
}

// Spec is an immutable description of one paced transmission.
type Spec struct {
	PPS        uint32
	PayloadLen int
	Duration   time.Duration
	Fill       FillFunc
	Conn       Writer
}

// Flow paces datagrams for one Spec. Not safe for concurrent use; a Flow is
// run to completion by a single goroutine.
type Flow struct {
	spec Spec
	gap  time.Duration
}

// New validates spec and builds a Flow.
func New(spec Spec) (*Flow, error) {
	if spec.PPS == 0 {
		return nil, fmt.Errorf("flow: pps must be greater than 0")
	}
	if spec.PayloadLen <= 0 {
		return nil, fmt.Errorf("flow: payload_len must be greater than 0")
	}
	if spec.Duration <= 0 {
		return nil, fmt.Errorf("flow: duration must be greater than 0")
	}
	if spec.Fill == nil {
		return nil, fmt.Errorf("flow: fill function is required")
	}
	if spec.Conn == nil {
		return nil, fmt.Errorf("flow: conn is required")
	}

	gap := time.Second / time.Duration(spec.PPS)
	if gap <= 0 {
		return nil, fmt.Errorf("flow: pps %d exceeds clock resolution", spec.PPS)
	}

	return &Flow{spec: spec, gap: gap}, nil
}

// Run transmits for the Spec's duration and returns the number of
// consecutive underruns observed at the moment the loop exited. A non-zero
// result means the target rate could not be sustained and the whole
// measurement should be treated as invalid by the caller.
//
// Socket send errors and fill-function errors are fatal and propagate
// immediately.
func (f *Flow) Run() (int, error) {
	recycled := newBufferPool(initialPoolSize)
	for i := 0; i < initialPoolSize; i++ {
		recycled.push(make([]byte, f.spec.PayloadLen))
	}
	prepared := newBufferPool(initialPoolSize)

	startedAt := time.Now()
	sleepUntil := startedAt.Add(f.gap)

	underruns := 0
	for time.Since(startedAt) < f.spec.Duration {
		// Prefill phase: build ahead of the next deadline, or block
		// until it arrives if nothing is left to fill.
		for time.Now().Before(sleepUntil) || prepared.empty() {
			buf, ok := recycled.pop()
			if !ok {
				sleepUntilDeadline(sleepUntil)
				continue
			}
			filled, err := f.spec.Fill(buf)
			if err != nil {
				return underruns, fmt.Errorf("flow: fill function: %w", err)
			}
			prepared.push(filled)
		}

		// Drain phase: send everything whose deadline has passed.
		for sleepUntil.Before(time.Now()) {
			buf, ok := prepared.pop()
			if !ok {
				underruns++
				break
			}
			if _, err := f.spec.Conn.Write(buf); err != nil {
				return underruns, fmt.Errorf("flow: send: %w", err)
			}
			recycled.push(buf[:f.spec.PayloadLen])
			underruns = 0
			sleepUntil = sleepUntil.Add(f.gap)
		}
	}

	return underruns, nil
}

// sleepUntilDeadline blocks until d, or returns immediately if d has
// already passed.
func sleepUntilDeadline(d time.Time) {
	if wait := time.Until(d); wait > 0 {
		time.Sleep(wait)
	}
}
