// Package worker implements the server-side flow worker: one per inbound
// flow, it binds an ephemeral UDP port, receives datagrams until an
// explicit termination signal (checked at each idle timeout), and hands
// back a sequence report. An idle timeout alone does not end the worker.
package worker

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/qosmap/ppsprobe/internal/seq"
)

// maxDatagram is large enough to hold any UDP payload a Flow can send.
const maxDatagram = 65535

// DefaultIdleTimeout is the read-timeout used between receive polls. It is
// a heuristic tuned to the client's multi-second measurement window (see
// DESIGN.md); Start accepts an override for callers that need a different
// value.
const DefaultIdleTimeout = 1 * time.Second

// Result is delivered on a Handle's output once the worker's receive loop
// has ended.
type Result struct {
	Report seq.Report32
	Err    error
}

// Handle is a running flow worker: an input channel for the termination
// signal, an output channel for the Result, and the UDP port it bound.
type Handle struct {
	Port int

	terminate chan struct{}
	result    chan Result
}

// Start binds an ephemeral UDP port on localAddr (e.g. "[::]:0") and begins
// receiving in a new goroutine. The returned Handle reports the bound port
// immediately; the caller is expected to announce it via ExpectFlow.
func Start(localAddr string, idleTimeout time.Duration, logger *zap.Logger) (*Handle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("worker: resolve %q: %w", localAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("worker: listen: %w", err)
	}

	h := &Handle{
		Port:      conn.LocalAddr().(*net.UDPAddr).Port,
		terminate: make(chan struct{}, 1),
		result:    make(chan Result, 1),
	}

	go h.run(conn, idleTimeout, logger)
	return h, nil
}

// Terminate signals the worker to stop at its next idle-timeout poll. Safe
// to call more than once.
func (h *Handle) Terminate() {
	select {
	case h.terminate <- struct{}{}:
	default:
	}
}

// Await blocks until the worker's receive loop has ended and returns its
// Result. This is the synchronous join described in the spec: the caller
// does not proceed (e.g. does not forward a Report on the control stream)
// until Await returns.
func (h *Handle) Await() Result {
	return <-h.result
}

func (h *Handle) run(conn *net.UDPConn, idleTimeout time.Duration, logger *zap.Logger) {
	defer conn.Close()

	rs := seq.NewReSequencer32()
	buf := make([]byte, maxDatagram)

	// Block until at least one datagram arrives before starting the
	// idle-timeout clock; a flow that never sends anything should not
	// spuriously time out before the sender has even started.
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		h.result <- Result{Err: fmt.Errorf("worker: initial receive: %w", err)}
		return
	}
	trackDatagram(rs, buf[:n], logger)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			h.result <- Result{Err: fmt.Errorf("worker: set deadline: %w", err)}
			return
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-h.terminate:
					h.result <- Result{Report: rs.Report()}
					return
				default:
					continue
				}
			}
			h.result <- Result{Report: rs.Report(), Err: fmt.Errorf("worker: receive: %w", err)}
			return
		}
		trackDatagram(rs, buf[:n], logger)
	}
}

// trackDatagram extracts the big-endian sequence-number prefix from a flow
// datagram and folds it into rs. Short datagrams are logged and dropped
// rather than treated as fatal — a single corrupt packet should not end
// the whole measurement.
func trackDatagram(rs *seq.ReSequencer32, payload []byte, logger *zap.Logger) {
	if len(payload) < 4 {
		logger.Warn("dropping short flow datagram", zap.Int("len", len(payload)))
		return
	}
	rs.Track(binary.BigEndian.Uint32(payload[:4]))
}
