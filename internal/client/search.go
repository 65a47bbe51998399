// Package client implements the rate-search controller: the client side
// of a pps measurement, iteratively driving flows of increasing rate
// until the loss rate stalls progress, then inferring per-packet
// overhead from two such searches at different payload sizes.
package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/qosmap/ppsprobe/internal/control"
	"github.com/qosmap/ppsprobe/internal/flow"
	"github.com/qosmap/ppsprobe/internal/seq"
)

// searchStagnantLimit is the number of consecutive non-improving
// iterations the search tolerates before it concludes.
const searchStagnantLimit = 3

// Progress describes one completed rate-search iteration, for callers
// that want to surface intermediate state (e.g. over a websocket).
type Progress struct {
	Iteration int
	PPS       uint32
	PassedPPS uint32
	LostPPS   uint32
	Highest   uint32
	Stagnant  int
}

// ProgressFunc is invoked once per search iteration. It may be nil.
type ProgressFunc func(Progress)

// SearchConfig parameterizes one rate search at a fixed payload size.
type SearchConfig struct {
	ServerAddr  string // control-connection address, host:port
	PayloadLen  int
	Duration    time.Duration
	StartPPS    uint32
	OnProgress  ProgressFunc
	Logger      *zap.Logger
}

// Search runs the rate-search controller loop against a single control
// connection and returns the highest sustained pps it found.
func Search(ctx context.Context, cfg SearchConfig) (uint32, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.StartPPS == 0 {
		cfg.StartPPS = 1000
	}
	if cfg.Duration == 0 {
		cfg.Duration = 3 * time.Second
	}

	nc, err := net.Dial("tcp", cfg.ServerAddr)
	if err != nil {
		return 0, fmt.Errorf("client: dial control connection: %w", err)
	}
	defer nc.Close()
	conn := control.NewConn(nc)

	pps := cfg.StartPPS
	var highest uint32
	stagnant := 0
	iteration := 0

	for {
		select {
		case <-ctx.Done():
			return highest, ctx.Err()
		default:
		}

		rep, err := runOneFlow(conn, cfg.ServerAddr, pps, cfg.PayloadLen, cfg.Duration, cfg.Logger)
		if err != nil {
			return highest, err
		}
		iteration++

		durationSecs := cfg.Duration.Seconds()
		missingSum := uint64(0)
		for _, r := range rep.Missing {
			missingSum += uint64(r.Hi-r.Lo) + 1
		}
		lostPPS := uint32(math.Ceil(float64(missingSum) / durationSecs))
		passed := rep.Count - rep.Dups
		passedPPS := uint32(math.Ceil(float64(passed) / durationSecs))

		if passedPPS > highest || lostPPS == 0 {
			highest = passedPPS
			pps = 2 * passedPPS
			stagnant = 0
		} else {
			stagnant++
			pps = passedPPS + uint32(math.Ceil(float64(lostPPS+1)/2))
		}

		if cfg.OnProgress != nil {
			cfg.OnProgress(Progress{
				Iteration: iteration,
				PPS:       pps,
				PassedPPS: passedPPS,
				LostPPS:   lostPPS,
				Highest:   highest,
				Stagnant:  stagnant,
			})
		}

		if stagnant >= searchStagnantLimit {
			return highest, nil
		}
	}
}

// runOneFlow drives a single request/transmit/terminate cycle and returns
// the server's report.
func runOneFlow(conn *control.Conn, serverAddr string, pps uint32, payloadLen int, duration time.Duration, logger *zap.Logger) (seq.Report32, error) {
	if err := conn.Send(control.RequestFlow()); err != nil {
		return seq.Report32{}, fmt.Errorf("client: send RequestFlow: %w", err)
	}
	msg, err := conn.Recv()
	if err != nil {
		return seq.Report32{}, fmt.Errorf("client: recv ExpectFlow: %w", err)
	}
	if msg.Kind != control.KindExpectFlow {
		return seq.Report32{}, fmt.Errorf("client: expected ExpectFlow, got %v", msg.Kind)
	}
	port := msg.Port

	host, _, err := net.SplitHostPort(serverAddr)
	if err != nil {
		host = serverAddr
	}
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return seq.Report32{}, fmt.Errorf("client: resolve flow addr: %w", err)
	}
	sender, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return seq.Report32{}, fmt.Errorf("client: dial flow socket: %w", err)
	}
	defer sender.Close()

	sequencer := seq.NewSequencer32()
	fl, err := flow.New(flow.Spec{
		PPS:        pps,
		PayloadLen: payloadLen,
		Duration:   duration,
		Conn:       sender,
		Fill: func(buf []byte) ([]byte, error) {
			binary.BigEndian.PutUint32(buf[:4], sequencer.Next())
			return buf, nil
		},
	})
	if err != nil {
		return seq.Report32{}, fmt.Errorf("client: build flow: %w", err)
	}

	underruns, err := fl.Run()
	if err != nil {
		return seq.Report32{}, fmt.Errorf("client: flow transmit: %w", err)
	}
	if underruns != 0 {
		return seq.Report32{}, fmt.Errorf("client: %d pacing underruns at %d pps, rate unachievable by this host", underruns, pps)
	}

	if err := conn.Send(control.TerminateFlow(port)); err != nil {
		return seq.Report32{}, fmt.Errorf("client: send TerminateFlow: %w", err)
	}
	rep, err := conn.Recv()
	if err != nil {
		return seq.Report32{}, fmt.Errorf("client: recv Report: %w", err)
	}
	if rep.Kind != control.KindReport {
		return seq.Report32{}, fmt.Errorf("client: expected Report, got %v", rep.Kind)
	}
	logger.Debug("flow iteration complete",
		zap.Uint32("pps", pps),
		zap.Uint64("count", rep.Report.Count),
		zap.Uint64("dups", rep.Report.Dups),
		zap.Int("missing_ranges", len(rep.Report.Missing)))
	return rep.Report, nil
}

// Overhead computes per-packet framing overhead and gross link capacity
// from peak pps measured at two distinct payload sizes, per the two-point
// linear model: each packet costs L+overhead bits of the same bottleneck
// capacity.
func Overhead(pps0 uint32, l0 int, pps1 uint32, l1 int) (overhead float64, grossRate float64, err error) {
	if l0 >= l1 {
		return 0, 0, fmt.Errorf("client: payload sizes must satisfy l0 < l1, got %d, %d", l0, l1)
	}
	if pps0 == pps1 {
		return 0, 0, fmt.Errorf("client: pps0 and pps1 must differ to solve the linear model")
	}
	p0, p1 := float64(pps0), float64(pps1)
	L0, L1 := float64(l0), float64(l1)

	overhead = (p1*L1 - p0*L0) / (p0 - p1)
	gross0 := p0 * (L0 + overhead)
	gross1 := p1 * (L1 + overhead)
	grossRate = math.Min(gross0, gross1)
	return overhead, grossRate, nil
}
