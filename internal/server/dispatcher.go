// Package server implements the control-connection side of a pps-probe
// server: an accept loop that hands each connection its own goroutine,
// and per-connection handling of RequestFlow/TerminateFlow that spawns
// and joins worker.Handles.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/qosmap/ppsprobe/internal/control"
	"github.com/qosmap/ppsprobe/internal/metrics"
	"github.com/qosmap/ppsprobe/internal/report"
	"github.com/qosmap/ppsprobe/internal/worker"
	"github.com/qosmap/ppsprobe/pkg/guuid"
)

// Config configures a Dispatcher.
type Config struct {
	// ListenAddr is the TCP control-connection listen address.
	ListenAddr string
	// WorkerBindAddr is the local address flow workers bind their
	// ephemeral UDP sockets on, e.g. "0.0.0.0" or "[::]".
	WorkerBindAddr string
	// IdleTimeout is passed through to worker.Start; zero means
	// worker.DefaultIdleTimeout.
	IdleTimeout time.Duration
	// AcceptRate and AcceptBurst bound the rate of new control
	// connections. Zero AcceptRate disables limiting.
	AcceptRate  float64
	AcceptBurst int

	Store   report.Store
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Dispatcher accepts control connections and dispatches flow lifecycle
// messages on each to the worker package.
type Dispatcher struct {
	cfg     Config
	logger  *zap.Logger
	limiter *rate.Limiter
}

// New constructs a Dispatcher from cfg, filling in defaults.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Store == nil {
		cfg.Store = report.NewMemoryStore(0)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}

	return &Dispatcher{cfg: cfg, logger: cfg.Logger, limiter: limiter}
}

// Serve listens on cfg.ListenAddr and blocks, accepting control
// connections until ctx is cancelled or the listener fails. Each
// accepted connection is handled on its own goroutine.
func (d *Dispatcher) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	d.logger.Info("control listener started", zap.String("addr", ln.Addr().String()))

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				wg.Wait()
				return nil
			default:
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		if d.limiter != nil && !d.limiter.Allow() {
			d.cfg.Metrics.ControlConnectionsTotal.WithLabelValues("throttled").Inc()
			conn.Close()
			continue
		}
		d.cfg.Metrics.ControlConnectionsTotal.WithLabelValues("accepted").Inc()

		wg.Add(1)
		go func() {
			defer wg.Done()
			d.handleConn(conn)
		}()
	}
}

// handleConn owns one control connection for its whole lifetime: it reads
// messages in order, spawning and terminating flow workers as directed,
// until the peer closes the stream or sends something malformed.
func (d *Dispatcher) handleConn(nc net.Conn) {
	defer nc.Close()
	peer := nc.RemoteAddr().String()
	logger := d.logger.With(zap.String("peer", peer))
	logger.Info("control connection accepted")

	conn := control.NewConn(nc)
	workers := make(map[uint16]*worker.Handle)
	defer func() {
		for port, h := range workers {
			h.Terminate()
			h.Await()
			logger.Warn("terminated orphaned worker on connection close", zap.Uint16("port", port))
		}
	}()

	for {
		msg, err := conn.Recv()
		if err != nil {
			if err == control.ErrPeerClosed {
				logger.Info("control connection closed by peer")
				return
			}
			logger.Error("control connection read failed", zap.Error(err))
			return
		}

		switch msg.Kind {
		case control.KindRequestFlow:
			d.handleRequestFlow(conn, workers, logger)
		case control.KindTerminateFlow:
			d.handleTerminateFlow(conn, workers, msg.Port, logger)
		default:
			logger.Error("unexpected message kind on control connection", zap.Stringer("kind", msg.Kind))
			return
		}
	}
}

func (d *Dispatcher) handleRequestFlow(conn *control.Conn, workers map[uint16]*worker.Handle, logger *zap.Logger) {
	bindAddr := fmt.Sprintf("%s:0", d.cfg.WorkerBindAddr)
	h, err := worker.Start(bindAddr, d.cfg.IdleTimeout, d.logger)
	if err != nil {
		logger.Error("failed to start flow worker", zap.Error(err))
		return
	}
	workers[uint16(h.Port)] = h
	d.cfg.Metrics.FlowsActive.Inc()
	logger.Info("flow worker started", zap.Int("port", h.Port))

	if err := conn.Send(control.ExpectFlow(uint16(h.Port))); err != nil {
		logger.Error("failed to send ExpectFlow", zap.Error(err))
	}
}

func (d *Dispatcher) handleTerminateFlow(conn *control.Conn, workers map[uint16]*worker.Handle, port uint16, logger *zap.Logger) {
	h, ok := workers[port]
	if !ok {
		logger.Error("TerminateFlow for unknown port", zap.Uint16("port", port))
		return
	}
	delete(workers, port)

	h.Terminate()
	res := h.Await()
	d.cfg.Metrics.FlowsActive.Dec()

	outcome := "completed"
	if res.Err != nil {
		outcome = "aborted"
		logger.Error("flow worker ended with error", zap.Int("port", int(port)), zap.Error(res.Err))
	}
	d.cfg.Metrics.FlowsTotal.WithLabelValues(outcome).Inc()
	d.cfg.Metrics.MissingRanges.Observe(float64(len(res.Report.Missing)))

	if id, err := guuid.New(); err == nil {
		stored := report.StoredReport{
			FlowID:     id,
			PayloadLen: 0,
			Report:     res.Report,
			RecordedAt: time.Now(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.cfg.Store.Put(ctx, stored); err != nil {
			logger.Warn("failed to persist report", zap.Error(err))
		}
		cancel()
	}

	if err := conn.Send(control.ReportMessage(res.Report)); err != nil {
		logger.Error("failed to send Report", zap.Error(err))
	}
}
