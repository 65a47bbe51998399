// Command ppsprobe measures the maximum sustainable packets-per-second
// rate and effective line-rate overhead between two endpoints on an IP
// network, in either client or server mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	"github.com/qosmap/ppsprobe/cmd/ppsprobe/config"
	"github.com/qosmap/ppsprobe/internal/adminapi"
	ppsclient "github.com/qosmap/ppsprobe/internal/client"
	"github.com/qosmap/ppsprobe/internal/metrics"
	"github.com/qosmap/ppsprobe/internal/progress"
	"github.com/qosmap/ppsprobe/internal/registry"
	"github.com/qosmap/ppsprobe/internal/report"
	"github.com/qosmap/ppsprobe/internal/server"
)

type flags struct {
	server       bool
	port         uint
	rate         uint
	duration     uint
	configFile   string
	discover     string
	adminAddr    string
	progressAddr string
}

func parseFlags() flags {
	var f flags
	flag.BoolVar(&f.server, "s", false, "run in server mode")
	flag.BoolVar(&f.server, "server", false, "run in server mode")
	flag.UintVar(&f.port, "p", 4801, "TCP control port")
	flag.UintVar(&f.port, "port", 4801, "TCP control port")
	flag.UintVar(&f.rate, "r", 1000, "legacy fixed-rate option, single-flow mode only")
	flag.UintVar(&f.rate, "rate", 1000, "legacy fixed-rate option, single-flow mode only")
	flag.UintVar(&f.duration, "d", 1, "legacy single-flow duration in seconds")
	flag.UintVar(&f.duration, "duration", 1, "legacy single-flow duration in seconds")
	flag.StringVar(&f.configFile, "c", "", "path to a YAML config file")
	flag.StringVar(&f.configFile, "config", "", "path to a YAML config file")
	flag.StringVar(&f.discover, "discover", "", "resolve the server address via etcd under this service name, instead of the host positional argument")
	flag.StringVar(&f.adminAddr, "admin-addr", "", "enable the admin HTTP API on this address (server mode)")
	flag.StringVar(&f.progressAddr, "progress-addr", "", "enable the rate-search progress websocket on this address (client mode)")
	flag.Parse()
	return f
}

const version = "0.1.0"

func main() {
	f := parseFlags()

	cfg, err := loadConfig(f.configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	applyOverrides(cfg, f)

	logger, err := newLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting pps-probe", zap.String("version", version), zap.Bool("server_mode", f.server))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if f.server {
		if err := runServer(ctx, cfg, f, logger); err != nil {
			logger.Fatal("server exited with error", zap.Error(err))
		}
		return
	}

	if cfg.Client.ServerAddr == "" && f.discover == "" && cfg.Client.Discover == "" && flag.NArg() < 1 {
		logger.Fatal("client mode requires a host argument, --discover, or Client.ServerAddr in config")
	}
	if err := runClient(ctx, cfg, f, logger); err != nil {
		logger.Fatal("client exited with error", zap.Error(err))
	}
}

func runServer(ctx context.Context, cfg *config.Config, f flags, logger *zap.Logger) error {
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	store, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("build report store: %w", err)
	}

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("0.0.0.0:%d", f.port)
	}

	dispatcher := server.New(server.Config{
		ListenAddr:     listenAddr,
		WorkerBindAddr: cfg.Server.WorkerBindAddr,
		IdleTimeout:    cfg.Server.IdleTimeout,
		AcceptRate:     cfg.Server.AcceptRate,
		AcceptBurst:    cfg.Server.AcceptBurst,
		Store:          store,
		Metrics:        m,
		Logger:         logger,
	})

	if addr := firstNonEmpty(f.adminAddr, cfg.Admin.ListenAddr); addr != "" && cfg.Admin.Enable {
		admin := adminapi.NewServer(store, adminapi.NewTokenIssuer(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL, "ppsprobe-admin"), logger)
		srv := &http.Server{Addr: addr, Handler: admin.Handler(promReg)}
		go serveAndLog(ctx, srv, "admin API", logger)
	}

	if cfg.Registry.Enable {
		reg, err := registry.New(registry.Config{Endpoints: cfg.Registry.Endpoints, DialTimeout: cfg.Registry.DialTimeout}, logger)
		if err != nil {
			logger.Error("failed to connect to etcd, continuing without registration", zap.Error(err))
		} else {
			defer reg.Close()
			if err := reg.Register(ctx, cfg.Registry.ServiceName, listenAddr, cfg.Registry.TTLSeconds); err != nil {
				logger.Error("failed to register in etcd", zap.Error(err))
			}
		}
	}

	return dispatcher.Serve(ctx)
}

func runClient(ctx context.Context, cfg *config.Config, f flags, logger *zap.Logger) error {
	serverAddr := cfg.Client.ServerAddr
	if serverAddr == "" && flag.NArg() >= 1 {
		serverAddr = fmt.Sprintf("%s:%d", flag.Arg(0), f.port)
	}

	if svc := firstNonEmpty(f.discover, cfg.Client.Discover); svc != "" {
		reg, err := registry.New(registry.Config{Endpoints: cfg.Registry.Endpoints, DialTimeout: cfg.Registry.DialTimeout}, logger)
		if err != nil {
			return fmt.Errorf("connect to etcd for discovery: %w", err)
		}
		defer reg.Close()
		addrs, err := reg.Resolve(ctx, svc)
		if err != nil {
			return fmt.Errorf("resolve service %q: %w", svc, err)
		}
		serverAddr = addrs[0]
	}

	var hub *progress.Hub
	if addr := firstNonEmpty(f.progressAddr, cfg.Progress.ListenAddr); addr != "" && cfg.Progress.Enable {
		hub = progress.NewHub(logger)
		srv := &http.Server{Addr: addr, Handler: hub}
		go serveAndLog(ctx, srv, "progress feed", logger)
	}

	payloadLens := cfg.Client.PayloadLens
	if len(payloadLens) < 2 {
		payloadLens = []int{800, 1200}
	}

	peaks := make([]uint32, 0, len(payloadLens))
	for _, l := range payloadLens {
		label := fmt.Sprintf("payload-%d", l)
		peak, err := ppsclient.Search(ctx, ppsclient.SearchConfig{
			ServerAddr: serverAddr,
			PayloadLen: l,
			Duration:   cfg.Client.Duration,
			StartPPS:   cfg.Client.StartPPS,
			Logger:     logger,
			OnProgress: func(p ppsclient.Progress) {
				logger.Info("rate search iteration", zap.Int("payload_len", l), zap.Any("progress", p))
				if hub != nil {
					hub.Broadcast(progress.Event{FlowLabel: label, Progress: p})
				}
			},
		})
		if err != nil {
			return fmt.Errorf("rate search at payload_len=%d: %w", l, err)
		}
		logger.Info("peak pps found", zap.Int("payload_len", l), zap.Uint32("pps", peak))
		peaks = append(peaks, peak)
	}

	if len(peaks) >= 2 {
		overhead, gross, err := ppsclient.Overhead(peaks[0], payloadLens[0], peaks[1], payloadLens[1])
		if err != nil {
			logger.Warn("failed to compute overhead", zap.Error(err))
		} else {
			logger.Info("measurement complete",
				zap.Float64("overhead_bytes", overhead),
				zap.Float64("gross_rate_bps", gross*8))
		}
	}
	return nil
}

func buildStore(cfg *config.Config, logger *zap.Logger) (report.Store, error) {
	switch cfg.Report.Type {
	case "", "memory":
		return report.NewMemoryStore(cfg.Report.MemoryLimit), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Report.Redis.Addr,
			Password: cfg.Report.Redis.Password,
			DB:       cfg.Report.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return report.NewRedisStore(report.RedisStoreConfig{Client: client, Logger: logger, TTL: cfg.Report.TTL})
	default:
		return nil, fmt.Errorf("unsupported report store type %q", cfg.Report.Type)
	}
}

// serveAndLog runs an HTTP server until ctx is cancelled, logging an error
// only on a genuine listen failure, not on the expected Shutdown-induced
// close.
func serveAndLog(ctx context.Context, srv *http.Server, name string, logger *zap.Logger) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(name+" listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(name+" stopped with error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, f flags) {
	if cfg.Admin.JWTSecret == "" {
		cfg.Admin.JWTSecret = os.Getenv("PPSPROBE_ADMIN_SECRET")
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
