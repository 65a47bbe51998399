// Package config defines pps-probe's on-disk configuration and its
// defaults, loaded as YAML. The --discover, --admin-addr and
// --progress-addr flags take precedence over their file values; the
// positional host and -p/--port are used only when Client.ServerAddr or
// Server.ListenAddr is empty (DefaultConfig sets Server.ListenAddr).
package config

import "time"

// Config is pps-probe's full configuration, for either client or server
// mode; fields irrelevant to the selected mode are ignored.
type Config struct {
	Server   ServerConfig   `yaml:"Server"`
	Client   ClientConfig   `yaml:"Client"`
	Report   ReportConfig   `yaml:"Report"`
	Admin    AdminConfig    `yaml:"Admin"`
	Progress ProgressConfig `yaml:"Progress"`
	Registry RegistryConfig `yaml:"Registry"`
	Log      LogConfig      `yaml:"Log"`
}

// ServerConfig configures the flow dispatcher.
type ServerConfig struct {
	ListenAddr     string        `yaml:"ListenAddr"`
	WorkerBindAddr string        `yaml:"WorkerBindAddr"`
	IdleTimeout    time.Duration `yaml:"IdleTimeout"`
	AcceptRate     float64       `yaml:"AcceptRate"`
	AcceptBurst    int           `yaml:"AcceptBurst"`
}

// ClientConfig configures the rate-search controller.
type ClientConfig struct {
	ServerAddr  string        `yaml:"ServerAddr"`
	Discover    string        `yaml:"Discover"` // service name; overrides ServerAddr when set
	StartPPS    uint32        `yaml:"StartPPS"`
	Duration    time.Duration `yaml:"Duration"`
	PayloadLens []int         `yaml:"PayloadLens"`
}

// ReportConfig selects and configures the report store.
type ReportConfig struct {
	Type        string        `yaml:"Type"` // memory, redis
	MemoryLimit int           `yaml:"MemoryLimit"`
	Redis       RedisConfig   `yaml:"Redis,omitempty"`
	TTL         time.Duration `yaml:"TTL"`
}

// RedisConfig configures the optional Redis report store backend.
type RedisConfig struct {
	Addr     string `yaml:"Addr"`
	Password string `yaml:"Password"`
	DB       int    `yaml:"DB"`
}

// AdminConfig configures the admin HTTP API.
type AdminConfig struct {
	Enable     bool          `yaml:"Enable"`
	ListenAddr string        `yaml:"ListenAddr"`
	JWTSecret  string        `yaml:"JWTSecret"`
	TokenTTL   time.Duration `yaml:"TokenTTL"`
}

// ProgressConfig configures the websocket rate-search progress feed.
type ProgressConfig struct {
	Enable     bool   `yaml:"Enable"`
	ListenAddr string `yaml:"ListenAddr"`
}

// RegistryConfig configures optional etcd-based service registration.
type RegistryConfig struct {
	Enable      bool          `yaml:"Enable"`
	Endpoints   []string      `yaml:"Endpoints"`
	ServiceName string        `yaml:"ServiceName"`
	TTLSeconds  int64         `yaml:"TTLSeconds"`
	DialTimeout time.Duration `yaml:"DialTimeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"` // json, console
}

// DefaultConfig returns pps-probe's baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     "0.0.0.0:7890",
			WorkerBindAddr: "0.0.0.0",
			IdleTimeout:    time.Second,
			AcceptRate:     50,
			AcceptBurst:    10,
		},
		Client: ClientConfig{
			StartPPS:    1000,
			Duration:    3 * time.Second,
			PayloadLens: []int{800, 1200},
		},
		Report: ReportConfig{
			Type:        "memory",
			MemoryLimit: 256,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			TTL: time.Hour,
		},
		Admin: AdminConfig{
			Enable:     true,
			ListenAddr: "0.0.0.0:7891",
			TokenTTL:   time.Hour,
		},
		Progress: ProgressConfig{
			Enable:     true,
			ListenAddr: "0.0.0.0:7892",
		},
		Registry: RegistryConfig{
			Enable:      false,
			ServiceName: "ppsprobe-server",
			TTLSeconds:  10,
			DialTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
