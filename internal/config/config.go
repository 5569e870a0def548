package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "NETREPL_CONFIG"

// DefaultPath is used when EnvPath is unset.
const DefaultPath = "config/node.toml"

type Config struct {
	Node      NodeConfig      `toml:"node"`
	Network   NetworkConfig   `toml:"network"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Journal   JournalConfig   `toml:"journal"`
	Content   ContentConfig   `toml:"content"`
	Logging   LoggingConfig   `toml:"logging"`
}

type NodeConfig struct {
	Name string `toml:"name"`
	Mode string `toml:"mode"` // "server" or "client"
	// SpawnTemplates are instantiated and spawned by a server at boot.
	SpawnTemplates []string `toml:"spawn_templates"`
	StartTime      int64    // set at boot, not from config
}

type NetworkConfig struct {
	BindAddress       string        `toml:"bind_address"`
	WSBindAddress     string        `toml:"ws_bind_address"` // empty disables WebSocket ingress
	ServerAddress     string        `toml:"server_address"`
	TickRate          time.Duration `toml:"tick_rate"`
	InQueueSize       int           `toml:"in_queue_size"`
	OutQueueSize      int           `toml:"out_queue_size"`
	MaxPacketsPerTick int           `toml:"max_packets_per_tick"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
	ReadTimeout       time.Duration `toml:"read_timeout"`
	HandshakeTimeout  time.Duration `toml:"handshake_timeout"`
	CompressThreshold int           `toml:"compress_threshold"` // 0 disables lz4
	JoinSecret        string        `toml:"join_secret"`        // sent by clients
	JoinSecretHash    string        `toml:"join_secret_hash"`   // bcrypt, checked by servers
}

type RateLimitConfig struct {
	Enabled          bool    `toml:"enabled"`
	PacketsPerSecond float64 `toml:"packets_per_second"`
	Burst            int     `toml:"burst"`
}

type JournalConfig struct {
	Enabled         bool          `toml:"enabled"`
	Driver          string        `toml:"driver"` // "postgres" or "sqlite"
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	FlushInterval   time.Duration `toml:"flush_interval"`
	MaxPending      int           `toml:"max_pending"`
}

type ContentConfig struct {
	TypesPath     string `toml:"types_path"`
	TemplatesPath string `toml:"templates_path"`
	ScriptsDir    string `toml:"scripts_dir"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Path returns the config path from the environment or DefaultPath.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Node.StartTime = time.Now().Unix()
	return cfg, nil
}

func (c *Config) validate() error {
	c.Node.Mode = strings.ToLower(c.Node.Mode)
	switch c.Node.Mode {
	case "server", "client":
	default:
		return fmt.Errorf("node.mode must be server or client, got %q", c.Node.Mode)
	}
	if c.Network.TickRate <= 0 {
		return fmt.Errorf("network.tick_rate must be positive")
	}
	if c.Journal.Enabled {
		switch c.Journal.Driver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("journal.driver must be postgres or sqlite, got %q", c.Journal.Driver)
		}
	}
	return nil
}

// IsServer reports whether the node hosts the session.
func (c *Config) IsServer() bool {
	return c.Node.Mode == "server"
}

func defaults() *Config {
	return &Config{
		Node: NodeConfig{
			Name: "netrepl",
			Mode: "server",
		},
		Network: NetworkConfig{
			BindAddress:       "0.0.0.0:7400",
			ServerAddress:     "127.0.0.1:7400",
			TickRate:          50 * time.Millisecond,
			InQueueSize:       128,
			OutQueueSize:      256,
			MaxPacketsPerTick: 32,
			WriteTimeout:      10 * time.Second,
			ReadTimeout:       60 * time.Second,
			HandshakeTimeout:  5 * time.Second,
			CompressThreshold: 256,
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			PacketsPerSecond: 200,
			Burst:            400,
		},
		Journal: JournalConfig{
			Driver:          "sqlite",
			DSN:             "file:netrepl.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			FlushInterval:   time.Second,
			MaxPending:      4096,
		},
		Content: ContentConfig{
			TypesPath:     "content/types.yaml",
			TemplatesPath: "content/templates.yaml",
			ScriptsDir:    "scripts",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
