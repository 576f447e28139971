package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Federation FederationConfig `yaml:"federation"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Compaction CompactionConfig `yaml:"compaction"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	TLS     TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// FederationConfig names this server and bounds the outbound queue feeding
// remote destinations.
type FederationConfig struct {
	// ServerName is the domain other servers know us by; it decides which
	// user ids are local (e.g. "example.org" for @alice:example.org).
	ServerName string `yaml:"server_name"`
	// QueueCapacity bounds the in-memory outbound queue (0 = default).
	QueueCapacity int `yaml:"queue_capacity"`
	// Workers is the number of outbound delivery workers (0 = default).
	Workers int `yaml:"workers"`
}

type RateLimitConfig struct {
	// RPS is the sustained per-sender event rate; Burst the allowance.
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// CompactionConfig drives the scheduled state-group dedup scan.
type CompactionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"` // standard 5-field cron; empty = daily 03:00
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
}

// Addr returns the host:port listen address derived from server config.
func (c *Config) Addr() string {
	host := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		if host == "" {
			return ""
		}
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
