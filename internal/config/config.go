// Package config loads process configuration from AIRTRANS_-prefixed
// environment variables, with defaults matching a sane single-host
// setup.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the tunables loaded from the environment; each envconfig
// tag NAME maps to an AIRTRANS_<NAME> variable. cmd/airtransd applies the
// API address, session directory, part limits, checksum algorithm,
// discovery port, multicast switch and parity shard count. The other
// fields are loaded and validated but not read by either command, and
// cmd/airtrans does not load Config at all.
type Config struct {
	APIHost string `envconfig:"API_HOST" default:"0.0.0.0"`
	APIPort int    `envconfig:"API_PORT" default:"8000"`

	BasePort        int `envconfig:"BASE_PORT" default:"5001"`
	MaxParts        int `envconfig:"MAX_PARTS" default:"32"`
	DefaultNumParts int `envconfig:"NUM_PARTS" default:"8"`

	TransferTimeoutSeconds int `envconfig:"TIMEOUT" default:"300"`
	ConnectTimeoutSeconds  int `envconfig:"CONN_TIMEOUT" default:"10"`

	TempDir     string `envconfig:"TEMP_DIR" default:"/tmp/airtrans"`
	DownloadDir string `envconfig:"DOWNLOAD_DIR" default:"./received"`
	SessionDir  string `envconfig:"SESSION_DIR" default:"./sessions"`

	EnableCompression bool `envconfig:"COMPRESSION" default:"false"`

	ChecksumAlgorithm string `envconfig:"CHECKSUM" default:"sha256"`

	DiscoveryPort      int  `envconfig:"DISCOVERY_PORT" default:"37020"`
	DiscoveryInterval  int  `envconfig:"DISCOVERY_INTERVAL" default:"5"`
	PeerTimeoutSeconds int  `envconfig:"PEER_TIMEOUT" default:"30"`
	UseMulticast       bool `envconfig:"MULTICAST" default:"false"`

	MaxRetries int `envconfig:"MAX_RETRIES" default:"3"`

	ParityShards int `envconfig:"PARITY_SHARDS" default:"0"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads Config from the environment, applying the AIRTRANS_ prefix
// to every field.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("airtrans", &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the invariants the rest of the module assumes hold.
func (c *Config) Validate() error {
	if c.BasePort < 1024 || c.BasePort > 65535-c.MaxParts {
		return fmt.Errorf("config: invalid base port %d for max_parts %d", c.BasePort, c.MaxParts)
	}
	if c.MaxParts < 1 || c.MaxParts > 32 {
		return fmt.Errorf("config: invalid max_parts %d", c.MaxParts)
	}
	if c.DefaultNumParts < 1 || c.DefaultNumParts > c.MaxParts {
		return fmt.Errorf("config: invalid default num_parts %d (max_parts=%d)", c.DefaultNumParts, c.MaxParts)
	}
	return nil
}
