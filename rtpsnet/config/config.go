// Package config loads the engine's TOML configuration file into a
// typed Config, applying defaults for every optional field.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level engine configuration, normally loaded from an
// "engine.toml" file.
type Config struct {
	Domain     DomainConfig     `toml:"Domain"`
	Transport  TransportConfig  `toml:"Transport"`
	Reliability ReliabilityConfig `toml:"Reliability"`
	Logging    LoggingConfig    `toml:"Logging"`
}

// DomainConfig selects the DDS domain and participant identity.
type DomainConfig struct {
	DomainID       int    `toml:"domain_id"`
	ParticipantName string `toml:"participant_name"`
}

// TransportConfig configures the UDP locators this participant binds.
type TransportConfig struct {
	UnicastPort   int      `toml:"unicast_port"`
	MulticastAddr string   `toml:"multicast_addr"`
	Interfaces    []string `toml:"interfaces"`
}

// ReliabilityConfig tunes the reliable writer/reader state machines.
type ReliabilityConfig struct {
	HeartbeatPeriod   time.Duration `toml:"heartbeat_period"`
	NackResponseDelay time.Duration `toml:"nack_response_delay"`
	NackSuppressDelay time.Duration `toml:"nack_suppress_delay"`
	FragmentSize      int           `toml:"fragment_size"`
	ReassemblyTimeout time.Duration `toml:"reassembly_timeout"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level    string `toml:"level"`
	ToStderr bool   `toml:"to_stderr"`
}

// Defaults returns a Config populated with the engine's built-in
// defaults, before any file overrides are applied.
func Defaults() *Config {
	return &Config{
		Domain: DomainConfig{
			DomainID:        0,
			ParticipantName: "rtps-engine",
		},
		Transport: TransportConfig{
			UnicastPort:   7400,
			MulticastAddr: "239.255.0.1:7401",
		},
		Reliability: ReliabilityConfig{
			HeartbeatPeriod:   3 * time.Second,
			NackResponseDelay: 10 * time.Millisecond,
			NackSuppressDelay: 100 * time.Millisecond,
			FragmentSize:      1344,
			ReassemblyTimeout: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			ToStderr: true,
		},
	}
}

// Load reads and parses a TOML configuration file, starting from
// Defaults() so any field absent from the file keeps its default.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run
// with.
func (c *Config) Validate() error {
	if c.Domain.DomainID < 0 || c.Domain.DomainID > 232 {
		return fmt.Errorf("config: domain_id %d out of range [0,232]", c.Domain.DomainID)
	}
	if c.Transport.UnicastPort <= 0 || c.Transport.UnicastPort > 65535 {
		return fmt.Errorf("config: unicast_port %d out of range", c.Transport.UnicastPort)
	}
	if c.Reliability.FragmentSize <= 0 {
		return fmt.Errorf("config: fragment_size must be positive")
	}
	if c.Reliability.HeartbeatPeriod <= 0 {
		return fmt.Errorf("config: heartbeat_period must be positive")
	}
	return nil
}
