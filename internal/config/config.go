// Package config is the process-wide settings layer: sane defaults first,
// an optional on-disk YAML override layered on top, and the TLS certificate
// password resolved from the environment last. Mirrors doublezero's single
// Config-struct-with-a-Load-constructor shape, adapted from doublezero's
// on-chain ledger settings to TLScope's capture and overlay tunables.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CertPasswordEnvVar is the only place the overlay transport's certificate
// password may come from. There is no on-disk or flag fallback: an operator
// who wants TLScope running unattended must set it in the environment.
const CertPasswordEnvVar = "TLSCOPE_CERT_PASSWORD"

// Config holds every tunable the capture engine, ping sweeper, gateway
// detector and overlay components need at startup. Fields are resolved
// once at Load and passed down explicitly; nothing here is read again by
// reference, so mutating a live Config after Load has no effect on running
// components.
type Config struct {
	Interface string `yaml:"interface"`

	DiscoveryPort int `yaml:"discovery_port"`
	TransportPort int `yaml:"transport_port"`

	PingTimeout     time.Duration `yaml:"ping_timeout"`
	PingConcurrency int           `yaml:"ping_concurrency"`
	PingStartHost   int           `yaml:"ping_start_host"`
	PingEndHost     int           `yaml:"ping_end_host"`

	PTRLookupTimeout time.Duration `yaml:"ptr_lookup_timeout"`

	DiscoveryInterval   time.Duration `yaml:"discovery_interval"`
	EvictionHorizon     time.Duration `yaml:"eviction_horizon"`
	RateResetWindow     time.Duration `yaml:"rate_reset_window"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval"`
	GatewayRefreshEvery time.Duration `yaml:"gateway_refresh_interval"`

	MaxTLSFrameBytes int `yaml:"max_tls_frame_bytes"`

	Username      string `yaml:"username"`
	SSHPrivateKey string `yaml:"ssh_private_key_path"`

	// CertPassword never round-trips through YAML; yaml:"-" keeps it out
	// of both directions of the marshaler.
	CertPassword string `yaml:"-"`
}

// Default returns the baseline configuration every field in Load starts
// from before any override file or environment variable is applied.
func Default() *Config {
	return &Config{
		Interface: "",

		DiscoveryPort: 8442,
		TransportPort: 8443,

		PingTimeout:     500 * time.Millisecond,
		PingConcurrency: 50,
		PingStartHost:   1,
		PingEndHost:     254,

		PTRLookupTimeout: 2 * time.Second,

		DiscoveryInterval:   30 * time.Second,
		EvictionHorizon:     2 * time.Minute,
		RateResetWindow:     30 * time.Second,
		CleanupInterval:     10 * time.Second,
		GatewayRefreshEvery: time.Minute,

		MaxTLSFrameBytes: 1 << 20,

		Username:      "",
		SSHPrivateKey: "",
	}
}

// Load builds a Config from Default, optionally layering a YAML file over
// it, then resolves CertPassword from the environment. path may be empty,
// in which case only the defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	pw, ok := os.LookupEnv(CertPasswordEnvVar)
	if !ok || pw == "" {
		return nil, fmt.Errorf("config: %s must be set; there is no insecure default", CertPasswordEnvVar)
	}
	cfg.CertPassword = pw

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a Config that would make capture, sweeping, or overlay
// setup fail in ways better caught at startup than mid-run.
func (c *Config) Validate() error {
	if c.DiscoveryPort <= 0 || c.DiscoveryPort > 65535 {
		return fmt.Errorf("config: discovery_port %d out of range", c.DiscoveryPort)
	}
	if c.TransportPort <= 0 || c.TransportPort > 65535 {
		return fmt.Errorf("config: transport_port %d out of range", c.TransportPort)
	}
	if c.DiscoveryPort == c.TransportPort {
		return fmt.Errorf("config: discovery_port and transport_port must differ")
	}
	if c.PingConcurrency <= 0 {
		return fmt.Errorf("config: ping_concurrency must be positive")
	}
	if c.PingStartHost < 1 || c.PingEndHost > 254 || c.PingStartHost > c.PingEndHost {
		return fmt.Errorf("config: ping host range [%d,%d] invalid", c.PingStartHost, c.PingEndHost)
	}
	if c.MaxTLSFrameBytes <= 0 {
		return fmt.Errorf("config: max_tls_frame_bytes must be positive")
	}
	if c.EvictionHorizon <= 0 || c.RateResetWindow <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("config: eviction_horizon, rate_reset_window and cleanup_interval must all be positive")
	}
	return nil
}
