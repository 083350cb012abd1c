// Package daemon manages the meshgate daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/meshgate/meshgate/internal/infra/admission"
	"github.com/meshgate/meshgate/internal/infra/discovery"
	"github.com/meshgate/meshgate/internal/infra/reputation"
	"github.com/meshgate/meshgate/internal/infra/transport"
)

// Config holds all daemon configuration.
type Config struct {
	Node       NodeConfig       `toml:"node"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Admission  AdmissionConfig  `toml:"admission"`
	Reputation ReputationConfig `toml:"reputation"`
	Transport  TransportConfig  `toml:"transport"`
	Fanout     FanoutConfig     `toml:"fanout"`
	API        APIConfig        `toml:"api"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID       string            `toml:"id"` // generated on first boot if empty
	Metadata map[string]string `toml:"metadata"`
}

// DiscoveryConfig controls the UDP announce/sweep loop.
type DiscoveryConfig struct {
	IntervalSeconds      int    `toml:"interval_seconds"`
	SilenceWindowSeconds int    `toml:"silence_window_seconds"`
	BroadcastAddr        string `toml:"broadcast_addr"`
	BroadcastPort        int    `toml:"broadcast_port"`
	Debug                bool   `toml:"debug"`
}

// AdmissionConfig controls candidate scoring.
type AdmissionConfig struct {
	Weights                admission.Weights `toml:"weights"`
	Threshold              float64           `toml:"threshold"`
	StalenessWindowSeconds int               `toml:"staleness_window_seconds"`
	MinIdentityLength      int               `toml:"min_identity_length"`
	RichMetadataKeys       int               `toml:"rich_metadata_keys"`
}

// ReputationConfig controls score decay and history retention.
type ReputationConfig struct {
	Lambda      float64 `toml:"lambda"`
	HistorySize int     `toml:"history_size"`
}

// TransportConfig controls the TCP listener and outbound dials.
type TransportConfig struct {
	Host                    string `toml:"host"`
	Port                    int    `toml:"port"`
	ConnectTimeoutSeconds   int    `toml:"connect_timeout_seconds"`
	HandshakeTimeoutSeconds int    `toml:"handshake_timeout_seconds"`
}

// FanoutConfig controls broadcast retry behavior.
type FanoutConfig struct {
	Retries                int `toml:"retries"`
	BackoffBaseMillis      int `toml:"backoff_base_millis"`
	SendTimeoutSeconds     int `toml:"send_timeout_seconds"`
	FailureCooldownSeconds int `toml:"failure_cooldown_seconds"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// TelemetryConfig controls observability surfaces.
type TelemetryConfig struct {
	Prometheus            bool `toml:"prometheus"`
	StatusIntervalSeconds int  `toml:"status_interval_seconds"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	adm := admission.DefaultConfig()
	rep := reputation.DefaultConfig()
	disc := discovery.DefaultConfig()
	tr := transport.DefaultConfig()
	fan := transport.DefaultFanoutConfig()

	return Config{
		Discovery: DiscoveryConfig{
			IntervalSeconds:      int(disc.Interval.Seconds()),
			SilenceWindowSeconds: int(3 * disc.Interval.Seconds()),
			BroadcastAddr:        disc.BroadcastAddr,
			BroadcastPort:        disc.BroadcastPort,
		},
		Admission: AdmissionConfig{
			Weights:                adm.Weights,
			Threshold:              adm.Threshold,
			StalenessWindowSeconds: int(adm.StalenessWindow.Seconds()),
			MinIdentityLength:      adm.MinIdentityLength,
			RichMetadataKeys:       adm.RichMetadataKeys,
		},
		Reputation: ReputationConfig{
			Lambda:      rep.Lambda,
			HistorySize: rep.HistorySize,
		},
		Transport: TransportConfig{
			Host:                    tr.ListenHost,
			Port:                    tr.ListenPort,
			ConnectTimeoutSeconds:   int(tr.ConnectTimeout.Seconds()),
			HandshakeTimeoutSeconds: int(tr.HandshakeTimeout.Seconds()),
		},
		Fanout: FanoutConfig{
			Retries:                fan.Retries,
			BackoffBaseMillis:      int(fan.BackoffBase.Milliseconds()),
			SendTimeoutSeconds:     int(fan.SendTimeout.Seconds()),
			FailureCooldownSeconds: int(fan.FailureCooldown.Seconds()),
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7420,
		},
		Telemetry: TelemetryConfig{
			Prometheus:            true,
			StatusIntervalSeconds: 60,
		},
	}
}

// Validate fails fast on configuration the daemon must not run with.
// Invalid weight sums and out-of-range thresholds are caught here, before
// any network activity begins.
func (c Config) Validate() error {
	if err := c.AdmissionConfig().Validate(); err != nil {
		return fmt.Errorf("admission: %w", err)
	}
	if c.Discovery.IntervalSeconds <= 0 {
		return fmt.Errorf("discovery: interval must be positive, got %d", c.Discovery.IntervalSeconds)
	}
	if c.Discovery.SilenceWindowSeconds < c.Discovery.IntervalSeconds {
		return fmt.Errorf("discovery: silence window (%ds) must cover at least one interval (%ds)",
			c.Discovery.SilenceWindowSeconds, c.Discovery.IntervalSeconds)
	}
	if c.Discovery.BroadcastPort <= 0 || c.Discovery.BroadcastPort > 65535 {
		return fmt.Errorf("discovery: broadcast port %d out of range", c.Discovery.BroadcastPort)
	}
	if c.Reputation.Lambda < 0 {
		return fmt.Errorf("reputation: decay constant must be non-negative, got %g", c.Reputation.Lambda)
	}
	if c.Reputation.HistorySize < 1 {
		return fmt.Errorf("reputation: history size must be at least 1, got %d", c.Reputation.HistorySize)
	}
	if c.Transport.Port <= 0 || c.Transport.Port > 65535 {
		return fmt.Errorf("transport: port %d out of range", c.Transport.Port)
	}
	if c.Transport.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("transport: connect timeout must be positive, got %d", c.Transport.ConnectTimeoutSeconds)
	}
	if c.Fanout.Retries < 1 {
		return fmt.Errorf("fanout: retry count must be at least 1, got %d", c.Fanout.Retries)
	}
	if c.Fanout.BackoffBaseMillis < 0 {
		return fmt.Errorf("fanout: backoff must be non-negative, got %d", c.Fanout.BackoffBaseMillis)
	}
	return nil
}

// ─── Component config views ─────────────────────────────────────────────────

// AdmissionConfig maps the TOML section onto the engine's config.
func (c Config) AdmissionConfig() admission.Config {
	return admission.Config{
		Weights:           c.Admission.Weights,
		Threshold:         c.Admission.Threshold,
		StalenessWindow:   time.Duration(c.Admission.StalenessWindowSeconds) * time.Second,
		MinIdentityLength: c.Admission.MinIdentityLength,
		RichMetadataKeys:  c.Admission.RichMetadataKeys,
	}
}

// ReputationConfig maps the TOML section onto the ledger's config.
func (c Config) ReputationConfig() reputation.Config {
	return reputation.Config{
		Lambda:      c.Reputation.Lambda,
		HistorySize: c.Reputation.HistorySize,
	}
}

// DiscoveryConfig maps the TOML section onto the listener's config.
func (c Config) DiscoveryConfig() discovery.Config {
	return discovery.Config{
		Interval:      time.Duration(c.Discovery.IntervalSeconds) * time.Second,
		BroadcastAddr: c.Discovery.BroadcastAddr,
		BroadcastPort: c.Discovery.BroadcastPort,
		Debug:         c.Discovery.Debug,
	}
}

// SilenceWindow returns the directory TTL.
func (c Config) SilenceWindow() time.Duration {
	return time.Duration(c.Discovery.SilenceWindowSeconds) * time.Second
}

// TransportConfig maps the TOML section onto the transport's config.
func (c Config) TransportConfig() transport.Config {
	return transport.Config{
		ListenHost:       c.Transport.Host,
		ListenPort:       c.Transport.Port,
		ConnectTimeout:   time.Duration(c.Transport.ConnectTimeoutSeconds) * time.Second,
		HandshakeTimeout: time.Duration(c.Transport.HandshakeTimeoutSeconds) * time.Second,
	}
}

// FanoutConfig maps the TOML section onto the broadcaster's config.
func (c Config) FanoutConfig() transport.FanoutConfig {
	return transport.FanoutConfig{
		Retries:         c.Fanout.Retries,
		BackoffBase:     time.Duration(c.Fanout.BackoffBaseMillis) * time.Millisecond,
		SendTimeout:     time.Duration(c.Fanout.SendTimeoutSeconds) * time.Second,
		FailureCooldown: time.Duration(c.Fanout.FailureCooldownSeconds) * time.Second,
	}
}

// ─── Loading ────────────────────────────────────────────────────────────────

// LoadConfig reads config from $MESHGATE_HOME/config.toml, falling back
// to defaults when no file exists. The result is always validated.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(meshgateHome(), "config.toml")

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $MESHGATE_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(meshgateHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// meshgateHome returns the meshgate data directory.
func meshgateHome() string {
	if env := os.Getenv("MESHGATE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".meshgate")
}

// Home is exported for use by other packages.
func Home() string {
	return meshgateHome()
}
