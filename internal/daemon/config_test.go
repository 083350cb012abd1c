package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ─── Defaults ───────────────────────────────────────────────────────────────

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestDefaultConfig_SilenceWindowCoversIntervals(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Discovery.SilenceWindowSeconds < 2*cfg.Discovery.IntervalSeconds {
		t.Errorf("silence window %ds spans fewer than two announce intervals (%ds)",
			cfg.Discovery.SilenceWindowSeconds, cfg.Discovery.IntervalSeconds)
	}
}

func TestDefaultConfig_ComponentViews(t *testing.T) {
	cfg := DefaultConfig()

	adm := cfg.AdmissionConfig()
	if err := adm.Validate(); err != nil {
		t.Errorf("AdmissionConfig().Validate() = %v, want nil", err)
	}
	if adm.StalenessWindow != 60*time.Second {
		t.Errorf("StalenessWindow = %v, want 60s", adm.StalenessWindow)
	}

	if got := cfg.SilenceWindow(); got != time.Duration(cfg.Discovery.SilenceWindowSeconds)*time.Second {
		t.Errorf("SilenceWindow() = %v, want seconds field as a duration", got)
	}

	fan := cfg.FanoutConfig()
	if fan.Retries != 3 || fan.BackoffBase != 500*time.Millisecond {
		t.Errorf("FanoutConfig() = %+v, want 3 retries with 500ms base backoff", fan)
	}
}

// ─── Validation ─────────────────────────────────────────────────────────────

func TestValidate_RejectsBadConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "weights under one",
			mutate:  func(c *Config) { c.Admission.Weights.Structure = 0.10 },
			wantSub: "weight",
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Admission.Threshold = 1.5 },
			wantSub: "threshold",
		},
		{
			name:    "negative threshold",
			mutate:  func(c *Config) { c.Admission.Threshold = -0.1 },
			wantSub: "threshold",
		},
		{
			name:    "zero staleness window",
			mutate:  func(c *Config) { c.Admission.StalenessWindowSeconds = 0 },
			wantSub: "staleness",
		},
		{
			name:    "zero discovery interval",
			mutate:  func(c *Config) { c.Discovery.IntervalSeconds = 0 },
			wantSub: "interval",
		},
		{
			name:    "silence window shorter than interval",
			mutate:  func(c *Config) { c.Discovery.SilenceWindowSeconds = c.Discovery.IntervalSeconds - 1 },
			wantSub: "silence window",
		},
		{
			name:    "broadcast port out of range",
			mutate:  func(c *Config) { c.Discovery.BroadcastPort = 70000 },
			wantSub: "port",
		},
		{
			name:    "negative decay constant",
			mutate:  func(c *Config) { c.Reputation.Lambda = -0.5 },
			wantSub: "decay",
		},
		{
			name:    "zero history size",
			mutate:  func(c *Config) { c.Reputation.HistorySize = 0 },
			wantSub: "history",
		},
		{
			name:    "transport port zero",
			mutate:  func(c *Config) { c.Transport.Port = 0 },
			wantSub: "port",
		},
		{
			name:    "zero fanout retries",
			mutate:  func(c *Config) { c.Fanout.Retries = 0 },
			wantSub: "retry",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("Validate() = %q, want mention of %q", err, tc.wantSub)
			}
		})
	}
}

// ─── Loading ────────────────────────────────────────────────────────────────

func TestLoadConfig_NoFileUsesDefaults(t *testing.T) {
	t.Setenv("MESHGATE_HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Admission.Threshold != DefaultConfig().Admission.Threshold {
		t.Errorf("threshold = %g, want default %g", cfg.Admission.Threshold, DefaultConfig().Admission.Threshold)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MESHGATE_HOME", home)

	raw := "[admission]\nthreshold = 0.85\n\n[discovery]\ninterval_seconds = 10\nsilence_window_seconds = 45\n"
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(raw), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Admission.Threshold != 0.85 {
		t.Errorf("threshold = %g, want 0.85 from file", cfg.Admission.Threshold)
	}
	if cfg.Discovery.IntervalSeconds != 10 || cfg.Discovery.SilenceWindowSeconds != 45 {
		t.Errorf("discovery = %+v, want 10s interval / 45s window from file", cfg.Discovery)
	}
	// Untouched sections keep their defaults.
	if cfg.Transport.Port != DefaultConfig().Transport.Port {
		t.Errorf("transport port = %d, want default retained", cfg.Transport.Port)
	}
}

func TestLoadConfig_InvalidFileRejected(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MESHGATE_HOME", home)

	raw := "[admission]\nthreshold = 1.7\n"
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(raw), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() = nil error for out-of-range threshold, want failure")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("MESHGATE_HOME", t.TempDir())

	want := DefaultConfig()
	want.Admission.Threshold = 0.8
	want.Node.Metadata = map[string]string{"region": "eu-west"}

	if err := SaveConfig(want); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}
	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if got.Admission.Threshold != 0.8 {
		t.Errorf("threshold = %g after round trip, want 0.8", got.Admission.Threshold)
	}
	if got.Node.Metadata["region"] != "eu-west" {
		t.Errorf("metadata = %v after round trip, want region preserved", got.Node.Metadata)
	}
}
