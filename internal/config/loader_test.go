package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tom.RTOMillis != Default().RTOMillis {
		t.Errorf("expected default rto_ms, got %d", cfg.Tom.RTOMillis)
	}
}

func TestLoadParsesAndMerges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mailimd.toml")
	contents := `
log_level = "debug"

[tom]
rto_ms = 2500
max_attempts = 3

[smtp]
host = "smtp.example.com"
port = 587
username = "alice"
password = "s3cret"
tls = true

[metrics]
enabled = true
address = ":9102"
path = "/metrics"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected log_level debug, got %q", cfg.LogLevel)
	}
	if cfg.Tom.RTOMillis != 2500 {
		t.Errorf("expected rto_ms 2500, got %d", cfg.Tom.RTOMillis)
	}
	if cfg.Tom.MaxAttempts != 3 {
		t.Errorf("expected max_attempts 3, got %d", cfg.Tom.MaxAttempts)
	}
	// Unset fields should retain their defaults.
	if cfg.Tom.ATOMillis != Default().ATOMillis {
		t.Errorf("expected default ato_ms to be preserved, got %d", cfg.Tom.ATOMillis)
	}
	if !cfg.SMTP.Configured() {
		t.Error("expected smtp credential to be configured")
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Address != ":9102" {
		t.Errorf("expected metrics enabled at :9102, got %+v", cfg.Metrics)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected loaded config to validate, got %v", err)
	}
}

func TestApplyFlagsOverridesLogLevel(t *testing.T) {
	cfg := DefaultFileConfig()
	f := &Flags{LogLevel: "warn", KeyStore: "/tmp/keys.enc"}
	out := ApplyFlags(cfg, f)
	if out.LogLevel != "warn" {
		t.Errorf("expected log level warn, got %q", out.LogLevel)
	}
	if out.KeyStore.Path != "/tmp/keys.enc" {
		t.Errorf("expected keystore path override, got %q", out.KeyStore.Path)
	}
}
