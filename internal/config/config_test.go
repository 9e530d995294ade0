package config

import "testing"

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.RTOMillis != 1000 {
		t.Errorf("expected rto_ms 1000, got %d", cfg.RTOMillis)
	}
	if cfg.ATOMillis != 1000 {
		t.Errorf("expected ato_ms 1000, got %d", cfg.ATOMillis)
	}
	if cfg.MaxAttempts != 10 {
		t.Errorf("expected max_attempts 10, got %d", cfg.MaxAttempts)
	}
	if cfg.MaxMsgKeys != 1000 {
		t.Errorf("expected max_msg_keys 1000, got %d", cfg.MaxMsgKeys)
	}
	if cfg.XMailer == "" {
		t.Error("expected a non-empty x_mailer default")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultFileConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}

	bad := cfg
	bad.Tom.RTOMillis = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero rto_ms")
	}

	bad = cfg
	bad.Tom.XMailer = ""
	if err := bad.Validate(); err == nil {
		t.Error("expected error for empty x_mailer")
	}

	bad = cfg
	bad.SMTP.Host = "mail.example.com"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for smtp host without port/username")
	}

	bad = cfg
	bad.Metrics.Enabled = true
	bad.Metrics.Address = ""
	if err := bad.Validate(); err == nil {
		t.Error("expected error for metrics enabled without address")
	}
}

func TestCredentialConfigured(t *testing.T) {
	var c Credential
	if c.Configured() {
		t.Error("expected empty credential to be unconfigured")
	}
	c = Credential{Host: "imap.example.com", Port: 993, Username: "alice"}
	if !c.Configured() {
		t.Error("expected full credential to be configured")
	}
}
