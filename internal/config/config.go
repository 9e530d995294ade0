// Package config provides configuration management for the mailim transport core.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
)

// FileConfig is the top-level wrapper for the configuration file.
type FileConfig struct {
	Tom      Config         `toml:"tom"`
	SMTP     Credential     `toml:"smtp"`
	IMAP     Credential     `toml:"imap"`
	KeyStore KeyStoreConfig `toml:"keystore"`
	Metrics  MetricsConfig  `toml:"metrics"`
	LogLevel string         `toml:"log_level"`
}

// Config holds the protocol-tunable parameters named in spec.md section 6.
type Config struct {
	// RTOMillis is the retransmit timeout in milliseconds.
	RTOMillis int `toml:"rto_ms"`
	// ATOMillis is the delayed-ACK timeout in milliseconds.
	ATOMillis int `toml:"ato_ms"`
	// MaxAttempts kills a connection after this many failed transmit attempts.
	MaxAttempts int `toml:"max_attempts"`
	// MaxMsgKeys bounds the Double Ratchet skipped-message-key cache.
	MaxMsgKeys int `toml:"max_msg_keys"`
	// XMailer is the mandatory X-Mailer wire header value.
	XMailer string `toml:"x_mailer"`
}

// Credential holds the host/port/username/password for one email protocol
// account, mirroring original_source's src/tom/credential.py.
type Credential struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	TLS      bool   `toml:"tls"`
}

// Configured reports whether enough fields are present to dial this account.
func (c Credential) Configured() bool {
	return c.Host != "" && c.Port != 0 && c.Username != ""
}

func (c Credential) validate(section string) error {
	if c.Host == "" {
		return nil
	}
	if c.Port == 0 {
		return fmt.Errorf("%s.port is required when %s.host is set", section, section)
	}
	if c.Username == "" {
		return fmt.Errorf("%s.username is required when %s.host is set", section, section)
	}
	return nil
}

// KeyStoreConfig locates the at-rest encrypted key store file.
type KeyStoreConfig struct {
	Path string `toml:"path"`
}

// MetricsConfig holds configuration for the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Default returns a Config with sensible default values, per spec.md section 6.
func Default() Config {
	return Config{
		RTOMillis:   1000,
		ATOMillis:   1000,
		MaxAttempts: 10,
		MaxMsgKeys:  1000,
		XMailer:     "mailim-tom/1.0",
	}
}

// DefaultFileConfig returns a FileConfig with sensible defaults throughout.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Tom:      Default(),
		LogLevel: "info",
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9101",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *FileConfig) Validate() error {
	if c.Tom.RTOMillis <= 0 {
		return errors.New("tom.rto_ms must be positive")
	}
	if c.Tom.ATOMillis <= 0 {
		return errors.New("tom.ato_ms must be positive")
	}
	if c.Tom.MaxAttempts <= 0 {
		return errors.New("tom.max_attempts must be positive")
	}
	if c.Tom.MaxMsgKeys <= 0 {
		return errors.New("tom.max_msg_keys must be positive")
	}
	if c.Tom.XMailer == "" {
		return errors.New("tom.x_mailer is required")
	}

	if err := c.SMTP.validate("smtp"); err != nil {
		return err
	}
	if err := c.IMAP.validate("imap"); err != nil {
		return err
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics.address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics.path is required when metrics are enabled")
		}
	}

	return nil
}

// TLSConfig builds a *tls.Config for dialing a credential's host, or nil if
// TLS was not requested for it.
func TLSConfig(c Credential) *tls.Config {
	if !c.TLS {
		return nil
	}
	return &tls.Config{ServerName: c.Host, MinVersion: tls.VersionTLS12}
}
