package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath string
	LogLevel   string
	KeyStore   string
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "./mailimd.toml", "Path to configuration file")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.KeyStore, "keystore", "", "Path to the encrypted key store file")

	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the FileConfig.
// If the file does not exist, returns the default configuration.
func Load(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	cfg = mergeConfig(cfg, fileConfig)
	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-zero/non-empty flag values override config file values.
func ApplyFlags(cfg FileConfig, f *Flags) FileConfig {
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.KeyStore != "" {
		cfg.KeyStore.Path = f.KeyStore
	}
	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags,
// then applies flag overrides.
func LoadWithFlags(f *Flags) (FileConfig, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(cfg, f), nil
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src FileConfig) FileConfig {
	if src.Tom.RTOMillis > 0 {
		dst.Tom.RTOMillis = src.Tom.RTOMillis
	}
	if src.Tom.ATOMillis > 0 {
		dst.Tom.ATOMillis = src.Tom.ATOMillis
	}
	if src.Tom.MaxAttempts > 0 {
		dst.Tom.MaxAttempts = src.Tom.MaxAttempts
	}
	if src.Tom.MaxMsgKeys > 0 {
		dst.Tom.MaxMsgKeys = src.Tom.MaxMsgKeys
	}
	if src.Tom.XMailer != "" {
		dst.Tom.XMailer = src.Tom.XMailer
	}

	if src.SMTP.Host != "" {
		dst.SMTP = src.SMTP
	}
	if src.IMAP.Host != "" {
		dst.IMAP = src.IMAP
	}
	if src.KeyStore.Path != "" {
		dst.KeyStore.Path = src.KeyStore.Path
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}

	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}
	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	return dst
}
