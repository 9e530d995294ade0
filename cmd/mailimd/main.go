package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mailim/tom/internal/config"
	"github.com/mailim/tom/internal/keystore"
	"github.com/mailim/tom/internal/logging"
	"github.com/mailim/tom/internal/metrics"
	"github.com/mailim/tom/internal/socket"
	"github.com/mailim/tom/internal/transport"
)

func main() {
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	masterKey, err := loadMasterKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading master key: %v\n", err)
		os.Exit(1)
	}

	store := keystore.New(cfg.KeyStore.Path)
	if _, statErr := os.Stat(cfg.KeyStore.Path); os.IsNotExist(statErr) {
		if err := store.Initialize(masterKey); err != nil {
			fmt.Fprintf(os.Stderr, "error initializing key store: %v\n", err)
			os.Exit(1)
		}
		logger.Info("key store initialized", "path", cfg.KeyStore.Path)
	} else {
		if err := store.Unlock(masterKey); err != nil {
			fmt.Fprintf(os.Stderr, "error unlocking key store: %v\n", err)
			os.Exit(1)
		}
	}
	defer store.Lock()

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var outbound transport.OutboundSink
	if cfg.SMTP.Configured() {
		sink, err := transport.DialSMTP(ctx, cfg.SMTP, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error dialing smtp: %v\n", err)
			os.Exit(1)
		}
		defer sink.Close()
		outbound = sink
		logger.Info("smtp outbound configured", "host", cfg.SMTP.Host)
	}

	var inbound transport.InboundSource
	if cfg.IMAP.Configured() {
		source, err := transport.DialIMAP(ctx, cfg.IMAP, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error dialing imap: %v\n", err)
			os.Exit(1)
		}
		defer source.Close()
		inbound = source
		logger.Info("imap inbound configured", "host", cfg.IMAP.Host)
	}

	mb := socket.New(socket.Options{
		Config:    cfg.Tom,
		Logger:    logger,
		Collector: collector,
		Outbound:  outbound,
		Inbound:   inbound,
	})
	defer mb.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics server started", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	}

	logger.Info("mailimd started", "smtp", cfg.SMTP.Configured(), "imap", cfg.IMAP.Configured())

	<-ctx.Done()
	logger.Info("mailimd stopped")
}

// masterKeyEnv names the environment variable holding the base64-encoded
// key-store master key. mailimd never reads a passphrase from a config
// file or flag, keeping it out of both the TOML file and the process
// argument list.
const masterKeyEnv = "MAILIM_MASTER_KEY"

func loadMasterKey() ([]byte, error) {
	encoded := os.Getenv(masterKeyEnv)
	if encoded == "" {
		return nil, fmt.Errorf("%s must be set", masterKeyEnv)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base64: %w", masterKeyEnv, err)
	}
	if len(key) < 16 {
		return nil, fmt.Errorf("%s: key too short, need at least 16 bytes", masterKeyEnv)
	}
	return key, nil
}
