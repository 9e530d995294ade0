package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	smtpclient "github.com/alexisbouchez/smtp.go/smtpclient"
	"github.com/emersion/go-sasl"

	"github.com/mailim/tom/internal/config"
)

// SMTPSink is an OutboundSink backed by a single SMTP connection, held open
// and used single-writer-at-a-time as the transport's outbound mechanism.
type SMTPSink struct {
	mu     sync.Mutex
	client *smtpclient.Client
	cred   config.Credential
	logger *slog.Logger
}

// DialSMTP connects and authenticates to cred's SMTP server.
func DialSMTP(ctx context.Context, cred config.Credential, logger *slog.Logger) (*SMTPSink, error) {
	addr := net.JoinHostPort(cred.Host, fmt.Sprintf("%d", cred.Port))
	client, err := smtpclient.Dial(ctx, addr, smtpclient.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("transport: smtp dial: %w", err)
	}

	if tlsCfg := config.TLSConfig(cred); tlsCfg != nil && !client.IsTLS() {
		if err := client.StartTLS(ctx, tlsCfg); err != nil {
			client.Close()
			return nil, fmt.Errorf("transport: smtp starttls: %w", err)
		}
	}

	mech := sasl.NewPlainClient("", cred.Username, cred.Password)
	if err := client.Auth(ctx, mech); err != nil {
		client.Close()
		return nil, fmt.Errorf("transport: smtp auth: %w", err)
	}

	return &SMTPSink{client: client, cred: cred, logger: logger}, nil
}

// SendMail implements OutboundSink.
func (s *SMTPSink) SendMail(ctx context.Context, fromAddr, toAddr string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.SendMail(ctx, fromAddr, []string{toAddr}, strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("transport: sendmail: %w", err)
	}
	return nil
}

// Close shuts down the underlying SMTP connection.
func (s *SMTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Close()
}
