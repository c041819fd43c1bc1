// Package email implements the SMTP transport for the email channel. It
// speaks the two encrypted SMTP modes the dispatcher alternates between:
// STARTTLS on the submission port and direct SSL on the legacy TLS port.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/kart-io/codeforward/pkg/channel"
	"github.com/kart-io/codeforward/pkg/dispatcher"
	"github.com/kart-io/codeforward/pkg/prefs"
)

// DefaultTimeout bounds a single SMTP attempt end to end.
const DefaultTimeout = 5 * time.Second

// Transport sends verification-code emails through an SMTP gateway.
type Transport struct {
	config  channel.EmailConfig
	timeout time.Duration
}

// Option configures the transport.
type Option func(*Transport)

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) { t.timeout = timeout }
}

// New creates an email transport for the given config.
func New(config channel.EmailConfig, opts ...Option) *Transport {
	t := &Transport{
		config:  config,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Kind returns the email channel kind.
func (t *Transport) Kind() channel.Kind { return channel.KindEmail }

// Protocols returns STARTTLS first; that is the default preference until
// the tracker has learned otherwise.
func (t *Transport) Protocols() []prefs.SubProtocol {
	return []prefs.SubProtocol{prefs.ProtoSTARTTLS, prefs.ProtoSSL}
}

// Attempt performs a single SMTP send over the given sub-protocol. The
// attempt is bounded by the transport timeout; the connection is abandoned
// once the deadline passes.
func (t *Transport) Attempt(ctx context.Context, proto prefs.SubProtocol, payload dispatcher.Payload) error {
	content := t.buildMessage(payload)

	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		switch proto {
		case prefs.ProtoSSL:
			done <- t.sendWithSSL(content)
		default:
			done <- t.sendWithSTARTTLS(content)
		}
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		return fmt.Errorf("email send timeout after %v using %s", t.timeout, proto)
	}
}

// buildMessage renders the full RFC 5322 message, headers included.
func (t *Transport) buildMessage(payload dispatcher.Payload) string {
	subject := fmt.Sprintf("SMS Verification Code: %s", payload.Code)

	body := "SMS Verification Code Received\r\n" +
		"================================\r\n\r\n" +
		fmt.Sprintf("Verification Code: %s\r\n\r\n", payload.Code) +
		"Message Details:\r\n" +
		fmt.Sprintf("- Sender: %s\r\n", orUnknown(payload.Sender)) +
		fmt.Sprintf("- Received: %s\r\n", payload.ReceivedAt.Format("2006-01-02 15:04:05")) +
		fmt.Sprintf("- Full Message: %s\r\n\r\n", payload.Content) +
		"This email was sent automatically by CodeForward."

	var content string
	content += fmt.Sprintf("From: %s\r\n", t.config.Address)
	content += fmt.Sprintf("To: %s\r\n", t.config.Recipient)
	content += fmt.Sprintf("Subject: %s\r\n", subject)
	content += "MIME-Version: 1.0\r\n"
	content += "Content-Type: text/plain; charset=UTF-8\r\n"
	content += "\r\n"
	content += body
	return content
}

func (t *Transport) auth() smtp.Auth {
	return smtp.PlainAuth("", t.config.Address, t.config.Secret, t.config.SMTPHost())
}

func (t *Transport) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName: t.config.SMTPHost(),
		MinVersion: tls.VersionTLS12,
	}
}

// sendWithSTARTTLS negotiates TLS on a plaintext connection (port 587).
func (t *Transport) sendWithSTARTTLS(content string) error {
	addr := fmt.Sprintf("%s:%d", t.config.SMTPHost(), t.config.SMTPPort())
	conn, err := net.DialTimeout("tcp", addr, t.timeout)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}
	defer func() { _ = conn.Close() }()

	c, err := smtp.NewClient(conn, t.config.SMTPHost())
	if err != nil {
		return fmt.Errorf("SMTP client error: %w", err)
	}
	defer func() { _ = c.Close() }()

	if err = c.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO error: %w", err)
	}
	if err = c.StartTLS(t.tlsConfig()); err != nil {
		return fmt.Errorf("STARTTLS error: %w", err)
	}

	return t.submit(c, content)
}

// sendWithSSL opens a TLS connection directly (port 465).
func (t *Transport) sendWithSSL(content string) error {
	addr := fmt.Sprintf("%s:%d", t.config.SMTPHost(), t.config.SMTPSSLPort())
	dialer := &net.Dialer{Timeout: t.timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, t.tlsConfig())
	if err != nil {
		return fmt.Errorf("TLS dial error: %w", err)
	}
	defer func() { _ = conn.Close() }()

	c, err := smtp.NewClient(conn, t.config.SMTPHost())
	if err != nil {
		return fmt.Errorf("SMTP client error: %w", err)
	}
	defer func() { _ = c.Close() }()

	return t.submit(c, content)
}

// submit runs the authenticated mail transaction on an established client.
func (t *Transport) submit(c *smtp.Client, content string) error {
	if err := c.Auth(t.auth()); err != nil {
		return fmt.Errorf("auth error: %w", err)
	}
	if err := c.Mail(t.config.Address); err != nil {
		return fmt.Errorf("MAIL FROM error: %w", err)
	}
	if err := c.Rcpt(t.config.Recipient); err != nil {
		return fmt.Errorf("RCPT TO error: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA error: %w", err)
	}
	if _, err = fmt.Fprintf(wc, "%s", content); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	if err = wc.Close(); err != nil {
		return fmt.Errorf("close error: %w", err)
	}
	return c.Quit()
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
