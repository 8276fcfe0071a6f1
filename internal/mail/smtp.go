package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	netmail "net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"studiumai/internal/metrics"
	"studiumai/internal/util"
)

// SMTPConfig holds server settings. Port 465 uses implicit TLS; other ports
// upgrade with STARTTLS when the server offers it.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPMailer sends mail over SMTP.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, errors.New("smtp host required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if strings.TrimSpace(cfg.From) == "" {
		cfg.From = DefaultFrom(cfg.User)
	}
	return &SMTPMailer{cfg: cfg}, nil
}

// Send delivers msg; msg.From overrides the configured sender.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = m.cfg.From
	}
	err := m.send(ctx, msg)
	metrics.RecordMail("smtp", err)
	return err
}

// Verify connects and authenticates without sending anything.
func (m *SMTPMailer) Verify(ctx context.Context) error {
	client, closeFn, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return client.Quit()
}

func (m *SMTPMailer) send(ctx context.Context, msg Message) error {
	from, err := envelopeAddress(msg.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	to, err := envelopeAddress(msg.To)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	client, closeFn, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := w.Write([]byte(buildMessage(msg, time.Now()))); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}

func (m *SMTPMailer) dial(ctx context.Context) (*smtp.Client, func(), error) {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if m.cfg.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(m.cfg.Timeout))
	}
	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	closeFn := func() { _ = client.Close() }

	if m.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				closeFn()
				return nil, nil, fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}
	if m.cfg.User != "" && m.cfg.Password != "" {
		auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	return client, closeFn, nil
}

// buildMessage renders RFC 5322 headers and a text or multipart/alternative body.
func buildMessage(msg Message, now time.Time) string {
	var b strings.Builder
	b.WriteString("From: " + msg.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("Date: " + now.UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: <" + util.NewID() + "@studium-ai>\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.HTML == "" {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		b.WriteString(normalizeCRLF(msg.Text))
		return b.String()
	}
	boundary := "studium_" + util.RandomHex(12)
	b.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary))
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(normalizeCRLF(msg.Text) + "\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(normalizeCRLF(msg.HTML) + "\r\n")
	b.WriteString("--" + boundary + "--\r\n")
	return b.String()
}

func normalizeCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// envelopeAddress extracts the bare address from `"Name" <addr>` forms.
func envelopeAddress(addr string) (string, error) {
	parsed, err := netmail.ParseAddress(addr)
	if err != nil {
		return "", err
	}
	return parsed.Address, nil
}
