// Package mail renders and delivers transactional email.
package mail

import (
	"context"
	"log/slog"
	"strings"

	"studiumai/internal/metrics"
	"studiumai/internal/util"
)

// Message is one outgoing email. HTML is optional.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer only logs recipients; used when SMTP is not configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) error {
	util.LoggerFromContext(ctx).Info("mail_not_sent_no_smtp",
		"to", maskAddress(msg.To),
		"subject", msg.Subject,
	)
	metrics.RecordMail("log", nil)
	return nil
}

// maskAddress keeps the domain and first character of the local part.
func maskAddress(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}

var _ Mailer = LogMailer{}
var _ Mailer = (*SMTPMailer)(nil)
var _ Mailer = (*QueuedMailer)(nil)

func logger(ctx context.Context) *slog.Logger {
	return util.LoggerFromContext(ctx)
}
