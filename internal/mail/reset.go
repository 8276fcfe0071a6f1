package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"
)

const (
	ResetSubject = "Password Reset Request - Studium AI"
	senderName   = "Studium AI"
)

// DefaultFrom formats the sender as `"Studium AI" <user>`.
func DefaultFrom(user string) string {
	user = strings.TrimSpace(user)
	if user == "" {
		return ""
	}
	return fmt.Sprintf("%q <%s>", senderName, user)
}

// ResetLink builds "<frontend>/reset-password?token=<token>".
func ResetLink(frontendURL, token string) string {
	base := strings.TrimRight(strings.TrimSpace(frontendURL), "/")
	if base == "" {
		base = "http://localhost:3000"
	}
	return base + "/reset-password?token=" + url.QueryEscape(token)
}

type resetData struct {
	Name    string
	Link    string
	Minutes int
	Year    int
}

var resetHTML = template.Must(template.New("reset_html").Parse(`<!DOCTYPE html>
<html>
  <head>
    <style>
      body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
      .container { max-width: 600px; margin: 0 auto; padding: 20px; }
      .header { background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: white; padding: 30px; text-align: center; border-radius: 8px 8px 0 0; }
      .content { background: #f9f9f9; padding: 30px; border-radius: 0 0 8px 8px; }
      .button { display: inline-block; padding: 12px 30px; background: #667eea; color: white; text-decoration: none; border-radius: 5px; margin: 20px 0; }
      .warning { background: #fff3cd; border-left: 4px solid #ffc107; padding: 12px; margin: 20px 0; }
      .footer { text-align: center; margin-top: 20px; font-size: 12px; color: #666; }
    </style>
  </head>
  <body>
    <div class="container">
      <div class="header"><h1>Password Reset Request</h1></div>
      <div class="content">
        <p>Hi {{.Name}},</p>
        <p>We received a request to reset your password for your Studium AI account.</p>
        <p>Click the button below to reset your password:</p>
        <p style="text-align: center;"><a href="{{.Link}}" class="button">Reset Password</a></p>
        <p>Or copy and paste this link into your browser:</p>
        <p style="word-break: break-all; color: #667eea;">{{.Link}}</p>
        <div class="warning"><strong>Important:</strong> This link will expire in {{.Minutes}} minutes for security reasons.</div>
        <p>If you didn't request a password reset, please ignore this email or contact support if you have concerns.</p>
        <p>Best regards,<br>The Studium AI Team</p>
      </div>
      <div class="footer">
        <p>This is an automated email. Please do not reply.</p>
        <p>&copy; {{.Year}} Studium AI. All rights reserved.</p>
      </div>
    </div>
  </body>
</html>
`))

var resetText = texttemplate.Must(texttemplate.New("reset_text").Parse(`Hi {{.Name}},

We received a request to reset your password for your Studium AI account.

Please click the following link to reset your password:
{{.Link}}

This link will expire in {{.Minutes}} minutes for security reasons.

If you didn't request a password reset, please ignore this email.

Best regards,
The Studium AI Team
`))

// PasswordResetMessage renders the reset email. name may be empty.
func PasswordResetMessage(to, name, link string, ttl time.Duration, now time.Time) (Message, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "there"
	}
	data := resetData{Name: name, Link: link, Minutes: int(ttl.Minutes()), Year: now.Year()}
	var htmlBody, textBody bytes.Buffer
	if err := resetHTML.Execute(&htmlBody, data); err != nil {
		return Message{}, fmt.Errorf("render reset html: %w", err)
	}
	if err := resetText.Execute(&textBody, data); err != nil {
		return Message{}, fmt.Errorf("render reset text: %w", err)
	}
	return Message{
		To:      to,
		Subject: ResetSubject,
		Text:    textBody.String(),
		HTML:    htmlBody.String(),
	}, nil
}
