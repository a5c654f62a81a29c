// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	From      string
	FromName  string
	EnableTLS bool
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	// Simple multipart message
	boundary := "boundary-policyhub"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// ConfirmationCodeData holds data for the confirmation code email
type ConfirmationCodeData struct {
	AppName       string
	PolicyTitle   string
	PortalName    string
	Code          string
	ExpiryMinutes int
}

type ReminderData struct {
	AppName     string
	PortalName  string
	PortalURL   string
	PolicyCount int
}

// SendConfirmationCode emails a one-time acknowledgment code
func (s *Service) SendConfirmationCode(to, policyTitle, portalName, code string, expiryMinutes int) error {
	data := ConfirmationCodeData{
		AppName:       "PolicyHub",
		PolicyTitle:   policyTitle,
		PortalName:    portalName,
		Code:          code,
		ExpiryMinutes: expiryMinutes,
	}

	subject := fmt.Sprintf("Your confirmation code for %q", policyTitle)
	html, err := renderTemplate(confirmationCodeTemplate, data)
	if err != nil {
		return fmt.Errorf("render confirmation code template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendAcknowledgmentReminder emails a recipient who still has unacknowledged policies
func (s *Service) SendAcknowledgmentReminder(to, portalName, portalURL string, policyCount int) error {
	data := ReminderData{
		AppName:     "PolicyHub",
		PortalName:  portalName,
		PortalURL:   portalURL,
		PolicyCount: policyCount,
	}

	subject := fmt.Sprintf("Reminder: policies awaiting your acknowledgment in %s", portalName)
	html, err := renderTemplate(reminderTemplate, data)
	if err != nil {
		return fmt.Errorf("render reminder template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const confirmationCodeTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Your {{.AppName}} confirmation code</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; background: #f4f6f8; padding: 16px 24px; border-radius: 4px; text-align: center; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Confirm your acknowledgment</h2>

    <p>You are acknowledging <strong>{{.PolicyTitle}}</strong> in the <strong>{{.PortalName}}</strong> portal.</p>

    <p>Enter this code to complete the acknowledgment:</p>

    <div class="code">{{.Code}}</div>

    <p>The code expires in {{.ExpiryMinutes}} minutes and can be used once.</p>

    <div class="footer">
        <p>If you didn't request this code, you can safely ignore this email. No acknowledgment is recorded without it.</p>
    </div>
</body>
</html>`

const reminderTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}} acknowledgment reminder</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Policies awaiting your acknowledgment</h2>

    <p>The <strong>{{.PortalName}}</strong> portal has {{.PolicyCount}} policy(ies) you haven't acknowledged yet.</p>

    <p>
        <a href="{{.PortalURL}}" class="button">Review Policies</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.PortalURL}}</p>

    <div class="footer">
        <p>You received this reminder because your email address is on the portal's recipient list.</p>
    </div>
</body>
</html>`
