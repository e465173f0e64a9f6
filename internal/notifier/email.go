package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strings"
	ttemplate "text/template"
	"time"

	"github.com/good-yellow-bee/alertflow/internal/models"
)

// EmailConfig holds SMTP configuration.
type EmailConfig struct {
	Host       string   // SMTP server host
	Port       int      // SMTP server port (465 for implicit TLS, 587 for STARTTLS)
	Username   string   // SMTP username (optional)
	Password   string   // SMTP password (optional)
	From       string   // From address
	Recipients []string // default email recipients
}

// Validate validates the email configuration.
func (c *EmailConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("SMTP port is required")
	}
	if c.From == "" {
		return fmt.Errorf("from address is required")
	}
	if len(c.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	return nil
}

const emailPlainTemplate = `AlertFlow Alert: {{.Title}}

Severity: {{.Severity}}
Category: {{.Category}}
Status:   {{.Status}}
Time:     {{.Time}}

{{.Message}}
{{if .HasML}}
ML Analysis
  Risk score: {{printf "%.2f" .RiskScore}}
  Confidence: {{printf "%.2f" .Confidence}}{{if .ThreatType}}
  Threat:     {{.ThreatType}}{{end}}
{{end}}{{if .Source}}
Source: {{.Source}}{{end}}
Alert ID: {{.ID}}
`

const emailHTMLTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a2e;">
  <div style="border-left: 6px solid {{.Color}}; padding: 12px 16px; background: #f7f7fb;">
    <h2 style="margin: 0 0 8px;">AlertFlow: {{.Title}}</h2>
    <table style="border-collapse: collapse;">
      <tr><td style="padding: 2px 12px 2px 0;"><b>Severity</b></td><td>{{.Severity}}</td></tr>
      <tr><td style="padding: 2px 12px 2px 0;"><b>Category</b></td><td>{{.Category}}</td></tr>
      <tr><td style="padding: 2px 12px 2px 0;"><b>Time</b></td><td>{{.Time}}</td></tr>
    </table>
    <p>{{.Message}}</p>
    {{if .HasML}}
    <p><b>Risk score:</b> {{printf "%.2f" .RiskScore}} &middot; <b>Confidence:</b> {{printf "%.2f" .Confidence}}{{if .ThreatType}} &middot; <b>Threat:</b> {{.ThreatType}}{{end}}</p>
    {{end}}
    {{if .Source}}<p style="color: #666;">Source: {{.Source}}</p>{{end}}
    <p style="color: #999; font-size: 12px;">Alert ID: {{.ID}}</p>
  </div>
</body>
</html>
`

// emailData feeds both the plain and HTML templates.
type emailData struct {
	ID         string
	Title      string
	Message    string
	Severity   string
	Category   string
	Status     string
	Source     string
	Time       string
	Color      string
	HasML      bool
	RiskScore  float64
	Confidence float64
	ThreatType string
}

// EmailProvider sends alerts via SMTP.
type EmailProvider struct {
	config    EmailConfig
	plainTmpl *ttemplate.Template
	htmlTmpl  *template.Template
}

// NewEmailProvider creates a new email provider.
func NewEmailProvider(config EmailConfig) (*EmailProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email config: %w", err)
	}

	plainTmpl, err := ttemplate.New("plain").Parse(emailPlainTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse plain template: %w", err)
	}
	htmlTmpl, err := template.New("html").Parse(emailHTMLTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse html template: %w", err)
	}

	return &EmailProvider{
		config:    config,
		plainTmpl: plainTmpl,
		htmlTmpl:  htmlTmpl,
	}, nil
}

// Name returns "email".
func (e *EmailProvider) Name() string {
	return "email"
}

// Send renders and delivers the alert. recipient is a comma-separated
// address list overriding the configured recipients when non-empty.
func (e *EmailProvider) Send(ctx context.Context, alert *models.Alert, recipient string) error {
	recipients := e.config.Recipients
	if recipient != "" && strings.Contains(recipient, "@") {
		recipients = splitRecipients(recipient)
	}

	data := emailData{
		ID:       alert.ID,
		Title:    alert.Title,
		Message:  alert.Message,
		Severity: strings.ToUpper(string(alert.Severity)),
		Category: string(alert.Category),
		Status:   string(alert.Status),
		Source:   alert.Source,
		Time:     alert.TriggeredAt.Format("2006-01-02 15:04:05 MST"),
		Color:    severityColor(alert.Severity),
	}
	if alert.ML != nil {
		data.HasML = true
		data.RiskScore = alert.ML.RiskScore
		data.Confidence = alert.ML.Confidence
		data.ThreatType = alert.ML.ThreatType
	}

	var plainBuf, htmlBuf strings.Builder
	if err := e.plainTmpl.Execute(&plainBuf, data); err != nil {
		return fmt.Errorf("render plain template: %w", err)
	}
	if err := e.htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return fmt.Errorf("render html template: %w", err)
	}

	subject := fmt.Sprintf("[%s] AlertFlow: %s", strings.ToUpper(string(alert.Severity)), alert.Title)
	msg := e.buildMIMEMessage(subject, recipients, plainBuf.String(), htmlBuf.String())

	return e.sendMail(ctx, recipients, msg)
}

// HealthCheck reports whether the provider is configured.
func (e *EmailProvider) HealthCheck(ctx context.Context) bool {
	return e.config.Validate() == nil
}

// buildMIMEMessage builds a MIME multipart message with HTML and plain text.
func (e *EmailProvider) buildMIMEMessage(subject string, recipients []string, plainBody, htmlBody string) []byte {
	boundary := fmt.Sprintf("----=_Part_%d", time.Now().UnixNano())

	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("From: %s\r\n", e.config.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(recipients, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(plainBody)
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return []byte(msg.String())
}

// sendMail sends the email via SMTP.
func (e *EmailProvider) sendMail(ctx context.Context, recipients []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)

	tlsConfig := &tls.Config{
		ServerName: e.config.Host,
	}

	var client *smtp.Client
	var err error

	if e.config.Port == 465 {
		// Implicit TLS (SMTPS)
		client, err = e.connectImplicitTLS(addr, tlsConfig)
	} else {
		// STARTTLS (port 587 or 25)
		client, err = e.connectSTARTTLS(ctx, addr, tlsConfig)
	}

	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	defer client.Close()

	if e.config.Username != "" && e.config.Password != "" {
		auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(extractEmail(e.config.From)); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}

	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("start data: %w", err)
	}

	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// connectImplicitTLS connects using implicit TLS (port 465).
func (e *EmailProvider) connectImplicitTLS(addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}

	return smtp.NewClient(conn, e.config.Host)
}

// connectSTARTTLS connects using STARTTLS (port 587 or 25).
func (e *EmailProvider) connectSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{
		Timeout: 30 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	return client, nil
}

// extractEmail extracts the email address from a "Name <email>" format.
func extractEmail(addr string) string {
	if start := strings.Index(addr, "<"); start != -1 {
		if end := strings.Index(addr, ">"); end != -1 {
			return addr[start+1 : end]
		}
	}
	return addr
}

// splitRecipients splits a comma-separated address list.
func splitRecipients(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// severityColor returns a hex color for HTML rendering.
func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#d32f2f"
	case models.SeverityHigh:
		return "#f57c00"
	case models.SeverityMedium:
		return "#fbc02d"
	case models.SeverityLow:
		return "#388e3c"
	default:
		return "#9e9e9e"
	}
}
