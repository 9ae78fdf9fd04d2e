package notification

import (
	"bytes"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/internal/protocol"
	"github.com/smukkama/airquality-pipeline/pkg/config"
)

var raisedTemplate = template.Must(template.New("raised").Parse(`
Air Quality Pipeline Alert
==========================

Host: {{.Host}}
Alert: {{.Code}}
Severity: {{.Severity}}
Value: {{printf "%.2f" .Value}}
Threshold: {{printf "%.2f" .Threshold}}
Raised At: {{.RaisedAt.Format "2006-01-02 15:04:05 MST"}}
Notification ID: {{.ID}}

{{.Message}}

The alert will not be repeated for its cooldown period unless it clears first.

---
Air Quality Pipeline Notification System
`))

var clearedTemplate = template.Must(template.New("cleared").Parse(`
Air Quality Pipeline Alert Cleared
==================================

Host: {{.Host}}
Alert: {{.Code}}
Cleared At: {{.RaisedAt.Format "2006-01-02 15:04:05 MST"}}

The condition is no longer reported by the pipeline.

---
Air Quality Pipeline Notification System
`))

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends email notifications
type EmailNotifier struct {
	config config.SMTPConfig
	logger *zap.Logger
	send   SendFunc
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg config.SMTPConfig, logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{config: cfg, logger: logger, send: smtp.SendMail}
}

// Render builds the subject and body for n.
func Render(n *protocol.AlertNotification) (subject, body string, err error) {
	var tmpl *template.Template
	switch n.Type {
	case protocol.AlertRaised:
		subject = fmt.Sprintf("[%s] Air quality pipeline alert: %s on %s", n.Severity, n.Code, n.Host)
		tmpl = raisedTemplate
	case protocol.AlertCleared:
		subject = fmt.Sprintf("[CLEARED] Air quality pipeline alert: %s on %s", n.Code, n.Host)
		tmpl = clearedTemplate
	default:
		return "", "", fmt.Errorf("unknown notification type: %q", n.Type)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, n); err != nil {
		return "", "", fmt.Errorf("failed to render email template: %w", err)
	}
	return subject, buf.String(), nil
}

// SendAlertNotification e-mails n to the configured recipient.
func (e *EmailNotifier) SendAlertNotification(n *protocol.AlertNotification) error {
	subject, body, err := Render(n)
	if err != nil {
		return err
	}
	return e.sendEmail(subject, body)
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		e.logger.Info("SMTP not configured, skipping email", zap.String("subject", subject))
		return nil
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", e.config.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	if err := e.send(e.addr(), auth, e.config.From, []string{e.config.To}, msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("email sent", zap.String("subject", subject), zap.String("to", e.config.To))
	return nil
}

func (e *EmailNotifier) addr() string {
	return net.JoinHostPort(e.config.Host, strconv.Itoa(e.config.Port))
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	client, err := smtp.Dial(e.addr())
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()
	return nil
}
