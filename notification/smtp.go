package notification

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/glimte/jobber-go/internal/reliability"
)

//go:embed templates/*.html
var templateFS embed.FS

// SMTPConfig locates the mail server
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Addr returns host:port
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer renders the embedded templates and sends them over SMTP. Every
// template file defines "<name>.subject" next to its body. Subjects are
// header text and render without HTML escaping.
type SMTPMailer struct {
	config    SMTPConfig
	templates *template.Template
	subjects  *texttemplate.Template
	breaker   *reliability.CircuitBreaker
	send      sendFunc
	logger    *slog.Logger
}

// SMTPOption configures the SMTPMailer
type SMTPOption func(*SMTPMailer)

// WithSMTPLogger sets the logger
func WithSMTPLogger(logger *slog.Logger) SMTPOption {
	return func(m *SMTPMailer) {
		m.logger = logger
	}
}

// WithCircuitBreaker replaces the default breaker guarding the mail server
func WithCircuitBreaker(breaker *reliability.CircuitBreaker) SMTPOption {
	return func(m *SMTPMailer) {
		m.breaker = breaker
	}
}

// NewSMTPMailer parses the templates and creates the mailer
func NewSMTPMailer(config SMTPConfig, options ...SMTPOption) (*SMTPMailer, error) {
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	subjects, err := texttemplate.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email subjects: %w", err)
	}

	m := &SMTPMailer{
		config:    config,
		templates: templates,
		subjects:  subjects,
		send:      smtp.SendMail,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(m)
	}

	if m.breaker == nil {
		m.breaker = reliability.NewCircuitBreaker(
			reliability.WithName("smtp"),
			reliability.WithFailureThreshold(5),
			reliability.WithTimeout(30*time.Second),
			reliability.WithStateChange(func(name string, from, to reliability.State, reason string) {
				m.logger.Warn("mail circuit changed state",
					"name", name,
					"from", from.String(),
					"to", to.String(),
					"reason", reason)
			}),
		)
	}

	return m, nil
}

// HasTemplate reports whether name can be rendered
func (m *SMTPMailer) HasTemplate(name string) bool {
	return m.templates.Lookup(name+".html") != nil
}

// SendEmail implements Mailer
func (m *SMTPMailer) SendEmail(ctx context.Context, name, receiverEmail string, locals EmailLocals) {
	msg, err := m.render(name, receiverEmail, locals)
	if err != nil {
		m.logger.Error("email not sent", "template", name, "error", err)
		return
	}

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	err = m.breaker.Execute(ctx, func() error {
		return m.send(m.config.Addr(), auth, m.config.From, []string{receiverEmail}, msg)
	})
	if err != nil {
		m.logger.Error("email not sent", "template", name, "error", err)
		return
	}

	m.logger.Info("Email sent successfully.", "template", name)
}

func (m *SMTPMailer) render(name, receiverEmail string, locals EmailLocals) ([]byte, error) {
	if !m.HasTemplate(name) {
		return nil, fmt.Errorf("unknown email template %q", name)
	}

	var subject, body bytes.Buffer
	if err := m.subjects.ExecuteTemplate(&subject, name+".subject", locals); err != nil {
		return nil, fmt.Errorf("render subject of %s: %w", name, err)
	}
	if err := m.templates.ExecuteTemplate(&body, name+".html", locals); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", receiverEmail)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", strings.TrimSpace(subject.String())))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
