package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
)

// Email is one outgoing message.
type Email struct {
	FromName string
	From     string
	ToName   string
	To       string
	Subject  string
	Body     string
}

// Mailer delivers emails.
type Mailer interface {
	Name() string
	Send(ctx context.Context, email Email) error
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct {
	logger *logger.Logger
}

// NewLogMailer creates a logging mailer.
func NewLogMailer(log *logger.Logger) *LogMailer {
	return &LogMailer{logger: log.Component("mailer")}
}

func (m *LogMailer) Name() string { return "log" }

func (m *LogMailer) Send(ctx context.Context, email Email) error {
	m.logger.Info("email",
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
		zap.Int("body_bytes", len(email.Body)),
	)
	return nil
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPMailer sends plain-text email through an SMTP relay.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates an SMTP mailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *SMTPMailer) Name() string { return "smtp" }

func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	if err := m.send(addr, auth, email.From, []string{email.To}, buildMIME(email)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", email.To, err)
	}
	return nil
}

func buildMIME(email Email) []byte {
	var b strings.Builder
	from := email.From
	if email.FromName != "" {
		from = fmt.Sprintf("%s <%s>", email.FromName, email.From)
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", email.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", email.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(email.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// BrevoConfig configures BrevoMailer.
type BrevoConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

const brevoSendEndpoint = "/v3/smtp/email"

type brevoContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent"`
}

// BrevoMailer sends through the Brevo transactional email API.
type BrevoMailer struct {
	client *resty.Client
	apiKey string
}

// NewBrevoMailer creates a Brevo mailer.
func NewBrevoMailer(cfg BrevoConfig) *BrevoMailer {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.brevo.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BrevoMailer{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		apiKey: cfg.APIKey,
	}
}

func (m *BrevoMailer) Name() string { return "brevo" }

func (m *BrevoMailer) Send(ctx context.Context, email Email) error {
	resp, err := m.client.R().
		SetContext(ctx).
		SetHeader("api-key", m.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(brevoRequest{
			Sender:      brevoContact{Name: email.FromName, Email: email.From},
			To:          []brevoContact{{Name: email.ToName, Email: email.To}},
			Subject:     email.Subject,
			TextContent: email.Body,
		}).
		Post(brevoSendEndpoint)
	if err != nil {
		return fmt.Errorf("brevo request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("brevo API error (status %d): %s", resp.StatusCode(), resp.String())
	}
	return nil
}
