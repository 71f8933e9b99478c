// Package mailer renders templated emails and hands them to a delivery backend.
package mailer

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// Message is a single outgoing email.
type Message struct {
	To      []mail.Address
	Subject string

	TemplateName string
	TemplateData any
	TextContent  string
	HTMLContent  string
}

func (m *Message) HasRecipients() bool { return len(m.To) > 0 }
func (m *Message) HasContent() bool    { return m.TextContent != "" || m.HTMLContent != "" }

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SendGridSender posts messages to the SendGrid v3 API.
type SendGridSender struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
	logger     *zap.Logger
}

// NewSendGridSender builds a sender. An empty host defaults to the public API.
func NewSendGridSender(apiKey, host, fromName, fromEmail string, logger *zap.Logger) *SendGridSender {
	if host == "" {
		host = sendgridHost
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGridSender{
		key:        apiKey,
		host:       host,
		from:       sgmail.NewEmail(fromName, fromEmail),
		subjPrefix: "[" + fromName + "] ",
		logger:     logger,
	}
}

func (s *SendGridSender) prepare(msg *Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail(to.Name, to.Address))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	return m
}

// Send delivers msg. Any 4xx/5xx answer is returned as an error so the caller can retry.
func (s *SendGridSender) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !msg.HasRecipients() || !msg.HasContent() {
		return nil
	}

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
	}
	s.logger.Debug("email sent",
		zap.String("subject", msg.Subject),
		zap.Int("recipients", len(msg.To)),
		zap.Int("status", res.StatusCode))
	return nil
}

// ConsoleSender writes messages to the log instead of delivering them.
type ConsoleSender struct {
	from   mail.Address
	logger *zap.Logger
}

// NewConsoleSender builds a development sender.
func NewConsoleSender(fromName, fromEmail string, logger *zap.Logger) *ConsoleSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleSender{from: mail.Address{Name: fromName, Address: fromEmail}, logger: logger}
}

func (s *ConsoleSender) Send(_ context.Context, msg *Message) error {
	if !msg.HasRecipients() || !msg.HasContent() {
		return nil
	}
	s.logger.Info("email",
		zap.String("from", s.from.String()),
		zap.String("to", joinAddresses(msg.To)),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.TextContent))
	return nil
}

func joinAddresses(addrs []mail.Address) string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return strings.Join(out, ", ")
}
