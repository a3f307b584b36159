package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/clinic-automation/pkg/logging"
)

type sendgridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridTransport sends email via the SendGrid API.
type SendGridTransport struct {
	client    sendgridAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridTransport creates a SendGrid transport. Returns nil without an API key.
func NewSendGridTransport(cfg SendGridConfig, logger *logging.Logger) *SendGridTransport {
	if cfg.APIKey == "" {
		return nil
	}
	return newSendGridTransport(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func newSendGridTransport(client sendgridAPI, cfg SendGridConfig, logger *logging.Logger) *SendGridTransport {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Clinic"
	}
	return &SendGridTransport{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Deliver sends msg and returns SendGrid's X-Message-Id.
func (s *SendGridTransport) Deliver(ctx context.Context, msg Message) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	html := msg.HTML
	if html == "" {
		html = msg.Text
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, html)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To)
		return "", fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", msg.To)
		return "", fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	var id string
	if values := response.Headers["X-Message-Id"]; len(values) > 0 {
		id = values[0]
	}
	s.logger.Info("email sent via sendgrid", "kind", msg.Kind, "to", msg.To, "status", response.StatusCode, "message_id", id)
	return id, nil
}

var _ Transport = (*SendGridTransport)(nil)
