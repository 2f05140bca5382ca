package report

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// ErrDeliveryDisabled is returned when no mail provider is configured.
var ErrDeliveryDisabled = errors.New("report: delivery not configured")

// Delivery is a rendered report addressed to one recipient.
type Delivery struct {
	To             string
	ToName         string
	Subject        string
	Body           string
	AttachmentName string
	PDF            []byte
}

// Deliverer hands a rendered report to its recipient.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridDeliverer e-mails reports as PDF attachments.
type SendGridDeliverer struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    zerolog.Logger
}

// NewSendGridDeliverer returns nil when no API key is configured.
func NewSendGridDeliverer(cfg SendGridConfig, logger zerolog.Logger) *SendGridDeliverer {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.FromName == "" {
		cfg.FromName = "Therapy Scheduling"
	}
	return &SendGridDeliverer{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger.With().Str("component", "report_delivery").Logger(),
	}
}

func (s *SendGridDeliverer) Deliver(ctx context.Context, d Delivery) error {
	if s == nil || s.client == nil {
		return ErrDeliveryDisabled
	}
	if d.To == "" {
		return fmt.Errorf("report: recipient address is empty")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(d.ToName, d.To)
	message := mail.NewSingleEmail(from, d.Subject, to, d.Body, d.Body)

	if len(d.PDF) > 0 {
		name := d.AttachmentName
		if name == "" {
			name = "report.pdf"
		}
		attachment := mail.NewAttachment()
		attachment.SetContent(base64.StdEncoding.EncodeToString(d.PDF))
		attachment.SetType("application/pdf")
		attachment.SetFilename(name)
		attachment.SetDisposition("attachment")
		message.AddAttachment(attachment)
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("report: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error().Int("status", response.StatusCode).Str("body", response.Body).Str("to", d.To).
			Msg("sendgrid returned error status")
		return fmt.Errorf("report: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info().Str("to", d.To).Int("status", response.StatusCode).Msg("report delivered")
	return nil
}
