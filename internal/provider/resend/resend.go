// Package resend implements a Provider that delivers through the Resend API.
package resend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/sparkpost-relay/internal/email"
)

// EmailSender is the subset of the Resend emails service used by Provider.
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Config holds Resend provider configuration.
type Config struct {
	APIKey string
	// Sender is the From value, either "addr" or "Name <addr>".
	Sender string
}

// Provider sends email via Resend.
type Provider struct {
	sender string
	emails EmailSender
}

// New creates a Provider backed by the Resend client.
func New(cfg Config) *Provider {
	return NewWithClient(cfg.Sender, resend.NewClient(cfg.APIKey).Emails)
}

// NewWithClient creates a Provider with an injected emails service.
func NewWithClient(sender string, emails EmailSender) *Provider {
	return &Provider{sender: sender, emails: emails}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "resend"
}

// Send delivers the request in a single API call.
func (p *Provider) Send(ctx context.Context, req email.Request) bool {
	msg, err := email.Flatten(req)
	if err != nil {
		slog.Error("failed to prepare message", "provider", p.Name(), "error", err)
		return false
	}

	resp, err := p.emails.SendWithContext(ctx, p.buildRequest(msg))
	if err != nil {
		slog.Error("email send failed",
			"provider", p.Name(),
			"error", fmt.Errorf("resend: failed to send email: %w", err),
		)
		return false
	}

	slog.Info("email sent", "provider", p.Name(), "message_id", resp.Id)
	return true
}

func (p *Provider) buildRequest(msg *email.Message) *resend.SendEmailRequest {
	req := &resend.SendEmailRequest{
		From:    p.sender,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTMLBody,
		Text:    msg.TextBody,
		ReplyTo: msg.ReplyTo,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
	}
	if len(msg.Headers) > 0 {
		req.Headers = msg.Headers
	}

	if len(msg.Attachments) > 0 {
		req.Attachments = make([]*resend.Attachment, len(msg.Attachments))
		for i, a := range msg.Attachments {
			req.Attachments[i] = &resend.Attachment{
				Filename:    a.Filename,
				Content:     a.Content,
				ContentType: a.ContentType,
			}
		}
	}

	return req
}
