// Package provider defines the contract shared by email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/sparkpost-relay/internal/email"
)

// Provider is the interface that email delivery backends must implement.
type Provider interface {
	// Send delivers one request. It returns true only when the backend
	// accepted the message; every failure is logged and reported as false.
	Send(ctx context.Context, req email.Request) bool

	// Name returns the human-readable name of this provider.
	Name() string
}

// Mail is the positional form of Provider.Send.
func Mail(ctx context.Context, p Provider, to email.Recipients, subject, body string, headers email.Headers, attachments ...string) bool {
	return p.Send(ctx, email.Request{
		To:          to,
		Subject:     subject,
		Body:        body,
		Headers:     headers,
		Attachments: attachments,
	})
}
