package sparkpost

import (
	"github.com/shineum/sparkpost-relay/internal/email"
	"github.com/shineum/sparkpost-relay/internal/hooks"
)

// Hooks are the points at which callers can rewrite a send in progress.
// They run in this order:
//
//  1. Mail, over the incoming request.
//  2. Headers, after raw headers are mapped (only when there are headers).
//  3. PreMessage, after the body is placed and before recipients are resolved.
//  4. FromEmail, then FromName, after attachments are embedded.
//  5. Message, over the finished transmission right before it is sent.
//
// A transmission hook that returns nil aborts the send.
type Hooks struct {
	Mail       hooks.Chain[email.Request]
	Headers    hooks.Chain[*Transmission]
	PreMessage hooks.Chain[*Transmission]
	FromEmail  hooks.Chain[string]
	FromName   hooks.Chain[string]
	Message    hooks.Chain[*Transmission]
}
