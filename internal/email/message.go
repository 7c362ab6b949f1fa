package email

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoRecipients is returned when a request resolves to no recipients.
var ErrNoRecipients = errors.New("no recipients provided")

// Message is a provider-neutral view of a Request with headers interpreted
// and attachments loaded. Providers without their own header mapping work
// from this.
type Message struct {
	To          []string
	Cc          []string
	Bcc         []string
	ReplyTo     string
	Subject     string
	TextBody    string
	HTMLBody    string
	Headers     map[string]string
	Attachments []Attachment
}

// Flatten interprets the request headers and reads its attachments.
//
// Cc and Bcc lines accumulate, Reply-To is kept, Content-Type only selects
// between the text and HTML body, and other headers are kept only when their
// name starts with "x-" (any case). The body lands in exactly one of TextBody
// or HTMLBody. An unreadable attachment fails the whole request.
func Flatten(req Request) (*Message, error) {
	msg := &Message{
		To:      req.To.Addresses(),
		Subject: req.Subject,
		Headers: make(map[string]string),
	}
	if len(msg.To) == 0 {
		return nil, ErrNoRecipients
	}

	contentType := ""
	for _, f := range req.Headers.Fields() {
		switch strings.ToLower(f.Name) {
		case "cc":
			msg.Cc = append(msg.Cc, SplitAddresses(f.Value)...)
		case "bcc":
			msg.Bcc = append(msg.Bcc, SplitAddresses(f.Value)...)
		case "reply-to":
			msg.ReplyTo = f.Value
		case "content-type":
			contentType = f.Value
		default:
			if strings.HasPrefix(strings.ToLower(f.Name), "x-") {
				msg.Headers[f.Name] = f.Value
			}
		}
	}

	if IsHTML(contentType) {
		msg.HTMLBody = req.Body
	} else {
		msg.TextBody = req.Body
	}

	for _, path := range req.Attachments {
		att, err := LoadAttachment(path)
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", path, err)
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	return msg, nil
}
