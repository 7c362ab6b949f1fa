// Package email defines the delivery request handed to providers and the
// helpers providers share to interpret it.
package email

import (
	"strings"

	"github.com/samber/lo"
)

// Request is a single "send email" call: recipients, subject, body, raw
// headers and attachment file paths. It is built per call and discarded after
// the provider returns.
type Request struct {
	To          Recipients
	Subject     string
	Body        string
	Headers     Headers
	Attachments []string
}

// Recipient is a structured recipient descriptor.
type Recipient struct {
	Email string
	Name  string
}

// Recipients holds either a raw comma-separated address string or a list of
// structured recipients. Which form it is gets decided when it is built.
type Recipients struct {
	raw        string
	list       []Recipient
	structured bool
}

// RawRecipients wraps a comma-separated address string such as
// "alice@example.com, bob@example.com".
func RawRecipients(to string) Recipients {
	return Recipients{raw: to}
}

// RecipientList wraps already structured recipients.
func RecipientList(recipients ...Recipient) Recipients {
	list := make([]Recipient, len(recipients))
	copy(list, recipients)
	return Recipients{list: list, structured: true}
}

// Structured reports whether the recipients were given as a list.
func (r Recipients) Structured() bool {
	return r.structured
}

// Raw returns the raw address string. It is empty for structured recipients.
func (r Recipients) Raw() string {
	return r.raw
}

// List returns the structured recipients. It is nil for raw recipients.
func (r Recipients) List() []Recipient {
	return r.list
}

// Addresses flattens the recipients into bare email addresses.
func (r Recipients) Addresses() []string {
	if !r.structured {
		return SplitAddresses(r.raw)
	}
	return lo.FilterMap(r.list, func(rcpt Recipient, _ int) (string, bool) {
		addr := strings.TrimSpace(rcpt.Email)
		return addr, addr != ""
	})
}

// SplitAddresses splits a comma-separated address list, trimming whitespace
// and dropping empty entries.
func SplitAddresses(s string) []string {
	return lo.FilterMap(strings.Split(s, ","), func(part string, _ int) (string, bool) {
		addr := strings.TrimSpace(part)
		return addr, addr != ""
	})
}
