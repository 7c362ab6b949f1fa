// Package sparkpost implements a Provider that sends email through the
// SparkPost transmissions API.
package sparkpost

import (
	"encoding/json"
	"strings"
)

// Transmission is the request body of POST /api/v1/transmissions.
type Transmission struct {
	Recipients       Recipients     `json:"recipients"`
	Content          Content        `json:"content"`
	Options          Options        `json:"options"`
	Description      string         `json:"description,omitempty"`
	CampaignID       string         `json:"campaign_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	SubstitutionData map[string]any `json:"substitution_data,omitempty"`
	ReturnPath       string         `json:"return_path,omitempty"`
}

// Recipients is either a raw comma-separated address string or a list of
// recipient descriptors. It is always a list by the time it is sent.
type Recipients struct {
	raw        string
	list       []Recipient
	structured bool
}

// RawRecipients wraps a comma-separated address string.
func RawRecipients(to string) Recipients {
	return Recipients{raw: to}
}

// RecipientList wraps recipient descriptors.
func RecipientList(recipients ...Recipient) Recipients {
	list := make([]Recipient, len(recipients))
	copy(list, recipients)
	return Recipients{list: list, structured: true}
}

// Structured reports whether the recipients are already descriptors.
func (r Recipients) Structured() bool { return r.structured }

// Raw returns the raw address string of unstructured recipients.
func (r Recipients) Raw() string { return r.raw }

// List returns the recipient descriptors of structured recipients.
func (r Recipients) List() []Recipient { return r.list }

// MarshalJSON encodes structured recipients as an array and raw ones as the
// original string.
func (r Recipients) MarshalJSON() ([]byte, error) {
	if !r.structured {
		return json.Marshal(r.raw)
	}
	if r.list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.list)
}

// Recipient is a single recipient descriptor.
type Recipient struct {
	Address          Address        `json:"address"`
	ReturnPath       string         `json:"return_path,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	SubstitutionData map[string]any `json:"substitution_data,omitempty"`
}

// Address is a recipient's address with an optional display name.
type Address struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	HeaderTo string `json:"header_to,omitempty"`
}

// Content is the message content. Exactly one of HTML or Text is encoded.
// The body is HTML when HTML is non-empty or InlineImages is non-nil.
type Content struct {
	HTML             string       `json:"html"`
	Text             string       `json:"text"`
	Subject          string       `json:"subject"`
	From             From         `json:"from"`
	ReplyTo          string       `json:"reply_to,omitempty"`
	Headers          Headers      `json:"headers"`
	Attachments      []Attachment `json:"attachments"`
	InlineImages     []Attachment `json:"inline_images"`
	TemplateID       string       `json:"template_id,omitempty"`
	UseDraftTemplate bool         `json:"use_draft_template,omitempty"`
}

// IsHTML reports whether the body is encoded as html.
func (c Content) IsHTML() bool {
	return c.HTML != "" || c.InlineImages != nil
}

// MarshalJSON writes the selected body field even when it is empty and
// leaves the other one out.
func (c Content) MarshalJSON() ([]byte, error) {
	type plain Content
	out := struct {
		plain
		HTML         *string       `json:"html,omitempty"`
		Text         *string       `json:"text,omitempty"`
		InlineImages *[]Attachment `json:"inline_images,omitempty"`
	}{plain: plain(c)}

	if c.IsHTML() {
		images := c.InlineImages
		if images == nil {
			images = []Attachment{}
		}
		out.HTML = &c.HTML
		out.InlineImages = &images
	} else {
		out.Text = &c.Text
	}
	return json.Marshal(out)
}

// From is the sender address.
type From struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Attachment is an embedded file.
type Attachment struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Data string `json:"data"`
}

// Options are delivery options. All of them default to off.
type Options struct {
	StartTime       string `json:"start_time,omitempty"`
	OpenTracking    bool   `json:"open_tracking"`
	ClickTracking   bool   `json:"click_tracking"`
	Transactional   bool   `json:"transactional"`
	Sandbox         bool   `json:"sandbox"`
	SkipSuppression bool   `json:"skip_suppression"`
	InlineCSS       bool   `json:"inline_css"`
}

// Header names with special handling in content.headers.
const (
	headerCC          = "cc"
	headerBCC         = "bcc"
	headerContentType = "x-content-type"
)

// HeaderAddress is a cc or bcc address taken from the raw headers.
type HeaderAddress struct {
	Email string `json:"email"`
	Type  string `json:"type"`
}

// Headers is content.headers. Cc and bcc addresses are collected as typed
// lists and encoded as one ';'-joined field each; every other header is
// passed through as is.
type Headers struct {
	CC     []HeaderAddress
	BCC    []HeaderAddress
	Fields map[string]string
}

// Set stores a passthrough header.
func (h *Headers) Set(name, value string) {
	if h.Fields == nil {
		h.Fields = make(map[string]string)
	}
	h.Fields[name] = value
}

// Get returns the encoded value of a header.
func (h Headers) Get(name string) string {
	switch name {
	case headerCC:
		return joinHeaderAddresses(h.CC)
	case headerBCC:
		return joinHeaderAddresses(h.BCC)
	default:
		return h.Fields[name]
	}
}

// Map returns the headers as sent to the API.
func (h Headers) Map() map[string]string {
	m := make(map[string]string, len(h.Fields)+2)
	for k, v := range h.Fields {
		m[k] = v
	}
	if len(h.CC) > 0 {
		m[headerCC] = joinHeaderAddresses(h.CC)
	}
	if len(h.BCC) > 0 {
		m[headerBCC] = joinHeaderAddresses(h.BCC)
	}
	return m
}

// MarshalJSON encodes the headers as a flat JSON object.
func (h Headers) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Map())
}

func joinHeaderAddresses(addrs []HeaderAddress) string {
	emails := make([]string, len(addrs))
	for i, a := range addrs {
		emails[i] = a.Email
	}
	return strings.Join(emails, ";")
}

// errorResponse is the error body returned by the API.
type errorResponse struct {
	Errors []apiError `json:"errors"`
}

type apiError struct {
	Message     string `json:"message"`
	Description string `json:"description"`
	Code        string `json:"code"`
}
