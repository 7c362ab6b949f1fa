// Package parser converts inbound RFC 5322 messages into send requests.
package parser

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/sparkpost-relay/internal/email"
)

// Envelope is the SMTP envelope the message arrived with.
type Envelope struct {
	From       string
	Recipients []string
}

// Parsed is a converted message. Attachments are spooled to disk and remain
// there until Cleanup is called.
type Parsed struct {
	Request email.Request
	// From is the From header address, kept for logging only.
	From string

	spoolDir string
}

// Cleanup removes the spooled attachments. It is safe to call more than once.
func (p *Parsed) Cleanup() error {
	if p == nil || p.spoolDir == "" {
		return nil
	}
	dir := p.spoolDir
	p.spoolDir = ""
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove spool directory: %w", err)
	}
	return nil
}

// Parse reads a message and converts it into an email.Request.
//
// Recipients come from the To header, falling back to the envelope. Envelope
// recipients not named in To or Cc are delivered as Bcc. The HTML body wins
// over the text body and is flagged with a Content-Type header line. Cc, Bcc,
// Reply-To and X- headers pass through; X- names are lower-cased.
//
// Attachments are written below spoolRoot (os.TempDir when empty).
func Parse(r io.Reader, env Envelope, spoolRoot string) (*Parsed, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if err != nil {
		slog.Warn("unknown charset in message header", "error", err)
	}
	defer mr.Close()

	h := mr.Header
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}

	to := addressList(h, "To")
	cc := addressList(h, "Cc")
	bcc := addressList(h, "Bcc")
	if len(to) == 0 {
		to = email.SplitAddresses(strings.Join(env.Recipients, ","))
	}
	bcc = append(bcc, envelopeOnly(env.Recipients, to, cc, bcc)...)

	parsed := &Parsed{}
	if from := addressList(h, "From"); len(from) > 0 {
		parsed.From = from[0]
	}

	var textBody, htmlBody string
	var attachments []string
	for n := 0; ; n++ {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			_ = parsed.Cleanup()
			return nil, fmt.Errorf("failed to read message part: %w", err)
		}
		if part == nil {
			break
		}

		mediaType, filename := describePart(part.Header)
		if filename == "" && (mediaType == "text/plain" || mediaType == "text/html") {
			body, err := io.ReadAll(part.Body)
			if err != nil {
				_ = parsed.Cleanup()
				return nil, fmt.Errorf("failed to read message body: %w", err)
			}
			if mediaType == "text/html" && htmlBody == "" {
				htmlBody = string(body)
			} else if mediaType == "text/plain" && textBody == "" {
				textBody = string(body)
			}
			continue
		}

		if filename == "" {
			if _, ok := part.Header.(*mail.AttachmentHeader); !ok {
				slog.Warn("unrecognized MIME part, skipping", "content_type", mediaType)
				continue
			}
			filename = fallbackName(mediaType)
		}

		path, err := parsed.spool(spoolRoot, n, filename, part.Body)
		if err != nil {
			_ = parsed.Cleanup()
			return nil, err
		}
		attachments = append(attachments, path)
	}

	var lines []string
	if len(cc) > 0 {
		lines = append(lines, "Cc: "+strings.Join(cc, ", "))
	}
	if len(bcc) > 0 {
		lines = append(lines, "Bcc: "+strings.Join(bcc, ", "))
	}
	if replyTo := addressList(h, "Reply-To"); len(replyTo) > 0 {
		lines = append(lines, "Reply-To: "+replyTo[0])
	}
	body := textBody
	if htmlBody != "" {
		body = htmlBody
		lines = append(lines, "Content-Type: text/html; charset=UTF-8")
	}
	lines = append(lines, customHeaders(h)...)

	parsed.Request = email.Request{
		To:          email.RawRecipients(strings.Join(to, ", ")),
		Subject:     subject,
		Body:        body,
		Headers:     email.HeaderLines(lines...),
		Attachments: attachments,
	}
	return parsed, nil
}

// spool writes one attachment into its own numbered directory so the
// original basename survives collisions.
func (p *Parsed) spool(root string, n int, filename string, body io.Reader) (string, error) {
	if p.spoolDir == "" {
		dir, err := os.MkdirTemp(root, "sparkpost-relay-*")
		if err != nil {
			return "", fmt.Errorf("failed to create spool directory: %w", err)
		}
		p.spoolDir = dir
	}

	dir := filepath.Join(p.spoolDir, strconv.Itoa(n))
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create spool directory: %w", err)
	}

	path := filepath.Join(dir, safeName(filename))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to spool attachment: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to spool attachment: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to spool attachment: %w", err)
	}
	return path, nil
}

func describePart(h mail.PartHeader) (mediaType, filename string) {
	switch ph := h.(type) {
	case *mail.InlineHeader:
		mt, params, err := ph.ContentType()
		if err != nil {
			mt = "text/plain"
		}
		_, dparams, _ := ph.ContentDisposition()
		filename = dparams["filename"]
		if filename == "" {
			filename = params["name"]
		}
		return strings.ToLower(mt), filename
	case *mail.AttachmentHeader:
		mt, params, err := ph.ContentType()
		if err != nil {
			mt = "application/octet-stream"
		}
		filename, err = ph.Filename()
		if err != nil || filename == "" {
			filename = params["name"]
		}
		return strings.ToLower(mt), filename
	}
	return "", ""
}

func addressList(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		return email.SplitAddresses(h.Get(key))
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

func envelopeOnly(envelope []string, named ...[]string) []string {
	seen := make(map[string]bool)
	for _, list := range named {
		for _, addr := range list {
			seen[strings.ToLower(addr)] = true
		}
	}

	var extra []string
	for _, addr := range envelope {
		key := strings.ToLower(strings.TrimSpace(addr))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		extra = append(extra, strings.TrimSpace(addr))
	}
	return extra
}

func customHeaders(h mail.Header) []string {
	var lines []string
	fields := h.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		if !strings.HasPrefix(key, "x-") {
			continue
		}
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		lines = append(lines, key+": "+value)
	}
	sort.Strings(lines)
	return lines
}

func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "attachment"
	}
	return name
}

func fallbackName(mediaType string) string {
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}
