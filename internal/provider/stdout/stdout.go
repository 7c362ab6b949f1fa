// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/shineum/sparkpost-relay/internal/email"
)

const separator = "========================================\n"

// Provider prints email messages in a human-readable format. It is meant for
// local development where no delivery API is configured.
type Provider struct {
	sender string
	writer io.Writer
}

// New creates a stdout Provider that writes to os.Stdout.
func New(sender string) *Provider {
	return NewWithWriter(sender, os.Stdout)
}

// NewWithWriter creates a stdout Provider that writes to w.
func NewWithWriter(sender string, w io.Writer) *Provider {
	return &Provider{sender: sender, writer: w}
}

// Send prints the request after interpreting its headers and reading its
// attachments. It reports false only when the request cannot be flattened
// or the writer fails.
func (p *Provider) Send(_ context.Context, req email.Request) bool {
	msg, err := email.Flatten(req)
	if err != nil {
		slog.Error("failed to prepare message", "provider", p.Name(), "error", err)
		return false
	}

	var b strings.Builder

	b.WriteString(separator)
	if p.sender != "" {
		fmt.Fprintf(&b, "From: %s\n", p.sender)
	}
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(msg.Bcc, ", "))
	}
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)

	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %s\n", name, msg.Headers[name])
	}

	if msg.HTMLBody != "" {
		b.WriteString("Body (html):\n")
		b.WriteString(msg.HTMLBody + "\n")
	} else {
		b.WriteString("Body:\n")
		b.WriteString(msg.TextBody + "\n")
	}

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s, %s)", att.Filename, att.ContentType, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		slog.Error("failed to write message", "provider", p.Name(), "error", err)
		return false
	}

	return true
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
