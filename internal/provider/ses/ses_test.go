package ses

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/shineum/sparkpost-relay/internal/email"
	"github.com/shineum/sparkpost-relay/internal/provider"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

var _ provider.Provider = (*SESProvider)(nil)

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient("sender@example.com", &mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_SimpleTextEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("sender@example.com", mock)

	ok := p.Send(context.Background(), email.Request{
		To:      email.RawRecipients("to@example.com"),
		Subject: "Test Subject",
		Body:    "Hello, World!",
	})
	if !ok {
		t.Fatal("Send returned false")
	}

	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}

	input := mock.lastInput
	if input.Content.Simple == nil {
		t.Fatal("expected simple email content, got nil")
	}
	if got := *input.FromEmailAddress; got != "sender@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "sender@example.com")
	}
	if got := *input.Content.Simple.Subject.Data; got != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", got, "Test Subject")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Hello, World!" {
		t.Errorf("TextBody: got %q, want %q", got, "Hello, World!")
	}
	if input.Content.Simple.Body.Html != nil {
		t.Error("expected no HTML body")
	}
}

func TestSend_SimpleHtmlEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("sender@example.com", mock)

	ok := p.Send(context.Background(), email.Request{
		To:      email.RawRecipients("to@example.com"),
		Subject: "HTML Test",
		Body:    "<h1>Hello</h1>",
		Headers: email.HeaderText("Content-Type: text/html; charset=UTF-8\nReply-To: help@example.com"),
	})
	if !ok {
		t.Fatal("Send returned false")
	}

	input := mock.lastInput
	if got := *input.Content.Simple.Body.Html.Data; got != "<h1>Hello</h1>" {
		t.Errorf("HtmlBody: got %q, want %q", got, "<h1>Hello</h1>")
	}
	if input.Content.Simple.Body.Text != nil {
		t.Error("expected no text body alongside the HTML body")
	}
	if len(input.ReplyToAddresses) != 1 || input.ReplyToAddresses[0] != "help@example.com" {
		t.Errorf("ReplyToAddresses: got %v, want [help@example.com]", input.ReplyToAddresses)
	}
}

func TestSend_WithRecipients(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("sender@example.com", mock)

	ok := p.Send(context.Background(), email.Request{
		To:      email.RawRecipients("to1@example.com, to2@example.com"),
		Subject: "Multi-recipient",
		Body:    "Hello",
		Headers: email.HeaderLines("Cc: cc@example.com", "Bcc: bcc@example.com"),
	})
	if !ok {
		t.Fatal("Send returned false")
	}

	dest := mock.lastInput.Destination
	if len(dest.ToAddresses) != 2 {
		t.Errorf("ToAddresses: got %d, want 2", len(dest.ToAddresses))
	}
	if len(dest.CcAddresses) != 1 {
		t.Errorf("CcAddresses: got %d, want 1", len(dest.CcAddresses))
	}
	if len(dest.BccAddresses) != 1 {
		t.Errorf("BccAddresses: got %d, want 1", len(dest.BccAddresses))
	}
}

func TestSend_WithAttachments(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.txt")
	if err := os.WriteFile(path, []byte("file content\n"), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	mock := &mockSESClient{}
	p := NewWithClient("sender@example.com", mock)

	ok := p.Send(context.Background(), email.Request{
		To:          email.RawRecipients("to@example.com"),
		Subject:     "With Attachment",
		Body:        "See attachment",
		Attachments: []string{path},
	})
	if !ok {
		t.Fatal("Send returned false")
	}

	input := mock.lastInput
	if input.Content.Raw == nil {
		t.Fatal("expected raw email content for attachment, got nil")
	}
	if input.Content.Simple != nil {
		t.Error("expected no simple content when using raw message")
	}

	rawStr := string(input.Content.Raw.Data)
	for _, want := range []string{
		"From: sender@example.com",
		"To: to@example.com",
		"Subject: With Attachment",
		"multipart/mixed",
		"text/plain",
		"test.txt",
	} {
		if !strings.Contains(rawStr, want) {
			t.Errorf("raw message missing %q", want)
		}
	}
}

func TestSend_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		req       email.Request
		sendErr   error
		wantCalls int
	}{
		{
			name:      "api error",
			req:       email.Request{To: email.RawRecipients("to@example.com")},
			sendErr:   errors.New("throttled"),
			wantCalls: 1,
		},
		{
			name:      "no recipients",
			req:       email.Request{To: email.RawRecipients("")},
			wantCalls: 0,
		},
		{
			name: "unreadable attachment",
			req: email.Request{
				To:          email.RawRecipients("to@example.com"),
				Attachments: []string{filepath.Join(t.TempDir(), "missing.pdf")},
			},
			wantCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := &mockSESClient{
				sendFn: func(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
					return nil, tt.sendErr
				},
			}
			if tt.sendErr == nil {
				mock.sendFn = nil
			}
			p := NewWithClient("sender@example.com", mock)

			if p.Send(context.Background(), tt.req) {
				t.Error("Send returned true, want false")
			}
			if mock.callCount != tt.wantCalls {
				t.Errorf("call count: got %d, want %d", mock.callCount, tt.wantCalls)
			}
		})
	}
}

func TestBuildRawMessage(t *testing.T) {
	t.Parallel()

	msg := &email.Message{
		To:          []string{"to@example.com"},
		Cc:          []string{"cc@example.com"},
		Bcc:         []string{"hidden@example.com"},
		ReplyTo:     "help@example.com",
		Subject:     "Raw Test",
		TextBody:    "text body",
		Headers:     map[string]string{"x-campaign": "spring"},
		Attachments: []email.Attachment{
			{
				Filename:    "doc.pdf",
				ContentType: "application/pdf",
				Content:     []byte("pdf content"),
			},
		},
	}

	raw, err := buildRawMessage("sender@example.com", msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rawStr := string(raw)
	checks := []struct {
		name     string
		contains string
	}{
		{"From header", "From: sender@example.com"},
		{"To header", "To: to@example.com"},
		{"Cc header", "Cc: cc@example.com"},
		{"Reply-To header", "Reply-To: help@example.com"},
		{"Subject header", "Subject: Raw Test"},
		{"custom header", "X-Campaign: spring"},
		{"MIME-Version", "MIME-Version: 1.0"},
		{"multipart boundary", "multipart/mixed"},
		{"body content type", "text/plain"},
		{"attachment content type", "application/pdf"},
		{"attachment filename", "doc.pdf"},
		{"base64 encoding", "Content-Transfer-Encoding: base64"},
	}

	for _, check := range checks {
		if !strings.Contains(rawStr, check.contains) {
			t.Errorf("raw message missing %s: expected to contain %q", check.name, check.contains)
		}
	}
	if strings.Contains(rawStr, "hidden@example.com") {
		t.Error("raw message must not expose Bcc addresses")
	}
}

func TestBuildInput_CustomHeadersUseRaw(t *testing.T) {
	t.Parallel()

	input, err := buildInput("sender@example.com", &email.Message{
		To:       []string{"to@example.com"},
		TextBody: "hello",
		Headers:  map[string]string{"X-Campaign": "spring"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input.Content.Raw == nil {
		t.Fatal("expected raw content when custom headers are present")
	}
	if got := input.Destination.ToAddresses; len(got) != 1 || got[0] != "to@example.com" {
		t.Errorf("ToAddresses: got %v", got)
	}
}

func TestEncodeBase64WithLineBreaks(t *testing.T) {
	t.Parallel()

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	encoded := encodeBase64WithLineBreaks(data)
	lines := strings.Split(encoded, "\r\n")
	if len(lines) != 2 {
		t.Fatalf("line count: got %d, want 2", len(lines))
	}
	for i, line := range lines {
		if i < len(lines)-1 && len(line) != 76 {
			t.Errorf("line %d length: got %d, want 76", i, len(line))
		}
		if len(line) > 76 {
			t.Errorf("line %d exceeds 76 chars: got %d", i, len(line))
		}
	}
}
