package sparkpost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/sparkpost-relay/internal/directory"
	"github.com/shineum/sparkpost-relay/internal/email"
)

// DefaultEndpoint is the transmissions endpoint of the US region.
const DefaultEndpoint = "https://api.sparkpost.com/api/v1/transmissions"

const (
	userAgent = "sparkpost-relay"

	// fromLocalPart is the local part of the default sender address.
	fromLocalPart = "wordpress"

	// startNow schedules a transmission for immediate delivery.
	startNow = "now"

	// maxErrorBody bounds how much of an error response is kept for logging.
	maxErrorBody = 4096
)

var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("sparkpost api key not configured")

	// ErrUnexpectedStatus is returned when the API answers with anything but 200.
	ErrUnexpectedStatus = errors.New("unexpected response status")

	errDroppedByHook = errors.New("transmission dropped by hook")
)

// Config holds the configuration for creating an Adapter.
type Config struct {
	APIKey string

	// Endpoint overrides DefaultEndpoint, e.g. for the EU region.
	Endpoint string

	// SiteURL determines the default sender domain, SiteTitle the sender name.
	SiteURL   string
	SiteTitle string

	// Directory resolves display names for bare recipient addresses.
	// Optional.
	Directory directory.Directory

	// Hooks lets callers rewrite sends. Optional.
	Hooks *Hooks

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
}

// Adapter translates email requests into SparkPost transmissions.
type Adapter struct {
	apiKey     string
	endpoint   string
	siteURL    string
	siteTitle  string
	directory  directory.Directory
	hooks      *Hooks
	httpClient *http.Client
}

// New creates a new Adapter with the given configuration.
func New(cfg Config) *Adapter {
	a := &Adapter{
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		siteURL:    cfg.SiteURL,
		siteTitle:  cfg.SiteTitle,
		directory:  cfg.Directory,
		hooks:      cfg.Hooks,
		httpClient: cfg.HTTPClient,
	}
	if a.endpoint == "" {
		a.endpoint = DefaultEndpoint
	}
	if a.hooks == nil {
		a.hooks = &Hooks{}
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return a
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return "sparkpost"
}

// Send builds a transmission from req and posts it. It returns true only if
// the API answered 200; without an API key it returns false without making
// a request.
func (a *Adapter) Send(ctx context.Context, req email.Request) bool {
	logger := slog.With("provider", a.Name(), "transmission_id", uuid.NewString())

	if a.apiKey == "" {
		logger.Warn("skipping send", "error", ErrMissingAPIKey)
		return false
	}

	t, err := a.Build(req)
	if err != nil {
		logger.Error("failed to build transmission", "error", err)
		return false
	}

	if err := a.post(ctx, t); err != nil {
		logger.Error("transmission failed", "error", err)
		return false
	}

	logger.Info("transmission accepted",
		"recipients", len(t.Recipients.List()),
		"attachments", len(t.Content.Attachments),
	)
	return true
}

// Build turns req into the transmission Send would post, running every hook.
// It reads attachment files but makes no network calls.
func (a *Adapter) Build(req email.Request) (*Transmission, error) {
	req = a.hooks.Mail.Apply(req)

	t := a.newTransmission(req)

	t = a.applyHeaders(req.Headers, t)
	if t == nil {
		return nil, errDroppedByHook
	}

	if email.IsHTML(t.Content.Headers.Get(headerContentType)) {
		t.Content.HTML = req.Body
		t.Content.InlineImages = []Attachment{}
	} else {
		t.Content.Text = req.Body
	}

	t = a.hooks.PreMessage.Apply(t)
	if t == nil {
		return nil, errDroppedByHook
	}

	t.Recipients = a.resolveRecipients(t.Recipients)
	if len(t.Recipients.List()) == 0 {
		return nil, email.ErrNoRecipients
	}

	for _, path := range req.Attachments {
		att, err := email.LoadAttachment(path)
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", path, err)
		}
		t.Content.Attachments = append(t.Content.Attachments, Attachment{
			Type: att.ContentType,
			Name: att.Filename,
			Data: dataURI(att.ContentType, att.Content),
		})
	}

	t.Content.From.Email = a.hooks.FromEmail.Apply(t.Content.From.Email)
	t.Content.From.Name = a.hooks.FromName.Apply(t.Content.From.Name)

	t = a.hooks.Message.Apply(t)
	if t == nil {
		return nil, errDroppedByHook
	}
	return t, nil
}

// newTransmission returns a transmission with every option at its default.
func (a *Adapter) newTransmission(req email.Request) *Transmission {
	t := &Transmission{
		Content: Content{
			Subject: req.Subject,
			From: From{
				Email: fromEmail(a.siteURL),
				Name:  a.siteTitle,
			},
			Attachments: []Attachment{},
		},
		Options: Options{StartTime: startNow},
	}

	if req.To.Structured() {
		list := make([]Recipient, 0, len(req.To.List()))
		for _, r := range req.To.List() {
			list = append(list, Recipient{Address: Address{Email: r.Email, Name: r.Name}})
		}
		t.Recipients = RecipientList(list...)
	} else {
		t.Recipients = RawRecipients(req.To.Raw())
	}

	return t
}

// resolveRecipients turns raw recipients into descriptors, naming each
// address after the matching directory user if there is one. Structured
// recipients are returned unchanged.
func (a *Adapter) resolveRecipients(r Recipients) Recipients {
	if r.Structured() {
		return r
	}

	addrs := email.SplitAddresses(r.Raw())
	list := make([]Recipient, 0, len(addrs))
	for _, addr := range addrs {
		rcpt := Recipient{Address: Address{Email: addr}}
		if a.directory != nil {
			if u, ok := a.directory.LookupByEmail(addr); ok {
				rcpt.Address.Name = u.DisplayName
			}
		}
		list = append(list, rcpt)
	}
	return RecipientList(list...)
}

// post performs a single request to the transmissions endpoint.
func (a *Adapter) post(ctx context.Context, t *Transmission) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transmission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", a.apiKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp errorResponse
	if jsonErr := json.Unmarshal(respBody, &errResp); jsonErr == nil && len(errResp.Errors) > 0 {
		return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, describeErrors(errResp.Errors))
	}
	return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(respBody)))
}

// fromEmail derives the default sender from the site URL: its lower-cased
// host with any leading "www." removed.
func fromEmail(siteURL string) string {
	host := ""
	if u, err := url.Parse(siteURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	return fromLocalPart + "@" + strings.TrimPrefix(host, "www.")
}

func dataURI(mediaType string, content []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(content)
}

func describeErrors(errs []apiError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		msg := e.Message
		if e.Description != "" {
			msg += " (" + e.Description + ")"
		}
		if e.Code != "" {
			msg = e.Code + " " + msg
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
