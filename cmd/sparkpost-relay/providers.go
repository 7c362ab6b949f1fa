package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/shineum/sparkpost-relay/internal/config"
	"github.com/shineum/sparkpost-relay/internal/directory"
	"github.com/shineum/sparkpost-relay/internal/provider"
	"github.com/shineum/sparkpost-relay/internal/provider/resend"
	"github.com/shineum/sparkpost-relay/internal/provider/ses"
	"github.com/shineum/sparkpost-relay/internal/provider/sparkpost"
	"github.com/shineum/sparkpost-relay/internal/provider/stdout"
)

// selectProvider builds the delivery backend named by the configuration,
// auto-detecting it from the credentials present when none is named. The
// stdout provider writes to out.
func selectProvider(ctx context.Context, cfg *config.Config, out io.Writer) (provider.Provider, error) {
	name := cfg.ResolveProvider()
	if cfg.Provider == "" {
		slog.Info("provider auto-detected", "provider", name)
	}

	switch name {
	case config.ProviderSparkPost:
		if !cfg.SparkPostConfigured() {
			// Sends will report false until a key is configured.
			slog.Warn("SparkPost provider selected without SPARKPOST_API_KEY")
		}
		return newSparkPost(cfg)

	case config.ProviderSES:
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("SES provider selected but SES_REGION and SES_SENDER are required")
		}
		slog.Info("using AWS SES provider", "region", cfg.SES.Region, "sender", cfg.SES.Sender)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderResend:
		if !cfg.ResendConfigured() {
			return nil, fmt.Errorf("resend provider selected but RESEND_API_KEY and RESEND_SENDER are required")
		}
		slog.Info("using Resend provider", "sender", cfg.Resend.Sender)
		return resend.New(resend.Config{APIKey: cfg.Resend.APIKey, Sender: cfg.Resend.Sender}), nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.NewWithWriter(cfg.Site.FromEmail, out), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// newSparkPost builds the SparkPost adapter with the user directory and the
// hooks derived from configuration.
func newSparkPost(cfg *config.Config) (*sparkpost.Adapter, error) {
	var dir directory.Directory
	if cfg.Directory.UsersFile != "" {
		users, err := directory.LoadFile(cfg.Directory.UsersFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load user directory: %w", err)
		}
		slog.Info("user directory loaded", "users", users.Len())
		dir = users
	}

	return sparkpost.New(sparkpost.Config{
		APIKey:    cfg.SparkPost.APIKey,
		Endpoint:  cfg.SparkPost.Endpoint,
		SiteURL:   cfg.Site.URL,
		SiteTitle: cfg.Site.Title,
		Directory: dir,
		Hooks:     configHooks(cfg),
	}), nil
}

// configHooks installs the sender overrides and the transmission options
// from configuration.
func configHooks(cfg *config.Config) *sparkpost.Hooks {
	h := &sparkpost.Hooks{}

	if email := cfg.Site.FromEmail; email != "" {
		h.FromEmail.Add(func(string) string { return email })
	}
	if name := cfg.Site.FromName; name != "" {
		h.FromName.Add(func(string) string { return name })
	}

	opts := cfg.SparkPost
	h.Message.Add(func(t *sparkpost.Transmission) *sparkpost.Transmission {
		t.Options.OpenTracking = opts.OpenTracking
		t.Options.ClickTracking = opts.ClickTracking
		t.Options.Sandbox = opts.Sandbox
		t.Options.Transactional = opts.Transactional
		return t
	})

	return h
}
