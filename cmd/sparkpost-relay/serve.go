package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/sparkpost-relay/internal/smtp"
	smtptls "github.com/shineum/sparkpost-relay/internal/tls"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the SMTP relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setupLogger(cfg.Logging.Level, os.Stdout)

			tlsConfig, err := smtptls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.SMTP.Hostname)
			if err != nil {
				return fmt.Errorf("failed to setup TLS: %w", err)
			}
			tlsMode := "self-signed"
			if cfg.TLS.CertFile != "" {
				tlsMode = "file"
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			prov, err := selectProvider(ctx, cfg, os.Stdout)
			if err != nil {
				return err
			}

			server := smtp.New(smtp.ServerConfig{
				ListenAddr:     cfg.SMTP.Listen,
				Hostname:       cfg.SMTP.Hostname,
				Provider:       prov,
				TLSConfig:      tlsConfig,
				AuthUsername:   cfg.SMTP.Username,
				AuthPassword:   cfg.SMTP.Password,
				MaxMessageSize: cfg.SMTP.MaxMessageSize,
				SpoolDir:       cfg.SMTP.SpoolDir,
			})

			slog.Info("starting sparkpost-relay",
				"listen", cfg.SMTP.Listen,
				"provider", prov.Name(),
				"auth_enabled", cfg.AuthEnabled(),
				"tls_mode", tlsMode,
			)

			if err := server.ListenAndServe(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}

			slog.Info("sparkpost-relay stopped")
			return nil
		},
	}
}
