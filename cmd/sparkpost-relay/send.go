package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shineum/sparkpost-relay/internal/config"
	"github.com/shineum/sparkpost-relay/internal/email"
	"github.com/shineum/sparkpost-relay/internal/provider"
	"github.com/shineum/sparkpost-relay/internal/provider/sparkpost"
)

var (
	errSendFailed    = errors.New("provider did not accept the message")
	errDryRunSupport = errors.New("--dry-run requires the sparkpost provider")
)

type sendOptions struct {
	to          []string
	subject     string
	body        string
	bodyFile    string
	headers     []string
	attachments []string
	dryRun      bool
}

func newSendCmd(configPath *string) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a single message through the configured provider",
		Example: `  sparkpost-relay send --to "a@example.com, b@example.com" --subject Hi --body "Hello"
  sparkpost-relay send --to a@example.com --subject Report --body-file report.html \
    --header "Content-Type: text/html" --attach report.pdf --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setupLogger(cfg.Logging.Level, cmd.ErrOrStderr())

			return runSend(cmd, cfg, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.to, "to", nil, "recipient addresses (repeatable or comma-separated)")
	f.StringVar(&opts.subject, "subject", "", "message subject")
	f.StringVar(&opts.body, "body", "", "message body")
	f.StringVar(&opts.bodyFile, "body-file", "", "read the body from a file (- for stdin)")
	f.StringArrayVar(&opts.headers, "header", nil, `raw header line, e.g. "Cc: x@example.com" (repeatable)`)
	f.StringArrayVar(&opts.attachments, "attach", nil, "file to attach (repeatable)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "print the SparkPost transmission instead of sending it")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runSend(cmd *cobra.Command, cfg *config.Config, opts *sendOptions) error {
	body := opts.body
	if opts.bodyFile != "" {
		b, err := readBody(cmd.InOrStdin(), opts.bodyFile)
		if err != nil {
			return err
		}
		body = b
	}

	req := email.Request{
		To:          email.RawRecipients(strings.Join(opts.to, ", ")),
		Subject:     opts.subject,
		Body:        body,
		Headers:     email.HeaderLines(opts.headers...),
		Attachments: opts.attachments,
	}

	prov, err := selectProvider(cmd.Context(), cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	if opts.dryRun {
		adapter, ok := prov.(*sparkpost.Adapter)
		if !ok {
			return errDryRunSupport
		}
		t, err := adapter.Build(req)
		if err != nil {
			return fmt.Errorf("failed to build transmission: %w", err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	}

	if !provider.Mail(cmd.Context(), prov, req.To, req.Subject, req.Body, req.Headers, req.Attachments...) {
		return fmt.Errorf("%s: %w", prov.Name(), errSendFailed)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent via %s\n", prov.Name())
	return nil
}

func readBody(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read body from stdin: %w", err)
		}
		return string(b), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read body file: %w", err)
	}
	return string(b), nil
}
