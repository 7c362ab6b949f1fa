package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/sparkpost-relay/internal/config"
	"github.com/shineum/sparkpost-relay/internal/email"
	"github.com/shineum/sparkpost-relay/internal/provider/resend"
	"github.com/shineum/sparkpost-relay/internal/provider/sparkpost"
	"github.com/shineum/sparkpost-relay/internal/provider/stdout"
)

// isolateEnv blanks every variable the config loader reads.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"PROVIDER",
		"SMTP_LISTEN", "SMTP_HOSTNAME", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_MAX_MESSAGE_SIZE", "SMTP_SPOOL_DIR",
		"SPARKPOST_API_KEY", "SPARKPOST_ENDPOINT", "SPARKPOST_OPEN_TRACKING", "SPARKPOST_CLICK_TRACKING",
		"SPARKPOST_SANDBOX", "SPARKPOST_TRANSACTIONAL",
		"SITE_URL", "SITE_TITLE", "SITE_FROM_EMAIL", "SITE_FROM_NAME",
		"DIRECTORY_USERS_FILE",
		"SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY", "SES_SENDER",
		"RESEND_API_KEY", "RESEND_SENDER",
		"TLS_CERT_FILE", "TLS_KEY_FILE", "LOG_LEVEL",
	} {
		t.Setenv(env, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// run executes the root command and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader("body from stdin"))
	err := root.Execute()
	return out.String(), err
}

func TestSelectProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		wantType any
		wantErr  bool
	}{
		{
			name:     "sparkpost auto-detected",
			cfg:      config.Config{SparkPost: config.SparkPostConfig{APIKey: "key"}},
			wantType: &sparkpost.Adapter{},
		},
		{
			name:     "sparkpost without key",
			cfg:      config.Config{Provider: config.ProviderSparkPost},
			wantType: &sparkpost.Adapter{},
		},
		{
			name:     "resend",
			cfg:      config.Config{Provider: config.ProviderResend, Resend: config.ResendConfig{APIKey: "re", Sender: "a@example.com"}},
			wantType: &resend.Provider{},
		},
		{
			name:     "stdout fallback",
			cfg:      config.Config{},
			wantType: &stdout.Provider{},
		},
		{
			name:    "ses missing settings",
			cfg:     config.Config{Provider: config.ProviderSES},
			wantErr: true,
		},
		{
			name:    "resend missing settings",
			cfg:     config.Config{Provider: config.ProviderResend},
			wantErr: true,
		},
		{
			name:    "unknown",
			cfg:     config.Config{Provider: "graph"},
			wantErr: true,
		},
		{
			name:    "missing directory file",
			cfg:     config.Config{Provider: config.ProviderSparkPost, Directory: config.DirectoryConfig{UsersFile: "/nonexistent/users.yaml"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := selectProvider(t.Context(), &tt.cfg, io.Discard)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, p)
		})
	}
}

func TestNewSparkPost_ConfigHooks(t *testing.T) {
	t.Parallel()

	users := writeFile(t, "users.yaml", `
users:
  - email: jane@example.com
    display_name: Jane Doe
`)

	adapter, err := newSparkPost(&config.Config{
		SparkPost: config.SparkPostConfig{APIKey: "key", OpenTracking: true, Sandbox: true},
		Site: config.SiteConfig{
			URL:       "https://www.example.com",
			Title:     "Example",
			FromEmail: "news@example.com",
		},
		Directory: config.DirectoryConfig{UsersFile: users},
	})
	require.NoError(t, err)

	tr, err := adapter.Build(email.Request{
		To:      email.RawRecipients("jane@example.com, bob@example.com"),
		Subject: "Hi",
		Body:    "Hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "news@example.com", tr.Content.From.Email)
	assert.Equal(t, "Example", tr.Content.From.Name, "site title stays the name without an override")
	assert.True(t, tr.Options.OpenTracking)
	assert.True(t, tr.Options.Sandbox)
	assert.False(t, tr.Options.ClickTracking)
	assert.False(t, tr.Options.Transactional)

	recipients := tr.Recipients.List()
	require.Len(t, recipients, 2)
	assert.Equal(t, "Jane Doe", recipients[0].Address.Name)
	assert.Empty(t, recipients[1].Address.Name)
}

func TestConfigHooks_Defaults(t *testing.T) {
	t.Parallel()

	h := configHooks(&config.Config{})
	assert.Equal(t, 0, h.FromEmail.Len())
	assert.Equal(t, 0, h.FromName.Len())
	assert.Equal(t, 1, h.Message.Len())
}

func TestSendCommand_DryRun(t *testing.T) {
	isolateEnv(t)

	cfgPath := writeFile(t, "config.yaml", `
provider: sparkpost
sparkpost:
  api_key: "key"
  click_tracking: true
site:
  url: "https://www.example.com"
  title: "Example"
  from_name: "Example Team"
`)
	attachment := writeFile(t, "notes.txt", "some notes\n")

	out, err := run(t, "send", "--config", cfgPath,
		"--to", "a@example.com, b@example.com",
		"--subject", "Report",
		"--body", "<p>hi</p>",
		"--header", "Content-Type: text/html",
		"--header", "Cc: c@example.com",
		"--attach", attachment,
		"--dry-run",
	)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))

	content := payload["content"].(map[string]any)
	assert.Equal(t, "<p>hi</p>", content["html"])
	assert.Nil(t, content["text"])
	assert.Equal(t, map[string]any{"email": "wordpress@example.com", "name": "Example Team"}, content["from"])
	assert.Equal(t, map[string]any{"cc": "c@example.com", "x-content-type": "text/html"}, content["headers"])
	assert.Len(t, content["attachments"], 1)
	assert.Len(t, payload["recipients"], 2)
	assert.Equal(t, true, payload["options"].(map[string]any)["click_tracking"])
}

func TestSendCommand_PostsToSparkPost(t *testing.T) {
	isolateEnv(t)

	var calls atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "key", r.Header.Get("Authorization"))
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"results":{"id":"1"}}`))
	}))
	defer srv.Close()

	t.Setenv("SPARKPOST_API_KEY", "key")
	t.Setenv("SPARKPOST_ENDPOINT", srv.URL)

	out, err := run(t, "send", "--to", "a@example.com", "--subject", "Hi", "--body-file", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "sent via sparkpost")
	assert.EqualValues(t, 1, calls.Load())

	status.Store(http.StatusInternalServerError)
	_, err = run(t, "send", "--to", "a@example.com", "--subject", "Hi", "--body", "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errSendFailed))
	assert.EqualValues(t, 2, calls.Load())
}

func TestSendCommand_Stdout(t *testing.T) {
	isolateEnv(t)
	t.Setenv("PROVIDER", "stdout")
	t.Setenv("SITE_FROM_EMAIL", "noreply@example.com")

	body := writeFile(t, "body.txt", "Hello from a file")

	out, err := run(t, "send", "--to", "a@example.com", "--subject", "Hi", "--body-file", body)
	require.NoError(t, err)
	assert.Contains(t, out, "From: noreply@example.com")
	assert.Contains(t, out, "Subject: Hi")
	assert.Contains(t, out, "Hello from a file")
	assert.Contains(t, out, "sent via stdout")

	_, err = run(t, "send", "--to", "a@example.com", "--dry-run")
	assert.ErrorIs(t, err, errDryRunSupport)
}

func TestSendCommand_InvalidConfig(t *testing.T) {
	isolateEnv(t)
	t.Setenv("PROVIDER", "carrier-pigeon")

	_, err := run(t, "send", "--to", "a@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider: failed oneof")
}

func TestSendCommand_Flags(t *testing.T) {
	isolateEnv(t)

	_, err := run(t, "send", "--subject", "no recipients")
	assert.Error(t, err, "--to is required")

	_, err = run(t, "send", "--to", "a@example.com", "--body", "x", "--body-file", "y")
	assert.Error(t, err, "--body and --body-file are mutually exclusive")
}
