// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Provider names accepted in the provider setting.
const (
	ProviderSparkPost = "sparkpost"
	ProviderSES       = "ses"
	ProviderResend    = "resend"
	ProviderStdout    = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	// Provider selects the delivery backend. Empty means auto-detect.
	Provider  string          `yaml:"provider" validate:"omitempty,oneof=sparkpost ses resend stdout"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	SparkPost SparkPostConfig `yaml:"sparkpost"`
	Site      SiteConfig      `yaml:"site"`
	Directory DirectoryConfig `yaml:"directory"`
	SES       SESConfig       `yaml:"ses"`
	Resend    ResendConfig    `yaml:"resend"`
	TLS       TLSConfig       `yaml:"tls"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SMTPConfig holds SMTP relay configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen" validate:"required"`
	Hostname       string `yaml:"hostname" validate:"required,hostname_rfc1123"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size" validate:"min=1024"`
	SpoolDir       string `yaml:"spool_dir"`
}

// SparkPostConfig holds SparkPost API configuration. The tracking and mode
// flags are copied into every transmission's options.
type SparkPostConfig struct {
	APIKey        string `yaml:"api_key"`
	Endpoint      string `yaml:"endpoint" validate:"omitempty,url"`
	OpenTracking  bool   `yaml:"open_tracking"`
	ClickTracking bool   `yaml:"click_tracking"`
	Sandbox       bool   `yaml:"sandbox"`
	Transactional bool   `yaml:"transactional"`
}

// SiteConfig describes the sending site. URL and Title produce the default
// sender; FromEmail and FromName override it.
type SiteConfig struct {
	URL       string `yaml:"url" validate:"omitempty,url"`
	Title     string `yaml:"title"`
	FromEmail string `yaml:"from_email" validate:"omitempty,email"`
	FromName  string `yaml:"from_name"`
}

// DirectoryConfig points at the YAML user directory.
type DirectoryConfig struct {
	UsersFile string `yaml:"users_file"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender" validate:"omitempty,email"`
}

// ResendConfig holds Resend configuration. Sender may include a display
// name, e.g. "Site <noreply@example.com>".
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
	Sender string `yaml:"sender"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file" validate:"required_with=CertFile"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Provider = strings.ToLower(cfg.Provider)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	cfg.applyEnvVars()

	return cfg, nil
}

// Validate checks field constraints. The returned error lists every failing
// field by its YAML path.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ResolveProvider returns the configured provider, or auto-detects one from
// the credentials present: SparkPost, then SES, then Resend, then stdout.
func (c *Config) ResolveProvider() string {
	switch {
	case c.Provider != "":
		return c.Provider
	case c.SparkPostConfigured():
		return ProviderSparkPost
	case c.SESConfigured():
		return ProviderSES
	case c.ResendConfigured():
		return ProviderResend
	default:
		return ProviderStdout
	}
}

// SparkPostConfigured returns true if a SparkPost API key is set.
func (c *Config) SparkPostConfigured() bool {
	return c.SparkPost.APIKey != ""
}

// SESConfigured returns true if the SES region and sender are set. Access
// keys are optional and fall back to the default AWS credential chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// ResendConfigured returns true if the Resend API key and sender are set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != "" && c.Resend.Sender != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// applyDefaults sets default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values
// that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	envString(&c.SMTP.Listen, "SMTP_LISTEN")
	envString(&c.SMTP.Hostname, "SMTP_HOSTNAME")
	envString(&c.SMTP.Username, "SMTP_USERNAME")
	envString(&c.SMTP.Password, "SMTP_PASSWORD")
	envString(&c.SMTP.SpoolDir, "SMTP_SPOOL_DIR")
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}

	envString(&c.SparkPost.APIKey, "SPARKPOST_API_KEY")
	envString(&c.SparkPost.Endpoint, "SPARKPOST_ENDPOINT")
	envBool(&c.SparkPost.OpenTracking, "SPARKPOST_OPEN_TRACKING")
	envBool(&c.SparkPost.ClickTracking, "SPARKPOST_CLICK_TRACKING")
	envBool(&c.SparkPost.Sandbox, "SPARKPOST_SANDBOX")
	envBool(&c.SparkPost.Transactional, "SPARKPOST_TRANSACTIONAL")

	envString(&c.Site.URL, "SITE_URL")
	envString(&c.Site.Title, "SITE_TITLE")
	envString(&c.Site.FromEmail, "SITE_FROM_EMAIL")
	envString(&c.Site.FromName, "SITE_FROM_NAME")

	envString(&c.Directory.UsersFile, "DIRECTORY_USERS_FILE")

	envString(&c.SES.Region, "SES_REGION")
	envString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	envString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	envString(&c.SES.Sender, "SES_SENDER")

	envString(&c.Resend.APIKey, "RESEND_API_KEY")
	envString(&c.Resend.Sender, "RESEND_SENDER")

	envString(&c.TLS.CertFile, "TLS_CERT_FILE")
	envString(&c.TLS.KeyFile, "TLS_KEY_FILE")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
