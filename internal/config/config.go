package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"keyauthcli/internal/security"
	api "keyauthcli/pkg/contracts/api/v1"
	"keyauthcli/pkg/keyauth"
)

// Config represents the complete CLI configuration
type Config struct {
	Client    ClientConfig    `yaml:"client" envconfig:"CLIENT"`
	HTTP      HTTPConfig      `yaml:"http" envconfig:"HTTP"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ClientConfig identifies the KeyAuth application
type ClientConfig struct {
	OwnerID string `yaml:"owner_id" envconfig:"OWNER_ID" validate:"required"`
	AppName string `yaml:"app_name" envconfig:"APP_NAME" validate:"required"`
	// Secret may be a "sealed:" value produced by the seal-secret command
	Secret string `yaml:"secret" envconfig:"SECRET" validate:"required"`
	// SecretPassphrase opens a sealed Secret. It is never read from the file.
	SecretPassphrase string `yaml:"-" envconfig:"SECRET_PASSPHRASE"`
	Version          string `yaml:"version" envconfig:"VERSION" validate:"required"`
	Endpoint         string `yaml:"endpoint" envconfig:"ENDPOINT" validate:"required,url"`
}

// HTTPConfig contains outbound HTTP configuration
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`
	UserAgent string        `yaml:"user_agent" envconfig:"USER_AGENT"`
	// Pins are SPKI SHA-256 pins; when set only matching servers are trusted
	Pins []string `yaml:"pins" envconfig:"PINS" validate:"dive,len=64,hexadecimal"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" envconfig:"ENABLED"`
	ServiceName string `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr" envconfig:"METRICS_ADDR" validate:"required,hostname_port"`
	TraceStdout bool   `yaml:"trace_stdout" envconfig:"TRACE_STDOUT"`
}

var validate = validator.New()

// Load builds the configuration from defaults, then the YAML file at path
// (or the first file found in the default locations), then KEYAUTH_*
// environment variables. A sealed secret is opened before validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Unset variables leave file values alone; defaults were applied above
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.openSecret(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (c *Config) openSecret() error {
	if !security.IsSealed(c.Client.Secret) {
		return nil
	}
	if c.Client.SecretPassphrase == "" {
		return fmt.Errorf("client secret is sealed; set %s_CLIENT_SECRET_PASSPHRASE", EnvPrefix)
	}
	secret, err := security.OpenSecret(c.Client.Secret, c.Client.SecretPassphrase)
	if err != nil {
		return fmt.Errorf("failed to open sealed client secret: %w", err)
	}
	c.Client.Secret = secret
	return nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = DefaultLogFile
	}
	return nil
}

// Identity returns the client identity to pass to keyauth.New
func (c *Config) Identity() keyauth.Identity {
	return keyauth.Identity{
		OwnerID: c.Client.OwnerID,
		AppName: c.Client.AppName,
		Secret:  c.Client.Secret,
		Version: c.Client.Version,
	}
}

// SlogLevel converts the configured level to slog.Level
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// findConfigFile returns the first existing default location, or ""
func findConfigFile() string {
	for _, location := range configFileLocations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns default configuration. The client identity has no default.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Endpoint: api.DefaultEndpoint,
		},
		HTTP: HTTPConfig{
			Timeout: DefaultHTTPTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "console",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: DefaultServiceName,
			MetricsAddr: DefaultMetricsAddr,
		},
	}
}
