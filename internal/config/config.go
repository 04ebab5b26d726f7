// internal/config/config.go
package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSandboxBaseURL    = "https://connect.squareupsandbox.com"
	DefaultProductionBaseURL = "https://connect.squareup.com"
	DefaultAPIVersion        = "2024-12-18"
)

// Main application config. Remote credentials are not kept here, they live in
// the settings table (see internal/credentials).
type Config struct {
	Database   DatabaseConfig `json:"database" yaml:"database"`
	Square     SquareConfig   `json:"square" yaml:"square"`
	ImageRoot  string         `json:"image_root" yaml:"image_root"` // base dir for relative product image paths
	LogLevel   string         `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogConsole bool           `json:"log_console" yaml:"log_console"`

	// MetricsAddr enables the Prometheus /metrics listener, e.g. "127.0.0.1:9464".
	MetricsAddr string           `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
	Telemetry   *TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite | sqlite-pure | postgres | mysql
	DSN    string `json:"dsn" yaml:"dsn"`       // empty = <appdir>/catalogsync.db
}

type SquareConfig struct {
	SandboxBaseURL        string  `json:"sandbox_base_url" yaml:"sandbox_base_url"`
	ProductionBaseURL     string  `json:"production_base_url" yaml:"production_base_url"`
	APIVersion            string  `json:"api_version" yaml:"api_version"`
	Currency              string  `json:"currency" yaml:"currency"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	ImageTimeoutSeconds   int     `json:"image_timeout_seconds" yaml:"image_timeout_seconds"`
	RateLimitPerSecond    float64 `json:"rate_limit_per_second" yaml:"rate_limit_per_second"`
}

// TelemetryConfig enables OTLP gRPC export. Omit the block to disable.
type TelemetryConfig struct {
	OTLPEndpoint string            `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	Insecure     bool              `json:"insecure" yaml:"insecure"`
	ServiceName  string            `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite"},
		Square: SquareConfig{
			SandboxBaseURL:        DefaultSandboxBaseURL,
			ProductionBaseURL:     DefaultProductionBaseURL,
			APIVersion:            DefaultAPIVersion,
			Currency:              "USD",
			RequestTimeoutSeconds: 15,
			ImageTimeoutSeconds:   60,
			RateLimitPerSecond:    10,
		},
		ImageRoot:  "static",
		LogLevel:   "info",
		LogConsole: true,
	}
}

// LoadOrCreate loads the config from path, or writes the default one when the
// file does not exist yet. The bool result reports a first run.
func LoadOrCreate(path string) (*Config, bool, error) {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(path, cfg); err != nil {
				return nil, false, fmt.Errorf("write default config: %w", err)
			}
			return cfg, true, nil
		}
		return nil, false, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if isYAML(path) {
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		err = dec.Decode(cfg)
	} else {
		err = json.NewDecoder(f).Decode(cfg)
	}
	if err != nil {
		return nil, false, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, false, nil
}

func Save(path string, cfg *Config) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Square.RequestTimeoutSeconds) * time.Second
}

func (c *Config) ImageTimeout() time.Duration {
	return time.Duration(c.Square.ImageTimeoutSeconds) * time.Second
}

func (c *Config) validate() error {
	if c.Square.SandboxBaseURL == "" || c.Square.ProductionBaseURL == "" {
		return fmt.Errorf("square base urls are required")
	}
	if c.Square.APIVersion == "" {
		return fmt.Errorf("square.api_version is required")
	}
	if len(c.Square.Currency) != 3 {
		return fmt.Errorf("square.currency %q must be an ISO 4217 code", c.Square.Currency)
	}
	if c.Square.RequestTimeoutSeconds <= 0 {
		c.Square.RequestTimeoutSeconds = 15
	}
	if c.Square.ImageTimeoutSeconds <= 0 {
		c.Square.ImageTimeoutSeconds = 60
	}
	if c.Telemetry != nil && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
