// Package credentials selects the Square credential bundle for the active
// environment. Sandbox and production values are never mixed.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

// settings keys
const (
	KeyEnvironment           = "square_environment"
	KeySandboxAccessToken    = "square_sandbox_access_token"
	KeySandboxLocationID     = "square_sandbox_location_id"
	KeyProductionAccessToken = "square_production_access_token"
	KeyProductionLocationID  = "square_production_location_id"
)

// ErrNotConfigured means the integration needs setup. It is never retried.
var ErrNotConfigured = errors.New("square integration not configured")

// ConfigError lists the settings missing for the selected environment.
type ConfigError struct {
	Environment Environment
	Missing     []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("square integration not configured: %s environment is missing %s",
		e.Environment, strings.Join(e.Missing, ", "))
}

func (e *ConfigError) Is(target error) bool { return target == ErrNotConfigured }

type Credentials struct {
	Environment Environment
	AccessToken string
	LocationID  string
	BaseURL     string
}

// SettingsReader returns "" for absent keys.
type SettingsReader interface {
	Setting(ctx context.Context, key string) (string, error)
}

type Resolver struct {
	settings      SettingsReader
	sandboxURL    string
	productionURL string
}

func NewResolver(settings SettingsReader, sandboxURL, productionURL string) *Resolver {
	return &Resolver{
		settings:      settings,
		sandboxURL:    strings.TrimRight(sandboxURL, "/"),
		productionURL: strings.TrimRight(productionURL, "/"),
	}
}

// Resolve reads the environment flag and returns the bundle for that
// environment only. Any value other than "production" selects sandbox.
func (r *Resolver) Resolve(ctx context.Context) (Credentials, error) {
	flag, err := r.settings.Setting(ctx, KeyEnvironment)
	if err != nil {
		return Credentials{}, fmt.Errorf("read environment flag: %w", err)
	}

	c := Credentials{Environment: ParseEnvironment(flag)}
	tokenKey, locationKey := SettingKeys(c.Environment)
	c.BaseURL = r.sandboxURL
	if c.Environment == Production {
		c.BaseURL = r.productionURL
	}

	if c.AccessToken, err = r.settings.Setting(ctx, tokenKey); err != nil {
		return Credentials{}, fmt.Errorf("read %s: %w", tokenKey, err)
	}
	if c.LocationID, err = r.settings.Setting(ctx, locationKey); err != nil {
		return Credentials{}, fmt.Errorf("read %s: %w", locationKey, err)
	}
	c.AccessToken = strings.TrimSpace(c.AccessToken)
	c.LocationID = strings.TrimSpace(c.LocationID)

	var missing []string
	if c.AccessToken == "" {
		missing = append(missing, tokenKey)
	}
	if c.LocationID == "" {
		missing = append(missing, locationKey)
	}
	if len(missing) > 0 {
		return Credentials{}, &ConfigError{Environment: c.Environment, Missing: missing}
	}
	return c, nil
}

func ParseEnvironment(s string) Environment {
	if strings.EqualFold(strings.TrimSpace(s), string(Production)) {
		return Production
	}
	return Sandbox
}

// SettingKeys returns the token and location keys of an environment.
func SettingKeys(env Environment) (token, location string) {
	if env == Production {
		return KeyProductionAccessToken, KeyProductionLocationID
	}
	return KeySandboxAccessToken, KeySandboxLocationID
}
