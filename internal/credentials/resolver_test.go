package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSettings map[string]string

func (m mapSettings) Setting(_ context.Context, key string) (string, error) {
	return m[key], nil
}

type failingSettings struct{}

func (failingSettings) Setting(context.Context, string) (string, error) {
	return "", errors.New("db closed")
}

const (
	sandboxURL    = "https://sandbox.example"
	productionURL = "https://prod.example"
)

func TestResolve(t *testing.T) {
	full := mapSettings{
		KeySandboxAccessToken:    "sb-token",
		KeySandboxLocationID:     "sb-loc",
		KeyProductionAccessToken: "prod-token",
		KeyProductionLocationID:  "prod-loc",
	}

	tests := []struct {
		name string
		flag string
		want Credentials
	}{
		{"production", "production", Credentials{Production, "prod-token", "prod-loc", productionURL}},
		{"production mixed case", " Production ", Credentials{Production, "prod-token", "prod-loc", productionURL}},
		{"sandbox", "sandbox", Credentials{Sandbox, "sb-token", "sb-loc", sandboxURL}},
		{"empty flag selects sandbox", "", Credentials{Sandbox, "sb-token", "sb-loc", sandboxURL}},
		{"unknown flag selects sandbox", "staging", Credentials{Sandbox, "sb-token", "sb-loc", sandboxURL}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mapSettings{KeyEnvironment: tt.flag}
			for k, v := range full {
				s[k] = v
			}
			got, err := NewResolver(s, sandboxURL+"/", productionURL).Resolve(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveNeverMixesEnvironments(t *testing.T) {
	s := mapSettings{
		KeyEnvironment:          "production",
		KeySandboxAccessToken:   "sb-token",
		KeySandboxLocationID:    "sb-loc",
		KeyProductionLocationID: "prod-loc",
	}

	_, err := NewResolver(s, sandboxURL, productionURL).Resolve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, Production, cfgErr.Environment)
	assert.Equal(t, []string{KeyProductionAccessToken}, cfgErr.Missing)
}

func TestResolveMissingEverything(t *testing.T) {
	_, err := NewResolver(mapSettings{}, sandboxURL, productionURL).Resolve(context.Background())

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, Sandbox, cfgErr.Environment)
	assert.Equal(t, []string{KeySandboxAccessToken, KeySandboxLocationID}, cfgErr.Missing)
	assert.Contains(t, err.Error(), "not configured")
}

func TestResolveWhitespaceTokenIsMissing(t *testing.T) {
	s := mapSettings{KeySandboxAccessToken: "   ", KeySandboxLocationID: "loc"}
	_, err := NewResolver(s, sandboxURL, productionURL).Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestResolveSettingsFailureIsNotConfigError(t *testing.T) {
	_, err := NewResolver(failingSettings{}, sandboxURL, productionURL).Resolve(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConfigured)
}
