package bridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
server:
  name: reporting-bridge
  transport: http
  address: ":8080"
auth:
  enabled: true
  provider: jwt
  jwt:
    issuer: https://bridge.example.com
    signing_key: secret
sessions:
  ttl: 2h
  idle_timeout: 15m
operations:
  - name: list_reports
    description: List available reports
    keywords: [list, reports]
  - name: run_report
    gated: true
    required_scope: read
    key_properties: [report_id]
routing:
  fallback: list_reports
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "reporting-bridge", cfg.Server.Name)
	assert.Equal(t, "http", cfg.Server.Transport)
	assert.Equal(t, 2*time.Hour, cfg.Sessions.TTL)
	assert.Equal(t, 15*time.Minute, cfg.Sessions.IdleTimeout)

	// Defaults fill the rest.
	assert.Equal(t, "1.0.0", cfg.Server.Version)
	assert.Equal(t, time.Minute, cfg.Sessions.SweepInterval)
	assert.Equal(t, time.Minute, cfg.Sessions.ReapInterval)

	require.Len(t, cfg.Operations, 2)
	assert.True(t, cfg.Operations[1].Gated)
	assert.Equal(t, []string{"report_id"}, cfg.Operations[1].KeyProperties)
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	t.Setenv("BRIDGE_SIGNING_KEY", "from-env")
	path := writeConfigFile(t, `
auth:
  enabled: true
  provider: jwt
  jwt:
    issuer: https://bridge.example.com
    signing_key: ${BRIDGE_SIGNING_KEY}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWT.SigningKey)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a map")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid disabled auth",
			mutate: func(*Config) {},
		},
		{
			name: "auth enabled without provider",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
			},
			wantErr: "auth.provider is required",
		},
		{
			name: "unsupported provider",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.Provider = "saml"
			},
			wantErr: "not supported",
		},
		{
			name: "jwt without signing key",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.Provider = "jwt"
				c.Auth.JWT.Issuer = "https://bridge.example.com"
			},
			wantErr: "signing_key",
		},
		{
			name: "oidc without issuer or endpoints",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.Provider = "oidc"
			},
			wantErr: "auth.oidc.issuer",
		},
		{
			name: "duplicate operation",
			mutate: func(c *Config) {
				c.Operations = []OperationDef{{Name: "a"}, {Name: "a"}}
			},
			wantErr: "declared more than once",
		},
		{
			name: "scope on ungated operation",
			mutate: func(c *Config) {
				c.Operations = []OperationDef{{Name: "a", RequiredScope: "read"}}
			},
			wantErr: "not gated",
		},
		{
			name: "fallback not declared",
			mutate: func(c *Config) {
				c.Routing.Fallback = "missing"
			},
			wantErr: "routing.fallback",
		},
		{
			name: "incomplete service key",
			mutate: func(c *Config) {
				c.Auth.ServiceKeys = []ServiceKeyDef{{Name: "k"}}
			},
			wantErr: "service_keys",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
