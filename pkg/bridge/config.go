// Package bridge provides the main bridge orchestration: configuration,
// component wiring, MCP tool registration, and lifecycle.
package bridge

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete bridge configuration.
type Config struct {
	Server     ServerConfig   `yaml:"server"`
	Auth       AuthConfig     `yaml:"auth"`
	Backend    BackendConfig  `yaml:"backend"`
	Sessions   SessionsConfig `yaml:"sessions"`
	Operations []OperationDef `yaml:"operations"`
	Routing    RoutingConfig  `yaml:"routing"`
}

// BackendConfig configures the HTTP operation executor used by the binary.
// Library embedders may supply their own executor instead.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	Transport   string `yaml:"transport"` // "stdio", "http"
	Address     string `yaml:"address"`
}

// AuthConfig configures authentication.
type AuthConfig struct {
	// Enabled switches the authentication gate on. When false all
	// operations proceed unauthenticated (auth_disabled).
	Enabled bool `yaml:"enabled"`

	// Provider selects the identity provider: "oidc" or "jwt".
	Provider string `yaml:"provider"`

	OIDC OIDCConfig `yaml:"oidc"`
	JWT  JWTConfig  `yaml:"jwt"`

	// ServiceKeys are pre-shared keys exchangeable for sessions via the
	// authenticate tool.
	ServiceKeys []ServiceKeyDef `yaml:"service_keys"`

	// AutomationMarkers override the default substrings used to exempt
	// automation clients from single-session eviction.
	AutomationMarkers []string `yaml:"automation_markers"`
}

// OIDCConfig configures the remote introspection provider.
type OIDCConfig struct {
	Issuer                string        `yaml:"issuer"`
	IntrospectionEndpoint string        `yaml:"introspection_endpoint"`
	AuthorizationEndpoint string        `yaml:"authorization_endpoint"`
	ClientID              string        `yaml:"client_id"`
	ClientSecret          string        `yaml:"client_secret"`
	RemediationTemplate   string        `yaml:"remediation_template"`
	Timeout               time.Duration `yaml:"timeout"`
}

// JWTConfig configures local JWT verification.
type JWTConfig struct {
	Issuer         string `yaml:"issuer"`
	SigningKey     string `yaml:"signing_key"`
	RemediationURL string `yaml:"remediation_url"`
}

// ServiceKeyDef defines a service key. The key value is stored bcrypt-hashed.
type ServiceKeyDef struct {
	Name     string        `yaml:"name"`
	Identity string        `yaml:"identity"`
	Hash     string        `yaml:"hash"`
	Scopes   []string      `yaml:"scopes"`
	TTL      time.Duration `yaml:"ttl"`
}

// SessionsConfig configures session lifetimes and background maintenance.
type SessionsConfig struct {
	// TTL is the default authentication-session lifetime.
	TTL time.Duration `yaml:"ttl"`

	// SweepInterval is how often expired sessions are swept.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// IdleTimeout is the transport-session idle-age ceiling.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ReapInterval is how often idle transport sessions are reaped.
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// OperationDef declares a backend operation exposed as an MCP tool.
type OperationDef struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Gated         bool     `yaml:"gated"`
	RequiredScope string   `yaml:"required_scope"`
	KeyProperties []string `yaml:"key_properties"`

	// Keywords feed the built-in request classifier.
	Keywords []string `yaml:"keywords"`
}

// RoutingConfig configures the request router.
type RoutingConfig struct {
	// Fallback names the operation chosen when no classification matches.
	Fallback string `yaml:"fallback"`
}

// LoadConfig loads configuration from a file.
// Environment variables in ${VAR} format are expanded.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "mcp-tool-bridge"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "1.0.0"
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = "stdio"
	}
	if cfg.Sessions.TTL == 0 {
		cfg.Sessions.TTL = time.Hour
	}
	if cfg.Sessions.SweepInterval == 0 {
		cfg.Sessions.SweepInterval = time.Minute
	}
	if cfg.Sessions.IdleTimeout == 0 {
		cfg.Sessions.IdleTimeout = 30 * time.Minute
	}
	if cfg.Sessions.ReapInterval == 0 {
		cfg.Sessions.ReapInterval = time.Minute
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Auth.Enabled {
		switch c.Auth.Provider {
		case "oidc":
			if c.Auth.OIDC.Issuer == "" &&
				(c.Auth.OIDC.IntrospectionEndpoint == "" || c.Auth.OIDC.AuthorizationEndpoint == "") {
				errs = append(errs, "auth.oidc.issuer or both endpoints are required when the oidc provider is selected")
			}
		case "jwt":
			if c.Auth.JWT.Issuer == "" {
				errs = append(errs, "auth.jwt.issuer is required when the jwt provider is selected")
			}
			if c.Auth.JWT.SigningKey == "" {
				errs = append(errs, "auth.jwt.signing_key is required when the jwt provider is selected")
			}
		case "":
			errs = append(errs, "auth.provider is required when auth is enabled")
		default:
			errs = append(errs, fmt.Sprintf("auth.provider %q is not supported (oidc, jwt)", c.Auth.Provider))
		}
	}

	seen := make(map[string]bool, len(c.Operations))
	for _, op := range c.Operations {
		if op.Name == "" {
			errs = append(errs, "operations[].name is required")
			continue
		}
		if seen[op.Name] {
			errs = append(errs, fmt.Sprintf("operation %q declared more than once", op.Name))
		}
		seen[op.Name] = true
		if op.RequiredScope != "" && !op.Gated {
			errs = append(errs, fmt.Sprintf("operation %q declares required_scope but is not gated", op.Name))
		}
	}
	if c.Routing.Fallback != "" && !seen[c.Routing.Fallback] {
		errs = append(errs, fmt.Sprintf("routing.fallback %q is not a declared operation", c.Routing.Fallback))
	}

	for _, key := range c.Auth.ServiceKeys {
		if key.Name == "" || key.Identity == "" || key.Hash == "" {
			errs = append(errs, "auth.service_keys entries require name, identity, and hash")
			break
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
