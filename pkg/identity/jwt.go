package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the local JWT validator.
type JWTConfig struct {
	// Issuer is the expected issuer claim.
	Issuer string

	// SigningKey is the HMAC key used to verify signatures.
	SigningKey []byte

	// RemediationURL is returned verbatim since local validation has no
	// discovery document to derive one from.
	RemediationURL string
}

// JWTProvider introspects credentials locally by verifying HMAC-signed JWTs.
// It is a providerless deployment mode for environments where the bridge
// shares a signing key with the token issuer; no network round trip is made.
type JWTProvider struct {
	cfg JWTConfig
}

// NewJWTProvider creates a local JWT introspection provider.
func NewJWTProvider(cfg JWTConfig) (*JWTProvider, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("jwt issuer is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("jwt signing key is required")
	}
	return &JWTProvider{cfg: cfg}, nil
}

// Introspect verifies the JWT signature and standard claims. Invalid or
// expired tokens introspect as inactive rather than erroring, matching the
// semantics of a remote introspection endpoint.
func (p *JWTProvider) Introspect(_ context.Context, credential string) (*Introspection, error) {
	token, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.cfg.SigningKey, nil
	})
	if err != nil || !token.Valid {
		return &Introspection{Active: false}, nil
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return &Introspection{Active: false}, nil
	}

	iss, _ := claims["iss"].(string)
	if iss != p.cfg.Issuer {
		return &Introspection{Active: false}, nil
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return &Introspection{Active: false}, nil
	}

	result := &Introspection{
		Active:   true,
		Identity: sub,
	}
	if scope, ok := claims["scope"].(string); ok && scope != "" {
		result.Scopes = strings.Fields(scope)
	}
	if exp, ok := claims["exp"].(float64); ok {
		result.ExpiresAt = time.Unix(int64(exp), 0)
	}
	if cid, ok := claims["client_id"].(string); ok {
		result.ClientID = cid
	}
	return result, nil
}

// RemediationURL returns the configured login URL.
func (p *JWTProvider) RemediationURL(_ context.Context) (string, error) {
	if p.cfg.RemediationURL == "" {
		return "", fmt.Errorf("%w: no remediation url configured", ErrUnavailable)
	}
	return p.cfg.RemediationURL, nil
}

// Verify interface compliance.
var _ Provider = (*JWTProvider)(nil)
