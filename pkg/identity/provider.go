// Package identity provides clients for the external identity provider:
// token introspection, provider metadata discovery, and the service-key
// exchange that establishes new authentication sessions. Cryptographic
// verification of tokens is delegated to the provider; this package only
// transports credentials and never logs them raw.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrUnavailable indicates the identity provider could not be reached
// within the configured timeout. Gated operations degrade to a structured
// denial; discovery-only operations remain usable.
var ErrUnavailable = errors.New("identity provider unavailable")

// Introspection is the provider's verdict on a bearer credential.
type Introspection struct {
	// Active reports whether the credential is live.
	Active bool

	// Identity is the owning user identity (subject).
	Identity string

	// Scopes granted to the credential.
	Scopes []string

	// ExpiresAt is the credential's absolute expiry, zero when unknown.
	ExpiresAt time.Time

	// ClientID identifies the client the credential was issued to.
	ClientID string
}

// Provider validates credentials against the external identity provider and
// exposes the remediation endpoint clients are sent to on denial.
type Provider interface {
	// Introspect validates a bearer credential. A dead provider returns an
	// error wrapping ErrUnavailable; an inactive credential returns
	// Active=false without error.
	Introspect(ctx context.Context, credential string) (*Introspection, error)

	// RemediationURL returns the login/authorization URL derived from
	// provider metadata. Returns an error wrapping ErrUnavailable when the
	// metadata endpoint cannot be reached.
	RemediationURL(ctx context.Context) (string, error)
}

// HashCredential returns the SHA-256 hex digest of a credential for use in
// diagnostics. Empty credentials hash to the empty string.
func HashCredential(credential string) string {
	if credential == "" {
		return ""
	}
	h := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(h[:])
}
