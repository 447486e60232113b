// Package authsession provides the in-memory registry of authentication
// sessions for the bridge. It defines the Store interface for session
// bookkeeping and the Session type that represents one successful login
// holding a time-limited bearer credential.
package authsession

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Refresh and Remove when the session id is
// unknown. Get reports absence as nil, nil instead.
var ErrNotFound = errors.New("authentication session not found")

// ClientInfo describes the client that obtained a session.
type ClientInfo struct {
	// Agent is the client's self-reported agent name (e.g. "claude-desktop").
	Agent string `json:"agent,omitempty"`

	// Origin is where the session was established from.
	Origin string `json:"origin,omitempty"`

	// ClientID is the OAuth client id or equivalent stable identifier.
	ClientID string `json:"client_id,omitempty"`
}

// Session represents one successful login against the identity provider.
type Session struct {
	// ID is the unique, unguessable session identifier.
	ID string

	// Identity is the owning user identity.
	Identity string

	// Credential is the opaque bearer credential. Never logged raw.
	Credential string

	// Scopes granted to the credential.
	Scopes []string

	// ExpiresAt is the absolute credential expiry.
	ExpiresAt time.Time

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	// LastUsedAt is bumped on every successful lookup.
	LastUsedAt time.Time

	// Client describes the client that established the session.
	Client ClientInfo
}

// HasScope reports whether the session carries the given scope.
func (s *Session) HasScope(scope string) bool {
	for _, sc := range s.Scopes {
		if sc == scope {
			return true
		}
	}
	return false
}

// Stats summarizes the live contents of a Store. Observability only.
type Stats struct {
	TotalSessions      int       `json:"total_sessions"`
	DistinctIdentities int       `json:"distinct_identities"`
	OldestCreatedAt    time.Time `json:"oldest_created_at,omitzero"`
	NewestCreatedAt    time.Time `json:"newest_created_at,omitzero"`
}

// Store defines the interface for authentication-session bookkeeping.
type Store interface {
	// Put stores a session, generating an ID when absent, and returns the ID.
	// For non-automation clients, prior sessions for the same
	// (identity, client) pair are invalidated first.
	Put(ctx context.Context, s *Session) (string, error)

	// Get retrieves a live session by ID. Returns nil, nil if not found;
	// expired sessions are lazily removed and reported as not found.
	// A successful lookup bumps LastUsedAt.
	Get(ctx context.Context, id string) (*Session, error)

	// Refresh replaces the credential and expiry in place, preserving the ID.
	// Returns ErrNotFound for unknown ids.
	Refresh(ctx context.Context, id, credential string, expiresAt time.Time) error

	// Remove deletes a session. Returns ErrNotFound for unknown ids.
	Remove(ctx context.Context, id string) error

	// RemoveAllForIdentity deletes every session owned by identity and
	// returns the number removed.
	RemoveAllForIdentity(ctx context.Context, identity string) (int, error)

	// GetByIdentity returns the identity's live sessions in creation order.
	GetByIdentity(ctx context.Context, identity string) ([]*Session, error)

	// SweepExpired removes all expired sessions.
	SweepExpired(ctx context.Context) error

	// Stats returns live-session counts for observability.
	Stats(ctx context.Context) (Stats, error)

	// Close stops background routines and releases resources.
	Close() error
}
