// Package gate enforces per-operation authentication. For every call to a
// gated operation it resolves a live credential through the association
// index and credential store, or produces a structured denial carrying a
// remediation URL. Raw credentials are never logged; diagnostics use
// lengths and SHA-256 digests only.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/txn2/mcp-tool-bridge/pkg/assoc"
	"github.com/txn2/mcp-tool-bridge/pkg/authsession"
	"github.com/txn2/mcp-tool-bridge/pkg/identity"
)

// Denial status codes. These values are returned verbatim in the denial
// payload and must stay wire-stable.
const (
	// StatusAuthDisabled means no gate is configured; calls proceed
	// unauthenticated.
	StatusAuthDisabled = "auth_disabled"

	// StatusAuthenticationRequired means the conversation has no live
	// linked credential.
	StatusAuthenticationRequired = "authentication_required"

	// StatusAuthServerUnavailable means the identity provider could not be
	// reached; gated operations degrade to denial while discovery-only
	// operations remain usable.
	StatusAuthServerUnavailable = "auth_server_unavailable"

	// StatusAuthFailed means an explicitly supplied session id or bearer
	// credential was rejected.
	StatusAuthFailed = "auth_failed"
)

// ActionAuthenticate tells the client how to recover from a denial.
const ActionAuthenticate = "authenticate"

// Denial is the structured payload returned instead of executing a gated
// operation. It is delivered to the caller verbatim.
type Denial struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	AuthURL string `json:"auth_url,omitempty"`
	Action  string `json:"action,omitempty"`
}

// Credential is the resolved caller credential handed opaquely to the
// operation executor. The caller's own token is propagated downstream, not
// a shared service credential.
type Credential struct {
	Identity string
	Token    string
	Scopes   []string
}

// Request carries the authentication-relevant arguments of one call.
type Request struct {
	// AuthSessionID is an explicit authentication-session id supplied by
	// the client, used the first time an id obtained out-of-band is
	// presented (bootstrap path).
	AuthSessionID string

	// BearerToken is a raw provider-issued credential. When present the
	// gate introspects it and, if active, establishes a new authentication
	// session for the conversation.
	BearerToken string
}

// Result is the gate's verdict for one call.
type Result struct {
	Authenticated bool
	Status        string
	Identity      string
	Credential    *Credential
	Denial        *Denial
}

// Stats counts gate outcomes since startup. Observability only.
type Stats struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// Config configures the gate.
type Config struct {
	// Enabled switches gating on. When false every call proceeds
	// unauthenticated with status auth_disabled.
	Enabled bool

	// GatedOperations maps operation name to its required scope ("" when
	// any live credential suffices).
	GatedOperations map[string]string

	// DefaultTTL bounds sessions created from introspected credentials when
	// the provider reports no expiry. Defaults to 1h.
	DefaultTTL time.Duration
}

// Gate decides, per operation call, whether a resolved live credential
// exists or a structured denial must be returned.
type Gate struct {
	enabled    bool
	gated      map[string]string
	store      authsession.Store
	index      *assoc.Index
	provider   identity.Provider
	defaultTTL time.Duration

	allowed atomic.Int64
	denied  atomic.Int64
}

// New creates a gate over the given store, association index, and identity
// provider. The provider may be nil when no bootstrap-by-token or
// remediation URL is needed (denials then carry no auth_url).
func New(cfg Config, store authsession.Store, index *assoc.Index, provider identity.Provider) *Gate {
	gated := make(map[string]string, len(cfg.GatedOperations))
	for name, scope := range cfg.GatedOperations {
		gated[name] = scope
	}
	ttl := cfg.DefaultTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Gate{
		enabled:    cfg.Enabled,
		gated:      gated,
		store:      store,
		index:      index,
		provider:   provider,
		defaultTTL: ttl,
	}
}

// IsGated reports whether an operation requires authentication.
func (g *Gate) IsGated(operation string) bool {
	if !g.enabled {
		return false
	}
	_, ok := g.gated[operation]
	return ok
}

// Stats returns gate outcome counters.
func (g *Gate) Stats() Stats {
	return Stats{Allowed: g.allowed.Load(), Denied: g.denied.Load()}
}

// Authenticate resolves a credential for one call of an operation on a
// transport session, per the gate contract:
//
//  1. Ungated operations pass with no credential.
//  2. An explicit session id (bootstrap) is looked up directly; success
//     links the conversation, failure denies with auth_failed.
//  3. A raw bearer token is introspected at the provider; an active verdict
//     establishes a new session and links the conversation.
//  4. Otherwise the conversation's link is resolved; a missing or expired
//     credential denies with authentication_required.
func (g *Gate) Authenticate(ctx context.Context, transportID, operation string, req Request) Result {
	if !g.enabled {
		return Result{Authenticated: true, Status: StatusAuthDisabled}
	}
	requiredScope, gated := g.gated[operation]
	if !gated {
		g.allowed.Add(1)
		return Result{Authenticated: true}
	}

	if req.AuthSessionID != "" {
		return g.finish(g.bootstrapBySessionID(ctx, transportID, operation, req.AuthSessionID, requiredScope))
	}
	if req.BearerToken != "" {
		return g.finish(g.bootstrapByToken(ctx, transportID, operation, req.BearerToken, requiredScope))
	}
	return g.finish(g.resolveLinked(ctx, transportID, operation, requiredScope))
}

// finish updates outcome counters.
func (g *Gate) finish(r Result) Result {
	if r.Authenticated {
		g.allowed.Add(1)
	} else {
		g.denied.Add(1)
	}
	return r
}

// bootstrapBySessionID handles an explicitly supplied session id.
func (g *Gate) bootstrapBySessionID(ctx context.Context, transportID, operation, authID, requiredScope string) Result {
	sess, err := g.store.Get(ctx, authID)
	if err != nil {
		return g.deny(ctx, StatusAuthFailed, fmt.Sprintf("session lookup failed: %v", err))
	}
	if sess == nil {
		slog.Warn("gate: explicit session id rejected",
			"operation", operation,
			"transport_session_id", transportID,
		)
		return g.deny(ctx, StatusAuthFailed,
			"The supplied session id is unknown or expired. Authenticate again to obtain a new session.")
	}
	if d := g.checkScope(ctx, sess, requiredScope); d != nil {
		return Result{Status: d.Status, Denial: d}
	}

	g.index.Link(transportID, sess.ID)
	slog.Info("gate: conversation linked by explicit session id",
		"operation", operation,
		"transport_session_id", transportID,
		"auth_session_id", sess.ID,
		"identity", sess.Identity,
	)
	return g.allow(sess)
}

// bootstrapByToken introspects a raw bearer credential and establishes a new
// authentication session on an active verdict. No internal lock is held
// during the provider round trip.
func (g *Gate) bootstrapByToken(ctx context.Context, transportID, operation, token, requiredScope string) Result {
	if g.provider == nil {
		return g.deny(ctx, StatusAuthFailed, "no identity provider configured for token authentication")
	}

	intro, err := g.provider.Introspect(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrUnavailable) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Warn("gate: identity provider unavailable",
				"operation", operation,
				"credential_hash", identity.HashCredential(token),
				"error", err,
			)
			return g.deny(ctx, StatusAuthServerUnavailable,
				"The identity provider is unreachable. Retry later; operations that do not require authentication remain available.")
		}
		return g.deny(ctx, StatusAuthFailed, fmt.Sprintf("credential validation failed: %v", err))
	}
	if !intro.Active {
		slog.Warn("gate: inactive credential rejected",
			"operation", operation,
			"credential_hash", identity.HashCredential(token),
		)
		return g.deny(ctx, StatusAuthFailed, "The supplied credential is inactive or expired.")
	}

	expiresAt := intro.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(g.defaultTTL)
	}
	sess := &authsession.Session{
		Identity:   intro.Identity,
		Credential: token,
		Scopes:     intro.Scopes,
		ExpiresAt:  expiresAt,
		Client:     authsession.ClientInfo{ClientID: intro.ClientID, Origin: "introspection"},
	}
	if _, err := g.store.Put(ctx, sess); err != nil {
		return g.deny(ctx, StatusAuthFailed, fmt.Sprintf("storing session: %v", err))
	}
	if d := g.checkScope(ctx, sess, requiredScope); d != nil {
		return Result{Status: d.Status, Denial: d}
	}

	g.index.Link(transportID, sess.ID)
	slog.Info("gate: conversation linked by introspected credential",
		"operation", operation,
		"transport_session_id", transportID,
		"auth_session_id", sess.ID,
		"identity", sess.Identity,
		"credential_len", len(token),
	)
	return g.allow(sess)
}

// resolveLinked resolves the conversation's existing association link.
func (g *Gate) resolveLinked(ctx context.Context, transportID, operation, requiredScope string) Result {
	authID, ok := g.index.Resolve(transportID)
	if !ok {
		return g.deny(ctx, StatusAuthenticationRequired,
			fmt.Sprintf("Operation %q requires authentication and this conversation is not linked to a session. "+
				"Authenticate at the identity provider, then supply the session id or bearer token.", operation))
	}

	sess, err := g.store.Get(ctx, authID)
	if err != nil {
		return g.deny(ctx, StatusAuthenticationRequired, fmt.Sprintf("session lookup failed: %v", err))
	}
	if sess == nil {
		// The linked session expired underneath the conversation.
		g.index.Unlink(transportID)
		return g.deny(ctx, StatusAuthenticationRequired,
			fmt.Sprintf("The session linked to this conversation has expired. Re-authenticate to continue using %q.", operation))
	}
	if d := g.checkScope(ctx, sess, requiredScope); d != nil {
		return Result{Status: d.Status, Denial: d}
	}
	return g.allow(sess)
}

// checkScope verifies the session carries the operation's required scope.
func (g *Gate) checkScope(ctx context.Context, sess *authsession.Session, requiredScope string) *Denial {
	if requiredScope == "" || sess.HasScope(requiredScope) {
		return nil
	}
	d := g.buildDenial(ctx, StatusAuthFailed,
		fmt.Sprintf("The authenticated session lacks the required scope %q.", requiredScope))
	return &d
}

// allow builds a successful result carrying the resolved credential.
func (g *Gate) allow(sess *authsession.Session) Result {
	return Result{
		Authenticated: true,
		Identity:      sess.Identity,
		Credential: &Credential{
			Identity: sess.Identity,
			Token:    sess.Credential,
			Scopes:   sess.Scopes,
		},
	}
}

// deny builds a denial result with a remediation URL when one is available.
func (g *Gate) deny(ctx context.Context, status, message string) Result {
	d := g.buildDenial(ctx, status, message)
	return Result{Status: d.Status, Denial: &d}
}

// buildDenial attaches the remediation URL from provider metadata. An
// unreachable metadata endpoint upgrades the denial to
// auth_server_unavailable.
func (g *Gate) buildDenial(ctx context.Context, status, message string) Denial {
	d := Denial{Status: status, Message: message, Action: ActionAuthenticate}
	if g.provider == nil || status == StatusAuthServerUnavailable {
		return d
	}

	authURL, err := g.provider.RemediationURL(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrUnavailable) {
			d.Status = StatusAuthServerUnavailable
		}
		slog.Debug("gate: remediation url unavailable", "error", err)
		return d
	}
	d.AuthURL = authURL
	return d
}
