package authsession

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AutomationPredicate reports whether a client is automation-style and
// therefore exempt from single-session eviction.
type AutomationPredicate func(ClientInfo) bool

// defaultAutomationMarkers are matched as substrings against the client
// agent name when no predicate is supplied. Product policy, not a
// structural requirement; override with WithAutomationPredicate.
var defaultAutomationMarkers = []string{"automation", "pipeline", "ci", "bot", "headless"}

// MarkerPredicate returns a predicate matching any of the given markers as
// substrings of the client's agent name, case-insensitively.
func MarkerPredicate(markers []string) AutomationPredicate {
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(m)
	}
	return func(c ClientInfo) bool {
		agent := strings.ToLower(c.Agent)
		for _, marker := range lowered {
			if strings.Contains(agent, marker) {
				return true
			}
		}
		return false
	}
}

// DefaultAutomationPredicate matches well-known automation markers in the
// client's agent name.
var DefaultAutomationPredicate = MarkerPredicate(defaultAutomationMarkers)

// MemoryStore implements Store using mutex-guarded in-memory maps.
// The identity index mirrors the session map; removals update both under
// the same lock so any single removal is atomic.
type MemoryStore struct {
	mu sync.RWMutex

	sessions map[string]*Session

	// byIdentity keeps session ids per identity in creation order.
	byIdentity map[string][]string

	isAutomation AutomationPredicate

	cancel context.CancelFunc
	done   chan struct{}
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithAutomationPredicate overrides the automation-client detection used by
// the single-session policy.
func WithAutomationPredicate(p AutomationPredicate) MemoryStoreOption {
	return func(s *MemoryStore) {
		if p != nil {
			s.isAutomation = p
		}
	}
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions:     make(map[string]*Session),
		byIdentity:   make(map[string][]string),
		isAutomation: DefaultAutomationPredicate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores a session, generating an ID when absent, and returns the ID.
// Interactive (non-automation) clients hold at most one session per
// (identity, client) pair; prior ones are invalidated first. Automation
// clients are exempt so repeated runs are not forced to re-authenticate.
func (s *MemoryStore) Put(_ context.Context, sess *Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastUsedAt.IsZero() {
		sess.LastUsedAt = sess.CreatedAt
	}

	if !s.isAutomation(sess.Client) {
		s.evictClientSessionsLocked(sess.Identity, sess.Client)
	}

	s.sessions[sess.ID] = sess
	s.byIdentity[sess.Identity] = append(s.byIdentity[sess.Identity], sess.ID)

	slog.Debug("authsession: stored",
		"session_id", sess.ID,
		"identity", sess.Identity,
		"credential_len", len(sess.Credential),
		"expires_at", sess.ExpiresAt,
	)
	return sess.ID, nil
}

// Get retrieves a live session by ID. Expired sessions are removed and
// reported as not found. A hit bumps LastUsedAt.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if !time.Now().Before(sess.ExpiresAt) {
		s.removeLocked(id)
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for expired
	}
	sess.LastUsedAt = time.Now()
	return sess, nil
}

// Refresh replaces the credential and expiry in place, preserving the ID.
func (s *MemoryStore) Refresh(_ context.Context, id, credential string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Credential = credential
	sess.ExpiresAt = expiresAt
	return nil
}

// Remove deletes a session and its identity-index entry.
func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	s.removeLocked(id)
	return nil
}

// RemoveAllForIdentity deletes every session owned by identity.
func (s *MemoryStore) RemoveAllForIdentity(_ context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byIdentity[identity]
	for _, id := range ids {
		delete(s.sessions, id)
	}
	delete(s.byIdentity, identity)
	return len(ids), nil
}

// GetByIdentity returns the identity's live sessions in creation order.
func (s *MemoryStore) GetByIdentity(_ context.Context, identity string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	ids := s.byIdentity[identity]
	result := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.sessions[id]; ok && now.Before(sess.ExpiresAt) {
			result = append(result, sess)
		}
	}
	return result, nil
}

// SweepExpired removes all expired sessions.
func (s *MemoryStore) SweepExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			s.removeLocked(id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("authsession: sweep removed expired sessions", "count", removed)
	}
	return nil
}

// Stats returns live-session counts for observability.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	stats := Stats{}
	identities := make(map[string]struct{})
	for _, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			continue
		}
		stats.TotalSessions++
		identities[sess.Identity] = struct{}{}
		if stats.OldestCreatedAt.IsZero() || sess.CreatedAt.Before(stats.OldestCreatedAt) {
			stats.OldestCreatedAt = sess.CreatedAt
		}
		if sess.CreatedAt.After(stats.NewestCreatedAt) {
			stats.NewestCreatedAt = sess.CreatedAt
		}
	}
	stats.DistinctIdentities = len(identities)
	return stats, nil
}

// StartSweep starts a background goroutine that periodically removes expired
// sessions. The goroutine is stopped when Close is called.
func (s *MemoryStore) StartSweep(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.SweepExpired(ctx)
			}
		}
	}()
}

// Close stops the sweep goroutine and waits for it to exit.
// Safe to call even if StartSweep was never called.
func (s *MemoryStore) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// evictClientSessionsLocked invalidates prior sessions for the same
// (identity, client) pair. Caller holds the write lock.
func (s *MemoryStore) evictClientSessionsLocked(identity string, client ClientInfo) {
	var superseded []string
	for _, id := range s.byIdentity[identity] {
		sess, ok := s.sessions[id]
		if !ok {
			continue
		}
		if sess.Client.ClientID == client.ClientID && sess.Client.Agent == client.Agent {
			superseded = append(superseded, id)
		}
	}
	for _, id := range superseded {
		s.removeLocked(id)
		slog.Debug("authsession: superseded prior client session",
			"session_id", id, "identity", identity)
	}
}

// removeLocked deletes a session and mirrors the identity index.
// Caller holds the write lock.
func (s *MemoryStore) removeLocked(id string) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)

	ids := s.byIdentity[sess.Identity]
	for i, sid := range ids {
		if sid == id {
			s.byIdentity[sess.Identity] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byIdentity[sess.Identity]) == 0 {
		delete(s.byIdentity, sess.Identity)
	}
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
