// Package assoc maintains the bidirectional mapping between transport
// sessions (protocol-level conversations) and authentication sessions
// (stored logins). Many transport sessions may point at sessions of the
// same identity; each transport session links to at most one
// authentication session at a time.
package assoc

import (
	"log/slog"
	"sync"
)

// Index tracks registered transport sessions and their association links.
// It is safe for concurrent use. Auto-association scans under the same lock
// used for link mutation, bounding the race window between concurrent
// registration and claiming.
type Index struct {
	mu sync.RWMutex

	// order keeps transport session ids in registration order so that
	// AutoLink claims the oldest unlinked conversation first.
	order      []string
	registered map[string]bool

	// links maps transport session id → authentication session id.
	links map[string]string
}

// NewIndex creates an empty association index.
func NewIndex() *Index {
	return &Index{
		registered: make(map[string]bool),
		links:      make(map[string]string),
	}
}

// Register records a transport session as a candidate for association.
// Registering an already-known id is a no-op.
func (i *Index) Register(transportID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.registered[transportID] {
		return
	}
	i.registered[transportID] = true
	i.order = append(i.order, transportID)
}

// Forget drops a transport session and its link, e.g. on transport closure.
func (i *Index) Forget(transportID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.registered[transportID] {
		return
	}
	delete(i.registered, transportID)
	delete(i.links, transportID)
	for n, id := range i.order {
		if id == transportID {
			i.order = append(i.order[:n], i.order[n+1:]...)
			break
		}
	}
}

// Link binds a transport session to an authentication session, overwriting
// any prior link for the transport session.
func (i *Index) Link(transportID, authID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.registered[transportID] {
		i.registered[transportID] = true
		i.order = append(i.order, transportID)
	}
	i.links[transportID] = authID
}

// Resolve returns the linked authentication session id for a transport
// session, or "" and false when the conversation is not yet authenticated.
func (i *Index) Resolve(transportID string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	authID, ok := i.links[transportID]
	return authID, ok
}

// Unlink removes the association for a transport session. The transport
// session remains registered.
func (i *Index) Unlink(transportID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.links, transportID)
}

// AutoLink binds the first registered transport session with no link to the
// given authentication session. It claims at most one session per call and
// reports whether a candidate was found. This is a best-effort policy:
// selection order across concurrently-registered sessions is unspecified.
func (i *Index) AutoLink(authID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, transportID := range i.order {
		if _, linked := i.links[transportID]; linked {
			continue
		}
		i.links[transportID] = authID
		slog.Debug("assoc: auto-associated transport session",
			"transport_session_id", transportID,
			"auth_session_id", authID,
		)
		return true
	}
	return false
}

// Linked returns the number of transport sessions currently holding a link.
func (i *Index) Linked() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.links)
}
