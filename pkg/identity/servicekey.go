package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/txn2/mcp-tool-bridge/pkg/authsession"
)

// defaultServiceSessionTTL is the session lifetime for key-exchanged
// sessions when the key does not configure one.
const defaultServiceSessionTTL = 8 * time.Hour

// ServiceKey defines a pre-shared key that can be exchanged for an
// authentication session. The key value itself is stored bcrypt-hashed.
type ServiceKey struct {
	// Name is the key's display name, used as the client agent descriptor.
	Name string

	// Identity is the identity sessions created from this key belong to.
	Identity string

	// Hash is the bcrypt hash of the key value.
	Hash string

	// Scopes granted to sessions created from this key.
	Scopes []string

	// TTL is the session lifetime. Defaults to 8h.
	TTL time.Duration
}

// KeyExchanger exchanges configured service keys for authentication
// sessions. This is the bridge-local credential exchange path; interactive
// logins happen at the external provider instead.
type KeyExchanger struct {
	keys  []ServiceKey
	store authsession.Store
}

// NewKeyExchanger creates a key exchanger over the given session store.
func NewKeyExchanger(store authsession.Store, keys []ServiceKey) *KeyExchanger {
	return &KeyExchanger{keys: keys, store: store}
}

// Exchange validates a service key and creates a new authentication session,
// returning the stored session. An unknown key returns nil, nil.
func (e *KeyExchanger) Exchange(ctx context.Context, key string) (*authsession.Session, error) {
	var matched *ServiceKey
	for i := range e.keys {
		if bcrypt.CompareHashAndPassword([]byte(e.keys[i].Hash), []byte(key)) == nil {
			matched = &e.keys[i]
			break
		}
	}
	if matched == nil {
		slog.Debug("identity: service key rejected", "key_hash", HashCredential(key))
		return nil, nil //nolint:nilnil // absent value, not an error: unknown key
	}

	ttl := matched.TTL
	if ttl == 0 {
		ttl = defaultServiceSessionTTL
	}

	now := time.Now()
	sess := &authsession.Session{
		Identity:   matched.Identity,
		Credential: key,
		Scopes:     matched.Scopes,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(ttl),
		Client: authsession.ClientInfo{
			Agent:    matched.Name,
			Origin:   "service-key",
			ClientID: matched.Name,
		},
	}
	if _, err := e.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("storing key-exchanged session: %w", err)
	}

	slog.Info("identity: service key exchanged",
		"identity", matched.Identity,
		"session_id", sess.ID,
		"scopes", len(sess.Scopes),
	)
	return sess, nil
}
