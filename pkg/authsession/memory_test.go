package authsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	storeTestTTL      = 5 * time.Minute
	storeTestShortTTL = 50 * time.Millisecond
)

func newTestSession(id, identity string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Identity:   identity,
		Credential: "token-" + id,
		Scopes:     []string{"read"},
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(ttl),
		Client:     ClientInfo{Agent: "test-agent", ClientID: "client-" + id},
	}
}

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := newTestSession("s1", "alice", storeTestTTL)
	before := sess.LastUsedAt

	id, err := store.Put(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "s1", id)

	time.Sleep(5 * time.Millisecond)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Identity)
	assert.Equal(t, "token-s1", got.Credential)
	assert.Equal(t, []string{"read"}, got.Scopes)
	assert.True(t, got.LastUsedAt.After(before), "Get should bump LastUsedAt")
}

func TestMemoryStore_PutGeneratesID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := newTestSession("", "alice", storeTestTTL)
	id, err := store.Put(ctx, sess)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, sess.ID)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	got, err := store.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_GetExpiredLazilyRemoved(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Put(ctx, newTestSession("s1", "alice", storeTestShortTTL))
	require.NoError(t, err)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)

	time.Sleep(2 * storeTestShortTTL)

	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got, "expired session should return nil")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalSessions, "expired session must not be counted")
}

func TestMemoryStore_Refresh(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Put(ctx, newTestSession("s1", "alice", storeTestTTL))
	require.NoError(t, err)

	newExpiry := time.Now().Add(time.Hour)
	require.NoError(t, store.Refresh(ctx, "s1", "new-token", newExpiry))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ID, "Refresh preserves the id")
	assert.Equal(t, "new-token", got.Credential)
	assert.Equal(t, newExpiry, got.ExpiresAt)
}

func TestMemoryStore_RefreshUnknown(t *testing.T) {
	store := NewMemoryStore()

	err := store.Refresh(context.Background(), "nonexistent", "t", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Remove(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Put(ctx, newTestSession("s1", "alice", storeTestTTL))
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, "s1"))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, store.Remove(ctx, "s1"), ErrNotFound)
}

func TestMemoryStore_RemoveAllForIdentity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"b1", "b2", "b3"} {
		sess := newTestSession(id, "bob", storeTestTTL)
		// Distinct client ids so the single-session policy does not evict.
		sess.Client.ClientID = "client-" + id
		_, err := store.Put(ctx, sess)
		require.NoError(t, err)
	}
	_, err := store.Put(ctx, newTestSession("a1", "alice", storeTestTTL))
	require.NoError(t, err)

	before, err := store.Stats(ctx)
	require.NoError(t, err)

	n, err := store.RemoveAllForIdentity(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	after, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.TotalSessions-3, after.TotalSessions)
	assert.Equal(t, 1, after.DistinctIdentities, "bob should disappear from identity count")
}

func TestMemoryStore_GetByIdentityCreationOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := newTestSession("b1", "bob", storeTestTTL)
	first.Client.ClientID = "c1"
	second := newTestSession("b2", "bob", storeTestTTL)
	second.Client.ClientID = "c2"

	_, err := store.Put(ctx, first)
	require.NoError(t, err)
	_, err = store.Put(ctx, second)
	require.NoError(t, err)

	sessions, err := store.GetByIdentity(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "b1", sessions[0].ID)
	assert.Equal(t, "b2", sessions[1].ID)
}

func TestMemoryStore_SingleSessionPolicy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := newTestSession("s1", "alice", storeTestTTL)
	first.Client = ClientInfo{Agent: "desktop", ClientID: "c1"}
	second := newTestSession("s2", "alice", storeTestTTL)
	second.Client = ClientInfo{Agent: "desktop", ClientID: "c1"}

	_, err := store.Put(ctx, first)
	require.NoError(t, err)
	_, err = store.Put(ctx, second)
	require.NoError(t, err)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got, "prior session for the same (identity, client) should be superseded")

	got, err = store.Get(ctx, "s2")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestMemoryStore_AutomationClientsExempt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		sess := newTestSession(id, "alice", storeTestTTL)
		sess.Client = ClientInfo{Agent: "ci-pipeline-runner", ClientID: "c1"}
		_, err := store.Put(ctx, sess)
		require.NoError(t, err)
	}

	sessions, err := store.GetByIdentity(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, sessions, 2, "automation clients keep concurrent sessions")
}

func TestMemoryStore_CustomAutomationPredicate(t *testing.T) {
	store := NewMemoryStore(WithAutomationPredicate(func(c ClientInfo) bool {
		return c.Origin == "batch"
	}))
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		sess := newTestSession(id, "alice", storeTestTTL)
		sess.Client = ClientInfo{Agent: "desktop", ClientID: "c1", Origin: "batch"}
		_, err := store.Put(ctx, sess)
		require.NoError(t, err)
	}

	sessions, err := store.GetByIdentity(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestMemoryStore_ExpiryScenario(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Put(ctx, newTestSession("s1", "alice", time.Second))
	require.NoError(t, err)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)

	time.Sleep(1100 * time.Millisecond)

	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalSessions)
}

func TestMemoryStore_ConcurrentPutsSameIdentity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	put := func(id, clientID string) {
		defer wg.Done()
		sess := newTestSession(id, "bob", storeTestTTL)
		sess.Client.ClientID = clientID
		_, err := store.Put(ctx, sess)
		assert.NoError(t, err)
	}

	wg.Add(2)
	go put("b1", "c1")
	go put("b2", "c2")
	wg.Wait()

	sessions, err := store.GetByIdentity(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestMemoryStore_SweepExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Put(ctx, newTestSession("live", "alice", storeTestTTL))
	require.NoError(t, err)
	_, err = store.Put(ctx, newTestSession("dead", "bob", -time.Second))
	require.NoError(t, err)

	require.NoError(t, store.SweepExpired(ctx))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Equal(t, 1, stats.DistinctIdentities)
}

func TestMemoryStore_SweepRoutineLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Put(ctx, newTestSession("s1", "alice", storeTestShortTTL))
	require.NoError(t, err)

	store.StartSweep(20 * time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalSessions, "sweep should have removed expired session")

	assert.NoError(t, store.Close())
}

func TestMemoryStore_CloseWithoutStart(t *testing.T) {
	store := NewMemoryStore()
	assert.NoError(t, store.Close())
}

func TestMemoryStore_StatsTimes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := newTestSession("s1", "alice", storeTestTTL)
	first.CreatedAt = time.Now().Add(-time.Hour)
	_, err := store.Put(ctx, first)
	require.NoError(t, err)

	second := newTestSession("s2", "bob", storeTestTTL)
	_, err = store.Put(ctx, second)
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 2, stats.DistinctIdentities)
	assert.True(t, stats.OldestCreatedAt.Before(stats.NewestCreatedAt))
}
