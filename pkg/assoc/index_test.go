package assoc

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_LinkResolveUnlink(t *testing.T) {
	idx := NewIndex()
	idx.Register("t1")

	idx.Link("t1", "a1")
	authID, ok := idx.Resolve("t1")
	require.True(t, ok)
	assert.Equal(t, "a1", authID)

	idx.Unlink("t1")
	_, ok = idx.Resolve("t1")
	assert.False(t, ok)
}

func TestIndex_LinkOverwrites(t *testing.T) {
	idx := NewIndex()
	idx.Register("t1")

	idx.Link("t1", "a1")
	idx.Link("t1", "a2")

	authID, ok := idx.Resolve("t1")
	require.True(t, ok)
	assert.Equal(t, "a2", authID)
	assert.Equal(t, 1, idx.Linked())
}

func TestIndex_LinkRegistersUnknownTransport(t *testing.T) {
	idx := NewIndex()

	idx.Link("t1", "a1")
	authID, ok := idx.Resolve("t1")
	require.True(t, ok)
	assert.Equal(t, "a1", authID)
}

func TestIndex_ResolveUnknown(t *testing.T) {
	idx := NewIndex()

	_, ok := idx.Resolve("nonexistent")
	assert.False(t, ok)
}

func TestIndex_AutoLinkClaimsOldestUnlinked(t *testing.T) {
	idx := NewIndex()
	idx.Register("t1")
	idx.Register("t2")
	idx.Link("t1", "a0")

	require.True(t, idx.AutoLink("a1"))

	authID, ok := idx.Resolve("t2")
	require.True(t, ok)
	assert.Equal(t, "a1", authID)
}

func TestIndex_AutoLinkClaimsAtMostOne(t *testing.T) {
	idx := NewIndex()
	idx.Register("t1")
	idx.Register("t2")
	idx.Register("t3")

	require.True(t, idx.AutoLink("a1"))
	assert.Equal(t, 1, idx.Linked(), "a single AutoLink call claims one session")

	// A second AutoLink with a different auth session must not reclaim an
	// already-linked transport session.
	require.True(t, idx.AutoLink("a2"))
	assert.Equal(t, 2, idx.Linked())

	seen := make(map[string]int)
	for _, tid := range []string{"t1", "t2", "t3"} {
		if authID, ok := idx.Resolve(tid); ok {
			seen[authID]++
		}
	}
	assert.Equal(t, 1, seen["a1"])
	assert.Equal(t, 1, seen["a2"])
}

func TestIndex_AutoLinkNoCandidate(t *testing.T) {
	idx := NewIndex()
	assert.False(t, idx.AutoLink("a1"))

	idx.Register("t1")
	idx.Link("t1", "a0")
	assert.False(t, idx.AutoLink("a1"), "all transport sessions already linked")
}

func TestIndex_ForgetDropsLink(t *testing.T) {
	idx := NewIndex()
	idx.Register("t1")
	idx.Link("t1", "a1")

	idx.Forget("t1")

	_, ok := idx.Resolve("t1")
	assert.False(t, ok)
	assert.False(t, idx.AutoLink("a2"), "forgotten sessions are not candidates")
}

func TestIndex_RegisterIdempotent(t *testing.T) {
	idx := NewIndex()
	idx.Register("t1")
	idx.Register("t1")

	require.True(t, idx.AutoLink("a1"))
	assert.False(t, idx.AutoLink("a2"), "duplicate registration must not create a second candidate")
}

func TestIndex_ConcurrentAutoLink(t *testing.T) {
	idx := NewIndex()
	const n = 20
	for i := range n {
		idx.Register(fmt.Sprintf("t%d", i))
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx.AutoLink(fmt.Sprintf("a%d", i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, idx.Linked(), "every AutoLink call should claim exactly one session")
}
