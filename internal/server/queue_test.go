package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoteFront(t *testing.T) {
	r := NewRegistry(8)
	for _, id := range []string{"p1", "p2", "s1", "s2"} {
		require.NoError(t, r.Admit(newTestClient(t, id)))
	}

	a, b, ok := r.PromoteFront(8)
	require.True(t, ok)
	assert.Equal(t, "p1", a.ID())
	assert.Equal(t, "p2", b.ID())
	assert.Equal(t, RoleActivePlayer, a.Role())
	assert.Equal(t, RoleActivePlayer, b.Role())
	assert.NotNil(t, a.Input())
	assert.NotNil(t, b.Input())

	// The rest of the queue watches the match.
	assert.Equal(t, RoleActiveSpectator, r.Lookup("s1").Role())
	assert.Equal(t, 2, r.WaitingCount())
	assert.Equal(t, 1, r.Position("s1"))
	assert.Equal(t, 2, r.Position("s2"))
	assert.Equal(t, 0, r.Position("p1"))
}

func TestPromoteFrontNeedsTwo(t *testing.T) {
	r := NewRegistry(8)
	require.NoError(t, r.Admit(newTestClient(t, "lonely")))

	_, _, ok := r.PromoteFront(8)
	assert.False(t, ok)
	assert.Equal(t, 1, r.WaitingCount())
}

func TestRecycle(t *testing.T) {
	r := NewRegistry(8)
	for _, id := range []string{"p1", "p2", "s1"} {
		require.NoError(t, r.Admit(newTestClient(t, id)))
	}
	a, b, ok := r.PromoteFront(8)
	require.True(t, ok)

	r.Recycle(a.ID(), b.ID())

	// Former spectator moved to the front, ex-players queue behind it.
	assert.Equal(t, 1, r.Position("s1"))
	assert.Equal(t, 2, r.Position("p1"))
	assert.Equal(t, 3, r.Position("p2"))
	assert.Nil(t, a.Input())

	// Front two are tagged as the next players.
	assert.Equal(t, RoleWaitingPlayer, r.Lookup("s1").Role())
	assert.Equal(t, RoleWaitingPlayer, r.Lookup("p1").Role())
	assert.Equal(t, RoleWaitingSpectator, r.Lookup("p2").Role())
}

func TestRecycleSkipsRemoved(t *testing.T) {
	r := NewRegistry(8)
	for _, id := range []string{"p1", "p2"} {
		require.NoError(t, r.Admit(newTestClient(t, id)))
	}
	a, b, ok := r.PromoteFront(8)
	require.True(t, ok)

	r.Remove(b.ID())
	r.Recycle(a.ID(), b.ID())

	assert.Equal(t, 1, r.Position("p1"))
	assert.Equal(t, 0, r.Position("p2"))
	assert.Equal(t, 1, r.WaitingCount())
}

func TestMatchEndedRetags(t *testing.T) {
	r := NewRegistry(8)
	for _, id := range []string{"p1", "p2", "s1", "s2", "s3"} {
		require.NoError(t, r.Admit(newTestClient(t, id)))
	}
	a, b, ok := r.PromoteFront(8)
	require.True(t, ok)

	// Both players vanished mid-match: nothing to recycle, but the queue
	// front still needs retagging for the next game.
	r.Remove(a.ID())
	r.Remove(b.ID())
	r.MatchEnded()

	assert.Equal(t, RoleWaitingPlayer, r.Lookup("s1").Role())
	assert.Equal(t, RoleWaitingPlayer, r.Lookup("s2").Role())
	assert.Equal(t, RoleWaitingSpectator, r.Lookup("s3").Role())
}

func TestTagAdmitted(t *testing.T) {
	r := NewRegistry(8)

	first := newTestClient(t, "first")
	require.NoError(t, r.Admit(first))
	r.TagAdmitted(first, false)
	assert.Equal(t, RoleWaitingPlayer, first.Role())

	second := newTestClient(t, "second")
	require.NoError(t, r.Admit(second))
	r.TagAdmitted(second, false)
	assert.Equal(t, RoleWaitingPlayer, second.Role())

	third := newTestClient(t, "third")
	require.NoError(t, r.Admit(third))
	r.TagAdmitted(third, false)
	assert.Equal(t, RoleWaitingSpectator, third.Role())

	// Anyone admitted during a running match spectates it.
	during := newTestClient(t, "during")
	require.NoError(t, r.Admit(during))
	r.TagAdmitted(during, true)
	assert.Equal(t, RoleActiveSpectator, during.Role())
}
