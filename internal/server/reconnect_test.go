package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/seabattle/internal/protocol"
	"github.com/udisondev/seabattle/internal/testutil"
)

func TestBrokerOpenAndResume(t *testing.T) {
	m, a, b := matchPair(t, 5*time.Second, 10*time.Second)
	broker := NewReconnectBroker(5 * time.Second)

	broker.Open(a, b, m)
	assert.True(t, broker.Pending("p0"))
	assert.Equal(t, sigDisconnected, <-m.players[0].sig)

	// Opening twice is a no-op.
	broker.Open(a, b, m)
	assert.True(t, broker.Pending("p0"))

	local, remote := testutil.PipeConn(t)
	go drainConn(remote)
	codec, err := protocol.NewCodec(protocol.FramingLine, local)
	require.NoError(t, err)

	require.True(t, broker.Resume("p0", local, codec))
	assert.False(t, broker.Pending("p0"))
	assert.Equal(t, 2, a.Gen())
	assert.Equal(t, sigReconnected, <-m.players[0].sig)
}

func TestBrokerResumeUnknownUsername(t *testing.T) {
	broker := NewReconnectBroker(time.Second)

	local, remote := testutil.PipeConn(t)
	go drainConn(remote)
	codec, err := protocol.NewCodec(protocol.FramingLine, local)
	require.NoError(t, err)

	assert.False(t, broker.Resume("nobody", local, codec))
}

func TestBrokerExpiryForfeits(t *testing.T) {
	m, a, b := matchPair(t, 5*time.Second, 10*time.Second)
	broker := NewReconnectBroker(100 * time.Millisecond)

	broker.Open(a, b, m)
	assert.Equal(t, sigDisconnected, <-m.players[0].sig)

	select {
	case k := <-m.players[0].sig:
		assert.Equal(t, sigForfeit, k)
	case <-time.After(3 * time.Second):
		t.Fatal("no forfeit after window expiry")
	}
	assert.False(t, broker.Pending("p0"))
}

func TestBrokerAbortStopsCountdown(t *testing.T) {
	m, a, b := matchPair(t, 5*time.Second, 10*time.Second)
	broker := NewReconnectBroker(time.Second)

	broker.Open(a, b, m)
	assert.Equal(t, sigDisconnected, <-m.players[0].sig)

	broker.Abort("p0")
	assert.False(t, broker.Pending("p0"))

	// No forfeit arrives after the window is aborted.
	select {
	case k := <-m.players[0].sig:
		t.Fatalf("unexpected signal %v after abort", k)
	case <-time.After(1500 * time.Millisecond):
	}
}
