package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/seabattle/internal/protocol"
	"github.com/udisondev/seabattle/internal/testutil"
)

func newTestClient(t *testing.T, id string) *Client {
	t.Helper()
	local, remote := testutil.PipeConn(t)
	go drainConn(remote)
	codec, err := protocol.NewCodec(protocol.FramingLine, local)
	require.NoError(t, err)
	c := NewClient(id, local, codec, 1000, 256)
	t.Cleanup(c.Close)
	return c
}

// drainConn discards everything the server writes so pumps never stall.
func drainConn(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func TestRegistryAdmit(t *testing.T) {
	r := NewRegistry(2)

	a := newTestClient(t, "alice")
	require.NoError(t, r.Admit(a))
	assert.Equal(t, 1, r.Count())
	assert.Same(t, a, r.Lookup("alice"))

	require.ErrorIs(t, r.Admit(newTestClient(t, "alice")), ErrDuplicateID)

	require.NoError(t, r.Admit(newTestClient(t, "bob")))
	require.ErrorIs(t, r.Admit(newTestClient(t, "carol")), ErrCapacity)

	require.ErrorIs(t, r.Admit(newTestClient(t, "")), ErrEmptyID)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry(4)
	a := newTestClient(t, "alice")
	require.NoError(t, r.Admit(a))

	in := make(chan string, 1)
	a.setInput(in)

	removed := r.Remove("alice")
	assert.Same(t, a, removed)
	assert.Nil(t, r.Lookup("alice"))
	assert.Equal(t, 0, r.WaitingCount())

	// The input channel is closed so a blocked match reader wakes up.
	_, ok := <-in
	assert.False(t, ok)

	assert.Nil(t, r.Remove("alice"))
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry(4)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Admit(newTestClient(t, id)))
	}
	assert.Len(t, r.Snapshot(), 3)
	assert.Equal(t, 3, r.WaitingCount())
}
