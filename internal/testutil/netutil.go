// Package testutil holds shared test helpers for network-facing tests.
package testutil

import (
	"net"
	"testing"
)

// PipeConn creates a connected pair of net.Conn via net.Pipe.
// Both ends are closed automatically when the test finishes.
func PipeConn(t testing.TB) (client, server net.Conn) {
	t.Helper()

	server, client = net.Pipe()

	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	return client, server
}

// ListenTCP creates a TCP listener on a random port for tests.
// Returns the listener and its address in "host:port" form.
// The listener is closed automatically when the test finishes.
func ListenTCP(t testing.TB) (net.Listener, string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create TCP listener: %v", err)
	}

	t.Cleanup(func() {
		_ = listener.Close()
	})

	return listener, listener.Addr().String()
}
