package server

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/udisondev/seabattle/internal/protocol"
)

// ReconnectBroker tracks players whose transport broke mid-match. Each
// gets one window until a deadline; a new connection under the same
// username splices in, an expired window forfeits the match. At most
// one window per username at a time.
type ReconnectBroker struct {
	mu      sync.Mutex
	windows map[string]*reconnectWindow
	timeout time.Duration
}

type reconnectWindow struct {
	client   *Client
	opponent *Client
	match    *Match
	cancel   chan struct{}
	once     sync.Once
}

// NewReconnectBroker creates a broker with the given window duration.
func NewReconnectBroker(timeout time.Duration) *ReconnectBroker {
	return &ReconnectBroker{
		windows: make(map[string]*reconnectWindow),
		timeout: timeout,
	}
}

// Open starts a reconnect window for a disconnected player. A 1 Hz
// countdown goes to both sides best-effort until the player resumes or
// the deadline passes; expiry forfeits the match in the opponent's
// favor. A second Open for the same username is a no-op.
func (b *ReconnectBroker) Open(c, opponent *Client, m *Match) {
	b.mu.Lock()
	if _, open := b.windows[c.ID()]; open {
		b.mu.Unlock()
		return
	}
	w := &reconnectWindow{
		client:   c,
		opponent: opponent,
		match:    m,
		cancel:   make(chan struct{}),
	}
	b.windows[c.ID()] = w
	b.mu.Unlock()

	m.NotifyDisconnected(c.ID())
	slog.Info("reconnect window opened", "client", c.ID(), "timeout", b.timeout)

	go b.countdown(w)
}

func (b *ReconnectBroker) countdown(w *reconnectWindow) {
	remaining := int(b.timeout / time.Second)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for remaining > 0 {
		// The disconnected side's write is best effort: the stale
		// transport is usually dead, but a half-open socket may still
		// deliver it.
		w.client.SendSystem(fmt.Sprintf("Reconnect within %d seconds or you will forfeit!", remaining))
		w.opponent.SendSystem(fmt.Sprintf("Opponent has %d seconds to reconnect or you will win by forfeit.", remaining))

		select {
		case <-w.cancel:
			return
		case <-tick.C:
			remaining--
		}
	}

	if !b.close(w.client.ID()) {
		return
	}
	slog.Info("reconnect window expired", "client", w.client.ID())
	w.match.NotifyForfeit(w.client.ID())
}

// Resume splices a new connection into an open window. Returns false
// when no window is open for the username, in which case the caller
// treats the connection as a fresh admission attempt.
func (b *ReconnectBroker) Resume(id string, conn net.Conn, codec protocol.FrameCodec) bool {
	b.mu.Lock()
	w, open := b.windows[id]
	if open {
		delete(b.windows, id)
	}
	b.mu.Unlock()
	if !open {
		return false
	}

	w.once.Do(func() { close(w.cancel) })

	gen := w.client.AttachTransport(conn, codec)
	go w.client.readLoop(gen)

	w.client.SendSystem("You have reconnected to your game!")
	w.opponent.SendSystem(fmt.Sprintf("[INFO] Player '%s' has reconnected!", id))

	slog.Info("client reconnected", "client", id, "gen", gen)
	w.match.NotifyReconnected(id)
	return true
}

// Pending reports whether a window is open for the username.
func (b *ReconnectBroker) Pending(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, open := b.windows[id]
	return open
}

// Abort closes a window without resuming or forfeiting, used when the
// match ends for another reason while the window is still open.
func (b *ReconnectBroker) Abort(id string) {
	b.close(id)
}

// close removes the window and stops its countdown. Returns false when
// the window had already been resolved.
func (b *ReconnectBroker) close(id string) bool {
	b.mu.Lock()
	w, open := b.windows[id]
	if open {
		delete(b.windows, id)
	}
	b.mu.Unlock()
	if !open {
		return false
	}
	w.once.Do(func() { close(w.cancel) })
	return true
}
