package server

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/udisondev/seabattle/internal/protocol"
)

// Default write queue / timeout constants.
// Overridden by config values when available.
const (
	defaultSendQueueSize = 64
	defaultWriteTimeout  = 5 * time.Second
)

// Role is a client's place in the session lifecycle. Mutated only under
// the registry lock (admission, promotion, recycling) or by the match
// controller at match boundaries.
type Role int32

const (
	RoleWaitingPlayer Role = iota
	RoleWaitingSpectator
	RoleActivePlayer
	RoleActiveSpectator
)

func (r Role) String() string {
	switch r {
	case RoleWaitingPlayer:
		return "Player"
	case RoleWaitingSpectator:
		return "Spectator"
	case RoleActivePlayer:
		return "Player"
	case RoleActiveSpectator:
		return "Spectator"
	default:
		return "Unknown"
	}
}

// transport is one live TCP connection with its codec. A client's
// transport is replaced atomically when a reconnect splices in.
type transport struct {
	conn  net.Conn
	codec protocol.FrameCodec
	gen   int // generation, bumps on every splice
}

// Client is one admitted participant: a username, a transport, the async
// write pump and, while seated in a match, a bounded input channel that
// carries raw move-phase tokens to the match controller.
type Client struct {
	id string

	role atomic.Int32

	// mu guards the transport. Never held across a network write; the
	// write pump snapshots the transport and writes outside the lock.
	mu sync.Mutex
	tr transport

	// events carries typed inbound events from the read loops to the
	// per-client session loop. Single consumer.
	events chan Event

	// input is created on promotion to active player and carries only
	// raw move-phase tokens. Closed by the registry on hard removal so
	// the match controller observes closure. Nil outside a match.
	input chan string

	limiter *rate.Limiter

	sendCh    chan protocol.Frame
	closeCh   chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration

	// quitting is set by /quit so the disconnect path skips the
	// reconnect window for a client that left on purpose.
	quitting atomic.Bool

	// lastWarn throttles rate-limit warnings so a flooding client does
	// not get a warning per dropped line. Unix nanos.
	lastWarn atomic.Int64
}

// NewClient creates a client over an established transport.
func NewClient(id string, conn net.Conn, codec protocol.FrameCodec, ratePerSecond float64, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 2
	}
	c := &Client{
		id:           id,
		tr:           transport{conn: conn, codec: codec, gen: 1},
		events:       make(chan Event, 16),
		limiter:      rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		sendCh:       make(chan protocol.Frame, sendQueueSize),
		closeCh:      make(chan struct{}),
		writeTimeout: defaultWriteTimeout,
	}
	c.role.Store(int32(RoleWaitingPlayer))
	return c
}

// ID returns the client's username.
func (c *Client) ID() string { return c.id }

// Role returns the current role.
func (c *Client) Role() Role { return Role(c.role.Load()) }

// SetRole sets the role. Callers hold the registry lock.
func (c *Client) SetRole(r Role) { c.role.Store(int32(r)) }

// Events returns the inbound event stream.
func (c *Client) Events() <-chan Event { return c.events }

// Input returns the current input channel, nil outside a match.
func (c *Client) Input() chan string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

func (c *Client) setInput(ch chan string) {
	c.mu.Lock()
	c.input = ch
	c.mu.Unlock()
}

// takeInput detaches and returns the input channel so exactly one caller
// closes it.
func (c *Client) takeInput() chan string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.input
	c.input = nil
	return ch
}

// Gen returns the current transport generation.
func (c *Client) Gen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr.gen
}

// AttachTransport splices a new connection in on reconnect: the stale
// conn is closed, the generation bumps, and the caller starts a fresh
// read loop for the new generation. The input channel stays intact.
func (c *Client) AttachTransport(conn net.Conn, codec protocol.FrameCodec) int {
	c.mu.Lock()
	stale := c.tr.conn
	c.tr = transport{conn: conn, codec: codec, gen: c.tr.gen + 1}
	gen := c.tr.gen
	c.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	return gen
}

func (c *Client) snapshotTransport() transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr
}

// writePump is the single serialization point for outbound frames.
// A write failure is converted into a synthetic EOF on the inbound side;
// the pump itself keeps draining so countdown messages during a
// reconnect window stay best-effort instead of backing up the queue.
func (c *Client) writePump() {
	for {
		select {
		case f := <-c.sendCh:
			tr := c.snapshotTransport()
			if tr.conn == nil {
				continue
			}
			if err := tr.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.postEvent(Event{Kind: EventEOF, Gen: tr.gen})
				continue
			}
			if err := tr.codec.WriteFrame(f); err != nil {
				slog.Debug("write failed", "client", c.id, "err", err)
				c.postEvent(Event{Kind: EventEOF, Gen: tr.gen})
				continue
			}
		case <-c.closeCh:
			return
		}
	}
}

// Send queues a frame for async delivery. Non-blocking: a full queue
// means a slow client, which is closed rather than allowed to stall the
// rest of the server.
func (c *Client) Send(f protocol.Frame) {
	select {
	case c.sendCh <- f:
	case <-c.closeCh:
	default:
		slog.Warn("send queue full, disconnecting slow client", "client", c.id)
		c.Close()
	}
}

// SendSystem queues a system message line.
func (c *Client) SendSystem(msg string) {
	c.Send(protocol.Frame{Kind: protocol.KindSystem, Payload: msg})
}

// SendChat queues a chat line.
func (c *Client) SendChat(msg string) {
	c.Send(protocol.Frame{Kind: protocol.KindChat, Payload: msg})
}

// SendBoard queues a board rendering as one atomic grid frame.
func (c *Client) SendBoard(rendered string) {
	c.Send(protocol.Frame{Kind: protocol.KindBoard, Payload: rendered})
}

// SendGameState queues a game state line (start, end, status).
func (c *Client) SendGameState(msg string) {
	c.Send(protocol.Frame{Kind: protocol.KindGameState, Payload: msg})
}

// SendError queues an input-error line.
func (c *Client) SendError(msg string) {
	c.Send(protocol.Frame{Kind: protocol.KindError, Payload: msg})
}

// MarkQuitting flags the client as leaving on purpose.
func (c *Client) MarkQuitting() { c.quitting.Store(true) }

// IsQuitting reports whether the client issued /quit.
func (c *Client) IsQuitting() bool { return c.quitting.Load() }

// Close shuts the client down: stops the write pump and closes the
// current transport. Safe to call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.mu.Lock()
		conn := c.tr.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *Client) postEvent(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closeCh:
	}
}
