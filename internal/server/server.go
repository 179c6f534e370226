package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/udisondev/seabattle/internal/config"
	"github.com/udisondev/seabattle/internal/db"
	"github.com/udisondev/seabattle/internal/metrics"
	"github.com/udisondev/seabattle/internal/protocol"
)

// SpectatorSink receives every spectator-facing broadcast in addition
// to the TCP spectators, e.g. a websocket gateway.
type SpectatorSink interface {
	Broadcast(msg string)
}

// ServerOption is a functional option for Server configuration.
type ServerOption func(*Server)

// WithHistory attaches a match history repository.
func WithHistory(repo db.MatchRepository) ServerOption {
	return func(s *Server) { s.history = repo }
}

// WithSpectatorSink mirrors spectator broadcasts into an extra sink.
func WithSpectatorSink(sink SpectatorSink) ServerOption {
	return func(s *Server) { s.spectate = sink }
}

// Server is the session server: accept loop, admission, matchmaking,
// and the lifecycle of one match at a time.
type Server struct {
	cfg      config.Server
	registry *Registry
	broker   *ReconnectBroker
	history  db.MatchRepository
	spectate SpectatorSink

	mu       sync.Mutex
	listener net.Listener
	current  *Match
}

// NewServer creates a server from configuration.
func NewServer(cfg config.Server, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(cfg.MaxConnections),
		broker:   NewReconnectBroker(cfg.ReconnectTimeout()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns the listen address, nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run binds cfg.BindAddress:cfg.Port and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on a ready listener. Used by tests with an
// arbitrary listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		slog.Info("session server started", "address", ln.Addr(), "framing", s.cfg.Framing)
		s.acceptLoop(ctx, &wg, ln)
	})

	wg.Wait()

	s.broadcastSystem("Server is shutting down. Goodbye!")
	for _, c := range s.registry.Snapshot() {
		s.registry.Remove(c.ID())
		c.Close()
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, wg *sync.WaitGroup, ln net.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("failed to accept new connection", "error", err)
				continue
			}
			wg.Go(func() {
				s.handleConnection(ctx, conn)
			})
		}
	}
}

// handleConnection performs the username handshake, then either splices
// the connection into an open reconnect window or admits a new client
// and runs its session loop until removal.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	codec, err := protocol.NewCodec(s.cfg.Framing, conn)
	if err != nil {
		slog.Error("codec setup failed", "error", err)
		conn.Close()
		return
	}

	id, err := s.handshake(conn, codec)
	if err != nil {
		slog.Info("handshake failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	// A username with an open reconnect window resumes its match
	// instead of being admitted again.
	if s.broker.Resume(id, conn, codec) {
		return
	}

	c := NewClient(id, conn, codec, s.cfg.InputRatePerSecond, s.cfg.SendQueueSize)
	if err := s.admit(c, codec); err != nil {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readLoop(c.Gen())

	s.welcome(c)
	s.pushQueuePositions()
	s.maybeStartMatch(ctx)

	s.sessionLoop(ctx, c)
}

// handshake reads the first inbound frame as the username, under a
// short deadline so a silent connection cannot hold a slot.
func (s *Server) handshake(conn net.Conn, codec protocol.FrameCodec) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout())); err != nil {
		return "", fmt.Errorf("setting handshake deadline: %w", err)
	}
	f, err := codec.ReadFrame()
	if err != nil {
		return "", fmt.Errorf("reading username frame: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("clearing handshake deadline: %w", err)
	}
	return strings.TrimSpace(f.Payload), nil
}

// admit registers the client, writing the rejection reason directly on
// the not-yet-pumped transport when admission fails.
func (s *Server) admit(c *Client, codec protocol.FrameCodec) error {
	err := s.registry.Admit(c)
	if err == nil {
		s.registry.TagAdmitted(c, s.matchInProgress())
		slog.Info("client admitted", "client", c.ID(), "remote", c.snapshotTransport().conn.RemoteAddr())
		return nil
	}

	var reason, msg string
	switch {
	case errors.Is(err, ErrEmptyID):
		reason, msg = "empty_id", "A username is required. Goodbye."
	case errors.Is(err, ErrCapacity):
		reason, msg = "capacity", "The server is full. Please try again later."
	case errors.Is(err, ErrDuplicateID):
		reason, msg = "duplicate_id", fmt.Sprintf("The name '%s' is already in use. Goodbye.", c.ID())
	default:
		reason, msg = "internal", "Admission failed. Goodbye."
	}
	metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
	_ = codec.WriteFrame(protocol.Frame{Kind: protocol.KindSystem, Payload: msg})
	slog.Info("connection rejected", "client", c.ID(), "reason", reason)
	return err
}

func (s *Server) welcome(c *Client) {
	pos := s.registry.Position(c.ID())
	switch {
	case s.matchInProgress():
		c.SendSystem(fmt.Sprintf("Welcome! You are Spectator #%d in the waiting queue.", pos))
		c.SendSystem("A game is currently in progress. You will receive updates about the game.")
		if pos >= 1 && pos <= 2 {
			c.SendSystem(fmt.Sprintf("You will be Player %d in the next game!", pos))
		}
	case pos == 1:
		c.SendSystem(fmt.Sprintf("Welcome! You are %s.", c.ID()))
		c.SendSystem("Waiting for another player to join...")
	case pos == 2:
		c.SendSystem(fmt.Sprintf("Welcome! You are %s.", c.ID()))
	default:
		c.SendSystem(fmt.Sprintf("Welcome! You are Spectator #%d in the waiting queue.", pos))
	}
}

// sessionLoop consumes the client's event stream until the client is
// removed. It runs for the whole client lifetime, across reconnects.
func (s *Server) sessionLoop(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case ev := <-c.events:
			switch ev.Kind {
			case EventLine:
				s.dispatchLine(c, ev.Line)
			case EventDecodeError:
				c.SendError("Malformed frame ignored.")
			case EventEOF:
				if ev.Gen < c.Gen() {
					continue // stale transport generation
				}
				if done := s.handleTransportFailure(ctx, c); done {
					return
				}
			}
		}
	}
}

// dispatchLine routes one accepted inbound line: slash command, move
// token for a seated player, or chat.
func (s *Server) dispatchLine(c *Client, line string) {
	if strings.HasPrefix(line, "/") {
		s.handleCommand(c, line)
		return
	}

	if c.Role() == RoleActivePlayer {
		// The bare word "quit" is a player-quit at any match prompt.
		if strings.EqualFold(line, "quit") {
			c.MarkQuitting()
			if m := s.currentMatch(); m != nil && m.HasPlayer(c.ID()) {
				m.NotifyQuit(c.ID())
			}
			return
		}
		if in := c.Input(); in != nil {
			select {
			case in <- line:
			default:
				// The controller is not consuming (opponent's turn or a
				// full queue); the token is dropped, matching the
				// out-of-turn input rule.
				c.SendSystem("It is not your turn. Input ignored.")
			}
			return
		}
	}

	s.broadcastChat(c, line)
}

// handleTransportFailure reacts to a dead transport at the current
// generation: a seated player gets a reconnect window, everyone else is
// removed outright. Returns true when the session loop should exit.
func (s *Server) handleTransportFailure(ctx context.Context, c *Client) bool {
	m := s.currentMatch()
	if !c.IsQuitting() && m != nil && m.HasPlayer(c.ID()) {
		if opp := m.Opponent(c.ID()); opp != nil {
			slog.Info("player transport lost mid-match", "client", c.ID())
			s.broker.Open(c, opp, m)
			return false // session survives for the reconnect splice
		}
	}

	s.disconnect(c)

	if m == nil || !m.HasPlayer(c.ID()) {
		s.maybeStartMatch(ctx)
	}
	return true
}

// disconnect removes a client for good: registry, queue, match.
func (s *Server) disconnect(c *Client) {
	if m := s.currentMatch(); m != nil && m.HasPlayer(c.ID()) && c.IsQuitting() {
		m.NotifyQuit(c.ID())
	}

	s.registry.Remove(c.ID())
	c.Close()
	slog.Info("client disconnected", "client", c.ID())
	s.pushQueuePositions()
}

func (s *Server) currentMatch() *Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Server) matchInProgress() bool {
	return s.currentMatch() != nil
}

// maybeStartMatch promotes the two front waiting clients and launches a
// match if none is running. Serialized by s.mu so concurrent admissions
// start at most one match.
func (s *Server) maybeStartMatch(ctx context.Context) {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return
	}
	a, b, ok := s.registry.PromoteFront(s.cfg.InputQueueSize)
	if !ok {
		s.mu.Unlock()
		return
	}
	m := NewMatch(a, b,
		s.cfg.TurnTimeout(), s.cfg.PlacementTimeout(), s.cfg.MaxTimeouts,
		s.broadcastSpectatorBoard)
	s.current = m
	s.mu.Unlock()

	go s.runMatch(ctx, m, a, b)
}

func (s *Server) runMatch(ctx context.Context, m *Match, a, b *Client) {
	s.countdown(ctx)

	res := m.Run(ctx)

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	for _, c := range []*Client{a, b} {
		s.broker.Abort(c.ID())
	}

	s.recordHistory(a.ID(), b.ID(), res)
	s.announceToSpectators(res, a, b)
	s.cleanupAfterMatch(res, a, b)

	s.pushQueuePositions()
	s.maybeStartMatch(ctx)
}

// countdown broadcasts the pre-game countdown to everyone.
func (s *Server) countdown(ctx context.Context) {
	for i := s.cfg.GameStartCountdown; i > 0; i-- {
		s.broadcastGameState(fmt.Sprintf("New game starting in %d seconds...", i))
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		}
	}
	s.broadcastGameState("Game is starting now!")
}

func (s *Server) recordHistory(playerA, playerB string, res Result) {
	if s.history == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := db.MatchRecord{
		PlayerA:   playerA,
		PlayerB:   playerB,
		Winner:    res.Winner,
		Reason:    res.Reason,
		Moves:     res.Moves,
		StartedAt: res.StartedAt,
		EndedAt:   res.EndedAt,
	}
	if err := s.history.RecordMatch(rctx, rec); err != nil {
		slog.Error("failed to record match history", "error", err)
	}
}

func (s *Server) announceToSpectators(res Result, a, b *Client) {
	var line string
	switch {
	case res.Winner != "":
		line = fmt.Sprintf("GAME OVER! %s WINS!", res.Winner)
	default:
		line = "The game has ended."
	}
	for _, c := range s.registry.Snapshot() {
		if c.ID() == a.ID() || c.ID() == b.ID() {
			continue
		}
		c.SendGameState(line)
	}
	if s.spectate != nil {
		s.spectate.Broadcast(line)
	}
}

// cleanupAfterMatch removes players that quit or failed to reconnect
// and recycles the survivors to the back of the queue.
func (s *Server) cleanupAfterMatch(res Result, a, b *Client) {
	recycle := make([]string, 0, 2)
	for _, c := range []*Client{a, b} {
		gone := c.Closed() ||
			(res.Loser == c.ID() && (res.Reason == ReasonQuit || res.Reason == ReasonForfeitReconnect))
		if gone {
			s.registry.Remove(c.ID())
			c.Close()
			continue
		}
		c.SendSystem("You have been returned to the waiting queue.")
		recycle = append(recycle, c.ID())
	}
	if len(recycle) == 0 {
		// Both players are gone; the queue still needs its front retagged.
		s.registry.MatchEnded()
		return
	}
	s.registry.Recycle(recycle...)
}
