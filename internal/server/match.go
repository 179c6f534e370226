package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/seabattle/internal/game"
	"github.com/udisondev/seabattle/internal/metrics"
)

// Match end reasons, recorded in history and metrics.
const (
	ReasonAllShipsSunk     = "all_ships_sunk"
	ReasonForfeitTimeouts  = "forfeit_timeouts"
	ReasonForfeitReconnect = "forfeit_reconnect"
	ReasonQuit             = "quit"
	ReasonServerError      = "server_error"
	ReasonShutdown         = "shutdown"
)

// signalKind is an out-of-band event injected into a running match:
// quits come from the session loop, disconnect/reconnect/forfeit from
// the reconnect broker.
type signalKind int

const (
	sigQuit signalKind = iota
	sigDisconnected
	sigReconnected
	sigForfeit
)

// playerState is one seated player: the client, its truth grid, its
// consecutive-timeout strikes, and the signal channel match-external
// goroutines use to interrupt it. The input channel is captured at
// seating so the controller observes closure even after the registry
// detaches it on hard removal.
type playerState struct {
	c       *Client
	board   *game.Board
	in      <-chan string
	strikes int
	sig     chan signalKind
}

// Result is the outcome of one finished match.
type Result struct {
	Winner    string // empty on shutdown or server error
	Loser     string
	Reason    string
	Moves     int
	StartedAt time.Time
	EndedAt   time.Time
}

// matchFailure ends a match in favor of the non-failing player.
type matchFailure struct {
	loser  int
	reason string
}

func (e *matchFailure) Error() string {
	return fmt.Sprintf("player %d lost: %s", e.loser, e.reason)
}

// Match runs exactly one game between two seated players: concurrent
// ship placement, then the alternating turn loop. It exclusively owns
// both grids, the turn pointer, and the timeout counters; everything
// external reaches it through the players' input and signal channels.
type Match struct {
	players [2]*playerState

	turnTimeout      time.Duration
	placementTimeout time.Duration
	maxTimeouts      int

	// broadcast pushes the combined public rendering to spectators.
	broadcast func(rendered string)

	done  chan struct{}
	moves int
}

// NewMatch seats two clients for one game.
func NewMatch(a, b *Client, turnTimeout, placementTimeout time.Duration, maxTimeouts int, broadcast func(string)) *Match {
	if broadcast == nil {
		broadcast = func(string) {}
	}
	m := &Match{
		turnTimeout:      turnTimeout,
		placementTimeout: placementTimeout,
		maxTimeouts:      maxTimeouts,
		broadcast:        broadcast,
		done:             make(chan struct{}),
	}
	for i, c := range []*Client{a, b} {
		m.players[i] = &playerState{
			c:     c,
			board: game.NewBoard(),
			in:    c.Input(),
			sig:   make(chan signalKind, 4),
		}
	}
	return m
}

// HasPlayer reports whether the given username is seated in this match.
func (m *Match) HasPlayer(id string) bool {
	return m.playerIndex(id) >= 0
}

// Opponent returns the other seated client, or nil if id is not seated.
func (m *Match) Opponent(id string) *Client {
	i := m.playerIndex(id)
	if i < 0 {
		return nil
	}
	return m.players[1-i].c
}

func (m *Match) playerIndex(id string) int {
	for i, p := range m.players {
		if p.c.ID() == id {
			return i
		}
	}
	return -1
}

// NotifyQuit injects an explicit quit for the given player.
func (m *Match) NotifyQuit(id string) { m.signal(id, sigQuit) }

// NotifyDisconnected pauses the given player's timers while a reconnect
// window is open.
func (m *Match) NotifyDisconnected(id string) { m.signal(id, sigDisconnected) }

// NotifyReconnected resumes the given player with a fresh timer.
func (m *Match) NotifyReconnected(id string) { m.signal(id, sigReconnected) }

// NotifyForfeit ends the match against the given player (expired
// reconnect window).
func (m *Match) NotifyForfeit(id string) { m.signal(id, sigForfeit) }

func (m *Match) signal(id string, k signalKind) {
	i := m.playerIndex(id)
	if i < 0 {
		return
	}
	select {
	case m.players[i].sig <- k:
	case <-m.done:
	}
}

// Run plays the match to completion and returns its result. It blocks
// the caller; cancellation of ctx ends the match as a shutdown.
func (m *Match) Run(ctx context.Context) Result {
	started := time.Now()
	defer close(m.done)

	metrics.MatchesStarted.Inc()
	slog.Info("match started", "player_a", m.players[0].c.ID(), "player_b", m.players[1].c.ID())

	res := m.play(ctx)
	res.Moves = m.moves
	res.StartedAt = started
	res.EndedAt = time.Now()

	metrics.MatchesFinished.WithLabelValues(res.Reason).Inc()
	slog.Info("match finished", "winner", res.Winner, "reason", res.Reason, "moves", res.Moves)
	return res
}

func (m *Match) play(ctx context.Context) Result {
	if res, ended := m.placementPhase(ctx); ended {
		return res
	}

	for _, p := range m.players {
		p.c.SendGameState("Both players have placed ships. The battle begins!")
	}
	m.broadcastPublic()

	return m.turnPhase(ctx)
}

// endFor builds the result for a match the player at index loser lost.
func (m *Match) endFor(loser int, reason string) Result {
	return Result{
		Winner: m.players[1-loser].c.ID(),
		Loser:  m.players[loser].c.ID(),
		Reason: reason,
	}
}

func (m *Match) broadcastPublic() {
	a, b := m.players[0], m.players[1]
	m.broadcast(game.RenderSideBySide(a.c.ID(), a.board, b.c.ID(), b.board))
}

// --- placement phase ---

// placementPhase drives both players' manual placement concurrently.
// Returns ended=true with the final result when one side failed before
// any turn was played.
func (m *Match) placementPhase(ctx context.Context) (Result, bool) {
	eg, gctx := errgroup.WithContext(ctx)
	for i := range m.players {
		eg.Go(func() error { return m.placeShips(gctx, i) })
	}

	err := eg.Wait()
	if err == nil {
		return Result{}, false
	}

	var fail *matchFailure
	if errors.As(err, &fail) {
		res := m.endFor(fail.loser, fail.reason)
		winner := m.players[1-fail.loser].c
		loser := m.players[fail.loser].c
		winner.SendGameState(fmt.Sprintf("%s failed to place ships. Game ending.", loser.ID()))
		winner.SendGameState("GAME OVER! You win!")
		loser.SendGameState("You failed to place your ships. Game ending.")
		loser.SendGameState(fmt.Sprintf("GAME OVER! %s WINS!", winner.ID()))
		return res, true
	}
	return Result{Reason: ReasonShutdown}, true
}

// placeShips walks one player through the fleet. Validation failures
// retry the same ship without consuming a strike; timeout, quit, or
// forfeit fails placement for that side.
func (m *Match) placeShips(ctx context.Context, i int) error {
	p := m.players[i]
	p.c.SendGameState(fmt.Sprintf("Welcome, %s. It's time to place your ships.", p.c.ID()))

	for _, ship := range game.Fleet {
		for {
			p.c.SendBoard(p.board.Render(game.TruthView))
			p.c.SendSystem(fmt.Sprintf("Place your %s (size %d).", ship.Name, ship.Size))

			p.c.SendSystem("Enter start coordinate (e.g., A1):")
			coordLine, err := m.awaitLine(ctx, p, m.placementTimeout)
			if err != nil {
				return placementErr(i, err)
			}

			p.c.SendSystem("Enter orientation ('H' or 'V'):")
			orientLine, err := m.awaitLine(ctx, p, m.placementTimeout)
			if err != nil {
				return placementErr(i, err)
			}

			coordLine = strings.ToUpper(coordLine)
			orientLine = strings.ToUpper(orientLine)

			coord, perr := game.ParseCoord(coordLine)
			if perr != nil {
				p.c.SendError(fmt.Sprintf("Invalid input for %s placement: %v. Try again.", ship.Name, perr))
				continue
			}
			orient, perr := game.ParseOrientation(orientLine)
			if perr != nil {
				p.c.SendError("Invalid orientation. Use 'H' for horizontal or 'V' for vertical. Try again.")
				continue
			}
			if err := p.board.Place(ship, coord, orient); err != nil {
				p.c.SendError(fmt.Sprintf("Cannot place %s at %s%s. It overlaps existing ships or is out of bounds. Try again.",
					ship.Name, coord, orientLine))
				continue
			}

			p.c.SendSystem(fmt.Sprintf("%s placed successfully at %s%s.", ship.Name, coord, orientLine))
			break
		}
	}

	p.c.SendSystem(fmt.Sprintf("%s, all your ships have been placed:", p.c.ID()))
	p.c.SendBoard(p.board.Render(game.TruthView))
	p.c.SendSystem("Waiting for the other player to finish placing ships...")
	return nil
}

// placementErr converts an elapsed placement budget into an outright
// loss for that side; there is no strike allowance before the first
// turn. Everything else passes through unchanged.
func placementErr(i int, err error) error {
	if errors.Is(err, errRecvTimeout) {
		return &matchFailure{loser: i, reason: ReasonForfeitTimeouts}
	}
	return err
}

// errRecvTimeout distinguishes an elapsed inactivity budget inside
// awaitLine; placement and turn phases react to it differently.
var errRecvTimeout = errors.New("inactivity budget elapsed")

// awaitLine reads one token from player i's input channel under the
// given budget, absorbing that player's own disconnect/reconnect cycle
// (the timer restarts after a resume). Quit, forfeit, a closed input
// channel, and cancellation surface as *matchFailure or ctx.Err();
// an elapsed budget is errRecvTimeout.
func (m *Match) awaitLine(ctx context.Context, p *playerState, budget time.Duration) (string, error) {
	i := m.playerIndex(p.c.ID())
	timer := time.NewTimer(budget)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-p.in:
			if !ok {
				return "", &matchFailure{loser: i, reason: ReasonQuit}
			}
			return line, nil
		case k := <-p.sig:
			switch k {
			case sigQuit:
				return "", &matchFailure{loser: i, reason: ReasonQuit}
			case sigForfeit:
				return "", &matchFailure{loser: i, reason: ReasonForfeitReconnect}
			case sigDisconnected:
				timer.Stop()
				if err := m.awaitResume(ctx, p); err != nil {
					return "", err
				}
				timer.Reset(budget)
			case sigReconnected:
				// Resume raced ahead of the disconnect signal; ignore.
			}
		case <-timer.C:
			return "", errRecvTimeout
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// awaitResume blocks until the player reconnects, forfeits, or the
// match is cancelled.
func (m *Match) awaitResume(ctx context.Context, p *playerState) error {
	i := m.playerIndex(p.c.ID())
	for {
		select {
		case k := <-p.sig:
			switch k {
			case sigReconnected:
				return nil
			case sigForfeit:
				return &matchFailure{loser: i, reason: ReasonForfeitReconnect}
			case sigQuit:
				return &matchFailure{loser: i, reason: ReasonQuit}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// --- turn phase ---

func (m *Match) turnPhase(ctx context.Context) Result {
	active := 0
	for {
		res, ended := m.playTurn(ctx, active)
		if ended {
			return res
		}
		active = 1 - active
	}
}

// playTurn runs one full turn of the active player. ended=true means
// the match is over and res is final; otherwise the turn passes.
func (m *Match) playTurn(ctx context.Context, active int) (Result, bool) {
	cur, opp := m.players[active], m.players[1-active]

	cur.c.SendGameState(fmt.Sprintf("--- %s, it's your turn! ---", cur.c.ID()))
	cur.c.SendSystem(fmt.Sprintf("Your view of %s's board:", opp.c.ID()))
	cur.c.SendBoard(opp.board.Render(game.PublicView))
	cur.c.SendSystem(fmt.Sprintf("You have %d seconds to make your move.", int(m.turnTimeout/time.Second)))
	opp.c.SendSystem(fmt.Sprintf("Waiting for %s to make a move...", cur.c.ID()))
	m.broadcastPublic()

	for {
		line, err := m.awaitTurnInput(ctx, active)
		if err != nil {
			return m.resolveTurnError(active, err)
		}

		coord, perr := game.ParseCoord(strings.ToUpper(line))
		if perr != nil {
			// No turn consumed, no strike; same timer window restarts.
			cur.c.SendError(fmt.Sprintf("Invalid move input ('%s'): %v. Please provide a valid coordinate.", line, perr))
			continue
		}

		cur.strikes = 0
		return m.applyShot(active, coord)
	}
}

// awaitTurnInput is awaitLine for the active player that additionally
// watches the waiting opponent's signal channel, so an opponent quit or
// expired reconnect window ends the match immediately.
func (m *Match) awaitTurnInput(ctx context.Context, active int) (string, error) {
	cur, opp := m.players[active], m.players[1-active]
	timer := time.NewTimer(m.turnTimeout)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-cur.in:
			if !ok {
				return "", &matchFailure{loser: active, reason: ReasonQuit}
			}
			return line, nil
		case k := <-cur.sig:
			switch k {
			case sigQuit:
				return "", &matchFailure{loser: active, reason: ReasonQuit}
			case sigForfeit:
				return "", &matchFailure{loser: active, reason: ReasonForfeitReconnect}
			case sigDisconnected:
				timer.Stop()
				if err := m.awaitResume(ctx, cur); err != nil {
					return "", err
				}
				// Same FSM state, fresh timer, prompts resent.
				cur.c.SendGameState(fmt.Sprintf("--- %s, it's your turn! ---", cur.c.ID()))
				cur.c.SendBoard(opp.board.Render(game.PublicView))
				cur.c.SendSystem(fmt.Sprintf("You have %d seconds to make your move.", int(m.turnTimeout/time.Second)))
				timer.Reset(m.turnTimeout)
			case sigReconnected:
			}
		case k := <-opp.sig:
			switch k {
			case sigQuit:
				return "", &matchFailure{loser: 1 - active, reason: ReasonQuit}
			case sigForfeit:
				return "", &matchFailure{loser: 1 - active, reason: ReasonForfeitReconnect}
			case sigDisconnected:
				// The active player's budget pauses with the game.
				timer.Stop()
				if err := m.awaitResume(ctx, opp); err != nil {
					return "", err
				}
				timer.Reset(m.turnTimeout)
			case sigReconnected:
			}
		case <-timer.C:
			return "", errRecvTimeout
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// resolveTurnError maps an awaitTurnInput failure onto the turn FSM:
// a timeout is a strike (forfeit at the limit), everything else ends
// the match.
func (m *Match) resolveTurnError(active int, err error) (Result, bool) {
	cur, opp := m.players[active], m.players[1-active]

	if errors.Is(err, errRecvTimeout) {
		cur.strikes++
		if cur.strikes >= m.maxTimeouts {
			cur.c.SendGameState(fmt.Sprintf("You have forfeited the game due to %d consecutive timeouts. Game over.", m.maxTimeouts))
			opp.c.SendGameState(fmt.Sprintf("%s has forfeited the game due to %d consecutive timeouts. You win!", cur.c.ID(), m.maxTimeouts))
			return m.endFor(active, ReasonForfeitTimeouts), true
		}
		cur.c.SendSystem(fmt.Sprintf("You did not provide a move in time. Your turn has been skipped. Warning: %d/%d timeouts.",
			cur.strikes, m.maxTimeouts))
		opp.c.SendSystem(fmt.Sprintf("%s did not provide a move in time. Their turn has been skipped. Warning: They have %d/%d timeouts.",
			cur.c.ID(), cur.strikes, m.maxTimeouts))
		return Result{}, false
	}

	var fail *matchFailure
	if errors.As(err, &fail) {
		res := m.endFor(fail.loser, fail.reason)
		m.announceEnd(1-fail.loser, res.Reason)
		return res, true
	}

	// Cancellation or an internal fault: neutral message to both sides.
	reason := ReasonServerError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonShutdown
	}
	for _, p := range m.players {
		p.c.SendGameState("The game has ended due to a server error. You will be returned to the queue.")
	}
	return Result{Reason: reason}, true
}

// applyShot fires at the opponent's grid and reports the outcome to
// both sides and the spectators. ended=true when the fleet is sunk.
func (m *Match) applyShot(active int, coord game.Coord) (Result, bool) {
	cur, opp := m.players[active], m.players[1-active]

	outcome, sunk := opp.board.FireAt(coord)
	m.moves++
	metrics.ShotsFired.WithLabelValues(outcome.String()).Inc()
	m.broadcastPublic()

	switch outcome {
	case game.OutcomeHit:
		if sunk != "" {
			cur.c.SendSystem(fmt.Sprintf("You fired at %s: HIT! You sank their %s!", coord, sunk))
			opp.c.SendSystem(fmt.Sprintf("%s fired at %s: HIT! Your %s has been SUNK!", cur.c.ID(), coord, sunk))
		} else {
			cur.c.SendSystem(fmt.Sprintf("You fired at %s: HIT!", coord))
			opp.c.SendSystem(fmt.Sprintf("%s fired at %s: HIT on one of your ships!", cur.c.ID(), coord))
		}
	case game.OutcomeMiss:
		cur.c.SendSystem(fmt.Sprintf("You fired at %s: MISS.", coord))
		opp.c.SendSystem(fmt.Sprintf("%s fired at %s: MISS.", cur.c.ID(), coord))
	case game.OutcomeAlreadyShot:
		cur.c.SendSystem(fmt.Sprintf("You fired at %s: ALREADY SHOT there. Your turn is wasted.", coord))
		opp.c.SendSystem(fmt.Sprintf("%s fired at an already targeted location.", cur.c.ID()))
	}

	opp.c.SendSystem(fmt.Sprintf("Your board after %s's shot:", cur.c.ID()))
	opp.c.SendBoard(opp.board.Render(game.TruthView))

	if !opp.board.Finished() {
		return Result{}, false
	}

	// Winner message first, final renders after.
	m.announceEnd(active, ReasonAllShipsSunk)
	cur.c.SendSystem(fmt.Sprintf("Final state of %s's board (what you saw):", opp.c.ID()))
	cur.c.SendBoard(opp.board.Render(game.PublicView))
	opp.c.SendSystem("Your final board state (all ships shown):")
	opp.c.SendBoard(opp.board.Render(game.TruthView))

	return m.endFor(1-active, ReasonAllShipsSunk), true
}

// announceEnd sends the shared GAME OVER line to both players.
func (m *Match) announceEnd(winner int, reason string) {
	win, lose := m.players[winner], m.players[1-winner]

	var line string
	switch reason {
	case ReasonAllShipsSunk:
		line = fmt.Sprintf("GAME OVER! %s WINS! All %s's ships are sunk.", win.c.ID(), lose.c.ID())
	case ReasonQuit:
		line = fmt.Sprintf("GAME OVER! %s WINS! %s has quit the game.", win.c.ID(), lose.c.ID())
	case ReasonForfeitReconnect:
		line = fmt.Sprintf("GAME OVER! %s WINS! %s failed to reconnect in time.", win.c.ID(), lose.c.ID())
	default:
		line = fmt.Sprintf("GAME OVER! %s WINS!", win.c.ID())
	}

	for _, p := range m.players {
		p.c.SendGameState(line)
	}
}
