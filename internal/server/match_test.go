package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/seabattle/internal/game"
	"github.com/udisondev/seabattle/internal/protocol"
)

// matchPair seats two pumped clients with pre-created input channels.
func matchPair(t *testing.T, turn, placement time.Duration) (*Match, *Client, *Client) {
	t.Helper()
	a := newTestClient(t, "p0")
	b := newTestClient(t, "p1")
	go a.writePump()
	go b.writePump()
	a.setInput(make(chan string, 64))
	b.setInput(make(chan string, 64))
	m := NewMatch(a, b, turn, placement, 2, nil)
	return m, a, b
}

// placementTokens is a full manual placement: each ship on its own row,
// horizontal, starting at column 1.
func placementTokens() []string {
	return []string{
		"A1", "H", // Carrier
		"B1", "H", // Battleship
		"C1", "H", // Cruiser
		"D1", "H", // Submarine
		"E1", "H", // Destroyer
	}
}

// winningShots hits every cell of the placementTokens layout: 17 shots.
func winningShots() []string {
	return []string{
		"A1", "A2", "A3", "A4", "A5",
		"B1", "B2", "B3", "B4",
		"C1", "C2", "C3",
		"D1", "D2", "D3",
		"E1", "E2",
	}
}

func feed(ch chan string, tokens ...string) {
	for _, tok := range tokens {
		ch <- tok
	}
}

// frameStream drains one peer codec into a channel so the write pump
// never stalls while the test scans for specific lines.
func frameStream(peer protocol.FrameCodec) <-chan protocol.Frame {
	out := make(chan protocol.Frame, 256)
	go func() {
		defer close(out)
		for {
			f, err := peer.ReadFrame()
			if err != nil {
				return
			}
			out <- f
		}
	}()
	return out
}

// awaitPayload scans a frame stream for the first payload containing
// the given substring.
func awaitPayload(t *testing.T, frames <-chan protocol.Frame, substr string) string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				t.Fatalf("frame stream closed before %q arrived", substr)
			}
			if strings.Contains(f.Payload, substr) {
				return f.Payload
			}
		case <-deadline:
			t.Fatalf("no frame containing %q arrived", substr)
		}
	}
}

func TestMatchHappyPath(t *testing.T) {
	m, a, b := matchPair(t, 5*time.Second, 10*time.Second)

	feed(a.Input(), placementTokens()...)
	feed(a.Input(), winningShots()...)
	feed(b.Input(), placementTokens()...)
	// Opponent keeps firing the same cell: one miss, then wasted turns.
	for range 16 {
		feed(b.Input(), "J10")
	}

	res := m.Run(context.Background())

	assert.Equal(t, "p0", res.Winner)
	assert.Equal(t, "p1", res.Loser)
	assert.Equal(t, ReasonAllShipsSunk, res.Reason)
	assert.Equal(t, 33, res.Moves)
	assert.False(t, res.EndedAt.Before(res.StartedAt))
}

func TestMatchLowercaseInputAccepted(t *testing.T) {
	m, a, b := matchPair(t, 5*time.Second, 10*time.Second)

	feed(a.Input(), "a1", "h", "b1", "h", "c1", "h", "d1", "h", "e1", "h")
	feed(a.Input(), winningShots()...)
	feed(b.Input(), placementTokens()...)
	for range 16 {
		feed(b.Input(), "j10")
	}

	res := m.Run(context.Background())
	assert.Equal(t, "p0", res.Winner)
	assert.Equal(t, ReasonAllShipsSunk, res.Reason)
}

func TestMatchPlacementRetriesInvalidInput(t *testing.T) {
	m, a, b := matchPair(t, 5*time.Second, 10*time.Second)

	// Bad coordinate, bad orientation, and an overlap each retry the
	// same ship without failing placement.
	feed(a.Input(), "Z9", "H") // bad coordinate
	feed(a.Input(), "A1", "X") // bad orientation
	feed(a.Input(), placementTokens()...)
	feed(a.Input(), winningShots()...)
	feed(b.Input(), "A1", "H") // Carrier
	feed(b.Input(), "A1", "H") // Battleship overlaps the Carrier, retried
	feed(b.Input(), "B1", "H", "C1", "H", "D1", "H", "E1", "H")
	for range 16 {
		feed(b.Input(), "J10")
	}

	res := m.Run(context.Background())
	assert.Equal(t, "p0", res.Winner)
	assert.Equal(t, ReasonAllShipsSunk, res.Reason)
}

func TestMatchInvalidMoveDoesNotAdvanceTurn(t *testing.T) {
	m, a, _ := matchPair(t, time.Second, time.Second)
	for _, p := range m.players {
		require.NoError(t, p.board.Place(game.Fleet[4], game.Coord{}, game.Horizontal))
	}

	feed(a.Input(), "not-a-coordinate", "A1")

	res, ended := m.playTurn(context.Background(), 0)
	assert.False(t, ended)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 1, m.moves) // the invalid token consumed nothing
}

func TestMatchPlacementTimeoutForfeits(t *testing.T) {
	m, a, _ := matchPair(t, 5*time.Second, 200*time.Millisecond)
	feed(a.Input(), placementTokens()...)
	// p1 never answers a placement prompt: the elapsed budget loses the
	// match outright, in favor of the side that placed.

	res := m.Run(context.Background())
	assert.Equal(t, "p0", res.Winner)
	assert.Equal(t, "p1", res.Loser)
	assert.Equal(t, ReasonForfeitTimeouts, res.Reason)
}

func TestMatchPlacementFailureNotifiesBothSides(t *testing.T) {
	a, apeer := newPumpedClient(t, "p0")
	b, bpeer := newPumpedClient(t, "p1")
	a.setInput(make(chan string, 64))
	b.setInput(make(chan string, 64))
	m := NewMatch(a, b, 5*time.Second, 200*time.Millisecond, 2, nil)

	winnerFrames := frameStream(apeer)
	loserFrames := frameStream(bpeer)

	feed(a.Input(), placementTokens()...)

	done := make(chan Result, 1)
	go func() { done <- m.Run(context.Background()) }()

	// Both sides get a terminal line, not just the winner.
	assert.Contains(t, awaitPayload(t, winnerFrames, "GAME OVER"), "You win!")
	assert.Contains(t, awaitPayload(t, loserFrames, "GAME OVER"), "p0 WINS!")

	select {
	case res := <-done:
		assert.Equal(t, ReasonForfeitTimeouts, res.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("match did not end")
	}
}

func TestMatchTimeoutForfeit(t *testing.T) {
	m, _, _ := matchPair(t, 50*time.Millisecond, time.Second)
	for _, p := range m.players {
		require.NoError(t, p.board.Place(game.Fleet[4], game.Coord{}, game.Horizontal))
	}

	// Nobody ever sends a move: p0 strikes on turns 1 and 3 and
	// forfeits at the limit of 2.
	res := m.turnPhase(context.Background())
	assert.Equal(t, "p1", res.Winner)
	assert.Equal(t, "p0", res.Loser)
	assert.Equal(t, ReasonForfeitTimeouts, res.Reason)
}

func TestMatchQuitDuringTurn(t *testing.T) {
	m, a, b := matchPair(t, 5*time.Second, 10*time.Second)
	feed(a.Input(), placementTokens()...)
	feed(b.Input(), placementTokens()...)

	done := make(chan Result, 1)
	go func() { done <- m.Run(context.Background()) }()

	// Let placement finish, then p1 quits.
	time.Sleep(100 * time.Millisecond)
	m.NotifyQuit("p1")

	select {
	case res := <-done:
		assert.Equal(t, "p0", res.Winner)
		assert.Equal(t, ReasonQuit, res.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("match did not end after quit")
	}
}

func TestMatchForfeitAfterReconnectWindow(t *testing.T) {
	m, a, b := matchPair(t, 5*time.Second, 10*time.Second)
	feed(a.Input(), placementTokens()...)
	feed(b.Input(), placementTokens()...)

	done := make(chan Result, 1)
	go func() { done <- m.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	m.NotifyDisconnected("p0")
	time.Sleep(50 * time.Millisecond)
	m.NotifyForfeit("p0")

	select {
	case res := <-done:
		assert.Equal(t, "p1", res.Winner)
		assert.Equal(t, "p0", res.Loser)
		assert.Equal(t, ReasonForfeitReconnect, res.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("match did not end after forfeit")
	}
}

func TestAwaitLinePausesTimerWhileDisconnected(t *testing.T) {
	m, a, _ := matchPair(t, time.Second, time.Second)
	p := m.players[0]

	got := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := m.awaitLine(context.Background(), p, 500*time.Millisecond)
		got <- line
		errs <- err
	}()

	// Disconnect immediately, wait past the original budget, reconnect,
	// then answer. The paused timer must not have fired.
	p.sig <- sigDisconnected
	time.Sleep(800 * time.Millisecond)
	p.sig <- sigReconnected
	a.Input() <- "A1"

	select {
	case line := <-got:
		assert.Equal(t, "A1", line)
		assert.NoError(t, <-errs)
	case <-time.After(2 * time.Second):
		t.Fatal("awaitLine never returned")
	}
}

func TestAwaitTurnInputPausesTimerWhileOpponentDisconnected(t *testing.T) {
	m, a, _ := matchPair(t, 500*time.Millisecond, time.Second)
	opp := m.players[1]

	got := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := m.awaitTurnInput(context.Background(), 0)
		got <- line
		errs <- err
	}()

	// The waiting opponent drops, stays away past the turn budget, and
	// comes back. The active player's clock must not run meanwhile: the
	// move sent right after the resume is still accepted.
	opp.sig <- sigDisconnected
	time.Sleep(800 * time.Millisecond)
	opp.sig <- sigReconnected
	a.Input() <- "A1"

	select {
	case line := <-got:
		assert.Equal(t, "A1", line)
		assert.NoError(t, <-errs)
	case <-time.After(2 * time.Second):
		t.Fatal("awaitTurnInput never returned")
	}
}

func TestMatchClosedInputEndsAsQuit(t *testing.T) {
	m, a, b := matchPair(t, 5*time.Second, 10*time.Second)
	feed(a.Input(), placementTokens()...)
	feed(a.Input(), "J10") // first turn completes, handing the turn to p1
	feed(b.Input(), placementTokens()...)

	done := make(chan Result, 1)
	go func() { done <- m.Run(context.Background()) }()

	// Hard removal closes the input channel; the controller treats the
	// closure as that player quitting.
	time.Sleep(100 * time.Millisecond)
	close(b.takeInput())

	select {
	case res := <-done:
		assert.Equal(t, "p0", res.Winner)
		assert.Equal(t, ReasonQuit, res.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("match did not end after input closure")
	}
}

func TestMatchShutdownOnCancel(t *testing.T) {
	m, a, b := matchPair(t, 5*time.Second, 10*time.Second)
	feed(a.Input(), placementTokens()...)
	feed(b.Input(), placementTokens()...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Empty(t, res.Winner)
		assert.Equal(t, ReasonShutdown, res.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("match did not end on cancellation")
	}
}
