package server

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/udisondev/seabattle/internal/metrics"
	"github.com/udisondev/seabattle/internal/protocol"
)

// EventKind discriminates inbound events produced by a read loop.
type EventKind int

const (
	// EventLine is an accepted inbound text line (command, chat, or
	// move token).
	EventLine EventKind = iota
	// EventDecodeError is a malformed or checksum-failed frame that was
	// dropped without closing the session.
	EventDecodeError
	// EventEOF is transport failure or clean remote close. Events from
	// a superseded transport generation are ignored by the consumer.
	EventEOF
)

// Event is one typed inbound event.
type Event struct {
	Kind EventKind
	Line string
	Gen  int
}

// rateWarnInterval spaces out rate-limit warnings to a flooding client.
const rateWarnInterval = time.Second

// readLoop reads frames from the transport of the given generation and
// feeds typed events into the client's event stream. It applies the
// per-client rate limit: over-rate lines are dropped with a warning and
// never reach the session loop. The loop exits on EOF, transport error,
// or client close.
func (c *Client) readLoop(gen int) {
	tr := c.snapshotTransport()
	if tr.gen != gen {
		return
	}

	for {
		if c.Closed() {
			return
		}

		f, err := tr.codec.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrChecksum) {
				metrics.DecodeErrors.Inc()
				c.postEvent(Event{Kind: EventDecodeError, Gen: gen})
				continue
			}
			c.postEvent(Event{Kind: EventEOF, Gen: gen})
			return
		}

		line := strings.TrimSpace(f.Payload)
		if line == "" {
			continue
		}

		if !c.limiter.Allow() {
			metrics.RateLimited.Inc()
			now := time.Now().UnixNano()
			if last := c.lastWarn.Load(); now-last >= int64(rateWarnInterval) && c.lastWarn.CompareAndSwap(last, now) {
				c.SendSystem("[SYSTEM] You are sending input too fast. The last line was ignored.")
			}
			slog.Debug("rate limited", "client", c.id)
			continue
		}

		c.postEvent(Event{Kind: EventLine, Line: line, Gen: gen})
	}
}
