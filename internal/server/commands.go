package server

import (
	"fmt"
	"strings"
)

// Slash commands are accepted in any session state; everything else a
// client sends is a move token (when it is seated and it is its turn)
// or is ignored. Command names are case-insensitive.

// handleCommand interprets one leading-slash line for the given client.
func (s *Server) handleCommand(c *Client, line string) {
	cmd, rest, _ := strings.Cut(line, " ")
	cmd = strings.ToLower(strings.TrimPrefix(cmd, "/"))

	switch cmd {
	case "help":
		s.sendHelp(c)
	case "status":
		s.sendStatus(c)
	case "chat":
		text := strings.TrimSpace(rest)
		if text == "" {
			c.SendError("Usage: /chat <text>")
			return
		}
		s.broadcastChat(c, text)
	case "quit":
		c.MarkQuitting()
		c.SendSystem("Thank you for playing. Goodbye!")
		s.disconnect(c)
	default:
		c.SendError(fmt.Sprintf("Unknown command '/%s'. Type /help for the command list.", cmd))
	}
}

func (s *Server) sendHelp(c *Client) {
	switch c.Role() {
	case RoleActivePlayer:
		c.SendSystem("Player commands: /help, /status, /chat <text>, /quit. During your turn, enter a coordinate like B4 to fire.")
	default:
		c.SendSystem("Spectator commands: /help, /status, /chat <text>, /quit.")
	}
}

func (s *Server) sendStatus(c *Client) {
	if c.Role() == RoleActivePlayer {
		c.SendSystem("You are playing in the current game.")
		return
	}

	pos := s.registry.Position(c.ID())
	if pos == 0 {
		c.SendSystem("You are not in the queue.")
		return
	}

	inProgress := s.matchInProgress()
	if inProgress {
		c.SendSystem(fmt.Sprintf("A game is in progress. You are Spectator #%d in queue.", pos))
	} else {
		c.SendSystem(fmt.Sprintf("No game in progress. You are Spectator #%d in queue.", pos))
	}

	gamesToWait := (pos - 1) / 2
	if !inProgress {
		return
	}
	if gamesToWait == 0 {
		c.SendSystem("You will play in the next game!")
	} else {
		c.SendSystem(fmt.Sprintf("You will need to wait for approximately %d more game(s).", gamesToWait))
	}
}
