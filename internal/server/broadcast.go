package server

import "fmt"

// Broadcast helpers. All of them snapshot the registry first and write
// outside the lock; per-client ordering is preserved by each client's
// write pump.

// broadcastSystem sends a system line to every live client.
func (s *Server) broadcastSystem(msg string) {
	for _, c := range s.registry.Snapshot() {
		c.SendSystem(msg)
	}
}

// broadcastGameState sends a game state line to every live client.
func (s *Server) broadcastGameState(msg string) {
	for _, c := range s.registry.Snapshot() {
		c.SendGameState(msg)
	}
}

// broadcastSpectatorBoard sends the combined public rendering to every
// client that is not seated in the match, and mirrors it to the
// websocket gateway when one is attached. Spectators joining mid-match
// receive only subsequent broadcasts.
func (s *Server) broadcastSpectatorBoard(rendered string) {
	for _, c := range s.registry.Snapshot() {
		if c.Role() == RoleActivePlayer {
			continue
		}
		c.SendBoard(rendered)
	}
	if s.spectate != nil {
		s.spectate.Broadcast(rendered)
	}
}

// broadcastChat delivers a chat line to everyone except the sender.
func (s *Server) broadcastChat(from *Client, text string) {
	line := fmt.Sprintf("[CHAT] %s %s: %s", from.Role(), from.ID(), text)
	for _, c := range s.registry.Snapshot() {
		if c.ID() == from.ID() {
			continue
		}
		c.SendChat(line)
	}
	if s.spectate != nil {
		s.spectate.Broadcast(line)
	}
}

// pushQueuePositions informs every waiting client of its current queue
// position after the queue shifts.
func (s *Server) pushQueuePositions() {
	for i, c := range s.registry.WaitingSnapshot() {
		pos := i + 1
		c.SendSystem(fmt.Sprintf("Queue update: You are now Spectator #%d in line.", pos))
		if pos <= 2 {
			c.SendSystem(fmt.Sprintf("You will be Player %d in the next game!", pos))
		}
	}
}
