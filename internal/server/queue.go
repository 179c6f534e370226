package server

// Matchmaking over the registry's single ordered waiting list. Queue
// positions reported to clients are always a gapless permutation of
// 1..N of that list.

// PromoteFront atomically promotes the two front-most waiting clients
// into active players: roles flip under the registry lock and each gets
// a fresh bounded input channel. Returns ok=false when fewer than two
// clients are waiting.
func (r *Registry) PromoteFront(inputCap int) (a, b *Client, ok bool) {
	if inputCap <= 0 {
		inputCap = 8
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.waiting) < 2 {
		return nil, nil, false
	}

	a, b = r.clients[r.waiting[0]], r.clients[r.waiting[1]]
	r.waiting = r.waiting[2:]

	for _, c := range []*Client{a, b} {
		c.SetRole(RoleActivePlayer)
		c.setInput(make(chan string, inputCap))
	}

	// Everyone left in the queue is watching the match that is about
	// to start.
	for _, id := range r.waiting {
		r.clients[id].SetRole(RoleActiveSpectator)
	}
	return a, b, true
}

// Recycle returns former players to the back of the waiting list at
// match end and drops their input channels. Clients that disappeared
// during the match are skipped.
func (r *Registry) Recycle(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		c, live := r.clients[id]
		if !live {
			continue
		}
		c.SetRole(RoleWaitingSpectator)
		c.setInput(nil)
		r.waiting = append(r.waiting, id)
	}
	r.retagWaitingLocked()
}

// MatchEnded retags the remaining queue after a match: with no match in
// progress the first two waiting clients become waiting players again.
func (r *Registry) MatchEnded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retagWaitingLocked()
}

func (r *Registry) retagWaitingLocked() {
	for i, id := range r.waiting {
		if i < 2 {
			r.clients[id].SetRole(RoleWaitingPlayer)
		} else {
			r.clients[id].SetRole(RoleWaitingSpectator)
		}
	}
}

// TagAdmitted assigns the role of a freshly admitted client: a waiting
// player when there is room at the front and no match running, a
// spectator otherwise.
func (r *Registry) TagAdmitted(c *Client, matchInProgress bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if matchInProgress {
		c.SetRole(RoleActiveSpectator)
		return
	}

	pos := 0
	for i, id := range r.waiting {
		if id == c.ID() {
			pos = i + 1
			break
		}
	}
	if pos != 0 && pos <= 2 {
		c.SetRole(RoleWaitingPlayer)
	} else {
		c.SetRole(RoleWaitingSpectator)
	}
}

// WaitingCount returns the current queue length.
func (r *Registry) WaitingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}

// Position returns the 1-based queue position for the given id, or 0 if
// the client is not waiting.
func (r *Registry) Position(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.waiting {
		if w == id {
			return i + 1
		}
	}
	return 0
}

// WaitingSnapshot returns the waiting clients in queue order.
func (r *Registry) WaitingSnapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.waiting))
	for _, id := range r.waiting {
		out = append(out, r.clients[id])
	}
	return out
}
