package server

import (
	"errors"
	"slices"
	"sync"

	"github.com/udisondev/seabattle/internal/metrics"
)

// Admission errors. Reported to the connecting client in a system
// message before the connection is closed.
var (
	ErrDuplicateID = errors.New("username already in use")
	ErrCapacity    = errors.New("server is full")
	ErrEmptyID     = errors.New("empty username")
)

// Registry is the process-wide table of live clients plus the ordered
// waiting list the matchmaking queue is derived from. One lock guards
// the id map, every client's role, and the waiting list; the lock is
// never held across network I/O — callers snapshot first, write after.
type Registry struct {
	mu             sync.Mutex
	clients        map[string]*Client
	waiting        []string // admission-ordered ids of clients not seated in a match
	maxConnections int
}

// NewRegistry creates a registry with the given connection cap.
func NewRegistry(maxConnections int) *Registry {
	return &Registry{
		clients:        make(map[string]*Client),
		maxConnections: maxConnections,
	}
}

// Admit adds a client under its id and appends it to the waiting list.
// Fails with ErrEmptyID, ErrCapacity, or ErrDuplicateID.
func (r *Registry) Admit(c *Client) error {
	if c.ID() == "" {
		return ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.clients) >= r.maxConnections {
		return ErrCapacity
	}
	if _, live := r.clients[c.ID()]; live {
		return ErrDuplicateID
	}

	r.clients[c.ID()] = c
	r.waiting = append(r.waiting, c.ID())

	metrics.ConnectionsAdmitted.Inc()
	metrics.ClientsConnected.Set(float64(len(r.clients)))
	return nil
}

// Remove deletes a client from the map and the waiting list, closing its
// input channel (if any) so a match controller blocked on it observes
// closure. Returns the removed client, or nil if the id was not live.
func (r *Registry) Remove(id string) *Client {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
		r.waiting = slices.DeleteFunc(r.waiting, func(w string) bool { return w == id })
		if in := c.takeInput(); in != nil {
			close(in)
		}
	}
	metrics.ClientsConnected.Set(float64(len(r.clients)))
	r.mu.Unlock()
	return c
}

// Lookup returns the client for the given id, or nil.
func (r *Registry) Lookup(id string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[id]
}

// Snapshot returns all live clients. Safe to iterate without the lock.
func (r *Registry) Snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
