// Package wsgate exposes spectator broadcasts over WebSocket. Browser
// spectators are read-only: inbound messages are drained and ignored.
package wsgate

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 5 * time.Second
	sendQueueSize = 32
)

var upgrader = websocket.Upgrader{
	// Spectating is public and read-only, any origin may watch.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Gate is a broadcast hub over a set of WebSocket spectators.
type Gate struct {
	mu    sync.Mutex
	conns map[*spectator]struct{}
}

type spectator struct {
	conn *websocket.Conn
	send chan string
	once sync.Once
}

func (sp *spectator) close() {
	sp.once.Do(func() {
		close(sp.send)
		sp.conn.Close()
	})
}

// NewGate creates an empty hub.
func NewGate() *Gate {
	return &Gate{conns: make(map[*spectator]struct{})}
}

// Broadcast queues a text message to every connected spectator. Slow
// spectators are dropped rather than allowed to back up the hub.
func (g *Gate) Broadcast(msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for sp := range g.conns {
		select {
		case sp.send <- msg:
		default:
			delete(g.conns, sp)
			go sp.close()
		}
	}
}

// Count returns the number of connected spectators.
func (g *Gate) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Info("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sp := &spectator{conn: conn, send: make(chan string, sendQueueSize)}
	g.mu.Lock()
	g.conns[sp] = struct{}{}
	g.mu.Unlock()
	slog.Info("websocket spectator connected", "remote", r.RemoteAddr)

	go g.writeLoop(sp)
	go g.readLoop(sp)
}

func (g *Gate) writeLoop(sp *spectator) {
	for msg := range sp.send {
		sp.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sp.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			g.detach(sp)
			return
		}
	}
}

// readLoop drains inbound frames so pings are answered and closes are
// noticed; spectator input is otherwise ignored.
func (g *Gate) readLoop(sp *spectator) {
	for {
		if _, _, err := sp.conn.ReadMessage(); err != nil {
			g.detach(sp)
			return
		}
	}
}

func (g *Gate) detach(sp *spectator) {
	g.mu.Lock()
	delete(g.conns, sp)
	g.mu.Unlock()
	sp.close()
}

// Serve runs an HTTP listener exposing the hub at /spectate until ctx
// is cancelled.
func (g *Gate) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/spectate", g)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("spectator websocket gateway started", "address", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
