package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/czerwonk/ping_tracker/tracker"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// hub streams tracker events to websocket clients. Slow clients miss
// events rather than holding up sampling.
type hub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]chan tracker.Event
	closed   bool
}

func newHub() *hub {
	return &hub{
		clients: make(map[*websocket.Conn]chan tracker.Event),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("websocket upgrade failed: %v", err)
		return
	}

	ch := make(chan tracker.Event, clientBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = ch
	h.mu.Unlock()

	go h.write(conn, ch)

	// drain client messages so close frames are processed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(conn)
}

func (h *hub) write(conn *websocket.Conn, ch <-chan tracker.Event) {
	defer conn.Close()

	for ev := range ch {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			log.Debugf("websocket write failed: %v", err)
			h.remove(conn)
			return
		}
	}
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
}

func (h *hub) publish(ev tracker.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			log.Debugf("dropping %s event for slow client %s", ev.Type, conn.RemoteAddr())
		}
	}
}

func (h *hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for conn, ch := range h.clients {
		delete(h.clients, conn)
		close(ch)
	}
}
