package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carebook/clinic-scheduler/pkg/logging"
)

const (
	writeWait      = 5 * time.Second
	sendBufferSize = 16
)

// Envelope is the wire format pushed to subscribers.
type Envelope struct {
	Event   string `json:"event"`
	OrgRoom string `json:"orgRoom"`
	Payload any    `json:"payload,omitempty"`
	SentAt  string `json:"sentAt"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan Envelope
}

// Hub fans events out to websocket subscribers grouped by org room. A slow
// subscriber's buffer fills and the event is dropped for that connection;
// the publishing caller is never blocked.
type Hub struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*subscriber]struct{}
}

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]map[*subscriber]struct{}),
	}
}

var _ Publisher = (*Hub)(nil)

// Publish broadcasts to every subscriber of the room without blocking.
func (h *Hub) Publish(ctx context.Context, orgRoom, event string, payload any) {
	env := Envelope{
		Event:   event,
		OrgRoom: orgRoom,
		Payload: payload,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	}

	h.mu.RLock()
	subs := h.rooms[orgRoom]
	for sub := range subs {
		select {
		case sub.send <- env:
		default:
			// Buffer full: drop for this subscriber, at-most-once holds.
		}
	}
	n := len(subs)
	h.mu.RUnlock()

	h.logger.Debug("notify: published", "event", event, "room", orgRoom, "subscribers", n)
}

// HandleWS upgrades the request and subscribes it to the org's room until
// the connection closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	orgRoom := r.URL.Query().Get("org")
	if orgRoom == "" {
		http.Error(w, "org parameter required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("notify: upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan Envelope, sendBufferSize)}
	h.subscribe(orgRoom, sub)
	h.logger.Info("notify: subscriber joined", "room", orgRoom)

	go h.writeLoop(orgRoom, sub)
	h.readLoop(orgRoom, sub)
}

func (h *Hub) subscribe(room string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*subscriber]struct{})
	}
	h.rooms[room][sub] = struct{}{}
}

func (h *Hub) unsubscribe(room string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.rooms[room]; ok {
		if _, member := subs[sub]; member {
			delete(subs, sub)
			close(sub.send)
			if len(subs) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

// RoomSize reports current subscribers of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) writeLoop(room string, sub *subscriber) {
	for env := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteJSON(env); err != nil {
			h.logger.Debug("notify: write failed, dropping subscriber", "room", room, "error", err)
			break
		}
	}
	_ = sub.conn.Close()
}

func (h *Hub) readLoop(room string, sub *subscriber) {
	defer func() {
		h.unsubscribe(room, sub)
		_ = sub.conn.Close()
		h.logger.Info("notify: subscriber left", "room", room)
	}()
	for {
		// Subscribers only listen; any read error ends the session.
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
