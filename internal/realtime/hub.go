// Package realtime implements the websocket hub that delivers new-comment
// events to clients viewing the same file.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"proofdeck/api/internal/session"
	"proofdeck/api/internal/util"
)

// AuthCheckRoom is a reserved room name. Joining it echoes the socket's
// authentication state instead of creating a room membership.
const AuthCheckRoom = "auth-check"

// Frame is the wire format for every event in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newFrame(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

type sessionSource interface {
	FromCookieHeader(ctx context.Context, header string) (session.Session, bool)
}

// Hub tracks connected sockets and their room memberships. Rooms are
// keyed by file id; one user may hold several sockets at once.
type Hub struct {
	sessions sessionSource
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*socket]bool
}

func NewHub(sessions sessionSource, allowedOrigin string) *Hub {
	return &Hub{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
		rooms: map[string]map[*socket]bool{},
	}
}

// ServeHTTP upgrades the connection and starts the socket's pumps. A
// connection without a resolvable session is accepted but left
// unauthenticated until it sends an authenticate event.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}

	s := &socket{
		id:    util.NewID("sock"),
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendQueueSize),
		done:  make(chan struct{}),
		rooms: map[string]bool{},
	}
	if sess, ok := h.sessions.FromCookieHeader(r.Context(), r.Header.Get("Cookie")); ok {
		s.userID = sess.UserID
		s.authenticated = true
	}

	go s.writePump()
	go s.readPump()
}

func (h *Hub) join(s *socket, fileID string) {
	room := "file-" + fileID

	h.mu.Lock()
	sockets, ok := h.rooms[room]
	if !ok {
		sockets = map[*socket]bool{}
		h.rooms[room] = sockets
	}
	sockets[s] = true
	h.mu.Unlock()

	s.mu.Lock()
	s.rooms[room] = true
	s.mu.Unlock()
}

func (h *Hub) leave(s *socket, fileID string) {
	room := "file-" + fileID

	h.mu.Lock()
	if sockets, ok := h.rooms[room]; ok {
		delete(sockets, s)
		if len(sockets) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
}

func (h *Hub) drop(s *socket) {
	s.mu.Lock()
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.rooms = map[string]bool{}
	s.mu.Unlock()

	h.mu.Lock()
	for _, room := range rooms {
		if sockets, ok := h.rooms[room]; ok {
			delete(sockets, s)
			if len(sockets) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()
}

// BroadcastNewComment emits a new-comment event to every socket joined to
// the file's room, excluding sockets that belong to the comment's author.
// Delivery is best effort. Sockets with a full send queue are dropped.
func (h *Hub) BroadcastNewComment(fileID string, authorID primitive.ObjectID, comment interface{}) {
	msg, err := newFrame("new-comment", comment)
	if err != nil {
		log.Printf("encode new-comment broadcast: %v", err)
		return
	}

	room := "file-" + fileID

	h.mu.RLock()
	targets := make([]*socket, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		if s.isUser(authorID) {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(msg)
	}
}

// RoomSize returns the number of sockets currently joined to a file room.
func (h *Hub) RoomSize(fileID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms["file-"+fileID])
}
