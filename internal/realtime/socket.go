package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Annotations ride along as base64 images, so frames can get big.
	maxMessageSize = 1 << 20

	sendQueueSize = 64
)

// socket is one websocket connection. userID is set either from the
// handshake cookie or a later authenticate event.
type socket struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu            sync.Mutex
	authenticated bool
	userID        primitive.ObjectID
	rooms         map[string]bool
}

func (s *socket) isUser(userID primitive.ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated && s.userID == userID
}

func (s *socket) isAuthenticated() (primitive.ObjectID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.authenticated
}

// enqueue hands a message to the write pump. A socket that cannot keep
// up loses its connection rather than blocking the broadcaster.
func (s *socket) enqueue(msg []byte) {
	select {
	case <-s.done:
	case s.send <- msg:
	default:
		s.conn.Close()
	}
}

func (s *socket) emit(event string, data interface{}) {
	msg, err := newFrame(event, data)
	if err != nil {
		log.Printf("encode %s event: %v", event, err)
		return
	}
	s.enqueue(msg)
}

func (s *socket) emitError(message string) {
	s.emit("error", map[string]string{"message": message})
}

func (s *socket) readPump() {
	defer func() {
		s.hub.drop(s)
		close(s.done)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket %s read: %v", s.id, err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			s.emitError("malformed frame")
			continue
		}
		s.handle(frame)
	}
}

func (s *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *socket) handle(frame Frame) {
	switch frame.Event {
	case "join-file-room":
		var fileID string
		if err := json.Unmarshal(frame.Data, &fileID); err != nil || fileID == "" {
			s.emitError("join-file-room requires a file id")
			return
		}
		s.handleJoin(fileID)

	case "leave-file-room":
		var fileID string
		if err := json.Unmarshal(frame.Data, &fileID); err != nil || fileID == "" {
			s.emitError("leave-file-room requires a file id")
			return
		}
		s.hub.leave(s, fileID)

	case "authenticate":
		var payload struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.UserID == "" {
			s.emitError("authenticate requires a userId")
			return
		}
		s.handleAuthenticate(payload.UserID)

	default:
		s.emitError("unknown event: " + frame.Event)
	}
}

func (s *socket) handleJoin(fileID string) {
	userID, authenticated := s.isAuthenticated()

	// The reserved room never joins. It answers with the socket's auth
	// state so clients can decide whether to fall back to manual auth.
	if fileID == AuthCheckRoom {
		if authenticated {
			s.emit("authentication_success", map[string]string{
				"userId":  userID.Hex(),
				"message": "socket is authenticated",
			})
		} else {
			s.emit("need_authentication", map[string]string{
				"message": "no session found for this connection",
			})
		}
		return
	}

	if !authenticated {
		s.emitError("authentication required to join file rooms")
		return
	}
	s.hub.join(s, fileID)
}

// handleAuthenticate is the fallback for clients whose cookies were not
// delivered with the websocket handshake.
func (s *socket) handleAuthenticate(rawUserID string) {
	userID, err := primitive.ObjectIDFromHex(rawUserID)
	if err != nil {
		s.emitError("invalid userId")
		return
	}

	s.mu.Lock()
	s.userID = userID
	s.authenticated = true
	s.mu.Unlock()

	s.emit("authentication_success", map[string]string{
		"userId":  userID.Hex(),
		"message": "authentication successful",
	})
}
