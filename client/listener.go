package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Listener is a websocket subscription that feeds new-comment broadcasts
// into a CommentCache for one file.
type Listener struct {
	conn  *websocket.Conn
	cache *CommentCache
	done  chan struct{}
}

// Listen dials the socket endpoint, joins the file's room and starts the
// read loop. cookieHeader carries the session cookie from Client.
func Listen(ctx context.Context, socketURL, cookieHeader string, cache *CommentCache) (*Listener, error) {
	header := http.Header{}
	if cookieHeader != "" {
		header.Set("Cookie", cookieHeader)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, socketURL, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	join := frame{Event: "join-file-room"}
	join.Data, _ = json.Marshal(cache.FileID())
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, err
	}

	l := &Listener{conn: conn, cache: cache, done: make(chan struct{})}
	go l.readLoop()
	return l, nil
}

func (l *Listener) readLoop() {
	defer close(l.done)
	for {
		var f frame
		if err := l.conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event != "new-comment" {
			continue
		}
		var comment Comment
		if err := json.Unmarshal(f.Data, &comment); err != nil {
			continue
		}
		l.cache.Merge(comment)
	}
}

// Done is closed when the read loop exits.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Close tears down the connection and waits for the read loop to stop.
func (l *Listener) Close() error {
	err := l.conn.Close()
	<-l.done
	return err
}
