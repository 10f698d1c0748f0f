package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const keepaliveInterval = 30 * time.Second

// Events streams the event log over a websocket: backfill from the
// requested cursor first, then live events as they are appended.
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Events")

	cursor, _ := strconv.ParseUint(r.URL.Query().Get("cursor"), 10, 64)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	l.Info("streaming events", "cursor", cursor)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		// the read loop only exists to notice the client going away
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	events := s.events.Subscribe(ctx, cursor)
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info("stopping stream: client closed connection")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				l.Error("failed to write event", "err", err)
				return
			}
		case <-keepalive.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				l.Error("failed to write keepalive", "err", err)
				return
			}
		}
	}
}
