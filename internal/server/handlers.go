// Package server exposes HTTP handlers: the WebSocket upgrade into a chat
// session, a health check and a room statistics endpoint.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Stats is the body served by StatsHandler.
type Stats struct {
	Sessions int            `json:"sessions"`
	Rooms    map[string]int `json:"rooms"`
}

// WebSocketHandler returns a handler that upgrades GET requests and runs the
// chat protocol over the resulting connection, one frame per text message.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	policy := newOriginPolicy(hub.cfg.AllowedOrigins)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
			return
		}

		// The handler goroutine belongs to this connection for its lifetime.
		_ = hub.Serve(newWSConn(conn, r.RemoteAddr, hub.cfg))
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat server is running!")
}

// StatsHandler reports live sessions and the member count of every room.
func StatsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats := Stats{
			Sessions: hub.SessionCount(),
			Rooms:    hub.Registry().Counts(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			log.Warn().Err(err).Msg("error writing stats response")
		}
	}
}
