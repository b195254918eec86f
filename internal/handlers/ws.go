package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/okrylov/countersign/internal/logging"
)

// HandleWebSocket upgrades the connection and streams every task event
// to the client until it goes away. Clients send nothing meaningful;
// reads only detect disconnects.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.RateLimiter.Allow(clientIP(r)) {
		sendError(w, "Too many WebSocket connection attempts", http.StatusTooManyRequests)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger.Warnf("websocket upgrade failed: %v", err)
		return
	}

	h.Hub.Register(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.Hub.Unregister(conn)
			return
		}
	}
}
