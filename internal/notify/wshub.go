package notify

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/okrylov/countersign/internal/logging"
	"github.com/okrylov/countersign/internal/models"
)

// WSHub fans events out to connected WebSocket clients. Dead
// connections are dropped on the first failed write.
type WSHub struct {
	connections map[*websocket.Conn]bool
	mutex       sync.Mutex
}

func NewWSHub() *WSHub {
	return &WSHub{connections: make(map[*websocket.Conn]bool)}
}

func (h *WSHub) Register(conn *websocket.Conn) {
	h.mutex.Lock()
	h.connections[conn] = true
	h.mutex.Unlock()
}

func (h *WSHub) Unregister(conn *websocket.Conn) {
	h.mutex.Lock()
	delete(h.connections, conn)
	h.mutex.Unlock()
	conn.Close()
}

// Deliver implements Sink.
func (h *WSHub) Deliver(event models.Event) {
	message, err := json.Marshal(event)
	if err != nil {
		logging.Logger.Errorf("marshal event %s: %v", event.Kind, err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn := range h.connections {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Logger.Warnf("drop websocket client: %v", err)
			delete(h.connections, conn)
			conn.Close()
		}
	}
}
