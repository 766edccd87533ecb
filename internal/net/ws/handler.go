// Package ws upgrades client connections and pumps their commands into the
// hub.
package ws

import (
	"log"
	nethttp "net/http"

	"github.com/gorilla/websocket"

	"netwar/server"
)

type HandlerConfig struct {
	Logger *log.Logger
}

type Handler struct {
	hub      *server.Hub
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		logger:   logger,
		upgrader: upgrader,
	}
}

// Handle upgrades the request and runs the read loop until the connection
// drops. The username travels in the query string; token verification is the
// gateway's job, not this server's.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		nethttp.Error(w, "missing username", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", username, err)
		return
	}

	h.hub.Subscribe(username, conn)
	defer func() {
		h.hub.Disconnect(username)
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Printf("read error for %s: %v", username, err)
			}
			return
		}
		h.hub.HandleCommand(r.Context(), username, payload)
	}
}
