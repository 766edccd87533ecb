// Package net assembles the HTTP surface: the websocket endpoint plus the
// health and diagnostics routes.
package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"time"

	"netwar/server"
	"netwar/server/internal/net/ws"
	"netwar/server/logging"
)

type HTTPHandlerConfig struct {
	Logger *log.Logger
	Router *logging.Router
}

// NewHTTPHandler builds the mux serving /ws, /health and /diagnostics.
func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string `json:"status"`
			ServerTime int64  `json:"serverTime"`
			Phase      string `json:"phase"`
			QueueDepth int    `json:"queueDepth"`
			Logging    any    `json:"logging,omitempty"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Phase:      string(hub.Phase()),
			QueueDepth: hub.Queue().Len(),
		}
		if cfg.Router != nil {
			payload.Logging = cfg.Router.Stats()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Printf("failed to encode diagnostics: %v", err)
		}
	})

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{Logger: logger})
	mux.HandleFunc("/ws", wsHandler.Handle)

	return mux
}
