// Package server wires the room directory and the signaling hub into one
// HTTP handler.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/warpmesh/internal/directory"
	"github.com/BioHazard786/warpmesh/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	// Peers connect from CLIs and arbitrary browser origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewHandler returns the full route table: directory endpoints, the
// signaling websocket at /ws and a health check.
func NewHandler(store *directory.Store, hub *signaling.Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	directory.NewServer(store, logger).Register(mux)
	mux.HandleFunc("GET /ws", ServeWs(hub, logger))
	mux.HandleFunc("GET /health", healthCheck)

	return logRequests(mux, logger)
}

// ServeWs upgrades the request and hands the connection to hub.
func ServeWs(hub *signaling.Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
			return
		}
		hub.Serve(conn)
	}
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("warpmesh server is healthy."))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
