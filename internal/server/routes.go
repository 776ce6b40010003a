package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wsxxll/webchat/internal/broker"
)

const serviceName = "webchat-broker"

// Config controls the HTTP surface in front of the registry.
type Config struct {
	// AllowedOrigins holds origin patterns such as "https://*.example.com".
	// An empty list or "*" accepts every origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter wires the websocket entry point, health check and room stats.
func NewRouter(reg *broker.Registry, cfg Config) *mux.Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", ServeWs(reg, &upgrader, cfg.Logger))
	r.HandleFunc("/rooms/{roomId}/stats", statsHandler(reg)).Methods(http.MethodGet)
	return r
}

// ServeWs upgrades a request carrying ?room= and hands the connection to the registry.
func ServeWs(reg *broker.Registry, upgrader *websocket.Upgrader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("room")
		if roomID == "" {
			http.Error(w, "Room ID required", http.StatusBadRequest)
			return
		}
		if !websocket.IsWebSocketUpgrade(r) {
			http.Error(w, "Expected WebSocket", http.StatusUpgradeRequired)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		if err := reg.Serve(conn, roomID); err != nil {
			logger.Error("attach failed", "remote", r.RemoteAddr, "error", err)
			conn.Close()
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   serviceName,
	})
}

func statsHandler(reg *broker.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := mux.Vars(r)["roomId"]
		b, ok := reg.Lookup(roomID)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Room not found"})
			return
		}
		st, err := b.Stats()
		if errors.Is(err, broker.ErrBrokerClosed) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Room not found"})
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func originChecker(patterns []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(patterns) == 0 {
			return true
		}
		for _, p := range patterns {
			p = strings.TrimSpace(p)
			if p == "*" || p == origin {
				return true
			}
			if ok, _ := path.Match(p, origin); ok {
				return true
			}
		}
		return false
	}
}
