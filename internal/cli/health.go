package cli

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rickgao/auction-sync/internal/connection"
	"github.com/rickgao/auction-sync/internal/live"
	"github.com/rickgao/auction-sync/internal/version"
)

// connStatus is what the health endpoint reads from the manager.
type connStatus interface {
	State() connection.State
	Stats() connection.Stats
}

// newHealthRouter creates the HTTP handler for health checks and debugging.
func newHealthRouter(conn connStatus, watcher *live.Watcher) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		state := conn.State()
		switch state {
		case connection.StateConnected:
		case connection.StateConnecting, connection.StateReconnecting:
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}
		health.Components["connection"] = conn.Stats()
		health.Components["live"] = watcher.Stats()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}).Methods(http.MethodGet)

	r.HandleFunc("/debug/sessions", func(w http.ResponseWriter, req *http.Request) {
		sessions := watcher.Sessions()
		views := make([]snapshotView, 0, len(sessions))
		for _, s := range sessions {
			views = append(views, newSnapshotView(s.Snapshot()))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":    len(views),
			"sessions": views,
		})
	}).Methods(http.MethodGet)

	r.HandleFunc("/debug/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		s, ok := watcher.Session(mux.Vars(req)["id"])
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"auction": newSnapshotView(s.Snapshot()),
			"stats":   s.Stats(),
		})
	}).Methods(http.MethodGet)

	return r
}
