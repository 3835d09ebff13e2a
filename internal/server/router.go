package server

import (
	"encoding/json"
	"net/http"
)

// NewMux assembles the full HTTP surface: the hub ingestion endpoints, the
// registration key handshake, the dashboard read API, the live feed and a
// health check. Unregistered paths fall through to the mux's 404.
func NewMux(h *Handler, api *APIHandler, feed *LiveFeed, version string) *http.ServeMux {
	mux := http.NewServeMux()

	// Hub-facing endpoints
	mux.HandleFunc("/h2", h.HandleHub)
	mux.HandleFunc("/h3", h.HandleHub)
	mux.HandleFunc("/get_key.html", h.HandleGetKey)
	mux.HandleFunc("/check_key.html", h.HandleCheckKey)

	// Dashboard API
	mux.HandleFunc("/api/sensors", api.HandleSensors)
	mux.HandleFunc("/api/history", api.HandleHistory)
	mux.HandleFunc("/api/stats", api.HandleStats)

	if feed != nil {
		mux.HandleFunc("/live", feed.ServeHTTP)
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version})
	})

	return mux
}
