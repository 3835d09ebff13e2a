package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/afroash/hub-server/internal/models"
	"github.com/afroash/hub-server/internal/storage"
)

// APIHandler serves the read-only dashboard API backed by the durable store.
type APIHandler struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(store storage.Store, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		store:  store,
		logger: logger,
	}
}

// HandleSensors returns the accumulated state of every known sensor.
func (api *APIHandler) HandleSensors(w http.ResponseWriter, r *http.Request) {
	states, err := api.store.ListStates()
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to list sensor states")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if states == nil {
		states = []*models.SensorState{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(states)
}

// HandleHistory returns recent reading records for one sensor, newest first.
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensor_id")
	if sensorID == "" {
		http.Error(w, "sensor_id is required", http.StatusBadRequest)
		return
	}

	limit := 50 // default
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := api.store.RecentRecords(sensorID, limit)
	if err != nil {
		api.logger.Error().Err(err).Str("sensor_id", sensorID).Msg("Failed to query history")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*models.ReadingRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// HandleStats returns store statistics
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.store.Stats()
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to query storage stats")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
