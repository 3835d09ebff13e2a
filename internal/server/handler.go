package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/hub-server/internal/ingest"
	"github.com/afroash/hub-server/internal/protocol"
)

// Content type used by hubs for presence pings.
const pingContentType = "application/eh-ping"

// Response to /get_key.html; the hub only checks that it gets a key back.
const keyResponse = "TT|a1bCDEFGHa1zZ\n"

// Handler accepts forwarded hub requests on /h2 and /h3 and runs them
// through the ingestion pipeline. It always acknowledges with 200: the hub
// has no meaningful retry logic worth provoking, so malformed packets and
// storage failures are logged here rather than surfaced to the device.
type Handler struct {
	pipeline *ingest.Pipeline
	feed     *LiveFeed
	logger   zerolog.Logger
}

// NewHandler creates a hub ingestion handler. feed may be nil when the live
// websocket feed is not wired up.
func NewHandler(pipeline *ingest.Pipeline, feed *LiveFeed, logger zerolog.Logger) *Handler {
	return &Handler{
		pipeline: pipeline,
		feed:     feed,
		logger:   logger,
	}
}

// HandleHub processes POST /h2 and POST /h3. Both hub generations speak the
// same packet format; the path only feeds the derived label.
func (h *Handler) HandleHub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	hubVersion := strings.TrimPrefix(r.URL.Path, "/")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to read request body")
		h.acknowledge(w)
		return
	}

	if r.Header.Get("Content-Type") == pingContentType {
		ids := protocol.ParsePing(string(body))
		h.logger.Debug().Strs("sensor_ids", ids).Msg("Received hub ping")
		h.acknowledge(w)
		return
	}

	h.processBody(string(body), hubVersion)
	h.acknowledge(w)
}

// processBody decodes and ingests every packet line in the body. Decode and
// storage failures are logged and swallowed; the request is acknowledged
// regardless.
func (h *Handler) processBody(body, hubVersion string) {
	readings, decodeErrs := protocol.DecodeBody(body, hubVersion)

	for _, decodeErr := range decodeErrs {
		if errors.Is(decodeErr, protocol.ErrMalformedPacket) {
			h.logger.Warn().
				Str("hub_version", hubVersion).
				Str("body", body).
				Err(decodeErr).
				Msg("Malformed packet")
		}
	}

	now := time.Now()
	for _, reading := range readings {
		record, err := h.pipeline.Ingest(reading, now)
		if err != nil {
			// Not durably recorded; the next packet will be processed
			// normally.
			h.logger.Error().
				Err(err).
				Str("sensor_id", reading.SensorID).
				Msg("Failed to ingest reading")
			continue
		}
		if h.feed != nil {
			h.feed.Broadcast(record)
		}
	}
}

// acknowledge sends the fixed success response. The hub ignores the body.
func (h *Handler) acknowledge(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
}

// HandleGetKey answers the hub's registration key request with a canned key.
func (h *Handler) HandleGetKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, keyResponse)
}

// HandleCheckKey answers the hub's key validation probe. An "E1" marker in
// the p query parameter gets a success; anything else gets the empty
// response the real service sends.
func (h *Handler) HandleCheckKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	if strings.Contains(r.URL.Query().Get("p"), "E1") {
		io.WriteString(w, "success")
		return
	}
	io.WriteString(w, "\n")
}
