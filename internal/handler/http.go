package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/relay"
)

const maxIngestBody = 64 << 10

// RelayHandler serves the relay's ingest, track and status endpoints, the
// same contract the session reads from the tracking backend.
type RelayHandler struct {
	relay  *relay.Relay
	logger *slog.Logger
}

func NewRelayHandler(r *relay.Relay, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{relay: r, logger: logger.With("component", "relay_http")}
}

type IngestResponse struct {
	SurveyorID string    `json:"surveyorId"`
	Timestamp  time.Time `json:"timestamp"`
}

type trackPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
}

func (h *RelayHandler) IngestLocation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "reading body failed")
		return
	}

	var loc relay.Location
	if err := json.Unmarshal(body, &loc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sample, err := h.relay.Ingest(loc)
	if err != nil {
		h.logger.Debug("location rejected", "error", err)
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, IngestResponse{
		SurveyorID: strings.TrimSpace(loc.SurveyorID),
		Timestamp:  sample.Timestamp,
	})
}

func (h *RelayHandler) Track(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing surveyor id")
		return
	}

	start, err := parseQueryTime(r, "start")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseQueryTime(r, "end")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples := h.relay.Store().Track(id, start, end)
	points := make([]trackPoint, 0, len(samples))
	for _, s := range samples {
		points = append(points, trackPoint{
			Latitude:  s.Lat,
			Longitude: s.Lng,
			Timestamp: domain.FormatWireTime(s.Timestamp),
		})
	}
	respondJSON(w, http.StatusOK, points)
}

func (h *RelayHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.relay.Store().Status())
}

func parseQueryTime(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, errors.New("missing " + name + " parameter")
	}
	t, err := domain.ParseTimestamp(v)
	if err != nil {
		return time.Time{}, errors.New("invalid " + name + " parameter")
	}
	return t, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
