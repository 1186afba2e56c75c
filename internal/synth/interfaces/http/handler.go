package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	alarms "agrisense-cloud/internal/alarms/domain"
	"agrisense-cloud/internal/apperr"
	"agrisense-cloud/internal/synth"
)

// ThresholdReader loads thresholds for on-demand synthesis.
type ThresholdReader interface {
	GetThresholds(ctx context.Context, deviceID string) ([]alarms.Threshold, error)
}

// Handler toggles auto-generation and serves synthetic readings.
type Handler struct {
	auto       *synth.AutoGenerator
	generator  *synth.Generator
	thresholds ThresholdReader
	logger     *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(auto *synth.AutoGenerator, generator *synth.Generator, thresholds ThresholdReader, logger *zap.Logger) (*Handler, error) {
	if auto == nil {
		return nil, errors.New("synth handler: nil auto generator")
	}
	if thresholds == nil {
		return nil, errors.New("synth handler: nil threshold reader")
	}
	if generator == nil {
		generator = synth.NewGenerator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{auto: auto, generator: generator, thresholds: thresholds, logger: logger}, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/devices/{id}/autogen", h.handleToggle)
	mux.HandleFunc("GET /api/v1/devices/{id}/autogen", h.handleStatus)
	mux.HandleFunc("GET /api/v1/devices/{id}/synthetic", h.handleSynthetic)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type toggleResponse struct {
	DeviceID string `json:"device_id"`
	Enabled  bool   `json:"enabled"`
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	var req toggleRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<10))
	if err := dec.Decode(&req); err != nil || req.Enabled == nil {
		http.Error(w, "enabled is required", http.StatusBadRequest)
		return
	}
	if *req.Enabled {
		if err := h.auto.Enable(r.Context(), deviceID); err != nil {
			h.fail(w, err)
			return
		}
	} else {
		h.auto.Disable(deviceID)
	}
	writeJSON(w, http.StatusOK, toggleResponse{DeviceID: deviceID, Enabled: h.auto.Enabled(deviceID)})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	writeJSON(w, http.StatusOK, toggleResponse{DeviceID: deviceID, Enabled: h.auto.Enabled(deviceID)})
}

// handleSynthetic returns a reading that is not persisted. mostly_within=false
// spreads values across the threshold bounds.
func (h *Handler) handleSynthetic(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	thresholds, err := h.thresholds.GetThresholds(r.Context(), deviceID)
	if err != nil {
		h.fail(w, err)
		return
	}
	mostlyWithin := r.URL.Query().Get("mostly_within") != "false"
	reading := h.generator.GenerateReading(deviceID, thresholds, mostlyWithin, time.Now().UTC())
	writeJSON(w, http.StatusOK, reading)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.Error("synth request failed", zap.Error(err))
	}
	apperr.WriteHTTP(w, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
