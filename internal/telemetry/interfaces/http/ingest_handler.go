package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"agrisense-cloud/internal/apperr"
	"agrisense-cloud/internal/observability/metrics"
	"agrisense-cloud/internal/telemetry/application"
)

const (
	deviceTokenHeader = "X-Device-Token"
	maxBodyBytes      = 64 << 10
)

// IngestHandler accepts readings posted by devices.
type IngestHandler struct {
	ingest *application.IngestService
	logger *zap.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(ingest *application.IngestService, logger *zap.Logger) (*IngestHandler, error) {
	if ingest == nil {
		return nil, errors.New("ingest handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{ingest: ingest, logger: logger}, nil
}

// ServeHTTP ingests one reading.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest("http", result, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		result = metrics.ResultError
		metrics.IncIngestError("method_not_allowed")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("read_body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	payload, err := application.DecodeReadingPayload(body)
	if err != nil {
		h.logger.Debug("ingest: decode error", zap.Error(err))
		result = metrics.ResultError
		metrics.IncIngestError("invalid_json")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if token := r.Header.Get(deviceTokenHeader); token != "" {
		payload.Credential = token
	}

	reading, err := h.ingest.SubmitPayload(r.Context(), payload)
	if err != nil {
		result = metrics.ResultError
		if apperr.HTTPStatus(err) == http.StatusInternalServerError {
			h.logger.Error("ingest: submit failed", zap.String("device_id", payload.DeviceID), zap.Error(err))
		}
		apperr.WriteHTTP(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(reading)
}
