package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	alarmapp "agrisense-cloud/internal/alarms/application"
	alarms "agrisense-cloud/internal/alarms/domain"
	"agrisense-cloud/internal/alarms/notify"
	"agrisense-cloud/internal/apperr"
)

const maxBodyBytes = 64 << 10

// Handler provides threshold and alert HTTP endpoints.
type Handler struct {
	service *alarmapp.Service
	logger  *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *alarmapp.Service, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/devices/{id}/thresholds", h.handleListThresholds)
	mux.HandleFunc("PUT /api/v1/devices/{id}/thresholds", h.handleBulkUpsert)
	mux.HandleFunc("PUT /api/v1/devices/{id}/thresholds/{parameter}", h.handleUpsert)
	mux.HandleFunc("PATCH /api/v1/devices/{id}/thresholds/{parameter}", h.handleProperties)
	mux.HandleFunc("GET /api/v1/alerts", h.handleListAlerts)
	mux.HandleFunc("DELETE /api/v1/alerts", h.handleClearAlerts)
	mux.HandleFunc("GET /api/v1/alerts/report.pdf", h.handleReport)
}

func (h *Handler) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.GetThresholds(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var input alarms.ThresholdInput
	if err := decodeBody(r, &input); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	input.Parameter = r.PathValue("parameter")
	threshold, err := h.service.UpsertThreshold(r.Context(), r.PathValue("id"), input)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threshold)
}

func (h *Handler) handleProperties(w http.ResponseWriter, r *http.Request) {
	var props alarms.ThresholdProperties
	if err := decodeBody(r, &props); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	threshold, err := h.service.SetThresholdProperties(r.Context(), r.PathValue("id"), r.PathValue("parameter"), props)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threshold)
}

func (h *Handler) handleBulkUpsert(w http.ResponseWriter, r *http.Request) {
	var inputs []alarms.ThresholdInput
	if err := decodeBody(r, &inputs); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	list, err := h.service.BulkUpsertThresholds(r.Context(), r.PathValue("id"), inputs)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.service.GetAlerts(r.Context(), r.URL.Query().Get("device_id"), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.ClearAlerts(r.Context(), r.URL.Query().Get("device_id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.service.GetAlerts(r.Context(), r.URL.Query().Get("device_id"), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	data, err := notify.BuildAlertReportPDF(list, time.Now().UTC())
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="alerts.pdf"`)
	_, _ = w.Write(data)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if apperr.HTTPStatus(err) == http.StatusInternalServerError {
		h.logger.Error("alarms api error", zap.Error(err))
	}
	apperr.WriteHTTP(w, err)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
