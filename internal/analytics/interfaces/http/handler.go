package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	analyticsapp "agrisense-cloud/internal/analytics/application"
	analytics "agrisense-cloud/internal/analytics/domain"
	"agrisense-cloud/internal/apperr"
)

// HistoryHandler serves windowed history.
type HistoryHandler struct {
	service *analyticsapp.HistoryService
	logger  *zap.Logger
}

// NewHistoryHandler constructs a history handler.
func NewHistoryHandler(service *analyticsapp.HistoryService, logger *zap.Logger) (*HistoryHandler, error) {
	if service == nil {
		return nil, errors.New("history handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{service: service, logger: logger}, nil
}

// Register mounts the routes on mux.
func (h *HistoryHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/devices/{id}/history", h.handleHistory)
	mux.HandleFunc("GET /api/v1/devices/{id}/history.xlsx", h.handleExport)
}

type historyResponse struct {
	DeviceID string           `json:"device_id"`
	Window   analytics.Window `json:"window"`
	Readings any              `json:"readings"`
}

func (h *HistoryHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	window, err := analytics.ParseWindow(r.URL.Query().Get("window"), h.service.DefaultWindow())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	readings, err := h.service.GetHistory(r.Context(), deviceID, window)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(historyResponse{DeviceID: deviceID, Window: window, Readings: readings})
}

func (h *HistoryHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	window, err := analytics.ParseWindow(r.URL.Query().Get("window"), h.service.DefaultWindow())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	readings, err := h.service.GetHistory(r.Context(), deviceID, window)
	if err != nil {
		h.fail(w, err)
		return
	}
	data, err := BuildHistoryXLSX(deviceID, window, readings)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", deviceID+"-"+string(window)+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *HistoryHandler) fail(w http.ResponseWriter, err error) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.Error("history request failed", zap.Error(err))
	}
	apperr.WriteHTTP(w, err)
}
