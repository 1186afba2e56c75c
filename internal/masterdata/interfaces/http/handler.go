package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"agrisense-cloud/internal/apperr"
	"agrisense-cloud/internal/auth"
	masterapp "agrisense-cloud/internal/masterdata/application"
	masterdata "agrisense-cloud/internal/masterdata/domain"
)

// DeviceHandler serves device registration and deletion.
type DeviceHandler struct {
	service *masterapp.DeviceService
	logger  *zap.Logger
}

// NewDeviceHandler constructs a device handler.
func NewDeviceHandler(service *masterapp.DeviceService, logger *zap.Logger) (*DeviceHandler, error) {
	if service == nil {
		return nil, errors.New("device handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceHandler{service: service, logger: logger}, nil
}

// Register mounts the routes on mux.
func (h *DeviceHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/devices", h.handleRegister)
	mux.HandleFunc("GET /api/v1/devices/{id}", h.handleGet)
	mux.HandleFunc("DELETE /api/v1/devices/{id}", h.handleDelete)
}

type registerRequest struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	Name       string `json:"name"`
	Location   string `json:"location"`
	Credential string `json:"credential"`
}

func (h *DeviceHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		if caller, ok := auth.IdentityFromContext(r.Context()); ok {
			req.OwnerID = caller.OwnerID
		}
	}
	device, err := h.service.Register(r.Context(), masterdata.Device{
		ID:         req.ID,
		OwnerID:    req.OwnerID,
		Name:       req.Name,
		Location:   req.Location,
		Credential: req.Credential,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

func (h *DeviceHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	device, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (h *DeviceHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DeviceHandler) fail(w http.ResponseWriter, err error) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.Error("device request failed", zap.Error(err))
	}
	apperr.WriteHTTP(w, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
