package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agrisense-cloud/internal/eventing"
	masterdata "agrisense-cloud/internal/masterdata/domain"
	mdmemory "agrisense-cloud/internal/masterdata/infrastructure/memory"
	"agrisense-cloud/internal/telemetry/application"
	"agrisense-cloud/internal/telemetry/infrastructure/memory"
)

const validBody = `{"device_id":"D1","values":{"atmo_temp":22,"humidity":55,"light_intensity":400,
"soil_temp":18,"moisture":45,"ec":1.2,"ph":6.5,"nitrogen":40,"phosphorus":20,"potassium":150}}`

func newHandler(t *testing.T) *IngestHandler {
	t.Helper()
	devices := mdmemory.NewDeviceRepository()
	_ = devices.Save(context.Background(), &masterdata.Device{ID: "D1", Credential: "secret"})
	svc, err := application.NewIngestService(devices, memory.NewReadingRepository(), eventing.NewInMemoryBus(), nil)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	handler, err := NewIngestHandler(svc, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return handler
}

func TestIngestHandlerStatuses(t *testing.T) {
	cases := []struct {
		name   string
		method string
		token  string
		body   string
		want   int
	}{
		{"created", http.MethodPost, "secret", validBody, http.StatusCreated},
		{"bad token", http.MethodPost, "nope", validBody, http.StatusUnauthorized},
		{"unknown device", http.MethodPost, "secret", strings.Replace(validBody, "D1", "D9", 1), http.StatusNotFound},
		{"unknown parameter", http.MethodPost, "secret", strings.Replace(validBody, "\"ec\"", "\"co2\"", 1), http.StatusBadRequest},
		{"bad json", http.MethodPost, "secret", "{", http.StatusBadRequest},
		{"wrong method", http.MethodGet, "secret", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/ingest/readings", strings.NewReader(tc.body))
			req.Header.Set("X-Device-Token", tc.token)
			rec := httptest.NewRecorder()
			newHandler(t).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}
