package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	masterapp "agrisense-cloud/internal/masterdata/application"
	"agrisense-cloud/internal/masterdata/infrastructure/memory"
)

type purgeFunc func(ctx context.Context, deviceID string) error

func (f purgeFunc) DeleteByDevice(ctx context.Context, deviceID string) error { return f(ctx, deviceID) }

func TestDeviceLifecycle(t *testing.T) {
	var purged []string
	failPurge := false
	purger := purgeFunc(func(_ context.Context, id string) error {
		if failPurge {
			return errors.New("purge failed")
		}
		purged = append(purged, id)
		return nil
	})
	svc, err := masterapp.NewDeviceService(memory.NewDeviceRepository(), nil, purger)
	require.NoError(t, err)
	handler, err := NewDeviceHandler(svc, nil)
	require.NoError(t, err)
	mux := http.NewServeMux()
	handler.Register(mux)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := do(http.MethodPost, "/api/v1/devices", `{"id":"D1","name":"North Field","credential":"secret"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/v1/devices", `{"id":"D2"}`).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/devices/D1", "").Code)

	failPurge = true
	assert.Equal(t, http.StatusInternalServerError, do(http.MethodDelete, "/api/v1/devices/D1", "").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/devices/D1", "").Code)

	failPurge = false
	assert.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/api/v1/devices/D1", "").Code)
	assert.Equal(t, []string{"D1"}, purged)
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/api/v1/devices/D1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodDelete, "/api/v1/devices/D1", "").Code)
}
