package http

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "agrisense-cloud/internal/alarms/domain"
	masterdata "agrisense-cloud/internal/masterdata/domain"
	"agrisense-cloud/internal/synth"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

type stubDevices struct{}

func (stubDevices) Get(_ context.Context, id string) (*masterdata.Device, error) {
	if id != "D1" {
		return nil, nil
	}
	return &masterdata.Device{ID: id, Credential: "tok"}, nil
}

type nopSubmitter struct{}

func (nopSubmitter) SubmitReading(_ context.Context, deviceID, _ string, at time.Time, _ map[string]any) (*telemetry.SensorReading, error) {
	return &telemetry.SensorReading{DeviceID: deviceID, Timestamp: at}, nil
}

type stubThresholds struct{}

func (stubThresholds) GetThresholds(_ context.Context, deviceID string) ([]alarms.Threshold, error) {
	min, max := 30.0, 70.0
	return []alarms.Threshold{{DeviceID: deviceID, Parameter: telemetry.ParamMoisture, MinValue: &min, MaxValue: &max}}, nil
}

func newMux(t *testing.T) (*http.ServeMux, *synth.AutoGenerator) {
	t.Helper()
	gen := synth.NewGenerator(rand.New(rand.NewSource(1)))
	auto, err := synth.NewAutoGenerator(gen, nopSubmitter{}, stubDevices{}, synth.WithInterval(time.Hour))
	require.NoError(t, err)
	t.Cleanup(auto.Close)
	handler, err := NewHandler(auto, gen, stubThresholds{}, nil)
	require.NoError(t, err)
	mux := http.NewServeMux()
	handler.Register(mux)
	return mux, auto
}

func TestToggleAutogen(t *testing.T) {
	mux, auto := newMux(t)

	cases := []struct {
		name    string
		device  string
		body    string
		status  int
		enabled bool
	}{
		{name: "enable", device: "D1", body: `{"enabled":true}`, status: http.StatusOK, enabled: true},
		{name: "disable", device: "D1", body: `{"enabled":false}`, status: http.StatusOK, enabled: false},
		{name: "missing flag", device: "D1", body: `{}`, status: http.StatusBadRequest},
		{name: "unknown device", device: "nope", body: `{"enabled":true}`, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/"+tc.device+"/autogen", strings.NewReader(tc.body))
			mux.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				var resp toggleResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tc.enabled, resp.Enabled)
				assert.Equal(t, tc.enabled, auto.Enabled(tc.device))
			}
		})
	}
}

func TestSyntheticReading(t *testing.T) {
	mux, _ := newMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/D1/synthetic", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var reading telemetry.SensorReading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reading))
	assert.Equal(t, "D1", reading.DeviceID)
	assert.GreaterOrEqual(t, reading.Moisture, 30.0)
	assert.LessOrEqual(t, reading.Moisture, 70.0)
}
