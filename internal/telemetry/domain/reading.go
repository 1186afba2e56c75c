package telemetry

import (
	"context"
	"errors"
	"math"
	"time"
)

// SensorReading is one immutable sample from a device.
type SensorReading struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"device_id"`
	Timestamp      time.Time `json:"timestamp"`
	AtmoTemp       float64   `json:"atmo_temp"`
	Humidity       float64   `json:"humidity"`
	LightIntensity float64   `json:"light_intensity"`
	SoilTemp       float64   `json:"soil_temp"`
	Moisture       float64   `json:"moisture"`
	EC             float64   `json:"ec"`
	PH             float64   `json:"ph"`
	Nitrogen       float64   `json:"nitrogen"`
	Phosphorus     float64   `json:"phosphorus"`
	Potassium      float64   `json:"potassium"`
}

// Value returns the value for p. Unknown parameters return false.
func (r SensorReading) Value(p Parameter) (float64, bool) {
	switch p {
	case ParamAtmoTemp:
		return r.AtmoTemp, true
	case ParamHumidity:
		return r.Humidity, true
	case ParamLightIntensity:
		return r.LightIntensity, true
	case ParamSoilTemp:
		return r.SoilTemp, true
	case ParamMoisture:
		return r.Moisture, true
	case ParamEC:
		return r.EC, true
	case ParamPH:
		return r.PH, true
	case ParamNitrogen:
		return r.Nitrogen, true
	case ParamPhosphorus:
		return r.Phosphorus, true
	case ParamPotassium:
		return r.Potassium, true
	default:
		return 0, false
	}
}

// SetValue assigns the value for p.
func (r *SensorReading) SetValue(p Parameter, v float64) bool {
	switch p {
	case ParamAtmoTemp:
		r.AtmoTemp = v
	case ParamHumidity:
		r.Humidity = v
	case ParamLightIntensity:
		r.LightIntensity = v
	case ParamSoilTemp:
		r.SoilTemp = v
	case ParamMoisture:
		r.Moisture = v
	case ParamEC:
		r.EC = v
	case ParamPH:
		r.PH = v
	case ParamNitrogen:
		r.Nitrogen = v
	case ParamPhosphorus:
		r.Phosphorus = v
	case ParamPotassium:
		r.Potassium = v
	default:
		return false
	}
	return true
}

// Validate checks required fields.
func (r SensorReading) Validate() error {
	if r.DeviceID == "" {
		return errors.New("reading: empty device id")
	}
	if r.Timestamp.IsZero() {
		return errors.New("reading: zero timestamp")
	}
	for _, p := range allParameters {
		v, _ := r.Value(p)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("reading: non-finite " + string(p))
		}
	}
	return nil
}

// ReadingRepository persists readings. Append-only; appending an ID that is
// already stored is a no-op.
type ReadingRepository interface {
	Append(ctx context.Context, reading *SensorReading) error
	ListSince(ctx context.Context, deviceID string, since time.Time) ([]SensorReading, error)
	DeleteByDevice(ctx context.Context, deviceID string) error
}
