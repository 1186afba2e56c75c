package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ReadingFromValues builds a reading from a loosely typed payload.
// Every parameter must be present and numeric; unknown keys are rejected.
func ReadingFromValues(deviceID string, at time.Time, values map[string]any) (SensorReading, error) {
	reading := SensorReading{DeviceID: deviceID, Timestamp: at.UTC()}
	if len(values) == 0 {
		return reading, fmt.Errorf("empty values")
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		p, err := ParseParameter(key)
		if err != nil {
			return reading, err
		}
		v, err := toFloat(values[key])
		if err != nil {
			return reading, fmt.Errorf("parameter %s: %w", key, err)
		}
		reading.SetValue(p, v)
	}

	var missing []string
	for _, p := range allParameters {
		if _, ok := values[string(p)]; !ok {
			missing = append(missing, string(p))
		}
	}
	if len(missing) > 0 {
		return reading, fmt.Errorf("missing parameters: %s", strings.Join(missing, ","))
	}
	return reading, nil
}

func toFloat(value any) (float64, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", v.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", v)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("non-numeric value of type %T", value)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value")
	}
	return f, nil
}
