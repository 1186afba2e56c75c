package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	telemetry "agrisense-cloud/internal/telemetry/domain"
)

// Window is a fixed history lookback period.
type Window string

const (
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

// DefaultWindow is used when neither caller nor config picks one.
const DefaultWindow = Window24h

// Valid reports whether w is a known window.
func (w Window) Valid() bool {
	switch w {
	case Window24h, Window7d, Window30d:
		return true
	default:
		return false
	}
}

// Duration is the lookback length of w.
func (w Window) Duration() time.Duration {
	switch w {
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Bucketed reports whether readings in w are collapsed into daily means.
func (w Window) Bucketed() bool {
	return w == Window7d || w == Window30d
}

// ParseWindow parses a window name. Empty input yields fallback.
func ParseWindow(value string, fallback Window) (Window, error) {
	if value == "" {
		if !fallback.Valid() {
			return DefaultWindow, nil
		}
		return fallback, nil
	}
	w := Window(value)
	if !w.Valid() {
		return "", fmt.Errorf("unknown window %q", value)
	}
	return w, nil
}

// Aggregate shapes readings already selected for w.
func Aggregate(w Window, readings []telemetry.SensorReading) []telemetry.SensorReading {
	if !w.Bucketed() {
		out := make([]telemetry.SensorReading, len(readings))
		copy(out, readings)
		return out
	}
	return AverageByDay(readings)
}

// AverageByDay groups readings by UTC date and returns one mean reading per day,
// stamped 12:00:00Z and sorted ascending. Means are rounded to 2 decimals,
// light intensity to an integer.
func AverageByDay(readings []telemetry.SensorReading) []telemetry.SensorReading {
	type bucket struct {
		day   time.Time
		count int
		sums  map[telemetry.Parameter]float64
	}
	buckets := make(map[string]*bucket)
	deviceID := ""
	for _, reading := range readings {
		if deviceID == "" {
			deviceID = reading.DeviceID
		}
		ts := reading.Timestamp.UTC()
		key := ts.Format(time.DateOnly)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				day:  time.Date(ts.Year(), ts.Month(), ts.Day(), 12, 0, 0, 0, time.UTC),
				sums: make(map[telemetry.Parameter]float64, len(telemetry.Parameters())),
			}
			buckets[key] = b
		}
		b.count++
		for _, p := range telemetry.Parameters() {
			v, _ := reading.Value(p)
			b.sums[p] += v
		}
	}

	out := make([]telemetry.SensorReading, 0, len(buckets))
	for key, b := range buckets {
		avg := telemetry.SensorReading{
			ID:        fmt.Sprintf("%s:%s", deviceID, key),
			DeviceID:  deviceID,
			Timestamp: b.day,
		}
		for _, p := range telemetry.Parameters() {
			mean := b.sums[p] / float64(b.count)
			if p == telemetry.ParamLightIntensity {
				mean = math.Round(mean)
			} else {
				mean = round2(mean)
			}
			avg.SetValue(p, mean)
		}
		out = append(out, avg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
