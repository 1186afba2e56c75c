package synth

import (
	"math"
	"math/rand"
	"sync"
	"time"

	alarms "agrisense-cloud/internal/alarms/domain"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

// Range is an inclusive value interval.
type Range struct {
	Min float64
	Max float64
}

var defaultRanges = map[telemetry.Parameter]Range{
	telemetry.ParamAtmoTemp:       {Min: 15, Max: 40},
	telemetry.ParamHumidity:       {Min: 30, Max: 90},
	telemetry.ParamLightIntensity: {Min: 0, Max: 1000},
	telemetry.ParamSoilTemp:       {Min: 10, Max: 35},
	telemetry.ParamMoisture:       {Min: 20, Max: 80},
	telemetry.ParamEC:             {Min: 0.5, Max: 3},
	telemetry.ParamPH:             {Min: 5, Max: 8.5},
	telemetry.ParamNitrogen:       {Min: 10, Max: 100},
	telemetry.ParamPhosphorus:     {Min: 5, Max: 60},
	telemetry.ParamPotassium:      {Min: 50, Max: 300},
}

// DefaultRange is the built-in plausible range for p.
func DefaultRange(p telemetry.Parameter) (Range, bool) {
	r, ok := defaultRanges[p]
	return r, ok
}

// Generator draws synthetic sensor values. Safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator wraps rng. A nil rng is seeded from the clock.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{rng: rng}
}

// GenerateValue draws one value for p. With mostlyWithin false, roughly a
// quarter of draws fall below the threshold minimum and a quarter above the
// maximum. A threshold with min > max always yields min.
func (g *Generator) GenerateValue(p telemetry.Parameter, thresholds []alarms.Threshold, mostlyWithin bool) float64 {
	dr, ok := DefaultRange(p)
	if !ok {
		return 0
	}
	min, max := bounds(p, thresholds)
	if min != nil && max != nil && *min > *max {
		return round2(*min)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.rng.Float64()
	span := dr.Max - dr.Min

	switch {
	case !mostlyWithin && min != nil && r < 0.25:
		lo := math.Max(dr.Min-span*0.5, dr.Min-50)
		hi := *min * 0.98
		if lo > hi {
			lo = hi
		}
		return round2(g.uniform(lo, hi))
	case !mostlyWithin && max != nil && r > 0.75:
		lo := *max * 1.02
		hi := dr.Max + span*0.5
		if hi < lo {
			hi = lo
		}
		return round2(g.uniform(lo, hi))
	}

	lo, hi := dr.Min, dr.Max
	if min != nil {
		lo = *min
	}
	if max != nil {
		hi = *max
	}
	if lo > hi {
		return round2(lo)
	}
	return round2(g.uniform(lo, hi))
}

// GenerateReading synthesizes a full reading for deviceID at the given time.
func (g *Generator) GenerateReading(deviceID string, thresholds []alarms.Threshold, mostlyWithin bool, at time.Time) telemetry.SensorReading {
	reading := telemetry.SensorReading{DeviceID: deviceID, Timestamp: at.UTC()}
	for _, p := range telemetry.Parameters() {
		reading.SetValue(p, g.GenerateValue(p, thresholds, mostlyWithin))
	}
	return reading
}

// Values flattens a reading into the ingestion payload shape.
func Values(reading telemetry.SensorReading) map[string]any {
	values := make(map[string]any, len(telemetry.Parameters()))
	for _, p := range telemetry.Parameters() {
		v, _ := reading.Value(p)
		values[string(p)] = v
	}
	return values
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func bounds(p telemetry.Parameter, thresholds []alarms.Threshold) (*float64, *float64) {
	for _, t := range thresholds {
		if t.Parameter == p {
			return t.MinValue, t.MaxValue
		}
	}
	return nil, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
