package alarms

import (
	"context"
	"time"

	telemetry "agrisense-cloud/internal/telemetry/domain"
)

// EpisodeState says whether a (device, parameter) pair is currently breaching.
type EpisodeState string

const (
	EpisodeInside  EpisodeState = "inside"
	EpisodeOutside EpisodeState = "outside"
)

// Episode is the breach state of one (device, parameter) pair.
type Episode struct {
	DeviceID  string              `json:"device_id"`
	Parameter telemetry.Parameter `json:"parameter"`
	State     EpisodeState        `json:"state"`
	Since     time.Time           `json:"since"`
	LastValue float64             `json:"last_value"`
	LastAt    time.Time           `json:"last_at"`
}

// Outside reports whether the pair is inside a breach episode.
func (e *Episode) Outside() bool {
	return e != nil && e.State == EpisodeOutside
}

// Stale reports whether a sample taken at at predates the last evaluated one.
func (e *Episode) Stale(at time.Time) bool {
	return e != nil && !e.LastAt.IsZero() && at.Before(e.LastAt)
}

// Transition returns the next episode for a classified sample and whether
// it opens a new breach. Since only moves when the state changes.
func (e *Episode) Transition(deviceID string, p telemetry.Parameter, severity Severity, value float64, at time.Time) (Episode, bool) {
	next := Episode{DeviceID: deviceID, Parameter: p, LastValue: value, Since: at.UTC(), LastAt: at.UTC()}
	if severity.Breach() {
		next.State = EpisodeOutside
	} else {
		next.State = EpisodeInside
	}
	if e != nil && e.State == next.State {
		next.Since = e.Since
	}
	opened := next.State == EpisodeOutside && !e.Outside()
	return next, opened
}

// EpisodeStore is the keyed breach-state table. Get returns (nil, nil) when unknown.
type EpisodeStore interface {
	Get(ctx context.Context, deviceID string, parameter telemetry.Parameter) (*Episode, error)
	Put(ctx context.Context, episode Episode) error
	DeleteByDevice(ctx context.Context, deviceID string) error
}
