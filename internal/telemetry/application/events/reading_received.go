package events

import (
	"time"

	telemetry "agrisense-cloud/internal/telemetry/domain"
)

// ReadingReceived is published after a reading has been persisted.
type ReadingReceived struct {
	EventID    string
	Reading    telemetry.SensorReading
	OccurredAt time.Time
}
