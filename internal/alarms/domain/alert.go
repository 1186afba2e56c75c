package alarms

import (
	"context"
	"errors"
	"fmt"
	"time"

	telemetry "agrisense-cloud/internal/telemetry/domain"
)

// ErrNotFound indicates a missing alert record.
var ErrNotFound = errors.New("alert: not found")

// Severity classifies a value against threshold bounds.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityHigh   Severity = "HIGH"
	SeverityNormal Severity = "NORMAL"
)

// Breach reports whether s is outside the bounds.
func (s Severity) Breach() bool {
	return s == SeverityLow || s == SeverityHigh
}

// DeriveSeverity is HIGH above max, LOW below min, NORMAL otherwise.
func DeriveSeverity(value float64, min, max *float64) Severity {
	if max != nil && value > *max {
		return SeverityHigh
	}
	if min != nil && value < *min {
		return SeverityLow
	}
	return SeverityNormal
}

// Alert records the first sample of a breach episode.
// Only IsSent and SentAt change after creation.
type Alert struct {
	ID           string              `json:"id"`
	DeviceID     string              `json:"device_id"`
	Parameter    telemetry.Parameter `json:"parameter"`
	CurrentValue float64             `json:"current_value"`
	ThresholdMin *float64            `json:"threshold_min"`
	ThresholdMax *float64            `json:"threshold_max"`
	Severity     Severity            `json:"severity"`
	Message      string              `json:"message"`
	NotifyEmail  bool                `json:"notify_email"`
	NotifySMS    bool                `json:"notify_sms"`
	IsSent       bool                `json:"is_sent"`
	SentAt       *time.Time          `json:"sent_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// NewAlert snapshots the threshold at the moment of breach.
func NewAlert(id string, threshold Threshold, value float64, severity Severity, at time.Time) Alert {
	return Alert{
		ID:           id,
		DeviceID:     threshold.DeviceID,
		Parameter:    threshold.Parameter,
		CurrentValue: value,
		ThresholdMin: copyFloat(threshold.MinValue),
		ThresholdMax: copyFloat(threshold.MaxValue),
		Severity:     severity,
		Message:      BreachMessage(threshold.Parameter, value, severity, threshold.MinValue, threshold.MaxValue),
		NotifyEmail:  threshold.AlertEmail,
		NotifySMS:    threshold.AlertSMS,
		CreatedAt:    at.UTC(),
	}
}

// BreachMessage renders e.g. "moisture reading 80.00 exceeds maximum 70.00".
func BreachMessage(p telemetry.Parameter, value float64, severity Severity, min, max *float64) string {
	switch {
	case severity == SeverityHigh && max != nil:
		return fmt.Sprintf("%s reading %.2f exceeds maximum %.2f", p, value, *max)
	case severity == SeverityLow && min != nil:
		return fmt.Sprintf("%s reading %.2f is below minimum %.2f", p, value, *min)
	default:
		return fmt.Sprintf("%s reading %.2f is within range", p, value)
	}
}

// AlertFilter selects alerts. Empty DeviceID matches every device.
type AlertFilter struct {
	DeviceID   string
	UnsentOnly bool
	Limit      int
}

// AlertRepository persists alerts.
// MarkSent returns ErrNotFound for unknown ids and is a no-op for sent alerts.
type AlertRepository interface {
	Insert(ctx context.Context, alert *Alert) error
	List(ctx context.Context, filter AlertFilter) ([]Alert, error)
	Delete(ctx context.Context, deviceID string) (int64, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
}
