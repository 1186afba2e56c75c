package alarms

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	telemetry "agrisense-cloud/internal/telemetry/domain"
)

// ErrDuplicateThreshold is returned by Insert when (device, parameter) already exists.
var ErrDuplicateThreshold = errors.New("alarms: duplicate threshold")

// Threshold bounds one parameter of one device. Nil bounds are unbounded.
type Threshold struct {
	ID         string              `json:"id"`
	DeviceID   string              `json:"device_id"`
	Parameter  telemetry.Parameter `json:"parameter"`
	MinValue   *float64            `json:"min_value"`
	MaxValue   *float64            `json:"max_value"`
	AlertEmail bool                `json:"alert_email"`
	AlertSMS   bool                `json:"alert_sms"`
	IsActive   bool                `json:"is_active"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Classify maps a value against the threshold bounds.
func (t Threshold) Classify(value float64) Severity {
	return DeriveSeverity(value, t.MinValue, t.MaxValue)
}

// ThresholdInput is an upsert request. Min and max replace the stored bounds;
// nil flags keep their stored value, or take defaults on insert.
type ThresholdInput struct {
	Parameter  string   `json:"parameter"`
	MinValue   *float64 `json:"min_value"`
	MaxValue   *float64 `json:"max_value"`
	AlertEmail *bool    `json:"alert_email,omitempty"`
	AlertSMS   *bool    `json:"alert_sms,omitempty"`
	IsActive   *bool    `json:"is_active,omitempty"`
}

// Validate checks the parameter name and bound ordering.
func (in ThresholdInput) Validate() (telemetry.Parameter, error) {
	p, err := telemetry.ParseParameter(in.Parameter)
	if err != nil {
		return "", err
	}
	for _, bound := range []*float64{in.MinValue, in.MaxValue} {
		if bound != nil && (math.IsNaN(*bound) || math.IsInf(*bound, 0)) {
			return "", fmt.Errorf("parameter %s: non-finite bound", p)
		}
	}
	if in.MinValue != nil && in.MaxValue != nil && *in.MinValue > *in.MaxValue {
		return "", fmt.Errorf("parameter %s: min %.2f greater than max %.2f", p, *in.MinValue, *in.MaxValue)
	}
	return p, nil
}

// Apply writes the input onto t.
func (in ThresholdInput) Apply(t *Threshold) {
	t.MinValue = copyFloat(in.MinValue)
	t.MaxValue = copyFloat(in.MaxValue)
	ThresholdProperties{AlertEmail: in.AlertEmail, AlertSMS: in.AlertSMS, IsActive: in.IsActive}.Apply(t)
}

// ThresholdProperties is a partial update of notification flags.
type ThresholdProperties struct {
	AlertEmail *bool `json:"alert_email,omitempty"`
	AlertSMS   *bool `json:"alert_sms,omitempty"`
	IsActive   *bool `json:"is_active,omitempty"`
}

// Apply sets the provided flags on t.
func (p ThresholdProperties) Apply(t *Threshold) {
	if p.AlertEmail != nil {
		t.AlertEmail = *p.AlertEmail
	}
	if p.AlertSMS != nil {
		t.AlertSMS = *p.AlertSMS
	}
	if p.IsActive != nil {
		t.IsActive = *p.IsActive
	}
}

// ThresholdRepository persists thresholds. Get returns (nil, nil) when absent.
// Insert returns ErrDuplicateThreshold when the pair already exists.
type ThresholdRepository interface {
	Get(ctx context.Context, deviceID string, parameter telemetry.Parameter) (*Threshold, error)
	ListByDevice(ctx context.Context, deviceID string) ([]Threshold, error)
	Insert(ctx context.Context, threshold *Threshold) error
	Update(ctx context.Context, threshold *Threshold) error
	DeleteByDevice(ctx context.Context, deviceID string) error
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
