package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	alarms "agrisense-cloud/internal/alarms/domain"
)

// Message is one alert ready for delivery.
type Message struct {
	Alert     alarms.Alert
	Device    DeviceInfo
	Severity  alarms.Severity
	Content   string
	Timestamp time.Time
}

// DeviceInfo describes the device that raised the alert.
type DeviceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Type     string `json:"type"`
}

// Channel delivers an alert message.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// MultiChannel delivers to every channel and joins their errors.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel constructs a MultiChannel.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	return &MultiChannel{channels: channels}
}

// Send forwards msg to all channels.
func (m *MultiChannel) Send(ctx context.Context, msg Message) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, channel := range m.channels {
		if channel == nil {
			continue
		}
		if err := channel.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogChannel writes alerts to the log. Used when no webhook is configured.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel constructs a LogChannel.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger}
}

// Send logs msg.
func (l *LogChannel) Send(_ context.Context, msg Message) error {
	l.logger.Info("alert notification",
		zap.String("alert_id", msg.Alert.ID),
		zap.String("device_id", msg.Device.ID),
		zap.String("severity", string(msg.Severity)),
		zap.String("content", msg.Content),
	)
	return nil
}
