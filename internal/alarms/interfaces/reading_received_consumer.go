package interfaces

import (
	"context"
	"errors"

	"go.uber.org/zap"

	alarmapp "agrisense-cloud/internal/alarms/application"
	"agrisense-cloud/internal/eventing"
	"agrisense-cloud/internal/telemetry/application/events"
)

// ConsumerName labels the threshold evaluation consumer in metrics and logs.
const ConsumerName = "alarms.threshold_evaluation"

// ReadingReceivedConsumer adapts reading events into the alarm application service.
type ReadingReceivedConsumer struct {
	app *alarmapp.Service
}

// NewReadingReceivedConsumer constructs a consumer.
func NewReadingReceivedConsumer(app *alarmapp.Service) (*ReadingReceivedConsumer, error) {
	if app == nil {
		return nil, errors.New("alarms consumer: nil service")
	}
	return &ReadingReceivedConsumer{app: app}, nil
}

// Consume handles a reading received event.
func (c *ReadingReceivedConsumer) Consume(ctx context.Context, event events.ReadingReceived) error {
	return c.app.HandleReadingReceived(ctx, event)
}

// Register subscribes the consumer on bus.
func (c *ReadingReceivedConsumer) Register(bus eventing.EventBus, logger *zap.Logger) {
	eventing.Subscribe(bus, ConsumerName, c.Consume, logger)
}
