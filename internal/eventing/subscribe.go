package eventing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"agrisense-cloud/internal/observability/metrics"
)

// Subscribe registers a typed handler under a consumer name.
// Handler latency and failures are recorded per consumer.
func Subscribe[T any](bus EventBus, consumerName string, handler func(ctx context.Context, event T) error, logger *zap.Logger) {
	if bus == nil || handler == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bus.Subscribe(EventTypeOf[T](), func(ctx context.Context, event any) error {
		evt, ok := event.(T)
		if !ok {
			if ptr, isPtr := event.(*T); isPtr && ptr != nil {
				evt = *ptr
			} else {
				return ErrInvalidEventType
			}
		}
		start := time.Now()
		err := handler(ctx, evt)
		metrics.ObserveConsumer(consumerName, err, time.Since(start))
		if err != nil {
			logger.Warn("event consumer failed", zap.String("consumer", consumerName), zap.Error(err))
		}
		return err
	})
}
