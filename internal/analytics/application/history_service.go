package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	analytics "agrisense-cloud/internal/analytics/domain"
	"agrisense-cloud/internal/apperr"
	"agrisense-cloud/internal/observability/metrics"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

const defaultQueryTimeout = 5 * time.Second

// ReadingReader selects readings for history queries.
type ReadingReader interface {
	ListSince(ctx context.Context, deviceID string, since time.Time) ([]telemetry.SensorReading, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// HistoryService answers windowed history queries. It takes no locks.
type HistoryService struct {
	readings      ReadingReader
	clock         Clock
	logger        *zap.Logger
	timeout       time.Duration
	defaultWindow analytics.Window
}

// HistoryOption configures the history service.
type HistoryOption func(*HistoryService)

// WithClock overrides the default clock.
func WithClock(clock Clock) HistoryOption {
	return func(s *HistoryService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) HistoryOption {
	return func(s *HistoryService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithQueryTimeout bounds each store query.
func WithQueryTimeout(timeout time.Duration) HistoryOption {
	return func(s *HistoryService) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithDefaultWindow sets the window used when callers pass none.
func WithDefaultWindow(window analytics.Window) HistoryOption {
	return func(s *HistoryService) {
		if window.Valid() {
			s.defaultWindow = window
		}
	}
}

// NewHistoryService constructs a history service.
func NewHistoryService(readings ReadingReader, opts ...HistoryOption) (*HistoryService, error) {
	if readings == nil {
		return nil, errors.New("history: nil reading reader")
	}
	s := &HistoryService{
		readings:      readings,
		clock:         systemClock{},
		logger:        zap.NewNop(),
		timeout:       defaultQueryTimeout,
		defaultWindow: analytics.DefaultWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DefaultWindow returns the configured fallback window.
func (s *HistoryService) DefaultWindow() analytics.Window {
	return s.defaultWindow
}

// GetHistory returns readings for the window ending now. Store failures
// degrade to an empty result; only invalid input and caller cancellation
// are returned as errors.
func (s *HistoryService) GetHistory(ctx context.Context, deviceID string, window analytics.Window) ([]telemetry.SensorReading, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", apperr.ErrValidation)
	}
	if window == "" {
		window = s.defaultWindow
	}
	if !window.Valid() {
		return nil, fmt.Errorf("%w: unknown window %q", apperr.ErrValidation, window)
	}

	start := time.Now()
	since := s.clock.Now().UTC().Add(-window.Duration())

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	readings, err := s.readings.ListSince(queryCtx, deviceID, since)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.ObserveHistory(string(window), metrics.ResultDegraded, time.Since(start))
		s.logger.Warn("history query degraded",
			zap.String("device_id", deviceID),
			zap.String("window", string(window)),
			zap.Error(err),
		)
		return []telemetry.SensorReading{}, nil
	}

	out := analytics.Aggregate(window, readings)
	metrics.ObserveHistory(string(window), metrics.ResultSuccess, time.Since(start))
	return out, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
