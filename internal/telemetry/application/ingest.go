package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrisense-cloud/internal/apperr"
	"agrisense-cloud/internal/eventing"
	masterdata "agrisense-cloud/internal/masterdata/domain"
	"agrisense-cloud/internal/observability/metrics"
	"agrisense-cloud/internal/realtime"
	"agrisense-cloud/internal/telemetry/application/events"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

// SignalPublisher fans out change signals to live subscribers.
type SignalPublisher interface {
	Publish(ctx context.Context, topic string)
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

// IngestService accepts readings from devices and the synthesizer.
type IngestService struct {
	devices  masterdata.DeviceRepository
	readings telemetry.ReadingRepository
	bus      eventing.EventBus
	signals  SignalPublisher
	clock    Clock
	logger   *zap.Logger
}

// IngestOption configures the ingest service.
type IngestOption func(*IngestService)

// WithSignals enables realtime fan-out after each stored reading.
func WithSignals(signals SignalPublisher) IngestOption {
	return func(s *IngestService) {
		s.signals = signals
	}
}

// WithClock overrides the time source used for readings without a timestamp.
func WithClock(clock Clock) IngestOption {
	return func(s *IngestService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewIngestService constructs an ingest service.
func NewIngestService(
	devices masterdata.DeviceRepository,
	readings telemetry.ReadingRepository,
	bus eventing.EventBus,
	logger *zap.Logger,
	opts ...IngestOption,
) (*IngestService, error) {
	if devices == nil {
		return nil, errors.New("ingest: nil device repository")
	}
	if readings == nil {
		return nil, errors.New("ingest: nil reading repository")
	}
	if bus == nil {
		return nil, errors.New("ingest: nil event bus")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &IngestService{
		devices:  devices,
		readings: readings,
		bus:      bus,
		clock:    systemClock{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

const maxReadingIDLen = 128

// SubmitReading authenticates the device, persists the reading, evaluates
// thresholds through the event bus and signals subscribers.
// A zero timestamp is replaced with the current time.
//
// The reading is stored before evaluation. When evaluation fails the error is
// returned but the reading stays stored; retry through SubmitPayload with a
// reading_id to avoid storing it twice.
func (s *IngestService) SubmitReading(ctx context.Context, deviceID, credential string, at time.Time, values map[string]any) (*telemetry.SensorReading, error) {
	return s.submit(ctx, "", deviceID, credential, at, values)
}

// SubmitPayload submits a decoded transport payload. A payload carrying a
// reading_id is stored at most once per device; resubmitting it only
// re-runs evaluation.
func (s *IngestService) SubmitPayload(ctx context.Context, payload ReadingPayload) (*telemetry.SensorReading, error) {
	if len(payload.ReadingID) > maxReadingIDLen {
		return nil, apperr.Validation("reading_id longer than %d characters", maxReadingIDLen)
	}
	return s.submit(ctx, payload.ReadingID, payload.DeviceID, payload.Credential, payload.At(), payload.Values)
}

func (s *IngestService) submit(ctx context.Context, clientID, deviceID, credential string, at time.Time, values map[string]any) (*telemetry.SensorReading, error) {
	if deviceID == "" {
		return nil, apperr.Validation("device id is required")
	}
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		metrics.IncIngestError("device_lookup")
		return nil, fmt.Errorf("ingest: load device %s: %w", deviceID, err)
	}
	if device == nil {
		metrics.IncIngestError("unknown_device")
		return nil, apperr.NotFound("device %s", deviceID)
	}
	if !device.Authenticate(credential) {
		metrics.IncIngestError("bad_credential")
		s.logger.Warn("ingest: credential mismatch", zap.String("device_id", deviceID))
		return nil, apperr.Auth("credential mismatch for device %s", deviceID)
	}

	if at.IsZero() {
		at = s.clock.Now()
	}
	reading, err := telemetry.ReadingFromValues(deviceID, at, values)
	if err != nil {
		metrics.IncIngestError("invalid_payload")
		return nil, apperr.Validation("%v", err)
	}
	reading.ID = readingID(deviceID, clientID)

	if err := s.readings.Append(ctx, &reading); err != nil {
		metrics.IncIngestError("insert_error")
		return nil, fmt.Errorf("ingest: persist reading: %w", err)
	}
	if err := s.devices.TouchLastSeen(ctx, deviceID, reading.Timestamp); err != nil {
		s.logger.Warn("ingest: touch last seen failed", zap.String("device_id", deviceID), zap.Error(err))
	}

	event := events.ReadingReceived{
		EventID:    uuid.NewString(),
		Reading:    reading,
		OccurredAt: reading.Timestamp,
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		metrics.IncIngestError("evaluation_error")
		return nil, fmt.Errorf("ingest: evaluate reading %s: %w", reading.ID, err)
	}

	if s.signals != nil {
		s.signals.Publish(ctx, realtime.ReadingsTopic(deviceID))
	}
	s.logger.Debug("reading ingested",
		zap.String("device_id", deviceID),
		zap.String("reading_id", reading.ID),
		zap.Time("ts", reading.Timestamp),
	)
	return &reading, nil
}

// readingID scopes client-supplied ids to the device so one device cannot
// shadow another's readings.
func readingID(deviceID, clientID string) string {
	if clientID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(deviceID+"/"+clientID)).String()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
