package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarms "agrisense-cloud/internal/alarms/domain"
	"agrisense-cloud/internal/apperr"
	"agrisense-cloud/internal/audit"
	"agrisense-cloud/internal/auth"
	masterdata "agrisense-cloud/internal/masterdata/domain"
	"agrisense-cloud/internal/observability/metrics"
	"agrisense-cloud/internal/realtime"
	"agrisense-cloud/internal/telemetry/application/events"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

const (
	// DefaultAlertLimit applies when GetAlerts is called without a limit.
	DefaultAlertLimit = 50
	maxAlertLimit     = 500
)

// SignalPublisher fans out change signals to live subscribers.
type SignalPublisher interface {
	Publish(ctx context.Context, topic string)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service evaluates readings against thresholds and manages thresholds and alerts.
type Service struct {
	devices    masterdata.DeviceRepository
	thresholds alarms.ThresholdRepository
	alerts     alarms.AlertRepository
	episodes   alarms.EpisodeStore
	signals    SignalPublisher
	audit      audit.Logger
	clock      Clock
	logger     *zap.Logger
	evalLocks  *keyedMutex
	writeLocks *keyedMutex
	newID      func() string
}

// ServiceOption customizes the alarm service.
type ServiceOption func(*Service)

// WithSignals assigns the realtime publisher.
func WithSignals(signals SignalPublisher) ServiceOption {
	return func(s *Service) {
		s.signals = signals
	}
}

// WithAudit records threshold writes.
func WithAudit(logger audit.Logger) ServiceOption {
	return func(s *Service) {
		s.audit = logger
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs an alarm service.
func NewService(
	devices masterdata.DeviceRepository,
	thresholds alarms.ThresholdRepository,
	alertsRepo alarms.AlertRepository,
	episodes alarms.EpisodeStore,
	opts ...ServiceOption,
) (*Service, error) {
	if devices == nil {
		return nil, errors.New("alarms: nil device repository")
	}
	if thresholds == nil || alertsRepo == nil {
		return nil, errors.New("alarms: nil repository")
	}
	if episodes == nil {
		return nil, errors.New("alarms: nil episode store")
	}
	service := &Service{
		devices:    devices,
		thresholds: thresholds,
		alerts:     alertsRepo,
		episodes:   episodes,
		clock:      systemClock{},
		logger:     zap.NewNop(),
		evalLocks:  newKeyedMutex(),
		writeLocks: newKeyedMutex(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// HandleReadingReceived evaluates every active threshold of the reading's device.
// Parameters are evaluated in parallel; each (device, parameter) pair is serialized.
func (s *Service) HandleReadingReceived(ctx context.Context, evt events.ReadingReceived) error {
	if s == nil {
		return errors.New("alarms: nil service")
	}
	reading := evt.Reading
	if reading.DeviceID == "" {
		return errors.New("alarms: reading missing device id")
	}

	thresholds, err := s.thresholds.ListByDevice(ctx, reading.DeviceID)
	if err != nil {
		return fmt.Errorf("alarms: load thresholds for %s: %w", reading.DeviceID, err)
	}

	at := reading.Timestamp
	if at.IsZero() {
		at = s.clock.Now()
	}
	created := make([]bool, len(thresholds))
	group, gctx := errgroup.WithContext(ctx)
	for i, threshold := range thresholds {
		if !threshold.IsActive {
			continue
		}
		value, ok := reading.Value(threshold.Parameter)
		if !ok {
			continue
		}
		i, threshold := i, threshold
		group.Go(func() error {
			opened, err := s.evaluate(gctx, threshold, value, at)
			created[i] = opened
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for _, opened := range created {
		if opened {
			s.publish(ctx, realtime.AlertsTopic)
			break
		}
	}
	return nil
}

func (s *Service) evaluate(ctx context.Context, threshold alarms.Threshold, value float64, at time.Time) (bool, error) {
	unlock := s.evalLocks.Lock(pairKey(threshold.DeviceID, threshold.Parameter))
	defer unlock()

	current, err := s.episodes.Get(ctx, threshold.DeviceID, threshold.Parameter)
	if err != nil {
		return false, fmt.Errorf("alarms: load episode %s/%s: %w", threshold.DeviceID, threshold.Parameter, err)
	}
	if current.Stale(at) {
		s.logger.Debug("out-of-order sample skipped",
			zap.String("device_id", threshold.DeviceID),
			zap.String("parameter", string(threshold.Parameter)),
			zap.Time("at", at),
			zap.Time("last_at", current.LastAt),
		)
		return false, nil
	}
	severity := threshold.Classify(value)
	next, opened := current.Transition(threshold.DeviceID, threshold.Parameter, severity, value, at)

	if opened {
		alert := alarms.NewAlert(s.newID(), threshold, value, severity, at)
		if err := s.alerts.Insert(ctx, &alert); err != nil {
			return false, fmt.Errorf("alarms: create alert %s/%s: %w", threshold.DeviceID, threshold.Parameter, err)
		}
		metrics.IncAlertCreated(string(threshold.Parameter), string(severity))
		s.logger.Info("alert created",
			zap.String("alert_id", alert.ID),
			zap.String("device_id", alert.DeviceID),
			zap.String("parameter", string(alert.Parameter)),
			zap.String("severity", string(alert.Severity)),
			zap.Float64("value", value),
		)
	}
	if err := s.episodes.Put(ctx, next); err != nil {
		return opened, fmt.Errorf("alarms: store episode %s/%s: %w", threshold.DeviceID, threshold.Parameter, err)
	}
	return opened, nil
}

// GetThresholds lists thresholds of a device.
func (s *Service) GetThresholds(ctx context.Context, deviceID string) ([]alarms.Threshold, error) {
	if err := s.ensureDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.thresholds.ListByDevice(ctx, deviceID)
}

// UpsertThreshold creates or replaces the threshold for (deviceID, input.Parameter).
func (s *Service) UpsertThreshold(ctx context.Context, deviceID string, input alarms.ThresholdInput) (*alarms.Threshold, error) {
	parameter, err := input.Validate()
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if err := s.ensureDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	threshold, err := s.upsert(ctx, deviceID, parameter, input)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "threshold.upsert", deviceID, threshold)
	return threshold, nil
}

// SetThresholdProperties updates notification flags only.
func (s *Service) SetThresholdProperties(ctx context.Context, deviceID, parameter string, props alarms.ThresholdProperties) (*alarms.Threshold, error) {
	p, err := telemetry.ParseParameter(parameter)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if err := s.ensureDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	unlock := s.writeLocks.Lock(pairKey(deviceID, p))
	defer unlock()

	threshold, err := s.thresholds.Get(ctx, deviceID, p)
	if err != nil {
		return nil, err
	}
	if threshold == nil {
		return nil, apperr.NotFound("threshold %s/%s", deviceID, p)
	}
	props.Apply(threshold)
	if err := s.thresholds.Update(ctx, threshold); err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			return nil, apperr.NotFound("threshold %s/%s", deviceID, p)
		}
		return nil, err
	}
	s.record(ctx, "threshold.properties", deviceID, threshold)
	return threshold, nil
}

// BulkUpsertThresholds validates every entry before writing any of them.
func (s *Service) BulkUpsertThresholds(ctx context.Context, deviceID string, inputs []alarms.ThresholdInput) ([]alarms.Threshold, error) {
	parameters := make([]telemetry.Parameter, len(inputs))
	seen := make(map[telemetry.Parameter]struct{}, len(inputs))
	for i, input := range inputs {
		p, err := input.Validate()
		if err != nil {
			return nil, apperr.Validation("entry %d: %v", i, err)
		}
		if _, dup := seen[p]; dup {
			return nil, apperr.Validation("entry %d: parameter %s repeated", i, p)
		}
		seen[p] = struct{}{}
		parameters[i] = p
	}
	if err := s.ensureDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	result := make([]alarms.Threshold, 0, len(inputs))
	for i, input := range inputs {
		threshold, err := s.upsert(ctx, deviceID, parameters[i], input)
		if err != nil {
			return nil, err
		}
		result = append(result, *threshold)
	}
	s.record(ctx, "threshold.bulk_upsert", deviceID, result)
	return result, nil
}

// upsert runs get-then-write inside the pair's critical section.
// A lost insert race is retried once; a second collision is a conflict.
func (s *Service) upsert(ctx context.Context, deviceID string, parameter telemetry.Parameter, input alarms.ThresholdInput) (*alarms.Threshold, error) {
	unlock := s.writeLocks.Lock(pairKey(deviceID, parameter))
	defer unlock()

	for attempt := 0; attempt < 2; attempt++ {
		threshold, err := s.upsertOnce(ctx, deviceID, parameter, input)
		if errors.Is(err, alarms.ErrDuplicateThreshold) {
			s.logger.Debug("threshold insert collided", zap.String("device_id", deviceID), zap.String("parameter", string(parameter)), zap.Int("attempt", attempt+1))
			continue
		}
		return threshold, err
	}
	return nil, apperr.Conflict("threshold %s/%s changed concurrently", deviceID, parameter)
}

func (s *Service) upsertOnce(ctx context.Context, deviceID string, parameter telemetry.Parameter, input alarms.ThresholdInput) (*alarms.Threshold, error) {
	existing, err := s.thresholds.Get(ctx, deviceID, parameter)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		input.Apply(existing)
		if err := s.thresholds.Update(ctx, existing); err != nil {
			if errors.Is(err, alarms.ErrNotFound) {
				return nil, alarms.ErrDuplicateThreshold
			}
			return nil, err
		}
		return existing, nil
	}

	threshold := &alarms.Threshold{
		ID:        s.newID(),
		DeviceID:  deviceID,
		Parameter: parameter,
		IsActive:  true,
		CreatedAt: s.clock.Now().UTC(),
	}
	input.Apply(threshold)
	if err := s.thresholds.Insert(ctx, threshold); err != nil {
		return nil, err
	}
	return threshold, nil
}

// GetAlerts returns alerts newest first. Empty deviceID lists every device.
func (s *Service) GetAlerts(ctx context.Context, deviceID string, limit int) ([]alarms.Alert, error) {
	if deviceID != "" {
		if err := s.ensureDevice(ctx, deviceID); err != nil {
			return nil, err
		}
	}
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}
	return s.alerts.List(ctx, alarms.AlertFilter{DeviceID: deviceID, Limit: limit})
}

// ListUnsentAlerts returns alerts not yet dispatched, newest first.
func (s *Service) ListUnsentAlerts(ctx context.Context, limit int) ([]alarms.Alert, error) {
	return s.alerts.List(ctx, alarms.AlertFilter{UnsentOnly: true, Limit: limit})
}

// ClearAlerts deletes alerts of a device, or every alert when deviceID is empty.
// Breach episodes are kept, so an ongoing breach does not alert again.
func (s *Service) ClearAlerts(ctx context.Context, deviceID string) (int64, error) {
	if deviceID != "" {
		if err := s.ensureDevice(ctx, deviceID); err != nil {
			return 0, err
		}
	}
	removed, err := s.alerts.Delete(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("alerts cleared", zap.String("device_id", deviceID), zap.Int64("removed", removed))
	s.publish(ctx, realtime.AlertsTopic)
	return removed, nil
}

// MarkAlertSent records dispatch of an alert.
func (s *Service) MarkAlertSent(ctx context.Context, id string, at time.Time) error {
	if id == "" {
		return apperr.Validation("alert id required")
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	if err := s.alerts.MarkSent(ctx, id, at); err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			return apperr.NotFound("alert %s", id)
		}
		return err
	}
	return nil
}

// DeleteByDevice removes thresholds, alerts and episodes of a device.
func (s *Service) DeleteByDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return apperr.Validation("device id required")
	}
	if err := s.thresholds.DeleteByDevice(ctx, deviceID); err != nil {
		return err
	}
	if _, err := s.alerts.Delete(ctx, deviceID); err != nil {
		return err
	}
	return s.episodes.DeleteByDevice(ctx, deviceID)
}

func (s *Service) ensureDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return apperr.Validation("device id required")
	}
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return apperr.NotFound("device %s", deviceID)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, topic string) {
	if s.signals == nil {
		return
	}
	s.signals.Publish(ctx, topic)
}

func (s *Service) record(ctx context.Context, action, deviceID string, payload any) {
	if s.audit == nil {
		return
	}
	meta, err := json.Marshal(payload)
	if err != nil {
		meta = nil
	}
	caller, _ := auth.IdentityFromContext(ctx)
	entry := audit.Entry{
		Actor:        caller.Subject,
		Role:         string(caller.Role),
		Action:       action,
		ResourceType: "threshold",
		ResourceID:   deviceID,
		DeviceID:     deviceID,
		Metadata:     meta,
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func pairKey(deviceID string, parameter telemetry.Parameter) string {
	return deviceID + "|" + string(parameter)
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
