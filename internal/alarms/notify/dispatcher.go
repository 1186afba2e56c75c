package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	alarms "agrisense-cloud/internal/alarms/domain"
	masterdata "agrisense-cloud/internal/masterdata/domain"
	"agrisense-cloud/internal/observability/metrics"
)

const (
	defaultInterval       = 30 * time.Second
	defaultBatchSize      = 100
	defaultRequestTimeout = 10 * time.Second
)

// AlertSource lists pending alerts and records delivery.
type AlertSource interface {
	ListUnsentAlerts(ctx context.Context, limit int) ([]alarms.Alert, error)
	MarkAlertSent(ctx context.Context, id string, at time.Time) error
}

// DeviceReader loads device metadata.
type DeviceReader interface {
	Get(ctx context.Context, id string) (*masterdata.Device, error)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

// Dispatcher sends unsent alerts through a channel and marks them sent.
type Dispatcher struct {
	alerts         AlertSource
	devices        DeviceReader
	channel        Channel
	template       *Template
	clock          Clock
	logger         *zap.Logger
	interval       time.Duration
	batchSize      int
	requestTimeout time.Duration
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithInterval sets the Run period.
func WithInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithBatchSize caps alerts handled per pass.
func WithBatchSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

// WithRequestTimeout bounds each delivery.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.requestTimeout = timeout
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(alertsSource AlertSource, devices DeviceReader, channel Channel, template *Template, opts ...Option) (*Dispatcher, error) {
	if alertsSource == nil {
		return nil, errors.New("dispatcher: nil alert source")
	}
	if channel == nil {
		return nil, errors.New("dispatcher: nil channel")
	}
	if template == nil {
		var err error
		template, err = NewTemplate("")
		if err != nil {
			return nil, err
		}
	}
	d := &Dispatcher{
		alerts:         alertsSource,
		devices:        devices,
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		logger:         zap.NewNop(),
		interval:       defaultInterval,
		batchSize:      defaultBatchSize,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// RunOnce delivers one batch. Per-alert failures are logged and counted;
// only a failure to list alerts is returned.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	pending, err := d.alerts.ListUnsentAlerts(ctx, d.batchSize)
	if err != nil {
		metrics.IncDispatch("list_error")
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	sent := 0
	for _, alert := range pending {
		if ctx.Err() != nil {
			break
		}
		if d.deliver(ctx, alert) {
			sent++
		}
	}
	d.logger.Info("alert dispatch pass", zap.Int("pending", len(pending)), zap.Int("sent", sent))
	return sent, nil
}

func (d *Dispatcher) deliver(ctx context.Context, alert alarms.Alert) bool {
	device := d.loadDevice(ctx, alert.DeviceID)
	content, err := d.template.Render(NewTemplateData(alert, device))
	if err != nil {
		metrics.IncDispatch("render_error")
		d.logger.Warn("alert render failed", zap.String("alert_id", alert.ID), zap.Error(err))
		return false
	}
	info := DeviceInfo{ID: alert.DeviceID, Name: alert.DeviceID, Type: deviceType}
	if device != nil {
		if device.Name != "" {
			info.Name = device.Name
		}
		info.Location = device.Location
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	err = d.channel.Send(sendCtx, Message{
		Alert:     alert,
		Device:    info,
		Severity:  alarms.DeriveSeverity(alert.CurrentValue, alert.ThresholdMin, alert.ThresholdMax),
		Content:   content,
		Timestamp: d.clock.Now(),
	})
	cancel()
	if err != nil {
		metrics.IncDispatch("send_error")
		d.logger.Warn("alert send failed", zap.String("alert_id", alert.ID), zap.Error(err))
		return false
	}

	if err := d.alerts.MarkAlertSent(ctx, alert.ID, d.clock.Now()); err != nil {
		metrics.IncDispatch("mark_error")
		d.logger.Warn("alert mark sent failed", zap.String("alert_id", alert.ID), zap.Error(err))
		return false
	}
	metrics.IncDispatch(metrics.ResultSuccess)
	return true
}

func (d *Dispatcher) loadDevice(ctx context.Context, id string) *masterdata.Device {
	if d.devices == nil {
		return nil
	}
	device, err := d.devices.Get(ctx, id)
	if err != nil {
		d.logger.Debug("alert device lookup failed", zap.String("device_id", id), zap.Error(err))
		return nil
	}
	return device
}

// Run repeats RunOnce every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("alert dispatcher started", zap.Duration("interval", d.interval))
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("alert dispatch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			d.logger.Info("alert dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
