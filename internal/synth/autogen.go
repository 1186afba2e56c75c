package synth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	alarms "agrisense-cloud/internal/alarms/domain"
	"agrisense-cloud/internal/apperr"
	masterdata "agrisense-cloud/internal/masterdata/domain"
	"agrisense-cloud/internal/observability/metrics"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

const (
	defaultInterval      = 15 * time.Second
	defaultSubmitTimeout = 5 * time.Second
)

// ErrClosed is returned by Enable after Close.
var ErrClosed = errors.New("autogen: closed")

// Submitter is the ingestion path real devices use.
type Submitter interface {
	SubmitReading(ctx context.Context, deviceID, credential string, at time.Time, values map[string]any) (*telemetry.SensorReading, error)
}

// DeviceReader loads devices for their credential.
type DeviceReader interface {
	Get(ctx context.Context, id string) (*masterdata.Device, error)
}

// ThresholdReader loads the thresholds that shape synthetic values.
type ThresholdReader interface {
	GetThresholds(ctx context.Context, deviceID string) ([]alarms.Threshold, error)
}

type loop struct {
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// AutoGenerator runs one synthetic submission loop per enabled device.
type AutoGenerator struct {
	generator     *Generator
	submitter     Submitter
	devices       DeviceReader
	thresholds    ThresholdReader
	logger        *zap.Logger
	interval      time.Duration
	submitTimeout time.Duration

	mu         sync.Mutex
	loops      map[string]*loop
	generation uint64
	closed     bool
}

// AutoOption configures the auto generator.
type AutoOption func(*AutoGenerator)

// WithInterval sets the submission cadence.
func WithInterval(interval time.Duration) AutoOption {
	return func(a *AutoGenerator) {
		if interval > 0 {
			a.interval = interval
		}
	}
}

// WithSubmitTimeout bounds each submission.
func WithSubmitTimeout(timeout time.Duration) AutoOption {
	return func(a *AutoGenerator) {
		if timeout > 0 {
			a.submitTimeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) AutoOption {
	return func(a *AutoGenerator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithThresholds shapes values by the device thresholds.
func WithThresholds(thresholds ThresholdReader) AutoOption {
	return func(a *AutoGenerator) {
		a.thresholds = thresholds
	}
}

// NewAutoGenerator constructs an auto generator.
func NewAutoGenerator(generator *Generator, submitter Submitter, devices DeviceReader, opts ...AutoOption) (*AutoGenerator, error) {
	if submitter == nil {
		return nil, errors.New("autogen: nil submitter")
	}
	if devices == nil {
		return nil, errors.New("autogen: nil device reader")
	}
	if generator == nil {
		generator = NewGenerator(nil)
	}
	a := &AutoGenerator{
		generator:     generator,
		submitter:     submitter,
		devices:       devices,
		logger:        zap.NewNop(),
		interval:      defaultInterval,
		submitTimeout: defaultSubmitTimeout,
		loops:         make(map[string]*loop),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Enable starts the loop for deviceID. Enabling a running device is a no-op.
func (a *AutoGenerator) Enable(ctx context.Context, deviceID string) error {
	device, err := a.devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return fmt.Errorf("%w: device %s", apperr.ErrNotFound, deviceID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if _, running := a.loops[deviceID]; running {
		return nil
	}
	a.generation++
	loopCtx, cancel := context.WithCancel(context.Background())
	l := &loop{generation: a.generation, cancel: cancel, done: make(chan struct{})}
	a.loops[deviceID] = l
	metrics.SetAutogenDevices(len(a.loops))
	go a.run(loopCtx, deviceID, l)
	a.logger.Info("autogen enabled", zap.String("device_id", deviceID), zap.Duration("interval", a.interval))
	return nil
}

// Disable stops the loop for deviceID and waits for it to exit.
func (a *AutoGenerator) Disable(deviceID string) {
	a.mu.Lock()
	l, ok := a.loops[deviceID]
	if ok {
		delete(a.loops, deviceID)
		metrics.SetAutogenDevices(len(a.loops))
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
	a.logger.Info("autogen disabled", zap.String("device_id", deviceID))
}

// Enabled reports whether deviceID has a running loop.
func (a *AutoGenerator) Enabled(deviceID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.loops[deviceID]
	return ok
}

// Close stops every loop. Enable fails afterwards.
func (a *AutoGenerator) Close() {
	a.mu.Lock()
	a.closed = true
	loops := a.loops
	a.loops = make(map[string]*loop)
	metrics.SetAutogenDevices(0)
	a.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
}

func (a *AutoGenerator) run(ctx context.Context, deviceID string, l *loop) {
	defer close(l.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !a.current(deviceID, l.generation) {
			return
		}
		if err := a.tick(ctx, deviceID); err != nil && ctx.Err() == nil {
			a.logger.Warn("autogen submission failed", zap.String("device_id", deviceID), zap.Error(err))
		}
	}
}

// current reports whether generation still owns deviceID.
func (a *AutoGenerator) current(deviceID string, generation uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.loops[deviceID]
	return ok && l.generation == generation
}

func (a *AutoGenerator) tick(ctx context.Context, deviceID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.submitTimeout)
	defer cancel()

	device, err := a.devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return fmt.Errorf("%w: device %s", apperr.ErrNotFound, deviceID)
	}
	var thresholds []alarms.Threshold
	if a.thresholds != nil {
		thresholds, err = a.thresholds.GetThresholds(ctx, deviceID)
		if err != nil {
			a.logger.Debug("autogen thresholds unavailable", zap.String("device_id", deviceID), zap.Error(err))
			thresholds = nil
		}
	}
	now := time.Now().UTC()
	reading := a.generator.GenerateReading(deviceID, thresholds, true, now)
	_, err = a.submitter.SubmitReading(ctx, deviceID, device.Credential, now, Values(reading))
	return err
}

// DeleteByDevice stops generation for a removed device.
func (a *AutoGenerator) DeleteByDevice(_ context.Context, deviceID string) error {
	a.Disable(deviceID)
	return nil
}
