package application

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"agrisense-cloud/internal/apperr"
	masterdata "agrisense-cloud/internal/masterdata/domain"
)

// DevicePurger removes data owned by a device.
type DevicePurger interface {
	DeleteByDevice(ctx context.Context, deviceID string) error
}

// DeviceService registers devices and deletes them with their owned data.
type DeviceService struct {
	devices masterdata.DeviceRepository
	purgers []DevicePurger
	logger  *zap.Logger
}

// NewDeviceService constructs a device service. Purgers run before the device row is removed.
func NewDeviceService(devices masterdata.DeviceRepository, logger *zap.Logger, purgers ...DevicePurger) (*DeviceService, error) {
	if devices == nil {
		return nil, errors.New("masterdata: nil device repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceService{devices: devices, purgers: purgers, logger: logger}, nil
}

// Register creates or updates a device.
func (s *DeviceService) Register(ctx context.Context, device masterdata.Device) (*masterdata.Device, error) {
	if err := device.Validate(); err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if err := s.devices.Save(ctx, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// Get loads a device, returning ErrNotFound when absent.
func (s *DeviceService) Get(ctx context.Context, id string) (*masterdata.Device, error) {
	device, err := s.devices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, apperr.NotFound("device %s", id)
	}
	return device, nil
}

// Delete removes a device and cascades to its thresholds, readings, alerts and episodes.
func (s *DeviceService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	for _, purger := range s.purgers {
		if purger == nil {
			continue
		}
		if err := purger.DeleteByDevice(ctx, id); err != nil {
			return fmt.Errorf("masterdata: cascade delete %s: %w", id, err)
		}
	}
	if err := s.devices.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("device deleted", zap.String("device_id", id))
	return nil
}
