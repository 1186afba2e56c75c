package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	masterdata "agrisense-cloud/internal/masterdata/domain"
)

// DeviceRepository is an in-memory device store for headless runs and tests.
type DeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]masterdata.Device
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{devices: make(map[string]masterdata.Device)}
}

// Get loads a device by id.
func (r *DeviceRepository) Get(_ context.Context, id string) (*masterdata.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.devices[id]
	if !ok {
		return nil, nil
	}
	return &device, nil
}

// Save upserts a device.
func (r *DeviceRepository) Save(_ context.Context, device *masterdata.Device) error {
	if device == nil {
		return errors.New("memory device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.devices[device.ID]; ok {
		device.CreatedAt = existing.CreatedAt
	} else if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	r.devices[device.ID] = *device
	return nil
}

// TouchLastSeen records device activity.
func (r *DeviceRepository) TouchLastSeen(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return nil
	}
	at = at.UTC()
	if device.LastSeenAt == nil || at.After(*device.LastSeenAt) {
		device.LastSeenAt = &at
	}
	r.devices[id] = device
	return nil
}

// Delete removes a device.
func (r *DeviceRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.devices, id)
	r.mu.Unlock()
	return nil
}
