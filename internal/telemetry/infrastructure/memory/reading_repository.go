package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	telemetry "agrisense-cloud/internal/telemetry/domain"
)

// ReadingRepository keeps readings in memory, ordered by timestamp per device.
type ReadingRepository struct {
	mu       sync.RWMutex
	byDevice map[string][]telemetry.SensorReading
	ids      map[string]string
}

// NewReadingRepository constructs an in-memory reading repository.
func NewReadingRepository() *ReadingRepository {
	return &ReadingRepository{
		byDevice: make(map[string][]telemetry.SensorReading),
		ids:      make(map[string]string),
	}
}

// Append stores a reading. A reading whose ID is already stored is ignored.
func (r *ReadingRepository) Append(_ context.Context, reading *telemetry.SensorReading) error {
	if reading == nil {
		return errors.New("memory reading repo: nil reading")
	}
	if err := reading.Validate(); err != nil {
		return err
	}
	stored := *reading
	stored.Timestamp = stored.Timestamp.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if stored.ID != "" {
		if _, ok := r.ids[stored.ID]; ok {
			return nil
		}
		r.ids[stored.ID] = stored.DeviceID
	}
	list := r.byDevice[stored.DeviceID]
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].Timestamp.After(stored.Timestamp)
	})
	list = append(list, telemetry.SensorReading{})
	copy(list[idx+1:], list[idx:])
	list[idx] = stored
	r.byDevice[stored.DeviceID] = list
	return nil
}

// ListSince returns readings with ts >= since ordered by ts ascending.
func (r *ReadingRepository) ListSince(_ context.Context, deviceID string, since time.Time) ([]telemetry.SensorReading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byDevice[deviceID]
	idx := sort.Search(len(list), func(i int) bool {
		return !list[i].Timestamp.Before(since)
	})
	out := make([]telemetry.SensorReading, len(list)-idx)
	copy(out, list[idx:])
	return out, nil
}

// DeleteByDevice removes every reading of a device.
func (r *ReadingRepository) DeleteByDevice(_ context.Context, deviceID string) error {
	r.mu.Lock()
	delete(r.byDevice, deviceID)
	for id, owner := range r.ids {
		if owner == deviceID {
			delete(r.ids, id)
		}
	}
	r.mu.Unlock()
	return nil
}
