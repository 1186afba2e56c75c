package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	alarms "agrisense-cloud/internal/alarms/domain"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

type pairKey struct {
	deviceID  string
	parameter telemetry.Parameter
}

// ThresholdRepository is an in-memory threshold store.
type ThresholdRepository struct {
	mu    sync.RWMutex
	items map[pairKey]alarms.Threshold
}

// NewThresholdRepository constructs an in-memory threshold repository.
func NewThresholdRepository() *ThresholdRepository {
	return &ThresholdRepository{items: make(map[pairKey]alarms.Threshold)}
}

// Get fetches the threshold for a pair.
func (r *ThresholdRepository) Get(_ context.Context, deviceID string, parameter telemetry.Parameter) (*alarms.Threshold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	threshold, ok := r.items[pairKey{deviceID, parameter}]
	if !ok {
		return nil, nil
	}
	return &threshold, nil
}

// ListByDevice returns thresholds of a device ordered by parameter.
func (r *ThresholdRepository) ListByDevice(_ context.Context, deviceID string) ([]alarms.Threshold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]alarms.Threshold, 0)
	for key, threshold := range r.items {
		if key.deviceID == deviceID {
			result = append(result, threshold)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Parameter < result[j].Parameter
	})
	return result, nil
}

// Insert creates a threshold.
func (r *ThresholdRepository) Insert(_ context.Context, threshold *alarms.Threshold) error {
	if threshold == nil {
		return errors.New("memory threshold repo: nil threshold")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey{threshold.DeviceID, threshold.Parameter}
	if _, exists := r.items[key]; exists {
		return alarms.ErrDuplicateThreshold
	}
	now := time.Now().UTC()
	if threshold.CreatedAt.IsZero() {
		threshold.CreatedAt = now
	}
	threshold.UpdatedAt = threshold.CreatedAt
	r.items[key] = *threshold
	return nil
}

// Update overwrites an existing threshold.
func (r *ThresholdRepository) Update(_ context.Context, threshold *alarms.Threshold) error {
	if threshold == nil {
		return errors.New("memory threshold repo: nil threshold")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey{threshold.DeviceID, threshold.Parameter}
	existing, ok := r.items[key]
	if !ok {
		return alarms.ErrNotFound
	}
	threshold.ID = existing.ID
	threshold.CreatedAt = existing.CreatedAt
	threshold.UpdatedAt = time.Now().UTC()
	r.items[key] = *threshold
	return nil
}

// DeleteByDevice removes every threshold of a device.
func (r *ThresholdRepository) DeleteByDevice(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.items {
		if key.deviceID == deviceID {
			delete(r.items, key)
		}
	}
	return nil
}

// AlertRepository is an in-memory alert store.
type AlertRepository struct {
	mu     sync.RWMutex
	alerts []alarms.Alert
}

// NewAlertRepository constructs an in-memory alert repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{}
}

// Insert stores an alert.
func (r *AlertRepository) Insert(_ context.Context, alert *alarms.Alert) error {
	if alert == nil || alert.ID == "" {
		return errors.New("memory alert repo: missing alert id")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	r.alerts = append(r.alerts, *alert)
	r.mu.Unlock()
	return nil
}

// List returns matching alerts newest first.
func (r *AlertRepository) List(_ context.Context, filter alarms.AlertFilter) ([]alarms.Alert, error) {
	r.mu.RLock()
	result := make([]alarms.Alert, 0)
	for i := len(r.alerts) - 1; i >= 0; i-- {
		alert := r.alerts[i]
		if filter.DeviceID != "" && alert.DeviceID != filter.DeviceID {
			continue
		}
		if filter.UnsentOnly && alert.IsSent {
			continue
		}
		result = append(result, alert)
	}
	r.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Delete removes alerts of a device, or all alerts when deviceID is empty.
func (r *AlertRepository) Delete(_ context.Context, deviceID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.alerts[:0]
	var removed int64
	for _, alert := range r.alerts {
		if deviceID == "" || alert.DeviceID == deviceID {
			removed++
			continue
		}
		kept = append(kept, alert)
	}
	r.alerts = kept
	return removed, nil
}

// MarkSent flips is_sent once.
func (r *AlertRepository) MarkSent(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.alerts {
		if r.alerts[i].ID != id {
			continue
		}
		if !r.alerts[i].IsSent {
			sentAt := at.UTC()
			r.alerts[i].IsSent = true
			r.alerts[i].SentAt = &sentAt
		}
		return nil
	}
	return alarms.ErrNotFound
}

// EpisodeStore is the default keyed breach-state table.
type EpisodeStore struct {
	mu       sync.RWMutex
	episodes map[pairKey]alarms.Episode
}

// NewEpisodeStore constructs an empty episode store.
func NewEpisodeStore() *EpisodeStore {
	return &EpisodeStore{episodes: make(map[pairKey]alarms.Episode)}
}

// Get fetches the episode for a pair.
func (s *EpisodeStore) Get(_ context.Context, deviceID string, parameter telemetry.Parameter) (*alarms.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	episode, ok := s.episodes[pairKey{deviceID, parameter}]
	if !ok {
		return nil, nil
	}
	return &episode, nil
}

// Put replaces the episode for a pair.
func (s *EpisodeStore) Put(_ context.Context, episode alarms.Episode) error {
	s.mu.Lock()
	s.episodes[pairKey{episode.DeviceID, episode.Parameter}] = episode
	s.mu.Unlock()
	return nil
}

// DeleteByDevice clears every episode of a device.
func (s *EpisodeStore) DeleteByDevice(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.episodes {
		if key.deviceID == deviceID {
			delete(s.episodes, key)
		}
	}
	return nil
}
