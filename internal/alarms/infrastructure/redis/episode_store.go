package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	alarms "agrisense-cloud/internal/alarms/domain"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

const defaultKeyPrefix = "agrisense:episodes:"

// EpisodeStore keeps breach episodes in one Redis hash per device,
// so every instance sees the same breach state.
type EpisodeStore struct {
	client *redis.Client
	prefix string
}

// NewEpisodeStore constructs a store.
func NewEpisodeStore(client *redis.Client) (*EpisodeStore, error) {
	if client == nil {
		return nil, errors.New("episode store: nil redis client")
	}
	return &EpisodeStore{client: client, prefix: defaultKeyPrefix}, nil
}

func (s *EpisodeStore) key(deviceID string) string {
	return s.prefix + deviceID
}

// Get fetches the episode for a pair.
func (s *EpisodeStore) Get(ctx context.Context, deviceID string, parameter telemetry.Parameter) (*alarms.Episode, error) {
	raw, err := s.client.HGet(ctx, s.key(deviceID), string(parameter)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("episode store: get %s/%s: %w", deviceID, parameter, err)
	}
	var episode alarms.Episode
	if err := json.Unmarshal(raw, &episode); err != nil {
		return nil, fmt.Errorf("episode store: decode %s/%s: %w", deviceID, parameter, err)
	}
	return &episode, nil
}

// Put replaces the episode for a pair.
func (s *EpisodeStore) Put(ctx context.Context, episode alarms.Episode) error {
	raw, err := json.Marshal(episode)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key(episode.DeviceID), string(episode.Parameter), raw).Err(); err != nil {
		return fmt.Errorf("episode store: put %s/%s: %w", episode.DeviceID, episode.Parameter, err)
	}
	return nil
}

// DeleteByDevice clears every episode of a device.
func (s *EpisodeStore) DeleteByDevice(ctx context.Context, deviceID string) error {
	return s.client.Del(ctx, s.key(deviceID)).Err()
}
