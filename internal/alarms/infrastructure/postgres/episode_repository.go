package postgres

import (
	"context"
	"database/sql"
	"errors"

	alarms "agrisense-cloud/internal/alarms/domain"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

// EpisodeRepository keeps breach episodes in the breach_episodes table.
type EpisodeRepository struct {
	db *sql.DB
}

// NewEpisodeRepository constructs a repository.
func NewEpisodeRepository(db *sql.DB) *EpisodeRepository {
	return &EpisodeRepository{db: db}
}

// Get fetches the episode for a pair.
func (r *EpisodeRepository) Get(ctx context.Context, deviceID string, parameter telemetry.Parameter) (*alarms.Episode, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("episode repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT device_id, parameter, state, since, last_value, last_at
FROM breach_episodes
WHERE device_id = $1 AND parameter = $2`, deviceID, string(parameter))

	var episode alarms.Episode
	var param, state string
	var lastValue sql.NullFloat64
	var lastAt sql.NullTime
	if err := row.Scan(&episode.DeviceID, &param, &state, &episode.Since, &lastValue, &lastAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	episode.Parameter = telemetry.Parameter(param)
	episode.State = alarms.EpisodeState(state)
	episode.Since = episode.Since.UTC()
	if lastValue.Valid {
		episode.LastValue = lastValue.Float64
	}
	if lastAt.Valid {
		episode.LastAt = lastAt.Time.UTC()
	}
	return &episode, nil
}

// Put inserts or replaces the episode for a pair.
func (r *EpisodeRepository) Put(ctx context.Context, episode alarms.Episode) error {
	if r == nil || r.db == nil {
		return errors.New("episode repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO breach_episodes (
	device_id, parameter, state, since, last_value, last_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, NOW()
)
ON CONFLICT (device_id, parameter)
DO UPDATE SET
	state = EXCLUDED.state,
	since = EXCLUDED.since,
	last_value = EXCLUDED.last_value,
	last_at = EXCLUDED.last_at,
	updated_at = NOW()`,
		episode.DeviceID,
		string(episode.Parameter),
		string(episode.State),
		episode.Since.UTC(),
		sql.NullFloat64{Float64: episode.LastValue, Valid: true},
		sql.NullTime{Time: episode.LastAt.UTC(), Valid: !episode.LastAt.IsZero()},
	)
	return err
}

// DeleteByDevice clears every episode of a device.
func (r *EpisodeRepository) DeleteByDevice(ctx context.Context, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("episode repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM breach_episodes WHERE device_id = $1`, deviceID)
	return err
}
