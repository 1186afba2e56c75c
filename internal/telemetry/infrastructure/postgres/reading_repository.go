package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "agrisense-cloud/internal/telemetry/domain"
)

const defaultReadingsTable = "sensor_readings"

const readingColumns = `id, device_id, ts, atmo_temp, humidity, light_intensity, soil_temp,
	moisture, ec, ph, nitrogen, phosphorus, potassium`

// ReadingRepository is a Postgres implementation for sensor readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository with default table name.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Append inserts a reading. Readings are never updated.
func (r *ReadingRepository) Append(ctx context.Context, reading *telemetry.SensorReading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading == nil {
		return errors.New("reading repo: nil reading")
	}
	if reading.ID == "" {
		return errors.New("reading repo: empty id")
	}
	if err := reading.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO NOTHING`, r.table, readingColumns)

	_, err := r.db.ExecContext(
		ctx,
		query,
		reading.ID,
		reading.DeviceID,
		reading.Timestamp.UTC(),
		reading.AtmoTemp,
		reading.Humidity,
		reading.LightIntensity,
		reading.SoilTemp,
		reading.Moisture,
		reading.EC,
		reading.PH,
		reading.Nitrogen,
		reading.Phosphorus,
		reading.Potassium,
	)
	return err
}

// ListSince returns readings with ts >= since ordered by ts ascending.
func (r *ReadingRepository) ListSince(ctx context.Context, deviceID string, since time.Time) ([]telemetry.SensorReading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("reading repo: empty device id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1
	AND ts >= $2
ORDER BY ts ASC, id ASC`, readingColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]telemetry.SensorReading, 0)
	for rows.Next() {
		var reading telemetry.SensorReading
		if err := rows.Scan(
			&reading.ID,
			&reading.DeviceID,
			&reading.Timestamp,
			&reading.AtmoTemp,
			&reading.Humidity,
			&reading.LightIntensity,
			&reading.SoilTemp,
			&reading.Moisture,
			&reading.EC,
			&reading.PH,
			&reading.Nitrogen,
			&reading.Phosphorus,
			&reading.Potassium,
		); err != nil {
			return nil, err
		}
		reading.Timestamp = reading.Timestamp.UTC()
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}

// DeleteByDevice removes every reading of a device.
func (r *ReadingRepository) DeleteByDevice(ctx context.Context, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE device_id = $1`, r.table)
	_, err := r.db.ExecContext(ctx, query, deviceID)
	return err
}
