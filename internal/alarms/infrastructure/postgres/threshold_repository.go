package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarms "agrisense-cloud/internal/alarms/domain"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

const defaultThresholdsTable = "thresholds"

// ThresholdRepository stores thresholds, unique on (device_id, parameter).
type ThresholdRepository struct {
	db    *sql.DB
	table string
}

// NewThresholdRepository constructs a repository.
func NewThresholdRepository(db *sql.DB) *ThresholdRepository {
	return &ThresholdRepository{db: db, table: defaultThresholdsTable}
}

type thresholdScanner interface {
	Scan(dest ...any) error
}

// Get fetches the threshold for a pair.
func (r *ThresholdRepository) Get(ctx context.Context, deviceID string, parameter telemetry.Parameter) (*alarms.Threshold, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("threshold repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT id, device_id, parameter, min_value, max_value, alert_email, alert_sms, is_active, created_at, updated_at
FROM %s
WHERE device_id = $1 AND parameter = $2`, r.table), deviceID, string(parameter))

	threshold, err := scanThreshold(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return threshold, nil
}

// ListByDevice returns thresholds of a device ordered by parameter.
func (r *ThresholdRepository) ListByDevice(ctx context.Context, deviceID string) ([]alarms.Threshold, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("threshold repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, device_id, parameter, min_value, max_value, alert_email, alert_sms, is_active, created_at, updated_at
FROM %s
WHERE device_id = $1
ORDER BY parameter`, r.table), deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]alarms.Threshold, 0)
	for rows.Next() {
		threshold, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *threshold)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Insert creates a threshold. A duplicate pair yields ErrDuplicateThreshold.
func (r *ThresholdRepository) Insert(ctx context.Context, threshold *alarms.Threshold) error {
	if r == nil || r.db == nil {
		return errors.New("threshold repo: nil db")
	}
	if threshold == nil || threshold.ID == "" || threshold.DeviceID == "" {
		return errors.New("threshold repo: missing fields")
	}
	now := time.Now().UTC()
	if threshold.CreatedAt.IsZero() {
		threshold.CreatedAt = now
	}
	threshold.UpdatedAt = threshold.CreatedAt
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, device_id, parameter, min_value, max_value,
	alert_email, alert_sms, is_active, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9, $10
)`, r.table),
		threshold.ID,
		threshold.DeviceID,
		string(threshold.Parameter),
		nullableFloat(threshold.MinValue),
		nullableFloat(threshold.MaxValue),
		threshold.AlertEmail,
		threshold.AlertSMS,
		threshold.IsActive,
		threshold.CreatedAt,
		threshold.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return alarms.ErrDuplicateThreshold
	}
	return err
}

// Update overwrites bounds and flags of an existing threshold.
func (r *ThresholdRepository) Update(ctx context.Context, threshold *alarms.Threshold) error {
	if r == nil || r.db == nil {
		return errors.New("threshold repo: nil db")
	}
	if threshold == nil {
		return errors.New("threshold repo: nil threshold")
	}
	threshold.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET min_value = $3,
	max_value = $4,
	alert_email = $5,
	alert_sms = $6,
	is_active = $7,
	updated_at = $8
WHERE device_id = $1 AND parameter = $2`, r.table),
		threshold.DeviceID,
		string(threshold.Parameter),
		nullableFloat(threshold.MinValue),
		nullableFloat(threshold.MaxValue),
		threshold.AlertEmail,
		threshold.AlertSMS,
		threshold.IsActive,
		threshold.UpdatedAt,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alarms.ErrNotFound
	}
	return nil
}

// DeleteByDevice removes every threshold of a device.
func (r *ThresholdRepository) DeleteByDevice(ctx context.Context, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("threshold repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE device_id = $1`, r.table), deviceID)
	return err
}

func scanThreshold(row thresholdScanner) (*alarms.Threshold, error) {
	var threshold alarms.Threshold
	var parameter string
	var minValue, maxValue sql.NullFloat64
	if err := row.Scan(
		&threshold.ID,
		&threshold.DeviceID,
		&parameter,
		&minValue,
		&maxValue,
		&threshold.AlertEmail,
		&threshold.AlertSMS,
		&threshold.IsActive,
		&threshold.CreatedAt,
		&threshold.UpdatedAt,
	); err != nil {
		return nil, err
	}
	threshold.Parameter = telemetry.Parameter(parameter)
	threshold.MinValue = floatPtr(minValue)
	threshold.MaxValue = floatPtr(maxValue)
	threshold.CreatedAt = threshold.CreatedAt.UTC()
	threshold.UpdatedAt = threshold.UpdatedAt.UTC()
	return &threshold, nil
}
