package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	alarms "agrisense-cloud/internal/alarms/domain"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

const defaultAlertsTable = "alerts"

// AlertRepository is a Postgres repository for alerts.
type AlertRepository struct {
	db    *sql.DB
	table string
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db, table: defaultAlertsTable}
}

// Insert stores a new alert.
func (r *AlertRepository) Insert(ctx context.Context, alert *alarms.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.DeviceID == "" || alert.Parameter == "" {
		return errors.New("alert repo: missing fields")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, device_id, parameter, current_value, threshold_min, threshold_max,
	severity, message, notify_email, notify_sms, is_sent, sent_at, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11, $12, $13
)`, r.table),
		alert.ID,
		alert.DeviceID,
		string(alert.Parameter),
		alert.CurrentValue,
		nullableFloat(alert.ThresholdMin),
		nullableFloat(alert.ThresholdMax),
		string(alert.Severity),
		alert.Message,
		alert.NotifyEmail,
		alert.NotifySMS,
		alert.IsSent,
		nullableTime(alert.SentAt),
		alert.CreatedAt,
	)
	return err
}

// List returns alerts newest first.
func (r *AlertRepository) List(ctx context.Context, filter alarms.AlertFilter) ([]alarms.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if filter.DeviceID != "" {
		args = append(args, filter.DeviceID)
		clauses = append(clauses, fmt.Sprintf("device_id = $%d", len(args)))
	}
	if filter.UnsentOnly {
		clauses = append(clauses, "is_sent = FALSE")
	}
	query := fmt.Sprintf(`
SELECT id, device_id, parameter, current_value, threshold_min, threshold_max,
	severity, message, notify_email, notify_sms, is_sent, sent_at, created_at
FROM %s`, r.table)
	if len(clauses) > 0 {
		query += "\nWHERE " + strings.Join(clauses, " AND ")
	}
	query += "\nORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]alarms.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes alerts of a device, or every alert when deviceID is empty.
func (r *AlertRepository) Delete(ctx context.Context, deviceID string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("alert repo: nil db")
	}
	var (
		res sql.Result
		err error
	)
	if deviceID == "" {
		res, err = r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, r.table))
	} else {
		res, err = r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE device_id = $1`, r.table), deviceID)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkSent flips is_sent once.
func (r *AlertRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET is_sent = TRUE, sent_at = $2
WHERE id = $1 AND is_sent = FALSE`, r.table), id, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, r.table), id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return alarms.ErrNotFound
	}
	return nil
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alarms.Alert, error) {
	var alert alarms.Alert
	var parameter, severity string
	var minValue, maxValue sql.NullFloat64
	var sentAt sql.NullTime
	if err := row.Scan(
		&alert.ID,
		&alert.DeviceID,
		&parameter,
		&alert.CurrentValue,
		&minValue,
		&maxValue,
		&severity,
		&alert.Message,
		&alert.NotifyEmail,
		&alert.NotifySMS,
		&alert.IsSent,
		&sentAt,
		&alert.CreatedAt,
	); err != nil {
		return nil, err
	}
	alert.Parameter = telemetry.Parameter(parameter)
	alert.Severity = alarms.Severity(severity)
	alert.ThresholdMin = floatPtr(minValue)
	alert.ThresholdMax = floatPtr(maxValue)
	alert.SentAt = timePtr(sentAt)
	alert.CreatedAt = alert.CreatedAt.UTC()
	return &alert, nil
}
