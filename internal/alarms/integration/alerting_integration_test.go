package integration_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	alarmapp "agrisense-cloud/internal/alarms/application"
	alarms "agrisense-cloud/internal/alarms/domain"
	alarmrepo "agrisense-cloud/internal/alarms/infrastructure/postgres"
	alarminterfaces "agrisense-cloud/internal/alarms/interfaces"
	"agrisense-cloud/internal/alarms/notify"
	analyticsapp "agrisense-cloud/internal/analytics/application"
	analytics "agrisense-cloud/internal/analytics/domain"
	"agrisense-cloud/internal/audit"
	"agrisense-cloud/internal/eventing"
	masterapp "agrisense-cloud/internal/masterdata/application"
	masterdata "agrisense-cloud/internal/masterdata/domain"
	masterrepo "agrisense-cloud/internal/masterdata/infrastructure/postgres"
	telemetryapp "agrisense-cloud/internal/telemetry/application"
	telemetryrepo "agrisense-cloud/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const deviceID = "it-device-1"

func f(v float64) *float64 { return &v }

func TestAlerting_EndToEnd(t *testing.T) {
	db := openDB(t)
	defer db.Close()

	if err := applyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	ctx := context.Background()
	cleanup(ctx, db)
	defer cleanup(ctx, db)

	devices := masterrepo.NewDeviceRepository(db)
	readings := telemetryrepo.NewReadingRepository(db)
	alertRepo := alarmrepo.NewAlertRepository(db)

	alarmService, err := alarmapp.NewService(devices, alarmrepo.NewThresholdRepository(db), alertRepo, alarmrepo.NewEpisodeRepository(db),
		alarmapp.WithAudit(audit.NewRepository(db)))
	if err != nil {
		t.Fatalf("alarm service: %v", err)
	}
	bus := eventing.NewInMemoryBus()
	consumer, err := alarminterfaces.NewReadingReceivedConsumer(alarmService)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	consumer.Register(bus, nil)
	ingest, err := telemetryapp.NewIngestService(devices, readings, bus, nil)
	if err != nil {
		t.Fatalf("ingest service: %v", err)
	}
	deviceService, err := masterapp.NewDeviceService(devices, nil, readings, alarmService)
	if err != nil {
		t.Fatalf("device service: %v", err)
	}

	if _, err := deviceService.Register(ctx, masterdata.Device{ID: deviceID, Name: "Integration Plot", Credential: "it-secret"}); err != nil {
		t.Fatalf("register device: %v", err)
	}
	if _, err := alarmService.UpsertThreshold(ctx, deviceID, alarms.ThresholdInput{Parameter: "moisture", MinValue: f(10), MaxValue: f(90)}); err != nil {
		t.Fatalf("upsert threshold: %v", err)
	}
	if _, err := alarmService.UpsertThreshold(ctx, deviceID, alarms.ThresholdInput{Parameter: "moisture", MinValue: f(30), MaxValue: f(70)}); err != nil {
		t.Fatalf("upsert threshold again: %v", err)
	}
	var thresholdRows int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM thresholds WHERE device_id = $1", deviceID).Scan(&thresholdRows); err != nil {
		t.Fatalf("count thresholds: %v", err)
	}
	if thresholdRows != 1 {
		t.Fatalf("expected 1 threshold row, got %d", thresholdRows)
	}

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for i, moisture := range []float64{25, 50, 80} {
		values := map[string]any{
			"atmo_temp": 22.0, "humidity": 55.0, "light_intensity": 400.0, "soil_temp": 18.0,
			"moisture": moisture, "ec": 1.2, "ph": 6.5, "nitrogen": 40.0, "phosphorus": 20.0, "potassium": 150.0,
		}
		if _, err := ingest.SubmitReading(ctx, deviceID, "it-secret", base.Add(time.Duration(i)*time.Minute), values); err != nil {
			t.Fatalf("submit reading %d: %v", i, err)
		}
	}

	list, err := alarmService.GetAlerts(ctx, deviceID, 0)
	if err != nil {
		t.Fatalf("get alerts: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(list))
	}
	if list[0].Severity != alarms.SeverityHigh || list[1].Severity != alarms.SeverityLow {
		t.Fatalf("unexpected severities: %s, %s", list[0].Severity, list[1].Severity)
	}

	history, err := analyticsapp.NewHistoryService(readings)
	if err != nil {
		t.Fatalf("history service: %v", err)
	}
	week, err := history.GetHistory(ctx, deviceID, analytics.Window7d)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(week) == 0 || len(week) > 2 {
		t.Fatalf("expected daily buckets, got %d", len(week))
	}

	webhook := &fakeWebhook{}
	server := httptest.NewServer(webhook)
	defer server.Close()
	channel, err := notify.NewWebhookChannel(server.URL, notify.WithRetries(0))
	if err != nil {
		t.Fatalf("webhook channel: %v", err)
	}
	dispatcher, err := notify.NewDispatcher(alarmService, devices, channel, nil)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	sent, err := dispatcher.RunOnce(ctx)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent < 2 || webhook.count() < 2 {
		t.Fatalf("expected 2 dispatched alerts, got sent=%d calls=%d", sent, webhook.count())
	}
	unsent, err := alarmService.ListUnsentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("list unsent: %v", err)
	}
	for _, alert := range unsent {
		if alert.DeviceID == deviceID {
			t.Fatalf("alert %s still unsent", alert.ID)
		}
	}

	if err := deviceService.Delete(ctx, deviceID); err != nil {
		t.Fatalf("delete device: %v", err)
	}
	for _, table := range []string{"sensor_readings", "thresholds", "alerts", "breach_episodes"} {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE device_id = $1", deviceID).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("expected %s purged, got %d rows", table, count)
		}
	}
}

func cleanup(ctx context.Context, db *sql.DB) {
	_, _ = db.ExecContext(ctx, "DELETE FROM audit_logs WHERE device_id = $1", deviceID)
	_, _ = db.ExecContext(ctx, "DELETE FROM devices WHERE id = $1", deviceID)
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db
}

func applyMigrations(db *sql.DB) error {
	root := projectRoot()
	files := []string{
		filepath.Join(root, "migrations", "001_init.sql"),
		filepath.Join(root, "migrations", "002_alarms.sql"),
		filepath.Join(root, "migrations", "003_audit.sql"),
	}
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(content)); err != nil {
			return err
		}
	}
	return nil
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}

type fakeWebhook struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeWebhook) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
