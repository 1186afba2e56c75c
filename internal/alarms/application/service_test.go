package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alarms "agrisense-cloud/internal/alarms/domain"
	"agrisense-cloud/internal/alarms/infrastructure/memory"
	"agrisense-cloud/internal/apperr"
	"agrisense-cloud/internal/audit"
	masterdata "agrisense-cloud/internal/masterdata/domain"
	mdmemory "agrisense-cloud/internal/masterdata/infrastructure/memory"
	"agrisense-cloud/internal/telemetry/application/events"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type recordingSignals struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordingSignals) Publish(_ context.Context, topic string) {
	r.mu.Lock()
	r.topics = append(r.topics, topic)
	r.mu.Unlock()
}

type testEnv struct {
	svc        *Service
	thresholds *memory.ThresholdRepository
	alerts     *memory.AlertRepository
	episodes   *memory.EpisodeStore
	signals    *recordingSignals
	audit      *audit.MemoryLog
}

func newEnv(t *testing.T, thresholds alarms.ThresholdRepository) testEnv {
	t.Helper()
	devices := mdmemory.NewDeviceRepository()
	for _, id := range []string{"D1", "D2"} {
		if err := devices.Save(context.Background(), &masterdata.Device{ID: id, Credential: "secret"}); err != nil {
			t.Fatalf("seed device: %v", err)
		}
	}
	memThresholds := memory.NewThresholdRepository()
	if thresholds == nil {
		thresholds = memThresholds
	}
	env := testEnv{
		thresholds: memThresholds,
		alerts:     memory.NewAlertRepository(),
		episodes:   memory.NewEpisodeStore(),
		signals:    &recordingSignals{},
		audit:      audit.NewMemoryLog(),
	}
	svc, err := NewService(devices, thresholds, env.alerts, env.episodes,
		WithSignals(env.signals),
		WithAudit(env.audit),
		WithClock(fixedClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	env.svc = svc
	return env
}

func f(v float64) *float64 { return &v }

func moistureReading(deviceID string, value float64, at time.Time) events.ReadingReceived {
	reading := telemetry.SensorReading{DeviceID: deviceID, Timestamp: at, Moisture: value, PH: 6.5}
	return events.ReadingReceived{EventID: "evt", Reading: reading, OccurredAt: at}
}

func (e testEnv) submit(t *testing.T, deviceID string, value float64, at time.Time) {
	t.Helper()
	if err := e.svc.HandleReadingReceived(context.Background(), moistureReading(deviceID, value, at)); err != nil {
		t.Fatalf("evaluate %v: %v", value, err)
	}
}

func TestMoistureScenario(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	if _, err := env.svc.UpsertThreshold(ctx, "D1", alarms.ThresholdInput{Parameter: "moisture", MinValue: f(30), MaxValue: f(70)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	env.submit(t, "D1", 25, base)
	list, _ := env.svc.GetAlerts(ctx, "D1", 0)
	if len(list) != 1 || list[0].Severity != alarms.SeverityLow {
		t.Fatalf("expected one LOW alert, got %+v", list)
	}
	if list[0].Message != "moisture reading 25.00 is below minimum 30.00" {
		t.Fatalf("unexpected message %q", list[0].Message)
	}

	env.submit(t, "D1", 50, base.Add(time.Minute))
	list, _ = env.svc.GetAlerts(ctx, "D1", 0)
	if len(list) != 1 {
		t.Fatalf("expected no new alert inside bounds, got %d", len(list))
	}
	episode, _ := env.episodes.Get(ctx, "D1", telemetry.ParamMoisture)
	if episode == nil || episode.Outside() {
		t.Fatalf("expected episode cleared, got %+v", episode)
	}

	env.submit(t, "D1", 80, base.Add(2*time.Minute))
	list, _ = env.svc.GetAlerts(ctx, "D1", 0)
	if len(list) != 2 || list[0].Severity != alarms.SeverityHigh {
		t.Fatalf("expected newest alert HIGH, got %+v", list)
	}
	if *list[0].ThresholdMin != 30 || *list[0].ThresholdMax != 70 {
		t.Fatalf("bounds not snapshotted: %+v", list[0])
	}
}

func TestEdgeTriggeredSequence(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	if _, err := env.svc.UpsertThreshold(ctx, "D1", alarms.ThresholdInput{Parameter: "moisture", MaxValue: f(70)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, value := range []float64{50, 80, 85, 90, 60, 75} {
		env.submit(t, "D1", value, base.Add(time.Duration(i)*time.Minute))
	}
	list, _ := env.svc.GetAlerts(ctx, "D1", 0)
	if len(list) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(list))
	}
	signals := 0
	for _, topic := range env.signals.topics {
		if topic == "alerts" {
			signals++
		}
	}
	if signals != 2 {
		t.Fatalf("expected 2 alerts signals, got %d", signals)
	}
}

func TestLateSampleDoesNotReopenEpisode(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	if _, err := env.svc.UpsertThreshold(ctx, "D1", alarms.ThresholdInput{Parameter: "moisture", MaxValue: f(70)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	t1 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)

	env.submit(t, "D1", 80, t2)
	env.submit(t, "D1", 50, t1)
	env.submit(t, "D1", 85, t3)

	list, _ := env.svc.GetAlerts(ctx, "D1", 0)
	if len(list) != 1 {
		t.Fatalf("expected 1 alert in timestamp order, got %d", len(list))
	}
	episode, _ := env.episodes.Get(ctx, "D1", telemetry.ParamMoisture)
	if episode == nil || !episode.Outside() || !episode.LastAt.Equal(t3) {
		t.Fatalf("expected open episode last seen at %v, got %+v", t3, episode)
	}
	if !episode.Since.Equal(t2) {
		t.Fatalf("expected episode since %v, got %v", t2, episode.Since)
	}
}

func TestInactiveThresholdIsSkipped(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	inactive := false
	if _, err := env.svc.UpsertThreshold(ctx, "D1", alarms.ThresholdInput{Parameter: "moisture", MaxValue: f(70), IsActive: &inactive}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	env.submit(t, "D1", 99, time.Now())
	list, _ := env.svc.GetAlerts(ctx, "D1", 0)
	if len(list) != 0 {
		t.Fatalf("inactive threshold must not alert")
	}
}

func TestConcurrentEvaluationSamePairAlertsOnce(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	_, _ = env.svc.UpsertThreshold(ctx, "D1", alarms.ThresholdInput{Parameter: "moisture", MaxValue: f(70)})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = env.svc.HandleReadingReceived(ctx, moistureReading("D1", 80+float64(i), time.Now()))
		}(i)
	}
	wg.Wait()
	list, _ := env.svc.GetAlerts(ctx, "D1", 0)
	if len(list) != 1 {
		t.Fatalf("expected exactly one alert for one episode, got %d", len(list))
	}
	if n := env.svc.evalLocks.size(); n != 0 {
		t.Fatalf("expected idle lock table, got %d entries", n)
	}
}

func TestUpsertTwiceKeepsOneRow(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	if _, err := env.svc.UpsertThreshold(ctx, "D1", alarms.ThresholdInput{Parameter: "ph", MinValue: f(5), MaxValue: f(8)}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if _, err := env.svc.UpsertThreshold(ctx, "D1", alarms.ThresholdInput{Parameter: "ph", MinValue: f(5.5), MaxValue: f(7.5)}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	list, _ := env.svc.GetThresholds(ctx, "D1")
	if len(list) != 1 {
		t.Fatalf("expected one threshold row, got %d", len(list))
	}
	if *list[0].MinValue != 5.5 || *list[0].MaxValue != 7.5 || !list[0].IsActive {
		t.Fatalf("expected second call's values, got %+v", list[0])
	}
	if len(env.audit.Entries()) != 2 {
		t.Fatalf("expected audit entry per write")
	}
}

func TestUpsertValidation(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	_, err := env.svc.UpsertThreshold(ctx, "D1", alarms.ThresholdInput{Parameter: "moisture", MinValue: f(70), MaxValue: f(30)})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = env.svc.UpsertThreshold(ctx, "D9", alarms.ThresholdInput{Parameter: "moisture"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	list, _ := env.thresholds.ListByDevice(ctx, "D1")
	if len(list) != 0 {
		t.Fatalf("rejected upsert must not write")
	}
}

func TestBulkUpsertValidatesBeforeWriting(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	_, err := env.svc.BulkUpsertThresholds(ctx, "D1", []alarms.ThresholdInput{
		{Parameter: "moisture", MinValue: f(30), MaxValue: f(70)},
		{Parameter: "ph", MinValue: f(9), MaxValue: f(5)},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	list, _ := env.thresholds.ListByDevice(ctx, "D1")
	if len(list) != 0 {
		t.Fatalf("bulk must not partially write, got %d rows", len(list))
	}

	result, err := env.svc.BulkUpsertThresholds(ctx, "D1", []alarms.ThresholdInput{
		{Parameter: "moisture", MinValue: f(30), MaxValue: f(70)},
		{Parameter: "ph", MinValue: f(5), MaxValue: f(8)},
	})
	if err != nil || len(result) != 2 {
		t.Fatalf("bulk upsert: %v %d", err, len(result))
	}
}

func TestSetThresholdProperties(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	yes := true
	if _, err := env.svc.SetThresholdProperties(ctx, "D1", "moisture", alarms.ThresholdProperties{AlertSMS: &yes}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, _ = env.svc.UpsertThreshold(ctx, "D1", alarms.ThresholdInput{Parameter: "moisture", MinValue: f(30)})
	updated, err := env.svc.SetThresholdProperties(ctx, "D1", "moisture", alarms.ThresholdProperties{AlertSMS: &yes})
	if err != nil {
		t.Fatalf("set properties: %v", err)
	}
	if !updated.AlertSMS || updated.AlertEmail || !updated.IsActive || *updated.MinValue != 30 {
		t.Fatalf("partial update changed unrelated fields: %+v", updated)
	}
}

func TestClearAlerts(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	_, _ = env.svc.UpsertThreshold(ctx, "D1", alarms.ThresholdInput{Parameter: "moisture", MaxValue: f(70)})
	_, _ = env.svc.UpsertThreshold(ctx, "D2", alarms.ThresholdInput{Parameter: "moisture", MaxValue: f(70)})
	env.submit(t, "D1", 80, time.Now())
	env.submit(t, "D2", 80, time.Now())

	if _, err := env.svc.ClearAlerts(ctx, "D1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	list, _ := env.svc.GetAlerts(ctx, "D1", 0)
	if len(list) != 0 {
		t.Fatalf("expected empty alerts after clear, got %d", len(list))
	}
	other, _ := env.svc.GetAlerts(ctx, "D2", 0)
	if len(other) != 1 {
		t.Fatalf("clear must not touch other devices")
	}
}

func TestMarkAlertSent(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	_, _ = env.svc.UpsertThreshold(ctx, "D1", alarms.ThresholdInput{Parameter: "moisture", MaxValue: f(70)})
	env.submit(t, "D1", 80, time.Now())
	unsent, _ := env.svc.ListUnsentAlerts(ctx, 10)
	if len(unsent) != 1 {
		t.Fatalf("expected one unsent alert")
	}
	if err := env.svc.MarkAlertSent(ctx, unsent[0].ID, time.Time{}); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	unsent, _ = env.svc.ListUnsentAlerts(ctx, 10)
	if len(unsent) != 0 {
		t.Fatalf("expected no unsent alerts")
	}
	if err := env.svc.MarkAlertSent(ctx, "missing", time.Now()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// collidingRepo reports a duplicate on the first n inserts, like a racing instance would.
type collidingRepo struct {
	*memory.ThresholdRepository
	collisions int
	inserts    int
}

func (c *collidingRepo) Insert(ctx context.Context, threshold *alarms.Threshold) error {
	c.inserts++
	if c.inserts <= c.collisions {
		return alarms.ErrDuplicateThreshold
	}
	return c.ThresholdRepository.Insert(ctx, threshold)
}

func TestUpsertRetriesConflictOnce(t *testing.T) {
	repo := &collidingRepo{ThresholdRepository: memory.NewThresholdRepository(), collisions: 1}
	env := newEnv(t, repo)
	if _, err := env.svc.UpsertThreshold(context.Background(), "D1", alarms.ThresholdInput{Parameter: "ec", MaxValue: f(3)}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if repo.inserts != 2 {
		t.Fatalf("expected 2 insert attempts, got %d", repo.inserts)
	}
}

func TestUpsertSecondCollisionIsConflict(t *testing.T) {
	repo := &collidingRepo{ThresholdRepository: memory.NewThresholdRepository(), collisions: 2}
	env := newEnv(t, repo)
	_, err := env.svc.UpsertThreshold(context.Background(), "D1", alarms.ThresholdInput{Parameter: "ec", MaxValue: f(3)})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

type failingEpisodes struct {
	*memory.EpisodeStore
}

func (failingEpisodes) Get(context.Context, string, telemetry.Parameter) (*alarms.Episode, error) {
	return nil, errors.New("episode store offline")
}

func TestEvaluationErrorsPropagate(t *testing.T) {
	devices := mdmemory.NewDeviceRepository()
	_ = devices.Save(context.Background(), &masterdata.Device{ID: "D1", Credential: "secret"})
	thresholds := memory.NewThresholdRepository()
	svc, _ := NewService(devices, thresholds, memory.NewAlertRepository(), failingEpisodes{memory.NewEpisodeStore()})
	_, _ = svc.UpsertThreshold(context.Background(), "D1", alarms.ThresholdInput{Parameter: "moisture", MaxValue: f(70)})

	if err := svc.HandleReadingReceived(context.Background(), moistureReading("D1", 80, time.Now())); err == nil {
		t.Fatalf("expected store error to propagate")
	}
}

func TestDeleteByDevice(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	_, _ = env.svc.UpsertThreshold(ctx, "D1", alarms.ThresholdInput{Parameter: "moisture", MaxValue: f(70)})
	env.submit(t, "D1", 80, time.Now())

	if err := env.svc.DeleteByDevice(ctx, "D1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	thresholds, _ := env.thresholds.ListByDevice(ctx, "D1")
	alerts, _ := env.alerts.List(ctx, alarms.AlertFilter{DeviceID: "D1"})
	episode, _ := env.episodes.Get(ctx, "D1", telemetry.ParamMoisture)
	if len(thresholds) != 0 || len(alerts) != 0 || episode != nil {
		t.Fatalf("device data not purged")
	}
}

func TestDeleteByDeviceKeepsOtherDevices(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	for _, id := range []string{"D1", "D2"} {
		_, _ = env.svc.UpsertThreshold(ctx, id, alarms.ThresholdInput{Parameter: "moisture", MaxValue: f(70)})
		env.submit(t, id, 80, time.Now())
	}

	if err := env.svc.DeleteByDevice(ctx, ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty device, got %v", err)
	}
	if err := env.svc.DeleteByDevice(ctx, "D1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	remaining, _ := env.alerts.List(ctx, alarms.AlertFilter{})
	if len(remaining) != 1 || remaining[0].DeviceID != "D2" {
		t.Fatalf("expected only D2 alert to remain, got %+v", remaining)
	}
}
