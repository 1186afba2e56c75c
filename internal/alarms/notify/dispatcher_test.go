package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alarms "agrisense-cloud/internal/alarms/domain"
	masterdata "agrisense-cloud/internal/masterdata/domain"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

func f(v float64) *float64 { return &v }

type stubAlerts struct {
	mu     sync.Mutex
	alerts []alarms.Alert
	sent   map[string]time.Time
	err    error
}

func (s *stubAlerts) ListUnsentAlerts(_ context.Context, limit int) ([]alarms.Alert, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]alarms.Alert, 0)
	for _, alert := range s.alerts {
		if _, done := s.sent[alert.ID]; !done {
			out = append(out, alert)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubAlerts) MarkAlertSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[string]time.Time)
	}
	s.sent[id] = at
	return nil
}

type stubDevices struct {
	device *masterdata.Device
}

func (s stubDevices) Get(_ context.Context, _ string) (*masterdata.Device, error) {
	return s.device, nil
}

type recordingChannel struct {
	mu       sync.Mutex
	messages []Message
	failFor  string
}

func (r *recordingChannel) Send(_ context.Context, msg Message) error {
	if msg.Alert.ID == r.failFor {
		return errors.New("gateway down")
	}
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func sampleAlert(id string, value float64) alarms.Alert {
	threshold := alarms.Threshold{DeviceID: "D1", Parameter: telemetry.ParamMoisture, MinValue: f(30), MaxValue: f(70), AlertEmail: true}
	severity := threshold.Classify(value)
	return alarms.NewAlert(id, threshold, value, severity, time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
}

func TestRunOnceSendsAndMarks(t *testing.T) {
	source := &stubAlerts{alerts: []alarms.Alert{sampleAlert("a-1", 80), sampleAlert("a-2", 20)}}
	channel := &recordingChannel{}
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	dispatcher, err := NewDispatcher(source, stubDevices{device: &masterdata.Device{ID: "D1", Name: "North Field", Location: "Plot 4"}}, channel, nil, WithClock(fixedClock{now: now}))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	sent, err := dispatcher.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if sent != 2 || len(channel.messages) != 2 {
		t.Fatalf("expected 2 sent, got %d", sent)
	}
	if channel.messages[0].Severity != alarms.SeverityHigh || channel.messages[1].Severity != alarms.SeverityLow {
		t.Fatalf("unexpected severities %s %s", channel.messages[0].Severity, channel.messages[1].Severity)
	}
	if !strings.Contains(channel.messages[0].Content, "Device: North Field (Plot 4)") {
		t.Fatalf("template not rendered with device: %q", channel.messages[0].Content)
	}
	if !source.sent["a-1"].Equal(now) {
		t.Fatalf("alert not marked sent at clock time")
	}

	sent, _ = dispatcher.RunOnce(context.Background())
	if sent != 0 {
		t.Fatalf("sent alerts must not be re-sent, got %d", sent)
	}
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	source := &stubAlerts{alerts: []alarms.Alert{sampleAlert("a-1", 80), sampleAlert("a-2", 90)}}
	channel := &recordingChannel{failFor: "a-1"}
	dispatcher, _ := NewDispatcher(source, nil, channel, nil)

	sent, err := dispatcher.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 sent, got %d", sent)
	}
	if _, marked := source.sent["a-1"]; marked {
		t.Fatalf("failed alert must stay unsent")
	}
}

func TestRunOnceListError(t *testing.T) {
	dispatcher, _ := NewDispatcher(&stubAlerts{err: errors.New("db down")}, nil, &recordingChannel{}, nil)
	if _, err := dispatcher.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected list error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &stubAlerts{alerts: []alarms.Alert{sampleAlert("a-1", 80)}}
	dispatcher, _ := NewDispatcher(source, nil, &recordingChannel{}, nil, WithInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("dispatcher did not stop")
	}
}

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithBearerToken("svc-token"), WithRetries(0))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	alert := sampleAlert("a-1", 80)
	err = channel.Send(context.Background(), Message{
		Alert:     alert,
		Device:    DeviceInfo{ID: "D1", Name: "North Field", Type: deviceType},
		Severity:  alarms.SeverityHigh,
		Content:   "content",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	payload := <-payloadCh
	if payload.Alert.ID != "a-1" || payload.Severity != alarms.SeverityHigh || payload.Device.Name != "North Field" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.Alert.AlertTypes) != 1 || payload.Alert.AlertTypes[0] != "email" {
		t.Fatalf("unexpected alert types %v", payload.Alert.AlertTypes)
	}
	if auth != "Bearer svc-token" {
		t.Fatalf("unexpected auth header %q", auth)
	}
}

func TestWebhookChannelNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	channel, _ := NewWebhookChannel(server.URL, WithRetries(0))
	if err := channel.Send(context.Background(), Message{Alert: sampleAlert("a-1", 80)}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestMultiChannelJoinsErrors(t *testing.T) {
	ok := &recordingChannel{}
	bad := &recordingChannel{failFor: "a-1"}
	err := NewMultiChannel(ok, bad).Send(context.Background(), Message{Alert: sampleAlert("a-1", 80)})
	if err == nil || len(ok.messages) != 1 {
		t.Fatalf("expected delivery to healthy channel and joined error")
	}
}

func TestBuildAlertReportPDF(t *testing.T) {
	data, err := BuildAlertReportPDF([]alarms.Alert{sampleAlert("a-1", 80)}, time.Now())
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("output is not a pdf")
	}
}
