package alarms

import (
	"testing"
	"time"

	telemetry "agrisense-cloud/internal/telemetry/domain"
)

func ptr(v float64) *float64 { return &v }

func TestDeriveSeverity(t *testing.T) {
	cases := []struct {
		value    float64
		min, max *float64
		want     Severity
	}{
		{25, ptr(30), ptr(70), SeverityLow},
		{50, ptr(30), ptr(70), SeverityNormal},
		{80, ptr(30), ptr(70), SeverityHigh},
		{70, ptr(30), ptr(70), SeverityNormal},
		{-100, nil, ptr(70), SeverityNormal},
		{1000, ptr(30), nil, SeverityNormal},
		{5, nil, nil, SeverityNormal},
	}
	for _, tc := range cases {
		if got := DeriveSeverity(tc.value, tc.min, tc.max); got != tc.want {
			t.Fatalf("value %v: expected %s, got %s", tc.value, tc.want, got)
		}
	}
}

func TestThresholdInputValidate(t *testing.T) {
	if _, err := (ThresholdInput{Parameter: "moisture", MinValue: ptr(70), MaxValue: ptr(30)}).Validate(); err == nil {
		t.Fatalf("expected min > max to fail")
	}
	if _, err := (ThresholdInput{Parameter: "co2"}).Validate(); err == nil {
		t.Fatalf("expected unknown parameter to fail")
	}
	p, err := ThresholdInput{Parameter: "ph", MinValue: ptr(5.5)}.Validate()
	if err != nil || p != telemetry.ParamPH {
		t.Fatalf("expected ph, got %s %v", p, err)
	}
}

func TestBreachMessage(t *testing.T) {
	got := BreachMessage(telemetry.ParamMoisture, 80, SeverityHigh, ptr(30), ptr(70))
	if got != "moisture reading 80.00 exceeds maximum 70.00" {
		t.Fatalf("unexpected message %q", got)
	}
	got = BreachMessage(telemetry.ParamMoisture, 25, SeverityLow, ptr(30), ptr(70))
	if got != "moisture reading 25.00 is below minimum 30.00" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestEpisodeTransitionIsEdgeTriggered(t *testing.T) {
	var current *Episode
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	opened := 0
	for i, sev := range []Severity{SeverityNormal, SeverityHigh, SeverityHigh, SeverityHigh, SeverityNormal, SeverityHigh} {
		next, open := current.Transition("D1", telemetry.ParamMoisture, sev, float64(i), at.Add(time.Duration(i)*time.Minute))
		if open {
			opened++
		}
		current = &next
	}
	if opened != 2 {
		t.Fatalf("expected 2 openings, got %d", opened)
	}
	if !current.Since.Equal(at.Add(5 * time.Minute)) {
		t.Fatalf("since should track the last state change, got %v", current.Since)
	}
}

func TestEpisodeStale(t *testing.T) {
	var unknown *Episode
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	if unknown.Stale(at) {
		t.Fatalf("unknown episode is never stale")
	}
	next, _ := unknown.Transition("D1", telemetry.ParamMoisture, SeverityHigh, 80, at)
	if !next.LastAt.Equal(at) {
		t.Fatalf("expected last sample time %v, got %v", at, next.LastAt)
	}
	if !next.Stale(at.Add(-time.Second)) {
		t.Fatalf("older sample must be stale")
	}
	if next.Stale(at) || next.Stale(at.Add(time.Second)) {
		t.Fatalf("same or newer sample must not be stale")
	}
}

func TestNewAlertSnapshotsBounds(t *testing.T) {
	threshold := Threshold{DeviceID: "D1", Parameter: telemetry.ParamMoisture, MinValue: ptr(30), MaxValue: ptr(70), AlertSMS: true}
	alert := NewAlert("a-1", threshold, 80, SeverityHigh, time.Now())
	*threshold.MaxValue = 90
	if *alert.ThresholdMax != 70 {
		t.Fatalf("alert bounds must not follow later threshold edits")
	}
	if !alert.NotifySMS || alert.NotifyEmail {
		t.Fatalf("notification flags not copied")
	}
}
