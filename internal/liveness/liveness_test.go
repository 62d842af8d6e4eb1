package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
)

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	tr, err := New("redis://"+mr.Addr(), 24*time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, mr
}

func TestTouchAndScan(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh_device_stays_online", func(t *testing.T) {
		tr, _ := newTestTracker(t)
		now := time.Now()
		if err := tr.Touch(ctx, "MQTT_RT_DATA", "dev1", now); err != nil {
			t.Fatalf("Touch: %v", err)
		}
		events, err := tr.Scan(ctx, Threshold{Topic: "MQTT_RT_DATA", Staleness: 60 * time.Second}, now)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if len(events) != 0 {
			t.Errorf("events = %v, want none (device is fresh)", events)
		}
	})

	t.Run("stale_device_transitions_offline_once", func(t *testing.T) {
		tr, _ := newTestTracker(t)
		seenAt := time.Now()
		if err := tr.Touch(ctx, "MQTT_RT_DATA", "dev1", seenAt); err != nil {
			t.Fatalf("Touch: %v", err)
		}

		th := Threshold{Topic: "MQTT_RT_DATA", Staleness: 60 * time.Second}
		later := seenAt.Add(65 * time.Second)

		events, err := tr.Scan(ctx, th, later)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("events = %v, want exactly 1 offline transition", events)
		}
		if events[0].DeviceID != "dev1" || events[0].Status != Offline {
			t.Errorf("event = %+v, want offline transition for dev1", events[0])
		}

		// A second scan without a new ingest must emit nothing.
		events, err = tr.Scan(ctx, th, later.Add(time.Second))
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if len(events) != 0 {
			t.Errorf("second scan events = %v, want none", events)
		}
	})

	t.Run("reingest_resets_to_online", func(t *testing.T) {
		tr, _ := newTestTracker(t)
		seenAt := time.Now()
		th := Threshold{Topic: "MQTT_RT_DATA", Staleness: 60 * time.Second}

		tr.Touch(ctx, "MQTT_RT_DATA", "dev1", seenAt)
		tr.Scan(ctx, th, seenAt.Add(65*time.Second))

		// A fresh ingest before the next scan should reset the memo.
		reingest := seenAt.Add(70 * time.Second)
		if err := tr.Touch(ctx, "MQTT_RT_DATA", "dev1", reingest); err != nil {
			t.Fatalf("Touch: %v", err)
		}

		events, err := tr.Scan(ctx, th, reingest.Add(time.Second))
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if len(events) != 0 {
			t.Errorf("events = %v, want none after re-ingest resets memo", events)
		}
	})
}
