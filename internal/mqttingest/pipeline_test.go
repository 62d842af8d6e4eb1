package mqttingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cccl/grid-engine/internal/store"
	"github.com/cccl/grid-engine/internal/telemetry"
	"github.com/cccl/grid-engine/internal/validate"
)

type insertedDoc struct {
	collection string
	doc        store.Document
}

type fakeStore struct {
	mu      sync.Mutex
	inserts []insertedDoc
}

func (f *fakeStore) Insert(_ context.Context, collection string, d store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, insertedDoc{collection: collection, doc: d})
	return nil
}

func (f *fakeStore) InsertAggregated(ctx context.Context, collection string, d store.Document) (bool, error) {
	return true, f.Insert(ctx, collection, d)
}

func (f *fakeStore) byCollection(collection string) []store.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Document
	for _, ins := range f.inserts {
		if ins.collection == collection {
			out = append(out, ins.doc)
		}
	}
	return out
}

type publishedEvent struct {
	group     string
	eventType string
	message   any
}

type fakeBus struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakeBus) Publish(group, eventType string, message any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{group: group, eventType: eventType, message: message})
}

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type touch struct {
	topic    string
	deviceID string
}

type fakeLive struct {
	mu      sync.Mutex
	touches []touch
}

func (f *fakeLive) Touch(_ context.Context, topic, deviceID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches = append(f.touches, touch{topic: topic, deviceID: deviceID})
	return nil
}

func (f *fakeLive) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.touches)
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *fakeStore, *fakeBus, *fakeLive) {
	t.Helper()
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 100
	}
	if cfg.FanoutWorkers == 0 {
		cfg.FanoutWorkers = 2
	}
	if cfg.FanoutTimeout == 0 {
		cfg.FanoutTimeout = time.Second
	}
	if cfg.ReassemblyTTL == 0 {
		cfg.ReassemblyTTL = 300 * time.Second
	}

	st := &fakeStore{}
	bus := &fakeBus{}
	live := &fakeLive{}
	rules := validate.NewRules("MQTT_RT_DATA", "", "")
	p := New(cfg, rules, st, bus, live, nil, zerolog.Nop())
	p.Start()
	t.Cleanup(func() { p.Stop(time.Second) })
	return p, st, bus, live
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPipelineSingleShotIngest(t *testing.T) {
	p, st, bus, live := newTestPipeline(t, Config{})

	p.Enqueue("MQTT_RT_DATA", []byte(`{"id":"dev1","ua":1.0,"ub":2.0,"time":"t1","isend":"1"}`))

	waitFor(t, func() bool { return len(st.byCollection(telemetry.CollGridRTData)) == 1 }, "grid_rt_data insert")
	waitFor(t, func() bool { return len(st.byCollection(telemetry.CollTelemetryEvents)) == 1 }, "telemetry_events insert")
	waitFor(t, func() bool { return bus.count() == 1 }, "broadcast")
	waitFor(t, func() bool { return live.count() == 1 }, "liveness touch")

	doc := st.byCollection(telemetry.CollGridRTData)[0]
	if doc.DeviceID != "dev1" {
		t.Errorf("device_id = %q, want dev1", doc.DeviceID)
	}
	var payload map[string]float64
	if err := json.Unmarshal(doc.Payload, &payload); err == nil {
		if payload["ua"] != 1.0 {
			t.Errorf("payload.ua = %v, want 1.0", payload["ua"])
		}
	}
	if doc.Timestamp.IsZero() {
		t.Error("stored timestamp must be set")
	}

	bus.mu.Lock()
	ev := bus.events[0]
	bus.mu.Unlock()
	if ev.group != "telemetry" {
		t.Errorf("broadcast group = %q, want telemetry", ev.group)
	}
}

func TestPipelineReassemblesFragments(t *testing.T) {
	p, st, bus, _ := newTestPipeline(t, Config{})

	p.Enqueue("MQTT_RT_DATA", []byte(`{"id":"dev1","time":"t2","isend":"0","ua":1.0}`))
	p.Enqueue("MQTT_RT_DATA", []byte(`{"id":"dev1","time":"t2","isend":"1","ub":2.0}`))

	waitFor(t, func() bool { return bus.count() == 1 }, "single fan-out for assembled message")

	docs := st.byCollection(telemetry.CollGridRTData)
	if len(docs) != 1 {
		t.Fatalf("grid_rt_data inserts = %d, want exactly 1", len(docs))
	}
	var payload map[string]any
	if err := json.Unmarshal(docs[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal stored payload: %v", err)
	}
	if payload["ua"] != 1.0 || payload["ub"] != 2.0 {
		t.Errorf("payload = %v, want union of both fragments", payload)
	}
}

func TestPipelineDropsExpiredFragmentBuffer(t *testing.T) {
	p, st, bus, _ := newTestPipeline(t, Config{ReassemblyTTL: 30 * time.Millisecond})

	p.Enqueue("MQTT_RT_DATA", []byte(`{"id":"dev1","time":"t3","isend":"0","ua":1.0}`))
	time.Sleep(80 * time.Millisecond)
	p.Enqueue("MQTT_RT_DATA", []byte(`{"id":"dev1","time":"t3","isend":"1","ub":2.0}`))

	waitFor(t, func() bool { return bus.count() == 1 }, "emission of the fresh buffer")

	docs := st.byCollection(telemetry.CollGridRTData)
	if len(docs) != 1 {
		t.Fatalf("grid_rt_data inserts = %d, want 1", len(docs))
	}
	var payload map[string]any
	if err := json.Unmarshal(docs[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal stored payload: %v", err)
	}
	if _, present := payload["ua"]; present {
		t.Errorf("payload = %v, expired fragment must not carry over", payload)
	}
	if payload["ub"] != 2.0 {
		t.Errorf("payload.ub = %v, want 2.0", payload["ub"])
	}
}

func TestPipelineDropsInvalidMessage(t *testing.T) {
	p, st, bus, _ := newTestPipeline(t, Config{})

	// MQTT_RT_DATA is a required topic; a payload without "time" fails
	// validation once assembled. "isend":"1" emits immediately.
	p.Enqueue("MQTT_RT_DATA", []byte(`{"id":"dev1","isend":"1","ua":1.0}`))

	time.Sleep(150 * time.Millisecond)
	if n := len(st.byCollection(telemetry.CollGridRTData)); n != 0 {
		t.Errorf("grid_rt_data inserts = %d, want 0 for invalid message", n)
	}
	if bus.count() != 0 {
		t.Errorf("broadcasts = %d, want 0 for invalid message", bus.count())
	}
}

func TestPipelineEnyNowTopOfMinuteIngest(t *testing.T) {
	p, st, _, _ := newTestPipeline(t, Config{})

	p.Enqueue("MQTT_ENY_NOW", []byte(`{"id":"dev1","energy":5.5}`))

	waitFor(t, func() bool { return len(st.byCollection(telemetry.CollGridEnyNow)) == 1 }, "primary insert")
	waitFor(t, func() bool { return len(st.byCollection(telemetry.CollTodayEnyNow)) == 1 }, "today tier ingest-time insert")
}

func TestPipelineFlattensGeneratorPayload(t *testing.T) {
	p, st, _, _ := newTestPipeline(t, Config{})

	p.Enqueue("CCCL/PURBACHAL/ENM_01", []byte(`{"data":[{"tp":1700000000000,"point":[{"id":"rpm","val":1500},{"id":null,"val":9}]}]}`))

	waitFor(t, func() bool { return len(st.byCollection(telemetry.CollGenerator)) == 1 }, "generator insert")

	doc := st.byCollection(telemetry.CollGenerator)[0]
	var payload map[string]any
	if err := json.Unmarshal(doc.Payload, &payload); err != nil {
		t.Fatalf("unmarshal stored payload: %v", err)
	}
	if payload["rpm"] != 1500.0 {
		t.Errorf("payload.rpm = %v, want 1500", payload["rpm"])
	}
	want := time.UnixMilli(1700000000000).UTC()
	if !doc.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v (from tp)", doc.Timestamp, want)
	}
}
