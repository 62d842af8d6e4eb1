package mqttingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/cccl/grid-engine/internal/metrics"
	"github.com/cccl/grid-engine/internal/mqttclient"
	"github.com/cccl/grid-engine/internal/reassembly"
	"github.com/cccl/grid-engine/internal/store"
	"github.com/cccl/grid-engine/internal/telemetry"
	"github.com/cccl/grid-engine/internal/validate"
)

// DocumentStore is the slice of the document store the pipeline writes
// through.
type DocumentStore interface {
	Insert(ctx context.Context, collection string, d store.Document) error
	InsertAggregated(ctx context.Context, collection string, d store.Document) (bool, error)
}

// Broadcaster publishes realtime events to a named group.
type Broadcaster interface {
	Publish(group, eventType string, message any)
}

// LivenessToucher records a successful device ingest.
type LivenessToucher interface {
	Touch(ctx context.Context, topic, deviceID string, now time.Time) error
}

// Config tunes the ingest pipeline's back-pressure and fan-out behaviour.
type Config struct {
	QueueCapacity     int
	DropOnFull        bool
	ReassemblyTTL     time.Duration
	FanoutWorkers     int
	FanoutTimeout     time.Duration
	SweepInterval     time.Duration
	DefaultCollection string
}

// Pipeline is the MQTT ingest component: it owns the bounded queue, the
// single worker goroutine, the fan-out pool, and wiring into the document
// store, broadcast bus and liveness tracker. One cancellable context, one
// Stop() that drains in-flight work within a grace deadline.
type Pipeline struct {
	cfg   Config
	rules validate.Rules
	st    DocumentStore
	bus   Broadcaster
	live  LivenessToucher
	stats *metrics.Stats
	log   zerolog.Logger

	queue       *Queue
	reassembler *reassembly.Reassembler
	fanout      *FanoutPool

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Pipeline. Call Start to begin consuming from the
// internal queue and Enqueue (wired as the mqttclient.MessageHandler) to
// feed it.
func New(cfg Config, rules validate.Rules, st DocumentStore, bus Broadcaster, live LivenessToucher, stats *metrics.Stats, log zerolog.Logger) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:         cfg,
		rules:       rules,
		st:          st,
		bus:         bus,
		live:        live,
		stats:       stats,
		log:         log.With().Str("component", "mqttingest").Logger(),
		queue:       NewQueue(cfg.QueueCapacity, cfg.DropOnFull),
		reassembler: reassembly.New(cfg.ReassemblyTTL),
		fanout:      NewFanoutPool(cfg.FanoutWorkers, cfg.FanoutTimeout, stats, log),
		ctx:         ctx,
		cancel:      cancel,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Enqueue implements mqttclient.MessageHandler: it is called from the MQTT
// client's own goroutine on every delivered message and pushes an
// Envelope onto the bounded queue.
func (p *Pipeline) Enqueue(topic string, payload []byte) {
	dropped := p.queue.Push(Envelope{
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}, p.stopCh)
	if p.stats != nil {
		if dropped {
			p.stats.IncDropped()
		}
		p.stats.SetQueueSize(p.queue.Len())
	}
}

// Start launches the single worker goroutine.
func (p *Pipeline) Start() {
	go p.run()
}

const defaultSweepInterval = 30 * time.Second

func (p *Pipeline) run() {
	defer close(p.doneCh)
	sweepEvery := p.cfg.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = defaultSweepInterval
	}
	lastSweep := time.Now()

	for {
		select {
		case <-p.stopCh:
			p.drain()
			return
		default:
		}

		env, ok := p.queue.Pop(200 * time.Millisecond)
		if p.stats != nil {
			p.stats.SetQueueSize(p.queue.Len())
		}
		if !ok {
			if time.Since(lastSweep) >= sweepEvery {
				p.reassembler.Sweep(time.Now())
				lastSweep = time.Now()
			}
			continue
		}

		p.process(env)

		if time.Since(lastSweep) >= sweepEvery {
			p.reassembler.Sweep(time.Now())
			lastSweep = time.Now()
		}
	}
}

// drain processes whatever remains buffered in the queue. Stop's own
// timeout bounds how long this may run.
func (p *Pipeline) drain() {
	for {
		env, ok := p.queue.Pop(10 * time.Millisecond)
		if !ok {
			return
		}
		p.process(env)
	}
}

// process runs one envelope through decode, reassembly, normalisation,
// validation, fan-out and the liveness touch.
func (p *Pipeline) process(env Envelope) {
	raw, decodedOK := decodePayload(env.Payload)
	if !decodedOK {
		p.log.Debug().Str("topic", env.Topic).Msg("payload kept as text/hex after decode failure")
	}

	if env.Topic == telemetry.TopicGenerator {
		if flattened, applied := telemetry.FlattenGeneratorPayload(env.Payload); applied {
			raw = flattened
		}
	}

	assembled, ready := p.reassembler.Add(env.Topic, raw, env.ReceivedAt)
	if !ready {
		return
	}

	payload := telemetry.NormalizePayload(assembled)
	deviceID := telemetry.ExtractDeviceID(assembled)

	// Payloads that carry their own timestamp win; everything else is
	// stamped with the broker delivery time.
	ts := env.ReceivedAt.UTC()
	if tsRaw, ok := assembled["timestamp"]; ok {
		if parsed, err := telemetry.ParseTimestamp(tsRaw); err == nil {
			ts = parsed
		}
	}

	if err := p.rules.Message(env.Topic, !ts.IsZero(), payload, deviceID); err != nil {
		p.log.Warn().Err(err).Str("topic", env.Topic).Msg("dropping invalid message")
		return
	}

	msg := telemetry.Message{
		DeviceID:  deviceID,
		Topic:     env.Topic,
		Timestamp: ts,
		Payload:   payload,
	}

	p.fanOut(msg)

	if msg.HasDeviceID() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := p.live.Touch(ctx, msg.Topic, msg.DeviceID, time.Now()); err != nil {
			p.log.Warn().Err(err).Msg("liveness touch failed")
		}
		cancel()
	}

	if p.stats != nil {
		p.stats.TouchLastMessage(ts)
	}
}

// fanOut submits the persist and broadcast operations for msg to the
// fan-out pool. Both run concurrently and independently timeboxed.
func (p *Pipeline) fanOut(msg telemetry.Message) {
	payloadJSON, err := json.Marshal(msg.Payload)
	if err != nil {
		p.log.Error().Err(err).Msg("could not marshal payload for storage")
		return
	}

	coll := telemetry.RouteCollection(msg.Topic, p.cfg.DefaultCollection)

	p.fanout.Submit(func(ctx context.Context) error {
		doc := store.Document{Timestamp: msg.Timestamp, DeviceID: msg.DeviceID, Topic: msg.Topic, Payload: payloadJSON}
		if err := p.st.Insert(ctx, coll, doc); err != nil {
			if p.stats != nil {
				p.stats.IncMongoErrors()
			}
			return err
		}
		return nil
	})

	p.fanout.Submit(func(ctx context.Context) error {
		doc := store.Document{Timestamp: msg.Timestamp, DeviceID: msg.DeviceID, Topic: msg.Topic, Payload: payloadJSON}
		if err := p.st.Insert(ctx, telemetry.CollTelemetryEvents, doc); err != nil {
			if p.stats != nil {
				p.stats.IncMongoErrors()
			}
			return err
		}
		return nil
	})

	// MQTT_ENY_NOW additionally writes into today_grid_eny_now_data at
	// ingest time because the source cadence is slower than the 1-minute
	// aggregation window.
	if msg.Topic == telemetry.TopicGridEnyNow {
		p.fanout.Submit(func(ctx context.Context) error {
			doc := store.Document{Timestamp: msg.Timestamp, DeviceID: msg.DeviceID, Topic: msg.Topic, Payload: payloadJSON}
			if _, err := p.st.InsertAggregated(ctx, telemetry.CollTodayEnyNow, doc); err != nil {
				if p.stats != nil {
					p.stats.IncMongoErrors()
				}
				return err
			}
			return nil
		})
	}

	p.fanout.Submit(func(context.Context) error {
		p.bus.Publish("telemetry", msg.Topic, messageView(msg))
		return nil
	})
}

// messageView is the WebSocket payload shape:
// {device_id, topic, timestamp, payload}.
func messageView(msg telemetry.Message) map[string]any {
	return map[string]any{
		"device_id": msg.DeviceID,
		"topic":     msg.Topic,
		"timestamp": msg.Timestamp,
		"payload":   msg.Payload,
	}
}

// Stop stops accepting new work and drains the in-flight queue within
// grace before terminating the worker and the fan-out pool.
func (p *Pipeline) Stop(grace time.Duration) {
	close(p.stopCh)
	select {
	case <-p.doneCh:
	case <-time.After(grace):
		p.log.Warn().Msg("ingest worker did not drain within grace period")
	}
	p.fanout.Stop()
	p.cancel()
}

// mqttHandlerAdapter adapts Pipeline.Enqueue to mqttclient.MessageHandler.
var _ mqttclient.MessageHandler = (*Pipeline)(nil).Enqueue
