package batchwriter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cccl/grid-engine/internal/metrics"
	"github.com/cccl/grid-engine/internal/store"
	"github.com/cccl/grid-engine/internal/telemetry"
)

// SolarDoc is one decoded TCP solar document: current, power and
// energy_consumption vectors assembled from the three-phase heartbeat
// exchange.
type SolarDoc struct {
	Timestamp         time.Time
	ClientID          string
	Current           []float32
	Power             []float32
	EnergyConsumption []int64
}

func (d SolarDoc) toDocument() (store.Document, error) {
	payload := map[string]any{
		"current":            d.Current,
		"power":              d.Power,
		"energy_consumption": d.EnergyConsumption,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return store.Document{}, err
	}
	return store.Document{
		Timestamp: d.Timestamp,
		DeviceID:  d.ClientID,
		Topic:     telemetry.TopicTCPSolar,
		Payload:   raw,
	}, nil
}

// solarCollections are the three collections every flushed batch is
// unordered-bulk-inserted into.
var solarCollections = []string{
	telemetry.CollSolar,
	telemetry.CollTodaySolar,
	telemetry.CollCurrentMonthSolar,
}

// SolarWriter is the batched document writer: a single background worker
// (the Batcher) drains a bounded queue and performs an unordered bulk
// insert into all three solar tier collections under one lock per flush,
// serialising writes onto one connection.
type SolarWriter struct {
	batcher *Batcher[SolarDoc]
	store   *store.Store
	stats   *metrics.Stats
	log     zerolog.Logger

	flushMu sync.Mutex
}

// NewSolarWriter wires a SolarWriter with the given queue/batch/flush
// tuning.
func NewSolarWriter(st *store.Store, stats *metrics.Stats, log zerolog.Logger, queueCapacity, batchSize int, flushInterval time.Duration) *SolarWriter {
	w := &SolarWriter{
		store: st,
		stats: stats,
		log:   log.With().Str("component", "batchwriter").Logger(),
	}
	w.batcher = New[SolarDoc](queueCapacity, batchSize, flushInterval, w.flush)
	return w
}

// Enqueue buffers one solar document for the next flush.
func (w *SolarWriter) Enqueue(d SolarDoc) {
	w.batcher.Add(d)
}

// QueueSize reports the number of buffered, not-yet-flushed documents.
func (w *SolarWriter) QueueSize() int { return w.batcher.QueueLen() }

// Stop flushes any remaining buffered documents and stops the worker.
func (w *SolarWriter) Stop() { w.batcher.Stop() }

func (w *SolarWriter) flush(batch []SolarDoc) {
	docs := make([]store.Document, 0, len(batch))
	for _, d := range batch {
		doc, err := d.toDocument()
		if err != nil {
			w.log.Warn().Err(err).Msg("dropping undecodable solar document from batch")
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return
	}

	// One lock across all three tier inserts keeps a flush's writes
	// contiguous on the connection.
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, coll := range solarCollections {
		if err := w.store.BulkInsert(ctx, coll, docs); err != nil {
			w.log.Error().Err(err).Str("collection", coll).Int("batch_size", len(docs)).Msg("batch flush failed")
			if w.stats != nil {
				w.stats.IncMongoErrors()
			}
			continue
		}
	}
	if w.stats != nil {
		w.stats.IncBatchesFlushed()
	}
}
