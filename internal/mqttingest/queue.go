// Package mqttingest is the MQTT ingest pipeline: broker subscription, a
// bounded single-producer/single-consumer queue, a cooperative worker that
// reassembles/normalises/validates each message, and a small fan-out pool
// that persists and broadcasts in parallel.
package mqttingest

import (
	"sync/atomic"
	"time"
)

// Envelope is one raw MQTT delivery queued for the worker.
type Envelope struct {
	Topic      string
	QoS        byte
	Retained   bool
	Payload    []byte
	ReceivedAt time.Time
}

// Queue is the bounded SPSC queue between the broker callback and the
// worker loop. On full, the configured policy is either drop-newest
// (incrementing Dropped) or block.
type Queue struct {
	ch         chan Envelope
	dropOnFull bool
	dropped    atomic.Int64
	produced   atomic.Int64
	consumed   atomic.Int64
}

// NewQueue creates a Queue with the given capacity and full-queue policy.
func NewQueue(capacity int, dropOnFull bool) *Queue {
	return &Queue{
		ch:         make(chan Envelope, capacity),
		dropOnFull: dropOnFull,
	}
}

// Push enqueues env, reporting whether it was dropped. Under the
// drop-on-full policy this never blocks: a full queue discards the newest
// envelope and increments Dropped. Under the blocking policy it waits for
// room or for stop to fire (shutdown).
func (q *Queue) Push(env Envelope, stop <-chan struct{}) (dropped bool) {
	q.produced.Add(1)
	if q.dropOnFull {
		select {
		case q.ch <- env:
			return false
		default:
			q.dropped.Add(1)
			return true
		}
	}
	select {
	case q.ch <- env:
	case <-stop:
	}
	return false
}

// Pop blocks for up to timeout for the next envelope, returning ok=false
// on timeout (the worker uses this to periodically check for shutdown and
// sweep stale reassembly buffers) or if the queue is closed.
func (q *Queue) Pop(timeout time.Duration) (Envelope, bool) {
	select {
	case env, ok := <-q.ch:
		if ok {
			q.consumed.Add(1)
		}
		return env, ok
	case <-time.After(timeout):
		return Envelope{}, false
	}
}

// Len reports the current queue depth, for /health's queue_size.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped reports the cumulative number of dropped envelopes.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Produced and Consumed expose the raw throughput counters: dropped ==
// produced - consumed when drop-on-full is in effect and nothing is left
// buffered.
func (q *Queue) Produced() int64 { return q.produced.Load() }
func (q *Queue) Consumed() int64 { return q.consumed.Load() }

// Close closes the underlying channel; safe to call once, from the
// producer side, after the broker subscription has stopped delivering.
func (q *Queue) Close() { close(q.ch) }
