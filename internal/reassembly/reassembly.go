// Package reassembly joins multi-fragment MQTT payloads keyed by
// (topic, time) until the terminator flag arrives. Buffers are
// process-local and owned exclusively by the single ingest worker that
// calls Add and Sweep; no locking.
package reassembly

import (
	"fmt"
	"time"
)

// key identifies one in-flight fragment buffer.
type key struct {
	topic   string
	time    string // the payload's "time" field, or "" if absent
	hasTime bool
}

type buffer struct {
	fields     map[string]any
	lastUpdate time.Time
}

// Reassembler buffers multi-fragment payloads until the terminator ("isend"
// == "1") fragment arrives, merging fields last-write-wins across fragments
// sharing a key.
type Reassembler struct {
	ttl     time.Duration
	buffers map[key]*buffer
}

// New creates a Reassembler with the given buffer TTL. A non-positive TTL
// disables expiry.
func New(ttl time.Duration) *Reassembler {
	return &Reassembler{
		ttl:     ttl,
		buffers: make(map[key]*buffer),
	}
}

func keyFor(topic string, payload map[string]any) key {
	if v, ok := payload["time"]; ok {
		return key{topic: topic, time: fmt.Sprint(v), hasTime: true}
	}
	return key{topic: topic, hasTime: false}
}

// Add processes one fragment. It returns (assembled, true) once the
// terminator fragment arrives, or (nil, false) while the logical message is
// still pending. A payload with no "isend" field at all is passed through
// unchanged and never buffered.
func (r *Reassembler) Add(topic string, payload map[string]any, now time.Time) (map[string]any, bool) {
	isend, ok := payload["isend"]
	if !ok {
		return payload, true
	}

	k := keyFor(topic, payload)

	existing, found := r.buffers[k]
	if found && r.ttl > 0 && now.Sub(existing.lastUpdate) > r.ttl {
		delete(r.buffers, k)
		found = false
	}

	if !found {
		existing = &buffer{fields: make(map[string]any)}
		r.buffers[k] = existing
	}

	for field, v := range payload {
		existing.fields[field] = v
	}
	existing.lastUpdate = now

	if fmt.Sprint(isend) != "1" {
		return nil, false
	}

	assembled := existing.fields
	delete(r.buffers, k)
	return assembled, true
}

// Sweep drops buffers that have not been updated within the TTL. Expired
// buffers are discarded silently; reassembly failure is never fatal.
func (r *Reassembler) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	dropped := 0
	for k, b := range r.buffers {
		if now.Sub(b.lastUpdate) > r.ttl {
			delete(r.buffers, k)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of in-flight buffers, for diagnostics/tests.
func (r *Reassembler) Len() int { return len(r.buffers) }
