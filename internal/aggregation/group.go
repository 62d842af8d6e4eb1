package aggregation

import (
	"encoding/json"

	"github.com/cccl/grid-engine/internal/store"
	"github.com/cccl/grid-engine/internal/telemetry"
)

// groupKey is the (device_id, topic) grouping key for a rollup window.
type groupKey struct {
	deviceID string
	topic    string
}

// fieldAccumulator tracks a running sum/count for one payload field across
// a group's documents.
type fieldAccumulator struct {
	sum   float64
	count int
}

func groupDocuments(docs []store.Document) map[groupKey]map[string]*fieldAccumulator {
	groups := make(map[groupKey]map[string]*fieldAccumulator)
	for _, d := range docs {
		key := groupKey{deviceID: d.DeviceID, topic: d.Topic}
		fields := groups[key]
		if fields == nil {
			fields = make(map[string]*fieldAccumulator)
			groups[key] = fields
		}

		var payload map[string]json.RawMessage
		if err := json.Unmarshal(d.Payload, &payload); err != nil {
			continue
		}
		for name, raw := range payload {
			var v telemetry.Value
			if err := v.UnmarshalJSON(raw); err != nil {
				continue
			}
			f, ok := v.AsFloat()
			if !ok {
				continue
			}
			acc := fields[name]
			if acc == nil {
				acc = &fieldAccumulator{}
				fields[name] = acc
			}
			acc.sum += f
			acc.count++
		}
	}
	return groups
}

// averageGroup reduces one group's per-field accumulators to the rounded
// mean payload. Fields with zero count are omitted.
func averageGroup(fields map[string]*fieldAccumulator) map[string]float64 {
	out := make(map[string]float64, len(fields))
	for name, acc := range fields {
		if acc.count == 0 {
			continue
		}
		out[name] = telemetry.RoundHalfAwayFromZero(acc.sum/float64(acc.count), 3)
	}
	return out
}

func marshalPayload(fields map[string]float64) (json.RawMessage, error) {
	return json.Marshal(fields)
}
