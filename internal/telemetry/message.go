package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message is the canonical unit flowing through the engine after
// reassembly, normalisation and validation.
type Message struct {
	DeviceID  string // empty means "no device id"
	Topic     string
	Timestamp time.Time
	Payload   map[string]Value
}

// HasDeviceID reports whether the message carries a non-empty device id.
func (m Message) HasDeviceID() bool { return m.DeviceID != "" }

var fieldReplacer = strings.NewReplacer(
	"(", "_",
	")", "",
	"/", "_",
	" ", "_",
	"%", "percent",
	"*", "",
	"+", "plus",
	"-", "minus",
)

// NormalizeFieldName canonicalises a payload field name: lowercase, trim,
// character substitution, then collapse repeated underscores. Idempotent.
func NormalizeFieldName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = fieldReplacer.Replace(s)
	var b strings.Builder
	prevUnderscore := false
	for _, r := range s {
		if r == '_' {
			if prevUnderscore {
				continue
			}
			prevUnderscore = true
		} else {
			prevUnderscore = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizePayload rewrites every key of raw through NormalizeFieldName and
// coerces every value to a Value.
func NormalizePayload(raw map[string]any) map[string]Value {
	out := make(map[string]Value, len(raw))
	for k, v := range raw {
		out[NormalizeFieldName(k)] = FromAny(v)
	}
	return out
}

// ExtractDeviceID prefers the payload's "id" field, falling back to
// "device_id".
func ExtractDeviceID(raw map[string]any) string {
	if v, ok := raw["id"]; ok {
		if s := anyToString(v); s != "" {
			return s
		}
	}
	if v, ok := raw["device_id"]; ok {
		return anyToString(v)
	}
	return ""
}

func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// ParseTimestamp normalises an epoch-ms integer, epoch-ms numeric string,
// or ISO-8601 string into a UTC instant. An epoch-ms value parses to the
// same instant whether it arrives as a number or as its string form.
func ParseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case json.Number:
		if ms, err := t.Int64(); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		return parseTimestampString(t.String())
	case string:
		return parseTimestampString(t)
	default:
		return time.Time{}, fmt.Errorf("telemetry: unsupported timestamp type %T", v)
	}
}

func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("telemetry: unparseable timestamp %q", s)
}

// generatorPoint is one entry in CCCL/PURBACHAL/ENM_01's "point" array.
type generatorPoint struct {
	ID  *string `json:"id"`
	Val any     `json:"val"`
}

type generatorEntry struct {
	TP    any              `json:"tp"`
	Point []generatorPoint `json:"point"`
}

type generatorEnvelope struct {
	Data []generatorEntry `json:"data"`
}

// FlattenGeneratorPayload transforms CCCL/PURBACHAL/ENM_01's envelope,
// {data: [{tp, point: [{id, val}, ...]}]}, into {timestamp: tp, <id>: <val>, ...}.
// Only non-null id entries survive. Shapes that don't match (missing
// data[0], wrong types) are left alone; the bool reports whether the
// transform applied.
func FlattenGeneratorPayload(raw []byte) (map[string]any, bool) {
	var env generatorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 {
		return nil, false
	}
	entry := env.Data[0]
	out := map[string]any{"timestamp": entry.TP}
	for _, p := range entry.Point {
		if p.ID == nil {
			continue
		}
		out[*p.ID] = p.Val
	}
	return out, true
}
