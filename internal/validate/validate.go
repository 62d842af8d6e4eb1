// Package validate enforces required envelope fields per topic.
// NormalizePayload/NormalizeFieldName live in internal/telemetry; this
// package only decides whether an assembled message is acceptable.
package validate

import (
	"fmt"
	"strings"

	"github.com/cccl/grid-engine/internal/telemetry"
)

// Rules configures validation strictness.
type Rules struct {
	// RequiredTopics is the set of topics for which payload.time and
	// payload.isend are additionally required.
	RequiredTopics map[string]bool
	// RequiredPayloadFields lists extra fields, beyond time/isend, that
	// RequiredTopics entries must also carry.
	RequiredPayloadFields []string
	// RequireDeviceIDTopics is the set of topics for which device_id must
	// be non-empty.
	RequireDeviceIDTopics map[string]bool
}

// NewRules builds Rules from the comma-separated configuration strings
// used by internal/config.
func NewRules(requiredTopics, requiredFields, requireDeviceIDTopics string) Rules {
	return Rules{
		RequiredTopics:        toSet(requiredTopics),
		RequiredPayloadFields: splitNonEmpty(requiredFields),
		RequireDeviceIDTopics: toSet(requireDeviceIDTopics),
	}
}

func toSet(csv string) map[string]bool {
	out := make(map[string]bool)
	for _, v := range splitNonEmpty(csv) {
		out[v] = true
	}
	return out
}

func splitNonEmpty(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Error describes why a message failed validation. It is never fatal:
// callers log it as a warning and drop the message.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "validation: " + e.Reason }

// Message validates a fully-assembled, normalised candidate message before
// it is accepted as a telemetry.Message.
func (r Rules) Message(topic string, hasTimestamp bool, payload map[string]telemetry.Value, deviceID string) error {
	if strings.TrimSpace(topic) == "" {
		return &Error{Reason: "topic is empty"}
	}
	if !hasTimestamp {
		return &Error{Reason: "timestamp is missing"}
	}
	if payload == nil {
		return &Error{Reason: "payload is not a mapping"}
	}

	if r.RequiredTopics[topic] {
		if _, ok := payload["time"]; !ok {
			return &Error{Reason: fmt.Sprintf("topic %q requires payload.time", topic)}
		}
		if _, ok := payload["isend"]; !ok {
			return &Error{Reason: fmt.Sprintf("topic %q requires payload.isend", topic)}
		}
		for _, field := range r.RequiredPayloadFields {
			if _, ok := payload[field]; !ok {
				return &Error{Reason: fmt.Sprintf("topic %q requires payload field %q", topic, field)}
			}
		}
	}

	if r.RequireDeviceIDTopics[topic] && deviceID == "" {
		return &Error{Reason: fmt.Sprintf("topic %q requires a non-empty device_id", topic)}
	}

	return nil
}
