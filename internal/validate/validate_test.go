package validate

import (
	"testing"

	"github.com/cccl/grid-engine/internal/telemetry"
)

func TestRulesMessage(t *testing.T) {
	r := NewRules("MQTT_RT_DATA", "ua", "MQTT_RT_DATA")

	t.Run("valid_message_passes", func(t *testing.T) {
		payload := map[string]telemetry.Value{
			"time":  telemetry.String("t1"),
			"isend": telemetry.String("1"),
			"ua":    telemetry.Number(1.0),
		}
		if err := r.Message("MQTT_RT_DATA", true, payload, "dev1"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("empty_topic_rejected", func(t *testing.T) {
		if err := r.Message("", true, map[string]telemetry.Value{}, "dev1"); err == nil {
			t.Error("expected error for empty topic")
		}
	})

	t.Run("missing_timestamp_rejected", func(t *testing.T) {
		if err := r.Message("MQTT_RT_DATA", false, map[string]telemetry.Value{}, "dev1"); err == nil {
			t.Error("expected error for missing timestamp")
		}
	})

	t.Run("nil_payload_rejected", func(t *testing.T) {
		if err := r.Message("MQTT_RT_DATA", true, nil, "dev1"); err == nil {
			t.Error("expected error for nil payload")
		}
	})

	t.Run("required_topic_missing_time", func(t *testing.T) {
		payload := map[string]telemetry.Value{"isend": telemetry.String("1"), "ua": telemetry.Number(1)}
		if err := r.Message("MQTT_RT_DATA", true, payload, "dev1"); err == nil {
			t.Error("expected error for missing payload.time")
		}
	})

	t.Run("required_topic_missing_required_field", func(t *testing.T) {
		payload := map[string]telemetry.Value{"time": telemetry.String("t1"), "isend": telemetry.String("1")}
		if err := r.Message("MQTT_RT_DATA", true, payload, "dev1"); err == nil {
			t.Error("expected error for missing required payload field ua")
		}
	})

	t.Run("unrelated_topic_skips_required_topic_rules", func(t *testing.T) {
		payload := map[string]telemetry.Value{}
		if err := r.Message("MQTT_DAY_DATA", true, payload, "dev1"); err != nil {
			t.Errorf("unexpected error for non-required topic: %v", err)
		}
	})

	t.Run("require_device_id_enforced", func(t *testing.T) {
		payload := map[string]telemetry.Value{
			"time":  telemetry.String("t1"),
			"isend": telemetry.String("1"),
			"ua":    telemetry.Number(1),
		}
		if err := r.Message("MQTT_RT_DATA", true, payload, ""); err == nil {
			t.Error("expected error for missing device_id on a require-device-id topic")
		}
	})
}
