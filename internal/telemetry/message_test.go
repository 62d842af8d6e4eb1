package telemetry

import (
	"testing"
	"time"
)

func TestNormalizeFieldName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercase_and_trim", in: "  Volts(A) ", want: "volts_a"},
		{name: "slash", in: "kWh/day", want: "kwh_day"},
		{name: "percent", in: "load%", want: "loadpercent"},
		{name: "star", in: "freq*", want: "freq"},
		{name: "plus", in: "v+", want: "vplus"},
		{name: "minus", in: "v-12", want: "vminus12"},
		{name: "collapse_underscores", in: "a   b--c", want: "a_bminusminusc"},
		{name: "already_normal", in: "device_id", want: "device_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeFieldName(tt.in)
			if got != tt.want {
				t.Errorf("NormalizeFieldName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeFieldNameIsIdempotent(t *testing.T) {
	inputs := []string{"  Volts(A) ", "kWh/day", "a   b--c", "device_id", "A%B*C"}
	for _, in := range inputs {
		once := NormalizeFieldName(in)
		twice := NormalizeFieldName(once)
		if once != twice {
			t.Errorf("NormalizeFieldName not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestExtractDeviceID(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want string
	}{
		{name: "id_preferred", raw: map[string]any{"id": "dev1", "device_id": "dev2"}, want: "dev1"},
		{name: "fallback_device_id", raw: map[string]any{"device_id": "dev2"}, want: "dev2"},
		{name: "neither", raw: map[string]any{"foo": "bar"}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractDeviceID(tt.raw)
			if got != tt.want {
				t.Errorf("ExtractDeviceID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.UnixMilli(1700000000000).UTC()

	t.Run("epoch_ms_number", func(t *testing.T) {
		got, err := ParseTimestamp(float64(1700000000000))
		if err != nil {
			t.Fatalf("ParseTimestamp: %v", err)
		}
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("epoch_ms_string_matches_number", func(t *testing.T) {
		gotNum, _ := ParseTimestamp(float64(1700000000000))
		gotStr, err := ParseTimestamp("1700000000000")
		if err != nil {
			t.Fatalf("ParseTimestamp: %v", err)
		}
		if !gotNum.Equal(gotStr) {
			t.Errorf("number and string forms disagree: %v vs %v", gotNum, gotStr)
		}
	})

	t.Run("iso8601", func(t *testing.T) {
		got, err := ParseTimestamp("2023-11-14T22:13:20Z")
		if err != nil {
			t.Fatalf("ParseTimestamp: %v", err)
		}
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("unparseable", func(t *testing.T) {
		if _, err := ParseTimestamp("not-a-time"); err == nil {
			t.Error("expected error for unparseable timestamp")
		}
	})
}

func TestFlattenGeneratorPayload(t *testing.T) {
	t.Run("valid_shape", func(t *testing.T) {
		raw := []byte(`{"data":[{"tp":1700000000000,"point":[{"id":"v1","val":220.5},{"id":null,"val":99},{"id":"v2","val":"10.2"}]}]}`)
		out, ok := FlattenGeneratorPayload(raw)
		if !ok {
			t.Fatal("expected transform to apply")
		}
		if out["timestamp"] == nil {
			t.Error("missing timestamp field")
		}
		if out["v1"] != 220.5 {
			t.Errorf("v1 = %v, want 220.5", out["v1"])
		}
		if out["v2"] != "10.2" {
			t.Errorf("v2 = %v, want 10.2", out["v2"])
		}
		if _, present := out["null"]; present {
			t.Error("null-id entry should not be retained")
		}
	})

	t.Run("missing_data", func(t *testing.T) {
		if _, ok := FlattenGeneratorPayload([]byte(`{"data":[]}`)); ok {
			t.Error("expected no transform for empty data array")
		}
	})

	t.Run("malformed_json", func(t *testing.T) {
		if _, ok := FlattenGeneratorPayload([]byte(`not json`)); ok {
			t.Error("expected no transform for malformed json")
		}
	})
}

func TestValueAsFloat(t *testing.T) {
	tests := []struct {
		name   string
		v      Value
		want   float64
		wantOK bool
	}{
		{name: "number", v: Number(3.5), want: 3.5, wantOK: true},
		{name: "numeric_string", v: String(" 42.1 "), want: 42.1, wantOK: true},
		{name: "non_numeric_string", v: String("abc"), wantOK: false},
		{name: "null", v: Null, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.AsFloat()
			if ok != tt.wantOK {
				t.Fatalf("AsFloat ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("AsFloat = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1.23461, 1.235},
		{-1.23461, -1.235},
		{2.71828, 2.718},
		{0, 0},
	}
	for _, tt := range tests {
		got := RoundHalfAwayFromZero(tt.in, 3)
		if got != tt.want {
			t.Errorf("RoundHalfAwayFromZero(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
