package tcpserver

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"testing"
)

func TestResponsePacketCycles(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 6; i++ {
		p := ResponsePacket(i)
		seen[hex.EncodeToString(p)] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct canonical packets across the cycle, got %d", len(seen))
	}
}

func TestDecodeFloat32Vector(t *testing.T) {
	var want float32 = 12.5
	bits := math.Float32bits(want)
	raw := make([]byte, 4)
	binary.BigEndian.PutUint32(raw, bits)
	body := hex.EncodeToString(raw)

	got, err := DecodeFloat32Vector(body, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got %v, want [%v]", got, want)
	}
}

func TestDecodeFloat32VectorMisaligned(t *testing.T) {
	if _, err := DecodeFloat32Vector("ABCD", 0); err == nil {
		t.Fatal("expected error for misaligned hex body")
	}
}

func TestDecodeInt64Vector(t *testing.T) {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, 9000)
	body := hex.EncodeToString(raw)

	got, err := DecodeInt64Vector(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != 9000 {
		t.Fatalf("got %v, want [9000]", got)
	}
}

func TestExtractResponseBody(t *testing.T) {
	raw, _ := hex.DecodeString("01030B41424344")
	body, ok := ExtractResponseBody(raw)
	if !ok {
		t.Fatal("expected marker to be found")
	}
	if body != "41424344" {
		t.Fatalf("body = %q, want 41424344", body)
	}
}

func TestExtractResponseBodyMissingMarker(t *testing.T) {
	if _, ok := ExtractResponseBody([]byte{0xFF, 0xFF}); ok {
		t.Fatal("expected no marker to be found")
	}
}

func TestDecodeResponseIndex2IsInt64(t *testing.T) {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, 42)
	frame := append([]byte{0x01, 0x03, 0x08}, raw...)

	floats, ints, err := DecodeResponse(frame, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if floats != nil {
		t.Fatalf("expected nil floats for index 2, got %v", floats)
	}
	if len(ints) != 1 || ints[0] != 42 {
		t.Fatalf("ints = %v, want [42]", ints)
	}
}
