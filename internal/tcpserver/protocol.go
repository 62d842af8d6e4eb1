// Package tcpserver implements the TCP protocol server: a heartbeat-driven
// three-phase request/response state machine per connection, IEEE-754
// float32/int64 binary decoding, and a process-wide round-robin response
// cycle shared across all clients.
package tcpserver

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// Heartbeat is the exact ASCII bytes a client sends to request the next
// response packet.
const Heartbeat = "GWCCCL0001"

// responseCycle holds the three canonical request packets, dispatched
// round-robin across all connected clients.
var responseCycle = [3][]byte{
	mustHex("01 26 00 00 00 06 01 03 0B B7 00 0A"),
	mustHex("01 6E 00 00 00 06 01 03 0B ED 00 06"),
	mustHex("01 B6 00 00 00 06 01 03 0C 83 00 08"),
}

func mustHex(s string) []byte {
	s = strings.ReplaceAll(s, " ", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("tcpserver: bad canonical response hex %q: %v", s, err))
	}
	return b
}

// ResponsePacket returns the canonical response packet for cycle index i
// (0, 1 or 2).
func ResponsePacket(i int) []byte {
	return responseCycle[i%3]
}

// expectedSubstring must appear in the uppercased hex of a client's reply
// (Modbus function code 03 preceded by unit id 01).
const expectedSubstring = "0103"

// ExtractResponseBody validates that the uppercased hex encoding of raw
// contains "0103", then strips that marker and the 2-hex-digit length
// byte immediately following it, returning the remaining hex payload.
func ExtractResponseBody(raw []byte) (string, bool) {
	upperHex := strings.ToUpper(hex.EncodeToString(raw))
	idx := strings.Index(upperHex, expectedSubstring)
	if idx < 0 {
		return "", false
	}
	rest := upperHex[idx+len(expectedSubstring):]
	if len(rest) < 2 {
		return "", false
	}
	return rest[2:], true
}

// chunkSize is the fixed hex-character width decoded at response index i:
// 8 hex chars (float32) for 0 and 1, 16 hex chars (int64) for 2.
func chunkSize(responseIndex int) int {
	if responseIndex == 2 {
		return 16
	}
	return 8
}

// DecodeFloat32Vector decodes hexBody as a sequence of big-endian IEEE-754
// float32 values, chunkSize(responseIndex) hex chars at a time. Any
// misalignment (length not a multiple of the chunk size, or odd hex) is a
// parse error.
func DecodeFloat32Vector(hexBody string, responseIndex int) ([]float32, error) {
	cs := chunkSize(responseIndex)
	if len(hexBody) == 0 || len(hexBody)%cs != 0 {
		return nil, fmt.Errorf("tcpserver: misaligned float32 payload: %d hex chars, chunk %d", len(hexBody), cs)
	}
	n := len(hexBody) / cs
	out := make([]float32, 0, n)
	for i := 0; i < n; i++ {
		chunk := hexBody[i*cs : (i+1)*cs]
		raw, err := hex.DecodeString(chunk)
		if err != nil {
			return nil, fmt.Errorf("tcpserver: bad hex chunk %q: %w", chunk, err)
		}
		bits := binary.BigEndian.Uint32(raw)
		out = append(out, math.Float32frombits(bits))
	}
	return out, nil
}

// DecodeInt64Vector decodes hexBody as a sequence of big-endian int64
// values, 16 hex chars at a time.
func DecodeInt64Vector(hexBody string) ([]int64, error) {
	const cs = 16
	if len(hexBody) == 0 || len(hexBody)%cs != 0 {
		return nil, fmt.Errorf("tcpserver: misaligned int64 payload: %d hex chars", len(hexBody))
	}
	n := len(hexBody) / cs
	out := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		chunk := hexBody[i*cs : (i+1)*cs]
		raw, err := hex.DecodeString(chunk)
		if err != nil {
			return nil, fmt.Errorf("tcpserver: bad hex chunk %q: %w", chunk, err)
		}
		out = append(out, int64(binary.BigEndian.Uint64(raw)))
	}
	return out, nil
}

// DecodeResponse decodes raw bytes received in response to a heartbeat at
// the given cycle index into the accumulator value for that index: index
// 0 and 1 decode to a float32 vector, index 2 to an int64 vector.
func DecodeResponse(raw []byte, responseIndex int) (floats []float32, ints []int64, err error) {
	body, ok := ExtractResponseBody(raw)
	if !ok {
		return nil, nil, fmt.Errorf("tcpserver: response missing %q marker", expectedSubstring)
	}
	if responseIndex == 2 {
		ints, err = DecodeInt64Vector(body)
		return nil, ints, err
	}
	floats, err = DecodeFloat32Vector(body, responseIndex)
	return floats, nil, err
}
