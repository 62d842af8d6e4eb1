package tcpserver

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/cccl/grid-engine/internal/batchwriter"
	"github.com/cccl/grid-engine/internal/broadcast"
	"github.com/cccl/grid-engine/internal/metrics"
	"github.com/cccl/grid-engine/internal/telemetry"
)

// LivenessToucher records that a solar client delivered a full document.
type LivenessToucher interface {
	Touch(ctx context.Context, topic, deviceID string, now time.Time) error
}

// connState is the per-connection state machine position: idle until a
// heartbeat triggers a request, awaiting-response until the reply for
// cycle index i lands. Once all three indices have landed, commit.
type connState int

const (
	stateIdle connState = iota
	stateAwaitingResponse
)

// accumulator holds the three decoded response vectors for one in-flight
// solar document, keyed by cycle index.
type accumulator struct {
	current           []float32 // response_0
	power             []float32 // response_1
	energyConsumption []int64   // response_2
	haveCurrent       bool
	havePower         bool
	haveEnergy        bool
}

func (a *accumulator) complete() bool {
	return a.haveCurrent && a.havePower && a.haveEnergy
}

func (a *accumulator) store(index int, floats []float32, ints []int64) {
	switch index {
	case 0:
		a.current = floats
		a.haveCurrent = true
	case 1:
		a.power = floats
		a.havePower = true
	case 2:
		a.energyConsumption = ints
		a.haveEnergy = true
	}
}

// connHandler runs the heartbeat protocol for one accepted connection.
type connHandler struct {
	conn   net.Conn
	cycle  *Cycle
	writer *batchwriter.SolarWriter
	bus    *broadcast.Bus
	live   LivenessToucher // may be nil
	stats  *metrics.Stats
	log    zerolog.Logger

	cfg ConnConfig
}

// ConnConfig tunes per-connection socket and retry behaviour.
type ConnConfig struct {
	RecvBufferBytes    int
	ClientTimeout      time.Duration
	TimeoutMaxRetries  int
	TimeoutBackoffBase time.Duration
	TimeoutBackoffMax  time.Duration
}

func (h *connHandler) clientID() string {
	return h.conn.RemoteAddr().String()
}

// run drives the per-connection loop until the socket closes or the
// timeout budget is exhausted.
func (h *connHandler) run() {
	defer h.conn.Close()

	state := stateIdle
	var awaiting int
	var retries int
	acc := &accumulator{}

	buf := make([]byte, h.cfg.RecvBufferBytes)

	for {
		h.conn.SetReadDeadline(time.Now().Add(h.cfg.ClientTimeout))
		n, err := h.conn.Read(buf)
		if err != nil {
			if isTimeout(err) && state == stateAwaitingResponse {
				retries++
				if retries > h.cfg.TimeoutMaxRetries {
					h.log.Debug().Str("client", h.clientID()).Msg("closing connection after exhausting timeout retries")
					return
				}
				if h.stats != nil {
					h.stats.IncTimeouts()
				}
				h.sleepBackoff(retries)
				continue
			}
			// Ordinary socket errors, or a timeout while idle, close the
			// connection.
			return
		}
		retries = 0

		frame := buf[:n]

		if string(frame) == Heartbeat {
			packet, idx := h.cycle.Next()
			if _, err := h.conn.Write(packet); err != nil {
				return
			}
			state = stateAwaitingResponse
			awaiting = idx
			continue
		}

		if state != stateAwaitingResponse {
			// Non-heartbeat bytes while idle: log and continue.
			h.log.Debug().Str("client", h.clientID()).Int("bytes", n).Msg("ignoring unexpected bytes while idle")
			continue
		}

		floats, ints, err := DecodeResponse(frame, awaiting)
		if err != nil {
			if h.stats != nil {
				h.stats.IncParseErrors()
			}
			h.log.Warn().Err(err).Str("client", h.clientID()).Msg("dropping malformed response, awaiting next heartbeat")
			state = stateIdle
			continue
		}

		acc.store(awaiting, floats, ints)
		state = stateIdle

		if acc.complete() {
			h.commit(acc)
			acc = &accumulator{}
		}
	}
}

func (h *connHandler) commit(acc *accumulator) {
	doc := batchwriter.SolarDoc{
		Timestamp:         time.Now().UTC(),
		ClientID:          h.clientID(),
		Current:           acc.current,
		Power:             acc.power,
		EnergyConsumption: acc.energyConsumption,
	}
	h.writer.Enqueue(doc)
	h.bus.Publish("tcp_telemetry", "solar_data", map[string]any{
		"client_id":          doc.ClientID,
		"timestamp":          doc.Timestamp,
		"current":            doc.Current,
		"power":              doc.Power,
		"energy_consumption": doc.EnergyConsumption,
	})
	if h.live != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := h.live.Touch(ctx, telemetry.TopicTCPSolar, doc.ClientID, time.Now()); err != nil {
			h.log.Warn().Err(err).Str("client", doc.ClientID).Msg("liveness touch failed")
		}
		cancel()
	}
}

func (h *connHandler) sleepBackoff(retry int) {
	backoff := h.cfg.TimeoutBackoffBase << uint(retry-1)
	if backoff > h.cfg.TimeoutBackoffMax || backoff <= 0 {
		backoff = h.cfg.TimeoutBackoffMax
	}
	time.Sleep(backoff)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
