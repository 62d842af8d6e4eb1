// Package health implements the /health endpoint: per-dependency checks
// rolled up into one status field, plus the shared counter snapshot.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cccl/grid-engine/internal/broadcast"
	"github.com/cccl/grid-engine/internal/metrics"
	"github.com/cccl/grid-engine/internal/mqttclient"
	"github.com/cccl/grid-engine/internal/store"
)

// Response is the /health JSON body: every Stats counter plus a rolled-up
// status, per-dependency checks, and the broadcast bus state.
type Response struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Broadcast     *BroadcastInfo    `json:"broadcast,omitempty"`
	metrics.Snapshot
}

// BroadcastInfo reports per-group subscriber counts and cumulative publish
// counters for the WebSocket bus.
type BroadcastInfo struct {
	TelemetrySubscribers    int   `json:"telemetry_subscribers"`
	TCPTelemetrySubscribers int   `json:"tcp_telemetry_subscribers"`
	Published               int64 `json:"published"`
	DroppedPublishes        int64 `json:"dropped_publishes"`
}

// Handler serves /health, checking the store and MQTT broker live and
// folding the shared Stats snapshot in alongside them.
type Handler struct {
	store     *store.Store
	mqtt      *mqttclient.Client
	bus       *broadcast.Bus
	stats     *metrics.Stats
	startedAt time.Time
}

// New constructs a Handler. mqtt and bus may be nil when not configured;
// the corresponding check is reported accordingly.
func New(st *store.Store, mqtt *mqttclient.Client, bus *broadcast.Bus, stats *metrics.Stats) *Handler {
	return &Handler{store: st, mqtt: mqtt, bus: bus, stats: stats, startedAt: time.Now()}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.store != nil {
		if err := h.store.HealthCheck(ctx); err != nil {
			checks["store"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	} else {
		checks["store"] = "not_configured"
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := Response{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Checks:        checks,
	}
	if h.bus != nil {
		checks["broadcast"] = "ok"
		published, droppedPublishes := h.bus.Stats()
		resp.Broadcast = &BroadcastInfo{
			TelemetrySubscribers:    h.bus.Subscribers("telemetry"),
			TCPTelemetrySubscribers: h.bus.Subscribers("tcp_telemetry"),
			Published:               published,
			DroppedPublishes:        droppedPublishes,
		}
	}
	if h.stats != nil {
		resp.Snapshot = h.stats.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
