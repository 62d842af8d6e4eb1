// Package aggregation implements the tiered rollup cascade: a table of
// jobs, each downsampling a source collection into a target collection by
// numeric averaging over aligned time windows, guarded against
// double-application by the store's idempotency check. Scheduling is
// ticker-driven, one ticker per distinct cadence in the table.
package aggregation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cccl/grid-engine/internal/store"
	"github.com/cccl/grid-engine/internal/telemetry"
)

// Job is one row of the rollup table: read Source over Window ending at a
// snapped boundary, average by (device_id, topic), write to Target.
type Job struct {
	Name   string
	Source string
	Target string
	Window time.Duration
}

// Jobs is the complete cascade: the RT tiers, the ENV mirror, and the
// ENY_NOW tiers. ENY_NOW's first hop is written at ingest time by
// mqttingest, not by a job here, because the source cadence is slower
// than one minute.
var Jobs = []Job{
	{Name: "rt_1m", Source: telemetry.CollGridRTData, Target: telemetry.CollTodayGridRT, Window: time.Minute},
	{Name: "rt_10m", Source: telemetry.CollTodayGridRT, Target: telemetry.CollLast7dGridRT, Window: 10 * time.Minute},
	{Name: "rt_30m", Source: telemetry.CollLast7dGridRT, Target: telemetry.CollLast30dGridRT, Window: 30 * time.Minute},
	{Name: "rt_3h", Source: telemetry.CollLast30dGridRT, Target: telemetry.CollLast6moGridRT, Window: 3 * time.Hour},
	{Name: "rt_6h", Source: telemetry.CollLast6moGridRT, Target: telemetry.CollThisYearGridRT, Window: 6 * time.Hour},

	{Name: "env_1m", Source: telemetry.CollEnvironment, Target: telemetry.CollTodayEnv, Window: time.Minute},
	{Name: "env_10m", Source: telemetry.CollTodayEnv, Target: telemetry.CollLast7dEnv, Window: 10 * time.Minute},
	{Name: "env_30m", Source: telemetry.CollLast7dEnv, Target: telemetry.CollLast30dEnv, Window: 30 * time.Minute},
	{Name: "env_3h", Source: telemetry.CollLast30dEnv, Target: telemetry.CollLast6moEnv, Window: 3 * time.Hour},
	{Name: "env_6h", Source: telemetry.CollLast6moEnv, Target: telemetry.CollThisYearEnv, Window: 6 * time.Hour},

	{Name: "eny_now_30m", Source: telemetry.CollTodayEnyNow, Target: telemetry.CollLast30dEnyNow, Window: 30 * time.Minute},
	{Name: "eny_now_3h", Source: telemetry.CollLast30dEnyNow, Target: telemetry.CollLast6moEnyNow, Window: 3 * time.Hour},
	{Name: "eny_now_6h", Source: telemetry.CollLast6moEnyNow, Target: telemetry.CollThisYearEnyNow, Window: 6 * time.Hour},
}

// windowEnd floors now to the current boundary of the job's cadence, so
// an invocation summarises the window that just completed, never the
// in-progress one. time.Time's zero instant falls on a clock-aligned
// minute/hour mark, so Truncate against the window duration lands on
// wall-clock boundaries (":00", every 10th/30th minute, every 3rd/6th
// hour) without a separate minute-vs-hour code path, and a ticker firing
// anywhere inside a window resolves to the same window_end.
func (j Job) windowEnd(now time.Time) time.Time {
	return now.UTC().Truncate(j.Window)
}

// Run executes one invocation of j against st: read the source window,
// group by (device_id, topic), average numeric fields, and write each
// group's rollup document under the idempotency guard.
func Run(ctx context.Context, st *store.Store, j Job, now time.Time, log zerolog.Logger) (written int, err error) {
	windowEnd := j.windowEnd(now)
	windowStart := windowEnd.Add(-j.Window)

	docs, err := st.FindWindow(ctx, j.Source, windowStart, windowEnd)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	groups := groupDocuments(docs)
	for key, group := range groups {
		payload := averageGroup(group)
		if len(payload) == 0 {
			continue
		}
		raw, merr := marshalPayload(payload)
		if merr != nil {
			log.Warn().Err(merr).Str("job", j.Name).Msg("failed to marshal aggregated payload")
			continue
		}
		doc := store.Document{
			Timestamp: windowEnd,
			DeviceID:  key.deviceID,
			Topic:     key.topic,
			Payload:   raw,
		}
		inserted, ierr := st.InsertAggregated(ctx, j.Target, doc)
		if ierr != nil {
			log.Error().Err(ierr).Str("job", j.Name).Str("target", j.Target).Msg("aggregation write failed")
			err = ierr
			continue
		}
		if inserted {
			written++
		}
	}
	return written, err
}
