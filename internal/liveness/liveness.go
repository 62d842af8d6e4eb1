// Package liveness tracks per-(topic, device) last-seen timestamps and
// online/offline status in Redis: a sorted set of device ids scored by
// last-seen epoch seconds per topic, plus a status memo key per device.
package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Status is the online/offline memo value.
type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)

// Threshold pairs a topic with its staleness threshold.
type Threshold struct {
	Topic     string
	Staleness time.Duration
}

// Event is emitted on an online→offline transition.
type Event struct {
	DeviceID string
	Status   Status
	LastSeen time.Time
	Topic    string
}

// Tracker is the Redis-backed liveness index.
type Tracker struct {
	client            *redis.Client
	log               zerolog.Logger
	deviceTrackPeriod time.Duration
}

// New creates a Tracker against the given Redis URL (e.g.
// "redis://localhost:6379/0"). It pings once to verify connectivity.
func New(redisURL string, deviceTrackPeriod time.Duration, log zerolog.Logger) (*Tracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("liveness: invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("liveness: redis ping failed: %w", err)
	}

	return &Tracker{client: client, log: log, deviceTrackPeriod: deviceTrackPeriod}, nil
}

func devicesKey(topic string) string { return "telemetry:devices:" + topic }
func statusKey(topic, deviceID string) string {
	return "telemetry:status:" + topic + ":" + deviceID
}

// Touch records an ingest for (topic, device) at now: ZADD score = now.
// Scores are monotonically non-decreasing because later touches always
// carry a later (or equal) wall-clock timestamp.
func (t *Tracker) Touch(ctx context.Context, topic, deviceID string, now time.Time) error {
	if deviceID == "" {
		return nil
	}
	err := t.client.ZAdd(ctx, devicesKey(topic), redis.Z{
		Score:  float64(now.Unix()),
		Member: deviceID,
	}).Err()
	if err != nil {
		return fmt.Errorf("liveness: zadd: %w", err)
	}
	// A fresh ingest implicitly transitions the memo back to online.
	return t.client.Set(ctx, statusKey(topic, deviceID), string(Online), t.deviceTrackPeriod).Err()
}

// Scan runs one pass of the periodic offline-detection job for the given
// threshold: purge devices older than deviceTrackPeriod, find devices whose
// last-seen score is at or before now-staleness, and transition any whose
// memo isn't already offline.
func (t *Tracker) Scan(ctx context.Context, th Threshold, now time.Time) ([]Event, error) {
	key := devicesKey(th.Topic)

	if t.deviceTrackPeriod > 0 {
		cutoff := now.Add(-t.deviceTrackPeriod)
		if err := t.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.Unix())).Err(); err != nil {
			return nil, fmt.Errorf("liveness: purge stale members: %w", err)
		}
	}

	staleCutoff := now.Add(-th.Staleness)
	members, err := t.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", staleCutoff.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("liveness: zrangebyscore: %w", err)
	}

	var events []Event
	for _, m := range members {
		deviceID, ok := m.Member.(string)
		if !ok {
			continue
		}
		lastSeen := time.Unix(int64(m.Score), 0).UTC()

		current, err := t.client.Get(ctx, statusKey(th.Topic, deviceID)).Result()
		if err != nil && err != redis.Nil {
			return events, fmt.Errorf("liveness: get status: %w", err)
		}
		if Status(current) == Offline {
			continue
		}

		if err := t.client.Set(ctx, statusKey(th.Topic, deviceID), string(Offline), t.deviceTrackPeriod).Err(); err != nil {
			return events, fmt.Errorf("liveness: set offline: %w", err)
		}
		events = append(events, Event{
			DeviceID: deviceID,
			Status:   Offline,
			LastSeen: lastSeen,
			Topic:    th.Topic,
		})
	}
	return events, nil
}

// Close releases the underlying Redis client.
func (t *Tracker) Close() error { return t.client.Close() }
