package store

import (
	"context"
	"fmt"

	"github.com/cccl/grid-engine/internal/telemetry"
)

// rawCollections are written with a raw per-ingest cadence and legitimately
// contain repeated (timestamp, device_id, topic) keys, so no uniqueness
// constraint applies to them.
var rawCollections = map[string]bool{
	telemetry.CollGridRTData:      true,
	telemetry.CollGridEnyNow:      true,
	telemetry.CollGridDayData:     true,
	telemetry.CollGridEnyFrz:      true,
	telemetry.CollEnvironment:     true,
	telemetry.CollGenerator:       true,
	telemetry.CollSolar:           true,
	telemetry.CollTelemetryEvents: true,
}

// InitSchema creates every collection in telemetry.AllCollections,
// checking telemetry_events' existence as the proxy for "already
// initialised". It probes for the TimescaleDB extension and creates
// hypertables when available, falling back to ordinary tables with
// btree/GIN indexes otherwise.
func (s *Store) InitSchema(ctx context.Context) error {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = $1)`,
		telemetry.CollTelemetryEvents,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		s.log.Debug().Msg("document store schema already initialized, skipping")
		return nil
	}

	hasTimescale, err := s.hasTimescaleDB(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("could not probe for timescaledb extension, falling back to ordinary tables")
	}

	s.log.Info().Bool("timescaledb", hasTimescale).Msg("fresh document store detected, applying schema")

	for _, coll := range telemetry.AllCollections {
		if err := s.createCollection(ctx, coll, hasTimescale); err != nil {
			return fmt.Errorf("create collection %s: %w", coll, err)
		}
	}

	if _, err := s.Pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_timestamp_topic ON %s (timestamp, topic)`,
		telemetry.CollTelemetryEvents, telemetry.CollTelemetryEvents,
	)); err != nil {
		return fmt.Errorf("create telemetry_events compound index: %w", err)
	}

	s.log.Info().Int("collections", len(telemetry.AllCollections)).Msg("document store schema applied")
	return nil
}

func (s *Store) hasTimescaleDB(ctx context.Context) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`,
	).Scan(&exists)
	return exists, err
}

func (s *Store) createCollection(ctx context.Context, name string, hypertable bool) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		timestamp timestamptz NOT NULL,
		device_id text,
		topic text NOT NULL,
		payload jsonb NOT NULL DEFAULT '{}'::jsonb
	)`, name)
	if _, err := s.Pool.Exec(ctx, ddl); err != nil {
		return err
	}

	if hypertable {
		_, err := s.Pool.Exec(ctx, fmt.Sprintf(
			`SELECT create_hypertable('%s', 'timestamp', if_not_exists => TRUE, migrate_data => TRUE)`, name,
		))
		if err != nil {
			s.log.Warn().Err(err).Str("collection", name).Msg("create_hypertable failed, keeping ordinary table")
		}
	}

	if _, err := s.Pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_timestamp ON %s (timestamp)`, name, name,
	)); err != nil {
		return err
	}
	if _, err := s.Pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_payload ON %s USING gin (payload)`, name, name,
	)); err != nil {
		return err
	}

	if rawCollections[name] {
		return nil
	}
	_, err := s.Pool.Exec(ctx, fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_%s_ts_device_topic ON %s (timestamp, COALESCE(device_id, ''), topic)`, name, name,
	))
	return err
}
