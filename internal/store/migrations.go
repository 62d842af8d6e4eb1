package store

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply against an
// existing document store, for changes introduced after a deployment's
// initial InitSchema run. Each must be idempotent (IF NOT EXISTS / IF
// EXISTS).
var migrations = []migration{
	{
		name:  "add telemetry_events.received_at",
		sql:   `ALTER TABLE telemetry_events ADD COLUMN IF NOT EXISTS received_at timestamptz NOT NULL DEFAULT now()`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'telemetry_events' AND column_name = 'received_at')`,
	},
	{
		name:  "add solar_data client_id index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_solar_data_device_id ON solar_data (device_id)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_solar_data_device_id')`,
	},
}

// Migrate runs all pending schema migrations. For each migration, it first
// checks whether the change is already present; if not, it applies it. If
// the apply fails (e.g. insufficient privileges), a *MigrationError is
// returned. The caller treats this as fatal since the application's
// queries depend on these columns existing.
func (s *Store) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := s.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := s.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		s.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	s.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails. It includes the SQL
// needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart grid-engine.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
