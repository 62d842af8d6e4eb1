package store

import (
	"context"
	"fmt"
	"time"
)

// PurgeOlderThan deletes rows older than the given retention period. Table
// and column names are supplied by the caller, never by untrusted input.
// The period is passed as seconds through make_interval; Go's duration
// string form is not a valid Postgres interval literal.
func (s *Store) PurgeOlderThan(ctx context.Context, table, timeColumn string, retention time.Duration) (int64, error) {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE %s < now() - make_interval(secs => $1)`,
		table, timeColumn,
	)
	tag, err := s.Pool.Exec(ctx, query, retention.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RetentionPolicy pairs a collection with its TTL.
type RetentionPolicy struct {
	Collection string
	TTL        time.Duration
}

// PurgeResult reports how many rows were purged from one collection.
type PurgeResult struct {
	Collection string
	Deleted    int64
	Err        error
}

// ApplyRetention runs PurgeOlderThan across every policy. Postgres has no
// native per-document TTL index, so this periodic pass stands in for one.
// A failure on one collection does not stop the others.
func (s *Store) ApplyRetention(ctx context.Context, policies []RetentionPolicy) []PurgeResult {
	results := make([]PurgeResult, 0, len(policies))
	for _, p := range policies {
		deleted, err := s.PurgeOlderThan(ctx, p.Collection, "timestamp", p.TTL)
		if err != nil {
			s.log.Warn().Err(err).Str("collection", p.Collection).Msg("retention purge failed")
		} else if deleted > 0 {
			s.log.Info().Str("collection", p.Collection).Int64("deleted", deleted).Msg("retention purge complete")
		}
		results = append(results, PurgeResult{Collection: p.Collection, Deleted: deleted, Err: err})
	}
	return results
}
