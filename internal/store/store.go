// Package store is the document store adapter: insert, find, and index
// management on collections, implemented over Postgres/JSONB via
// pgx/pgxpool. Each collection is a table of (timestamp, device_id, topic,
// payload jsonb) rows; a periodic purge over timestamp stands in for
// store-level TTL indexes (see retention.go).
package store

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store wraps the Postgres connection pool backing every document
// collection.
type Store struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect opens the pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 20
	cfg.MinConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("document store connected")

	return &Store{Pool: pool, log: log}, nil
}

// HealthCheck reports whether the pool can still reach Postgres.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			// url.UserPassword would percent-encode "***", so the masked
			// userinfo is spliced in after rendering the rest of the URL.
			user := url.User(u.User.Username()).String()
			u.User = nil
			return strings.Replace(u.String(), "://", "://"+user+":***@", 1)
		}
	}
	return u.String()
}

// Close releases the pool.
func (s *Store) Close() {
	s.log.Info().Msg("closing document store pool")
	s.Pool.Close()
}
