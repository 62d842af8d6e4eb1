// Command gridcheck is an ad-hoc maintenance CLI against the document
// store: table counts by default, plus subcommands for inspecting device
// activity and pruning collections that accumulate obviously-bogus rows
// (empty topic, missing timestamp).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cccl/grid-engine/internal/telemetry"
)

func main() {
	pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	ctx := context.Background()

	if len(os.Args) > 1 && os.Args[1] == "cleanup" {
		cleanup(ctx, pool)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "devices" {
		topic := ""
		if len(os.Args) > 2 {
			topic = os.Args[2]
		}
		devices(ctx, pool, topic)
		return
	}

	// Default: per-collection row counts.
	fmt.Println("Collection                              Count")
	fmt.Println("──────────────────────────────────────────────")
	for _, coll := range telemetry.AllCollections {
		var count int64
		if err := pool.QueryRow(ctx, "SELECT count(*) FROM "+coll).Scan(&count); err != nil {
			fmt.Printf("%-40s (error: %v)\n", coll, err)
			continue
		}
		fmt.Printf("%-40s %d\n", coll, count)
	}
}

// cleanup deletes obviously-bogus rows: empty topic or null timestamp.
func cleanup(ctx context.Context, pool *pgxpool.Pool) {
	for _, coll := range telemetry.AllCollections {
		tag, err := pool.Exec(ctx, "DELETE FROM "+coll+" WHERE topic = '' OR timestamp IS NULL")
		if err != nil {
			fmt.Printf("%s: cleanup failed: %v\n", coll, err)
			continue
		}
		if tag.RowsAffected() > 0 {
			fmt.Printf("%s: deleted %d bogus rows\n", coll, tag.RowsAffected())
		}
	}
}

// devices lists distinct device_id values and their most recent
// timestamp in telemetry_events, optionally filtered to one topic:
// a quick liveness cross-check against the Redis index without needing
// a Redis client on hand.
func devices(ctx context.Context, pool *pgxpool.Pool, topic string) {
	query := `
		SELECT device_id, topic, max(timestamp) AS last_seen, count(*)
		FROM telemetry_events
		WHERE device_id IS NOT NULL AND device_id != ''`
	args := []any{}
	if topic != "" {
		query += " AND topic = $1"
		args = append(args, topic)
	}
	query += " GROUP BY device_id, topic ORDER BY last_seen DESC LIMIT 100"

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		fmt.Printf("query failed: %v\n", err)
		return
	}
	defer rows.Close()

	fmt.Println("device_id            topic                         last_seen                      count")
	fmt.Println("────────────────────────────────────────────────────────────────────────────────────────")
	for rows.Next() {
		var deviceID, t string
		var lastSeen any
		var count int64
		if err := rows.Scan(&deviceID, &t, &lastSeen, &count); err != nil {
			continue
		}
		fmt.Printf("%-20s %-28s %-30v %d\n", deviceID, t, lastSeen, count)
	}
}
