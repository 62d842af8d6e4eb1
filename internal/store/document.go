package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Document is one row of any collection: timestamp, optional device id,
// topic, and the normalised payload mapping.
type Document struct {
	Timestamp time.Time
	DeviceID  string // empty stored as SQL NULL
	Topic     string
	Payload   json.RawMessage
}

// Insert writes a single document into the named collection.
func (s *Store) Insert(ctx context.Context, collection string, d Document) error {
	_, err := s.Pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (timestamp, device_id, topic, payload) VALUES ($1, $2, $3, $4)`, collection),
		d.Timestamp, nullableString(d.DeviceID), d.Topic, d.Payload,
	)
	return err
}

// BulkInsert performs an unordered batch insert of documents into a single
// collection: all inserts ride one round trip via pgx's native batch
// pipelining rather than N sequential Exec calls.
func (s *Store) BulkInsert(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	sql := fmt.Sprintf(`INSERT INTO %s (timestamp, device_id, topic, payload) VALUES ($1, $2, $3, $4)`, collection)
	for _, d := range docs {
		batch.Queue(sql, d.Timestamp, nullableString(d.DeviceID), d.Topic, d.Payload)
	}

	br := s.Pool.SendBatch(ctx, batch)
	defer br.Close()

	for range docs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ExistsForWindow is the aggregation engine's idempotency guard: does a
// (timestamp, device_id, topic) document already exist in the target
// collection?
func (s *Store) ExistsForWindow(ctx context.Context, collection string, windowEnd time.Time, deviceID, topic string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE timestamp = $1 AND device_id IS NOT DISTINCT FROM $2 AND topic = $3)`, collection),
		windowEnd, nullableString(deviceID), topic,
	).Scan(&exists)
	return exists, err
}

// InsertAggregated inserts d into collection unless a document already
// exists for its (timestamp, device_id, topic) key, per the idempotency
// guard. Returns (inserted=false, nil) on a guard hit.
func (s *Store) InsertAggregated(ctx context.Context, collection string, d Document) (bool, error) {
	exists, err := s.ExistsForWindow(ctx, collection, d.Timestamp, d.DeviceID, d.Topic)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.Insert(ctx, collection, d); err != nil {
		return false, err
	}
	return true, nil
}

// FindWindow reads every document in collection with timestamp in
// [start, end).
func (s *Store) FindWindow(ctx context.Context, collection string, start, end time.Time) ([]Document, error) {
	rows, err := s.Pool.Query(ctx,
		fmt.Sprintf(`SELECT timestamp, COALESCE(device_id, ''), topic, payload FROM %s WHERE timestamp >= $1 AND timestamp < $2`, collection),
		start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Timestamp, &d.DeviceID, &d.Topic, &d.Payload); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
