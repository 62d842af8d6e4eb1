package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cccl/grid-engine/internal/store"
)

// ndjsonRow is one exported line: the document fields flattened back into
// a single JSON object per NDJSON convention.
type ndjsonRow struct {
	Timestamp time.Time       `json:"timestamp"`
	DeviceID  string          `json:"device_id,omitempty"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
}

// Exporter reads time windows of a collection and uploads them as NDJSON.
type Exporter struct {
	store    *store.Store
	uploader *AsyncUploader
}

// NewExporter wires an Exporter over st, uploading through uploader.
func NewExporter(st *store.Store, uploader *AsyncUploader) *Exporter {
	return &Exporter{store: st, uploader: uploader}
}

// ExportWindow reads every document in collection with timestamp in
// [start, end), renders it as NDJSON, and enqueues it for upload under a
// key derived from the collection name and window.
func (e *Exporter) ExportWindow(ctx context.Context, collection string, start, end time.Time) error {
	docs, err := e.store.FindWindow(ctx, collection, start, end)
	if err != nil {
		return fmt.Errorf("archive: read window for %s: %w", collection, err)
	}
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		row := ndjsonRow{Timestamp: d.Timestamp, DeviceID: d.DeviceID, Topic: d.Topic, Payload: d.Payload}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("archive: encode row: %w", err)
		}
	}

	key := fmt.Sprintf("%s/%s_%s.ndjson", collection, start.UTC().Format("20060102T150405Z"), end.UTC().Format("20060102T150405Z"))
	e.uploader.Enqueue(key, buf.Bytes())
	return nil
}
