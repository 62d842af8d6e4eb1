package archive

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestS3StoreObjectKeyAppliesPrefix(t *testing.T) {
	s := &S3Store{prefix: "grid-engine/"}
	if got := s.objectKey("solar_data/foo.ndjson"); got != "grid-engine/solar_data/foo.ndjson" {
		t.Fatalf("objectKey = %q", got)
	}
}

func TestS3StoreObjectKeyNoPrefix(t *testing.T) {
	s := &S3Store{}
	if got := s.objectKey("solar_data/foo.ndjson"); got != "solar_data/foo.ndjson" {
		t.Fatalf("objectKey = %q", got)
	}
}

func TestAsyncUploaderDropsWhenFullWithoutBlocking(t *testing.T) {
	u := NewAsyncUploader(&S3Store{}, 1, zerolog.Nop())
	// No workers started: the single buffered slot fills, the next Enqueue
	// must drop instead of blocking the caller.
	done := make(chan struct{})
	go func() {
		u.Enqueue("a", []byte("{}"))
		u.Enqueue("b", []byte("{}"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}
