package archive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// AsyncUploader uploads NDJSON export blobs to S3 without blocking the
// caller: a bounded job queue drained by a small worker pool, dropping on
// overflow.
type AsyncUploader struct {
	store    *S3Store
	ch       chan uploadJob
	log      zerolog.Logger
	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type uploadJob struct {
	key  string
	data []byte
}

// NewAsyncUploader creates an async uploader with the given buffer size.
func NewAsyncUploader(store *S3Store, bufferSize int, log zerolog.Logger) *AsyncUploader {
	return &AsyncUploader{
		store: store,
		ch:    make(chan uploadJob, bufferSize),
		log:   log.With().Str("component", "archive-uploader").Logger(),
	}
}

// Enqueue schedules one NDJSON blob for upload. Non-blocking: drops with a
// warning if the queue is full, and drops silently once the uploader has
// been stopped.
func (u *AsyncUploader) Enqueue(key string, data []byte) {
	if u.stopped.Load() {
		return
	}
	select {
	case u.ch <- uploadJob{key: key, data: data}:
	default:
		u.log.Warn().Str("key", key).Msg("archive upload queue full, dropping export")
	}
}

// Start launches workers uploading queued jobs.
func (u *AsyncUploader) Start(workers int) {
	for i := 0; i < workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", workers).Int("buffer", cap(u.ch)).Msg("archive uploader started")
}

// Stop signals workers to drain the queue and waits for them to finish.
func (u *AsyncUploader) Stop() {
	u.stopped.Store(true)
	u.stopOnce.Do(func() { close(u.ch) })
	u.wg.Wait()
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		if err := u.store.Put(ctx, job.key, job.data); err != nil {
			u.log.Error().Err(err).Str("key", job.key).Msg("archive upload failed")
		}
		cancel()
	}
}
