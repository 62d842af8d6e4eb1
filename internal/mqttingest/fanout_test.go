package mqttingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cccl/grid-engine/internal/metrics"
)

func TestFanoutPoolRunsJobs(t *testing.T) {
	stats := &metrics.Stats{}
	pool := NewFanoutPool(2, time.Second, stats, zerolog.Nop())
	defer pool.Stop()

	var ran atomic.Int32
	done := make(chan struct{})
	pool.Submit(func(ctx context.Context) error {
		ran.Add(1)
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
	if ran.Load() != 1 {
		t.Fatalf("ran = %d, want 1", ran.Load())
	}
}

func TestFanoutPoolCountsErrors(t *testing.T) {
	stats := &metrics.Stats{}
	pool := NewFanoutPool(1, time.Second, stats, zerolog.Nop())
	defer pool.Stop()

	done := make(chan struct{})
	pool.Submit(func(ctx context.Context) error {
		defer close(done)
		return errors.New("boom")
	})
	<-done
	time.Sleep(10 * time.Millisecond)

	if stats.Snapshot().FanoutErrors != 1 {
		t.Fatalf("fanout_errors = %d, want 1", stats.Snapshot().FanoutErrors)
	}
}
