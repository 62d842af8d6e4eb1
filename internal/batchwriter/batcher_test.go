package batchwriter

import (
	"sync"
	"testing"
	"time"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]int
}

func (r *flushRecorder) flush(items []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, items)
}

func (r *flushRecorder) snapshot() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]int, len(r.batches))
	copy(out, r.batches)
	return out
}

func waitForBatches(t *testing.T, r *flushRecorder, n int) [][]int {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		batches := r.snapshot()
		if len(batches) >= n {
			return batches
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d batches, have %d", n, len(batches))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBatcherFlushesOnSize(t *testing.T) {
	rec := &flushRecorder{}
	b := New[int](100, 3, time.Hour, rec.flush)
	defer b.Stop()

	for i := 0; i < 3; i++ {
		b.Add(i)
	}

	batches := waitForBatches(t, rec, 1)
	if len(batches[0]) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batches[0]))
	}
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	rec := &flushRecorder{}
	b := New[int](100, 1000, 30*time.Millisecond, rec.flush)
	defer b.Stop()

	b.Add(7)

	batches := waitForBatches(t, rec, 1)
	if len(batches[0]) != 1 || batches[0][0] != 7 {
		t.Fatalf("batch = %v, want [7]", batches[0])
	}
}

func TestBatcherStopFlushesRemainder(t *testing.T) {
	rec := &flushRecorder{}
	b := New[int](100, 1000, time.Hour, rec.flush)

	b.Add(1)
	b.Add(2)
	b.Stop()

	batches := rec.snapshot()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches after Stop = %v, want one batch of 2", batches)
	}
}

func TestBatcherNoFlushWhenEmpty(t *testing.T) {
	rec := &flushRecorder{}
	b := New[int](100, 10, 10*time.Millisecond, rec.flush)
	defer b.Stop()

	time.Sleep(50 * time.Millisecond)
	if batches := rec.snapshot(); len(batches) != 0 {
		t.Fatalf("batches = %v, want none with nothing buffered", batches)
	}
}
