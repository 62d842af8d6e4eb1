package mqttingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cccl/grid-engine/internal/metrics"
)

// Job is one fan-out operation (persist or broadcast) submitted per
// message.
type Job func(ctx context.Context) error

// FanoutPool is the fixed-size worker pool (default 4) that runs persist
// and broadcast operations off the worker's hot path. A job that does not
// finish within the configured timeout is abandoned (its goroutine keeps
// running to completion against the deadline-expired context, but the
// pool moves on) and counted as a fan-out error; the dequeue loop is
// never blocked waiting on it.
type FanoutPool struct {
	jobs    chan Job
	timeout time.Duration
	stats   *metrics.Stats
	log     zerolog.Logger
}

// NewFanoutPool starts workers goroutines draining a buffered job queue.
func NewFanoutPool(workers int, timeout time.Duration, stats *metrics.Stats, log zerolog.Logger) *FanoutPool {
	p := &FanoutPool{
		jobs:    make(chan Job, workers*64),
		timeout: timeout,
		stats:   stats,
		log:     log.With().Str("component", "fanout").Logger(),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues job for execution. If the pool is saturated, the job is
// dropped and counted as a fan-out error rather than blocking the caller:
// the worker loop's dequeue must never stall on a backed-up fan-out pool.
func (p *FanoutPool) Submit(job Job) {
	select {
	case p.jobs <- job:
	default:
		if p.stats != nil {
			p.stats.IncFanoutErrors()
		}
		p.log.Warn().Msg("fanout pool saturated, dropping job")
	}
}

func (p *FanoutPool) worker() {
	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		errCh := make(chan error, 1)
		go func() { errCh <- job(ctx) }()
		var err error
		select {
		case err = <-errCh:
		case <-ctx.Done():
			err = ctx.Err()
		}
		cancel()
		if err != nil {
			if p.stats != nil {
				p.stats.IncFanoutErrors()
			}
			p.log.Warn().Err(err).Msg("fanout job failed")
		}
	}
}

// Stop closes the job queue. Callers must stop calling Submit before
// invoking Stop; the pipeline's shutdown sequence stops the worker loop
// (the pool's only producer) first, then calls Stop.
func (p *FanoutPool) Stop() {
	close(p.jobs)
}
