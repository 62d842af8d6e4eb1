package aggregation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cccl/grid-engine/internal/store"
)

// cadenceGroup runs every Job sharing one tick interval on that interval's
// ticker.
type cadenceGroup struct {
	interval time.Duration
	jobs     []Job
}

// cadenceGroups buckets the job table by tick interval: jobs on a shared
// cadence are evaluated together on every tick, each still independently
// idempotency-guarded.
func cadenceGroups(jobs []Job) []cadenceGroup {
	order := []time.Duration{time.Minute, 10 * time.Minute, 30 * time.Minute, 3 * time.Hour, 6 * time.Hour}
	byInterval := make(map[time.Duration][]Job, len(order))
	for _, j := range jobs {
		byInterval[j.Window] = append(byInterval[j.Window], j)
	}
	groups := make([]cadenceGroup, 0, len(order))
	for _, interval := range order {
		if js, ok := byInterval[interval]; ok {
			groups = append(groups, cadenceGroup{interval: interval, jobs: js})
		}
	}
	return groups
}

// Scheduler runs the full Jobs cascade, one ticker per distinct cadence.
// Two jobs writing to the same target collection never overlap: each
// target appears in exactly one cadence group, and a group runs its jobs
// sequentially.
type Scheduler struct {
	store *store.Store
	log   zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler constructs a Scheduler over the given store.
func NewScheduler(st *store.Store, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store: st,
		log:   log.With().Str("component", "aggregation").Logger(),
		stop:  make(chan struct{}),
	}
}

// Start launches one goroutine per cadence group. Each group serialises
// its own jobs on one ticker tick so two jobs on the same cadence never
// race each other; jobs on different cadences are independent, and the
// idempotency guard makes any accidental overlap safe.
func (s *Scheduler) Start() {
	for _, g := range cadenceGroups(Jobs) {
		s.wg.Add(1)
		go s.runGroup(g)
	}
}

func (s *Scheduler) runGroup(g cadenceGroup) {
	defer s.wg.Done()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runOnce(g.jobs)
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) runOnce(jobs []Job) {
	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, j := range jobs {
		written, err := Run(ctx, s.store, j, now, s.log)
		if err != nil {
			s.log.Error().Err(err).Str("job", j.Name).Msg("aggregation job failed")
			continue
		}
		if written > 0 {
			s.log.Debug().Str("job", j.Name).Int("written", written).Msg("aggregation job wrote rollup documents")
		}
	}
}

// Stop signals every cadence goroutine to exit and waits for them.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}
