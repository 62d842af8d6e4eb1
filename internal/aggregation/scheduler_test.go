package aggregation

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCadenceGroupsBucketsEveryJobByWindow(t *testing.T) {
	groups := cadenceGroups(Jobs)

	total := 0
	for _, g := range groups {
		total += len(g.jobs)
		for _, j := range g.jobs {
			if j.Window != g.interval {
				t.Fatalf("job %q has window %v, grouped under cadence %v", j.Name, j.Window, g.interval)
			}
		}
	}
	if total != len(Jobs) {
		t.Fatalf("cadence groups cover %d jobs, want %d", total, len(Jobs))
	}
}

func TestCadenceGroupsOrderedFastestFirst(t *testing.T) {
	groups := cadenceGroups(Jobs)
	for i := 1; i < len(groups); i++ {
		if groups[i].interval < groups[i-1].interval {
			t.Fatalf("cadence groups out of order: %v before %v", groups[i-1].interval, groups[i].interval)
		}
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(nil, zerolog.Nop())
	s.Start()
	time.Sleep(10 * time.Millisecond)
	s.Stop()
}
