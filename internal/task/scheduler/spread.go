package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

// maxFirstRunDelay caps how long an interval job waits after registration
// before its first run.
const maxFirstRunDelay = 30 * time.Second

// staggered is an interval schedule whose first run lands at a random point
// inside the first window instead of a full interval after start. Due
// scheduled posts left over from a restart are swept within seconds, and
// jobs registered together do not all fire on the same tick.
type staggered struct {
	every time.Duration
	first time.Time
}

func (s staggered) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return cron.Every(s.every).Next(t)
}

// staggerEvery returns the schedule for an "@every" spec and the delay picked
// for its first run. pick returns a value in [0, n).
func staggerEvery(every time.Duration, now time.Time, pick func(n int64) int64) (cron.Schedule, time.Duration) {
	window := min(every, maxFirstRunDelay)
	if window <= 0 {
		return cron.Every(every), 0
	}
	if pick == nil {
		pick = rand.Int64N
	}
	delay := time.Duration(pick(int64(window)))
	return staggered{every: every, first: now.Add(delay)}, delay
}
