package resilience

import (
	"time"

	"syndicate/internal/platform"
)

type Options struct {
	TripFailures int
	OpenFor      time.Duration
	RatePerSec   float64
	Burst        int
	Now          Clock
}

// Layer bundles the per-platform guards the orchestrator consults before
// and after each connector call.
type Layer struct {
	Breaker   *Breaker
	Cooldowns *Cooldowns
	Pacer     *Pacer
	now       Clock
}

func New(opt Options) *Layer {
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	return &Layer{
		Breaker:   NewBreaker(opt.TripFailures, opt.OpenFor, now),
		Cooldowns: NewCooldowns(now),
		Pacer:     NewPacer(opt.RatePerSec, opt.Burst),
		now:       now,
	}
}

func (l *Layer) Now() time.Time { return l.now() }

type PlatformState struct {
	Failures      int        `json:"failures"`
	CircuitOpen   bool       `json:"circuit_open"`
	OpenUntil     *time.Time `json:"open_until,omitempty"`
	RateLimited   bool       `json:"rate_limited"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// Snapshot reports the guard state of every known platform.
func (l *Layer) Snapshot() map[platform.Platform]PlatformState {
	out := make(map[platform.Platform]PlatformState, len(platform.All))
	for _, p := range platform.All {
		bs := l.Breaker.State(p)
		st := PlatformState{Failures: bs.Failures, CircuitOpen: bs.Open}
		if bs.Open {
			t := bs.OpenUntil
			st.OpenUntil = &t
		}
		if until := l.Cooldowns.Until(p); !until.IsZero() {
			st.RateLimited = true
			st.CooldownUntil = &until
		}
		out[p] = st
	}
	return out
}
