package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"syndicate/internal/platform"
)

// Pacer spaces outbound calls per platform with a token bucket. A rate of
// zero or less disables pacing.
type Pacer struct {
	mu    sync.Mutex
	rps   float64
	burst int
	m     map[platform.Platform]*rate.Limiter
}

func NewPacer(rps float64, burst int) *Pacer {
	p := &Pacer{m: make(map[platform.Platform]*rate.Limiter)}
	p.SetRate(rps, burst)
	return p
}

func limitOf(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// SetRate changes the rate for every platform, including limiters already
// handed out.
func (p *Pacer) SetRate(rps float64, burst int) {
	if burst <= 0 {
		burst = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rps, p.burst = rps, burst
	for _, l := range p.m {
		l.SetLimit(limitOf(rps))
		l.SetBurst(burst)
	}
}

func (p *Pacer) limiter(pl platform.Platform) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l := p.m[pl]
	if l == nil {
		l = rate.NewLimiter(limitOf(p.rps), p.burst)
		p.m[pl] = l
	}
	return l
}

// Wait blocks until a call to pl may proceed or ctx is done.
func (p *Pacer) Wait(ctx context.Context, pl platform.Platform) error {
	if p == nil {
		return nil
	}
	return p.limiter(pl).Wait(ctx)
}
