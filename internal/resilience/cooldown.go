package resilience

import (
	"sync"
	"time"

	"syndicate/internal/platform"
)

const DefaultCooldown = 60 * time.Second

// Cooldowns remembers until when each platform asked us to back off.
type Cooldowns struct {
	mu    sync.Mutex
	until map[platform.Platform]time.Time
	now   Clock
}

func NewCooldowns(now Clock) *Cooldowns {
	if now == nil {
		now = time.Now
	}
	return &Cooldowns{until: make(map[platform.Platform]time.Time), now: now}
}

// Set starts a cooldown for p ending at until. An earlier deadline never
// shortens a running cooldown.
func (c *Cooldowns) Set(p platform.Platform, until time.Time) {
	c.mu.Lock()
	if cur, ok := c.until[p]; !ok || until.After(cur) {
		c.until[p] = until
	}
	c.mu.Unlock()
}

// SetFor starts a cooldown of d, or DefaultCooldown when d is not positive,
// and returns its end.
func (c *Cooldowns) SetFor(p platform.Platform, d time.Duration) time.Time {
	if d <= 0 {
		d = DefaultCooldown
	}
	until := c.now().Add(d)
	c.Set(p, until)
	return until
}

// Active reports whether p is cooling down. Expired entries are dropped.
func (c *Cooldowns) Active(p platform.Platform) bool {
	return !c.Until(p).IsZero()
}

// Until returns the end of p's running cooldown, or zero.
func (c *Cooldowns) Until(p platform.Platform) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.until[p]
	if !ok {
		return time.Time{}
	}
	if !c.now().Before(until) {
		delete(c.until, p)
		return time.Time{}
	}
	return until
}

func (c *Cooldowns) Clear(p platform.Platform) {
	c.mu.Lock()
	delete(c.until, p)
	c.mu.Unlock()
}
