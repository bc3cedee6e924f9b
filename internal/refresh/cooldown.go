package refresh

import (
	"sync"
	"time"
)

// Cooldown admits at most one action per key within the cooldown period.
type Cooldown struct {
	clock Clock
	mu    sync.Mutex
	last  map[string]time.Time
}

func NewCooldown(clock Clock) *Cooldown {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Cooldown{clock: clock, last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[key] = now
	return true
}

// Remaining reports how long key stays blocked.
func (c *Cooldown) Remaining(key string, cooldown time.Duration) time.Duration {
	c.mu.Lock()
	ts, ok := c.last[key]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	left := cooldown - c.clock.Now().Sub(ts)
	if left < 0 {
		return 0
	}
	return left
}
