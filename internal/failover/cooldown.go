package failover

import (
	"sync"
	"time"
)

type CooldownConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier int
}

func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		Initial:    time.Minute,
		Max:        time.Hour,
		Multiplier: 5,
	}
}

type cooldownState struct {
	errorCount int
	until      time.Time
}

// Cooldowns tracks rate-limited providers. Each consecutive rate limit
// multiplies the pause, capped at Max; a success clears it.
type Cooldowns struct {
	config CooldownConfig

	mu    sync.Mutex
	state map[string]*cooldownState
}

func NewCooldowns(cfg CooldownConfig) *Cooldowns {
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &Cooldowns{config: cfg, state: make(map[string]*cooldownState)}
}

// Trip puts providerID into cooldown and returns how long it lasts.
func (c *Cooldowns) Trip(providerID string, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state[providerID]
	if !ok {
		s = &cooldownState{}
		c.state[providerID] = s
	}
	s.errorCount++
	d := c.calculateDuration(s.errorCount)
	s.until = now.Add(d)
	return d
}

func (c *Cooldowns) Reset(providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, providerID)
}

// Active reports whether providerID is still cooling down at now.
func (c *Cooldowns) Active(providerID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state[providerID]
	return ok && now.Before(s.until)
}

func (c *Cooldowns) calculateDuration(errorCount int) time.Duration {
	d := c.config.Initial
	for i := 1; i < errorCount; i++ {
		d *= time.Duration(c.config.Multiplier)
		if d > c.config.Max {
			return c.config.Max
		}
	}
	return d
}
