package cooling

import (
	"context"
	"time"
)

// Countdown is advisory display state. Every tick recomputes the remaining
// time from the end instant, so a late or missed tick never drifts.
type Countdown struct {
	endsAt   time.Time
	now      func() time.Time
	interval time.Duration
}

func NewCountdown(endsAt time.Time, now func() time.Time, interval time.Duration) *Countdown {
	if now == nil {
		now = time.Now
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{endsAt: endsAt, now: now, interval: interval}
}

// Remaining is the time left, never negative.
func (c *Countdown) Remaining() time.Duration {
	d := c.endsAt.Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}

// Run calls onTick with the remaining time immediately and then every
// interval. It returns nil after reporting zero, or ctx.Err() when cancelled.
func (c *Countdown) Run(ctx context.Context, onTick func(remaining time.Duration)) error {
	remaining := c.Remaining()
	onTick(remaining)
	if remaining == 0 {
		return nil
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			remaining = c.Remaining()
			onTick(remaining)
			if remaining == 0 {
				return nil
			}
		}
	}
}
