package cooling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCountdownRemainingNeverNegative(t *testing.T) {
	clock := &steppingClock{now: t0}
	c := NewCountdown(t0.Add(90*time.Second), clock.Now, time.Second)
	assert.Equal(t, 90*time.Second, c.Remaining())

	clock.Add(time.Hour)
	assert.Zero(t, c.Remaining())
}

func TestCountdownRunStopsAtZero(t *testing.T) {
	clock := &steppingClock{now: t0}
	c := NewCountdown(t0.Add(3*time.Second), clock.Now, time.Millisecond)

	var seen []time.Duration
	err := c.Run(context.Background(), func(remaining time.Duration) {
		seen = append(seen, remaining)
		// the wall clock jumps further than one interval per tick
		clock.Add(2 * time.Second)
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second, time.Second, 0}, seen)
}

func TestCountdownRunAlreadyElapsed(t *testing.T) {
	c := NewCountdown(t0, func() time.Time { return t0.Add(time.Minute) }, time.Second)
	calls := 0
	require.NoError(t, c.Run(context.Background(), func(time.Duration) { calls++ }))
	assert.Equal(t, 1, calls)
}

func TestCountdownRunCancelled(t *testing.T) {
	c := NewCountdown(t0.Add(time.Hour), func() time.Time { return t0 }, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	ticks := 0
	err := c.Run(ctx, func(time.Duration) {
		ticks++
		if ticks == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, ticks, 3)
}
