// Package prematch derives the hold-period permissions of a pre-match chat.
package prematch

import "time"

const day = 24 * time.Hour

// Holds are the minimum and maximum pre-match hold periods in days.
type Holds struct {
	MinDays int
	MaxDays int
}

// DefaultHolds returns 7 and 14 days.
func DefaultHolds() Holds {
	return Holds{MinDays: 7, MaxDays: 14}
}

// Status is the derived timer state of one pre-match.
type Status struct {
	DaysPassed int  `json:"daysPassed"`
	CanApply   bool `json:"canApply"`
	IsExpired  bool `json:"isExpired"`
}

// Calc computes the timer state at now. Days are whole elapsed 24h periods,
// truncated; a future appliedAt counts as zero days.
func Calc(h Holds, appliedAt, now time.Time) Status {
	elapsed := now.Sub(appliedAt)
	days := 0
	if elapsed > 0 {
		days = int(elapsed / day)
	}
	return Status{
		DaysPassed: days,
		CanApply:   days >= h.MinDays,
		IsExpired:  days >= h.MaxDays,
	}
}

// Timer binds Holds to a clock.
type Timer struct {
	holds Holds
	now   func() time.Time
}

func NewTimer(h Holds, now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{holds: h, now: now}
}

func (t *Timer) Holds() Holds { return t.holds }

// Now is the timer's clock reading.
func (t *Timer) Now() time.Time { return t.now() }

// CalcPreMatchStatus evaluates appliedAt against the current clock.
func (t *Timer) CalcPreMatchStatus(appliedAt time.Time) Status {
	return Calc(t.holds, appliedAt, t.now())
}

// ExpiredBefore is the applied_at cutoff beyond which pre-matches are expired.
func (t *Timer) ExpiredBefore() time.Time {
	return t.now().Add(-time.Duration(t.holds.MaxDays) * day)
}
