package prematch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalc(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	h := DefaultHolds()

	tests := []struct {
		name      string
		appliedAt time.Time
		want      Status
	}{
		{"just now", now, Status{}},
		{"six days twenty three hours", now.Add(-(7*day - time.Hour)), Status{DaysPassed: 6}},
		{"exactly seven days", now.Add(-7 * day), Status{DaysPassed: 7, CanApply: true}},
		{"thirteen and a half days", now.Add(-(13*day + 12*time.Hour)), Status{DaysPassed: 13, CanApply: true}},
		{"fourteen days", now.Add(-14 * day), Status{DaysPassed: 14, CanApply: true, IsExpired: true}},
		{"future timestamp", now.Add(time.Hour), Status{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Calc(h, tt.appliedAt, now))
		})
	}
}

func TestTimerIsPure(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	timer := NewTimer(DefaultHolds(), func() time.Time { return now })
	appliedAt := now.Add(-9 * day)

	first := timer.CalcPreMatchStatus(appliedAt)
	second := timer.CalcPreMatchStatus(appliedAt)
	assert.Equal(t, first, second)
	assert.Equal(t, 9, first.DaysPassed)
}

func TestExpiredBefore(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	timer := NewTimer(DefaultHolds(), func() time.Time { return now })
	assert.Equal(t, now.Add(-14*day), timer.ExpiredBefore())
}
