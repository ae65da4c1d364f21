package stage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"
)

// DefaultMilestoneDays are the day counts celebrated once each.
var DefaultMilestoneDays = []int{7, 14, 30, 60, 90, 180, 365}

// SeenSet remembers which milestone keys were already presented.
type SeenSet interface {
	// MarkSeen records key and reports whether it was new.
	MarkSeen(ctx context.Context, key string) (bool, error)
}

// MilestoneInfo is the milestone projection of a relationship.
type MilestoneInfo struct {
	DaysTogether int  `json:"daysTogether"`
	Reached      *int `json:"reached,omitempty"`
	Next         int  `json:"next,omitempty"`
	DaysToNext   int  `json:"daysToNext,omitempty"`
}

type MilestoneTracker struct {
	thresholds []int
	seen       SeenSet
	now        func() time.Time
	logger     logger.Logger
}

func NewMilestoneTracker(thresholds []int, seen SeenSet, now func() time.Time, log logger.Logger) *MilestoneTracker {
	if len(thresholds) == 0 {
		thresholds = DefaultMilestoneDays
	}
	sorted := append([]int(nil), thresholds...)
	sort.Ints(sorted)
	if now == nil {
		now = time.Now
	}
	return &MilestoneTracker{thresholds: sorted, seen: seen, now: now, logger: logger.ForComponent(log, "milestones")}
}

// LoadMilestoneInfo computes days together since the relationship was
// created and reports the highest threshold crossed for the first time.
// Lower thresholds crossed at the same load are marked seen silently.
func (m *MilestoneTracker) LoadMilestoneInfo(ctx context.Context, rel *models.Relationship) (MilestoneInfo, error) {
	days := 0
	if elapsed := m.now().Sub(rel.CreatedAt); elapsed > 0 {
		days = int(elapsed / (24 * time.Hour))
	}
	info := MilestoneInfo{DaysTogether: days}

	for _, threshold := range m.thresholds {
		if threshold > days {
			info.Next = threshold
			info.DaysToNext = threshold - days
			break
		}
		fresh, err := m.seen.MarkSeen(ctx, fmt.Sprintf("milestone:%s:%d", rel.ID, threshold))
		if err != nil {
			return info, fmt.Errorf("mark milestone %d: %w", threshold, err)
		}
		if fresh {
			t := threshold
			info.Reached = &t
		}
	}
	if info.Reached != nil {
		m.logger.Info("milestone reached", map[string]interface{}{"relationshipId": rel.ID, "days": *info.Reached})
	}
	return info, nil
}
