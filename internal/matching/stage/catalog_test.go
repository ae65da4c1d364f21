package stage

import (
	"testing"

	"companion-workers/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestDefaultCatalogCoversEveryStage(t *testing.T) {
	c := DefaultCatalog()
	for _, st := range models.StageOrder {
		reqs := c.Seed(st)
		assert.NotEmpty(t, reqs, st)
		for _, r := range reqs {
			assert.Equal(t, st, r.Stage)
			assert.False(t, r.Completed)
			if r.Kind == models.RequirementCounted {
				assert.True(t, r.Metric.IsValid(), r.Key)
				assert.Positive(t, r.Target, r.Key)
			}
		}
	}
}

func TestEvaluate(t *testing.T) {
	counted := func(m models.Metric, target int) *models.StageRequirement {
		return &models.StageRequirement{Kind: models.RequirementCounted, Metric: m, Target: target}
	}
	manual := func(done bool) *models.StageRequirement {
		return &models.StageRequirement{Kind: models.RequirementManual, Completed: done}
	}

	tests := []struct {
		name    string
		reqs    []*models.StageRequirement
		metrics models.StageMetrics
		percent int
		met     bool
	}{
		{"no requirements", nil, models.StageMetrics{}, 0, false},
		{"none satisfied", []*models.StageRequirement{counted(models.MetricMeetings, 2), manual(false)}, models.StageMetrics{Meetings: 1}, 0, false},
		{"one of three floors", []*models.StageRequirement{counted(models.MetricMeetings, 1), manual(false), manual(false)}, models.StageMetrics{Meetings: 3}, 33, false},
		{"two of three floors", []*models.StageRequirement{counted(models.MetricMeetings, 1), manual(true), manual(false)}, models.StageMetrics{Meetings: 1}, 66, false},
		{"all", []*models.StageRequirement{counted(models.MetricVideoCalls, 2), manual(true)}, models.StageMetrics{VideoCalls: 2}, 100, true},
		{"completed flag ignored for counted", []*models.StageRequirement{{Kind: models.RequirementCounted, Metric: models.MetricMessages, Target: 5, Completed: true}}, models.StageMetrics{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			percent, met := Evaluate(tt.reqs, tt.metrics)
			assert.Equal(t, tt.percent, percent)
			assert.Equal(t, tt.met, met)
		})
	}
}
