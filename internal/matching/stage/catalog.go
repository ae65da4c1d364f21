// Package stage drives a Relationship through its ordered stages.
package stage

import (
	"companion-workers/internal/models"
)

// RequirementTemplate describes one checklist item seeded when a stage begins.
type RequirementTemplate struct {
	Key    string
	Title  string
	Kind   models.RequirementKind
	Metric models.Metric
	Target int
}

// Catalog lists the requirements of every stage.
type Catalog map[models.Stage][]RequirementTemplate

// DefaultCatalog is the production checklist. Requirements of the last stage
// gate journey completion rather than an advance.
func DefaultCatalog() Catalog {
	return Catalog{
		models.StageGettingToKnow: {
			{Key: "messages", Title: "Exchange 20 messages", Kind: models.RequirementCounted, Metric: models.MetricMessages, Target: 20},
			{Key: "video_calls", Title: "Have 2 video calls", Kind: models.RequirementCounted, Metric: models.MetricVideoCalls, Target: 2},
			{Key: "first_meeting", Title: "Meet in person once", Kind: models.RequirementCounted, Metric: models.MetricMeetings, Target: 1},
		},
		models.StageTrialPeriod: {
			{Key: "meetings", Title: "Meet in person 4 times", Kind: models.RequirementCounted, Metric: models.MetricMeetings, Target: 4},
			{Key: "active_days", Title: "Stay in touch on 14 days", Kind: models.RequirementCounted, Metric: models.MetricActiveDays, Target: 14},
			{Key: "family_introduction", Title: "Introduce each other to family", Kind: models.RequirementManual},
		},
		models.StageOfficialCeremony: {
			{Key: "ceremony_planned", Title: "Agree on the ceremony", Kind: models.RequirementManual},
			{Key: "ceremony_held", Title: "Hold the ceremony", Kind: models.RequirementManual},
		},
		models.StageFamilyLife: {
			{Key: "monthly_meetings", Title: "Meet in person 8 times", Kind: models.RequirementCounted, Metric: models.MetricMeetings, Target: 8},
			{Key: "active_days", Title: "Stay in touch on 30 days", Kind: models.RequirementCounted, Metric: models.MetricActiveDays, Target: 30},
		},
	}
}

// Seed instantiates the requirements of stage for a new stage period.
func (c Catalog) Seed(stage models.Stage) []*models.StageRequirement {
	templates := c[stage]
	out := make([]*models.StageRequirement, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, &models.StageRequirement{
			Stage:  stage,
			Key:    tpl.Key,
			Title:  tpl.Title,
			Kind:   tpl.Kind,
			Metric: tpl.Metric,
			Target: tpl.Target,
		})
	}
	return out
}

// Evaluate derives progress from requirements and the stage counters:
// floor(satisfied / total * 100). No requirements means 0 and not met.
func Evaluate(reqs []*models.StageRequirement, metrics models.StageMetrics) (percent int, met bool) {
	if len(reqs) == 0 {
		return 0, false
	}
	done := 0
	for _, req := range reqs {
		if req.SatisfiedBy(metrics) {
			done++
		}
	}
	return done * 100 / len(reqs), done == len(reqs)
}
