// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Failed jobs by error code and whether the broker retries them",
		},
		[]string{"task_type", "error_code", "outcome"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	InterestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interest_transitions_total",
			Help: "Interest status transitions by target status",
		},
		[]string{"from", "to"},
	)

	LimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prematch_limit_rejections_total",
			Help: "Pre-match admissions refused because a party was at its ceiling",
		},
		[]string{"party", "phase"},
	)

	StageAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relationship_stage_advances_total",
			Help: "Relationship stage advances by target stage",
		},
		[]string{"to_stage"},
	)

	WithdrawalEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relationship_withdrawal_events_total",
			Help: "Withdrawal sub-protocol outcomes",
		},
		[]string{"outcome"},
	)

	SideEffectsParked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "side_effects_parked_total",
			Help: "Side effects parked in the outbox after exhausting retries",
		},
		[]string{"kind"},
	)

	ChangeEventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_events_consumed_total",
			Help: "Change-feed events consumed by kind and result",
		},
		[]string{"kind", "result"},
	)
)
