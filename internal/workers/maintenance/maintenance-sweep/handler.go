// internal/workers/maintenance/maintenance-sweep/handler.go
package maintenancesweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"companion-workers/internal/common/camunda"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/matching/cooling"
	"companion-workers/internal/matching/effects"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "maintenance-sweep"

type CooldownSweeper interface {
	ApplyExpiredCooldowns(ctx context.Context, limit int) (cooling.SweepStats, error)
}

type PreMatchReminder interface {
	RemindExpired(ctx context.Context, limit int) (int, error)
}

type EffectReplayer interface {
	Replay(ctx context.Context, limit int) (effects.ReplayStats, error)
}

type Deps struct {
	Cooling  CooldownSweeper
	PreMatch PreMatchReminder
	Effects  EffectReplayer
}

// Handler runs the periodic housekeeping passes. Every pass is safe to
// repeat, so the job may be triggered by a workflow timer and by Loop at once.
type Handler struct {
	config *Config
	deps   Deps
	runner *camunda.JobRunner
	logger logger.Logger
}

func NewHandler(config *Config, deps Deps, runner *camunda.JobRunner, log logger.Logger) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Handler{config: config, deps: deps, runner: runner, logger: log.WithFields(map[string]interface{}{"taskType": TaskType})}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	var input Input
	h.runner.Run(client, job, &input, func(ctx context.Context) (interface{}, error) {
		return h.execute(ctx, &input)
	})
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	limit := input.BatchSize
	if limit == 0 {
		limit = h.config.BatchSize
	}

	var out Output
	var errs []error
	if h.deps.Cooling != nil {
		stats, err := h.deps.Cooling.ApplyExpiredCooldowns(ctx, limit)
		out.Cooldowns = stats
		if err != nil {
			errs = append(errs, fmt.Errorf("cooldowns: %w", err))
		}
	}
	if h.deps.PreMatch != nil {
		n, err := h.deps.PreMatch.RemindExpired(ctx, limit)
		out.PreMatchReminders = n
		if err != nil {
			errs = append(errs, fmt.Errorf("pre-match reminders: %w", err))
		}
	}
	if h.deps.Effects != nil {
		stats, err := h.deps.Effects.Replay(ctx, limit)
		out.SideEffects = stats
		if err != nil {
			errs = append(errs, fmt.Errorf("side effects: %w", err))
		}
	}

	h.logger.Info("maintenance sweep finished", map[string]interface{}{
		"cooldownsReviewed":  out.Cooldowns.Reviewed,
		"cooldownsResumed":   out.Cooldowns.Resumed,
		"cooldownsFinalized": out.Cooldowns.Finalized,
		"reminders":          out.PreMatchReminders,
		"effectsDelivered":   out.SideEffects.Delivered,
		"effectsRescheduled": out.SideEffects.Rescheduled,
		"failures":           len(errs),
	})
	if len(errs) > 0 {
		return &out, errors.Join(errs...)
	}
	return &out, nil
}

// Sweep runs one pass outside a workflow. A zero batchSize uses the
// configured default.
func (h *Handler) Sweep(ctx context.Context, batchSize int) (*Output, error) {
	if batchSize < 0 || batchSize > 1000 {
		return nil, fmt.Errorf("batch size %d out of range 1..1000", batchSize)
	}
	return h.execute(ctx, &Input{BatchSize: batchSize})
}

// Loop sweeps every Interval until ctx is done.
func (h *Handler) Loop(ctx context.Context) error {
	if h.config.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := h.Sweep(ctx, 0); err != nil {
				h.logger.Error("maintenance sweep failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
