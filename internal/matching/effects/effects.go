// Package effects runs the best-effort side effects of lifecycle transitions:
// notifications, welcome messages and change events. Failed notifications and
// welcome messages are retried inline, then parked in the outbox for Replay.
package effects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"companion-workers/internal/common/logger"
	"companion-workers/internal/common/metrics"
	"companion-workers/internal/models"
	"companion-workers/internal/store"
)

// maxReplayBackoff caps the delay between outbox replays of one side effect.
const maxReplayBackoff = time.Hour

// Notifier creates user notifications.
type Notifier interface {
	CreateNotification(ctx context.Context, req models.NotificationRequest) (*models.Notification, error)
}

// Publisher emits change events.
type Publisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

// Store is the persistence the runner needs.
type Store interface {
	GetInterest(ctx context.Context, id string) (*models.Interest, error)
	store.MessageStore
	store.OutboxStore
}

type Config struct {
	Attempts int
	Backoff  time.Duration
}

type Runner struct {
	cfg       Config
	store     Store
	notifier  Notifier
	publisher Publisher
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	logger    logger.Logger
}

func NewRunner(cfg Config, st Store, notifier Notifier, publisher Publisher, log logger.Logger) *Runner {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Runner{
		cfg:       cfg,
		store:     st,
		notifier:  notifier,
		publisher: publisher,
		now:       time.Now,
		sleep:     sleepCtx,
		logger:    logger.ForComponent(log, "side-effects"),
	}
}

// WithClock overrides the clock used for outbox scheduling.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retry runs fn up to Attempts times with doubling backoff.
func (r *Runner) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	backoff := r.cfg.Backoff
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == r.cfg.Attempts {
			break
		}
		if sleepErr := r.sleep(ctx, backoff); sleepErr != nil {
			return fmt.Errorf("%w (retry aborted: %v)", err, sleepErr)
		}
		backoff *= 2
	}
	return err
}

// Notify delivers req, parking it on exhaustion. It reports whether delivery
// succeeded inline.
func (r *Runner) Notify(ctx context.Context, req models.NotificationRequest) bool {
	if r.notifier == nil {
		return false
	}
	err := r.retry(ctx, func(ctx context.Context) error {
		_, err := r.notifier.CreateNotification(ctx, req)
		return err
	})
	if err == nil {
		return true
	}
	r.logger.Warn("notification failed, parking", map[string]interface{}{
		"userId": req.UserID, "type": string(req.Type), "referenceId": req.ReferenceID, "error": err.Error(),
	})
	r.park(ctx, models.SideEffectNotification, req.ReferenceID, req, err)
	return false
}

// Welcome creates the system welcome message of a new pre-match chat,
// parking it on exhaustion.
func (r *Runner) Welcome(ctx context.Context, p models.WelcomeMessagePayload) bool {
	err := r.retry(ctx, func(ctx context.Context) error {
		_, err := r.store.CreateWelcomeMessage(ctx, p.ApplicationID, p.YouthID, p.ElderlyID)
		return err
	})
	if err == nil {
		return true
	}
	r.logger.Error("welcome message failed, parking", map[string]interface{}{
		"applicationId": p.ApplicationID, "error": err.Error(),
	})
	r.park(ctx, models.SideEffectWelcomeMessage, p.ApplicationID, p, err)
	return false
}

func (r *Runner) park(ctx context.Context, kind models.SideEffectKind, ref string, payload interface{}, cause error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("encode parked side effect", map[string]interface{}{"kind": string(kind), "error": err.Error()})
		return
	}
	se := &models.SideEffect{
		Kind:        kind,
		ReferenceID: ref,
		Payload:     raw,
		Attempts:    r.cfg.Attempts,
		LastError:   cause.Error(),
		CreatedAt:   r.now().UTC(),
		NextAttempt: r.now().UTC().Add(r.cfg.Backoff),
	}
	// the caller's ctx may be the one that timed out
	parkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.ParkSideEffect(parkCtx, se); err != nil {
		r.logger.Error("failed to park side effect", map[string]interface{}{
			"kind": string(kind), "referenceId": ref, "error": err.Error(),
		})
		return
	}
	metrics.SideEffectsParked.WithLabelValues(string(kind)).Inc()
}

// Emit publishes a change event for a completed write. Failures are logged.
func (r *Runner) Emit(ctx context.Context, table models.Table, op models.Operation, recordID string, row interface{}, userIDs ...string) {
	if r.publisher == nil {
		return
	}
	ev, err := models.NewChangeEvent(table, op, recordID, row, userIDs...)
	if err != nil {
		r.logger.Error("build change event", map[string]interface{}{"table": string(table), "error": err.Error()})
		return
	}
	if req, ok := row.(*models.StageRequirement); ok {
		ev.RelationshipID = req.RelationshipID
	}
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.Warn("change event not published", map[string]interface{}{
			"kind": string(ev.Kind), "recordId": recordID, "error": err.Error(),
		})
	}
}

// ReplayStats summarizes one Replay pass.
type ReplayStats struct {
	Delivered   int `json:"delivered"`
	Rescheduled int `json:"rescheduled"`
	Dropped     int `json:"dropped"`
}

// Replay retries parked side effects that are due, once each.
func (r *Runner) Replay(ctx context.Context, limit int) (ReplayStats, error) {
	var stats ReplayStats
	due, err := r.store.DueSideEffects(ctx, r.now().UTC(), limit)
	if err != nil {
		return stats, fmt.Errorf("load due side effects: %w", err)
	}

	for _, se := range due {
		runErr := r.replayOne(ctx, se)
		switch {
		case runErr == nil:
			if err := r.store.DeleteSideEffect(ctx, se.ID); err != nil {
				return stats, fmt.Errorf("delete side effect %s: %w", se.ID, err)
			}
			stats.Delivered++
		case errorIsPermanent(runErr):
			r.logger.Error("dropping side effect", map[string]interface{}{"id": se.ID, "error": runErr.Error()})
			if err := r.store.DeleteSideEffect(ctx, se.ID); err != nil {
				return stats, fmt.Errorf("delete side effect %s: %w", se.ID, err)
			}
			stats.Dropped++
		default:
			attempts := se.Attempts + 1
			next := r.now().UTC().Add(replayBackoff(r.cfg.Backoff, attempts))
			if err := r.store.RescheduleSideEffect(ctx, se.ID, attempts, next, runErr.Error()); err != nil {
				return stats, fmt.Errorf("reschedule side effect %s: %w", se.ID, err)
			}
			stats.Rescheduled++
		}
	}
	return stats, nil
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }

func errorIsPermanent(err error) bool {
	_, ok := err.(permanentError)
	return ok
}

func (r *Runner) replayOne(ctx context.Context, se *models.SideEffect) error {
	switch se.Kind {
	case models.SideEffectNotification:
		var req models.NotificationRequest
		if err := json.Unmarshal(se.Payload, &req); err != nil {
			return permanentError{err}
		}
		if r.notifier == nil {
			return fmt.Errorf("no notifier configured")
		}
		_, err := r.notifier.CreateNotification(ctx, req)
		return err
	case models.SideEffectWelcomeMessage:
		var p models.WelcomeMessagePayload
		if err := json.Unmarshal(se.Payload, &p); err != nil {
			return permanentError{err}
		}
		if err := r.chatStillOpen(ctx, p.ApplicationID); err != nil {
			return err
		}
		_, err := r.store.CreateWelcomeMessage(ctx, p.ApplicationID, p.YouthID, p.ElderlyID)
		return err
	default:
		return permanentError{fmt.Errorf("unknown side effect kind %q", se.Kind)}
	}
}

// chatStillOpen fails permanently once the interest behind a parked welcome
// message is gone or rejected, so the message is never written to a closed chat.
func (r *Runner) chatStillOpen(ctx context.Context, applicationID string) error {
	in, err := r.store.GetInterest(ctx, applicationID)
	if errors.Is(err, store.ErrNotFound) {
		return permanentError{fmt.Errorf("interest %s no longer exists", applicationID)}
	}
	if err != nil {
		return err
	}
	if in.Status == models.StatusPendingInterest || in.Status == models.StatusRejected {
		return permanentError{fmt.Errorf("interest %s is %s, chat is closed", applicationID, in.Status)}
	}
	return nil
}

func replayBackoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempts && d < maxReplayBackoff; i++ {
		d *= 2
	}
	if d > maxReplayBackoff {
		d = maxReplayBackoff
	}
	return d
}
