package interest

import (
	"context"
	"errors"

	"companion-workers/internal/models"
	"companion-workers/internal/store"
)

// ListExpiredPreMatches returns active pre-matches past the maximum hold.
func (e *Engine) ListExpiredPreMatches(ctx context.Context, limit int) ([]*models.Interest, error) {
	out, err := e.store.ListInterests(ctx, store.InterestFilter{
		Statuses:      []models.InterestStatus{models.StatusPreChatActive},
		AppliedBefore: e.timer.ExpiredBefore(),
		Limit:         limit,
	})
	if err != nil {
		return nil, store.Translate(err, "interest", "expired")
	}
	return out, nil
}

// RemindExpired asks both parties of each expired pre-match to either apply
// or end the chat. Each pre-match is reminded once.
func (e *Engine) RemindExpired(ctx context.Context, limit int) (int, error) {
	expired, err := e.store.ListInterests(ctx, store.InterestFilter{
		Statuses:       []models.InterestStatus{models.StatusPreChatActive},
		AppliedBefore:  e.timer.ExpiredBefore(),
		ReminderUnsent: true,
		Limit:          limit,
	})
	if err != nil {
		return 0, store.Translate(err, "interest", "expired")
	}

	reminded := 0
	for _, in := range expired {
		at := e.now().UTC()
		next := *in
		next.ReminderSentAt = &at
		next.UpdatedAt = at
		if _, err := e.store.UpdateInterest(ctx, &next, models.StatusPreChatActive); err != nil {
			if errors.Is(err, store.ErrPreconditionFailed) {
				continue
			}
			return reminded, store.Translate(err, "interest", in.ID)
		}
		msg := "Your pre-match chat has reached its time limit. Submit a formal application or end the chat."
		e.notify(ctx, in.YouthID, models.NotificationDecisionRequired, "Time to decide", msg, in.ID)
		e.notify(ctx, in.ElderlyID, models.NotificationDecisionRequired, "Time to decide", msg, in.ID)
		reminded++
	}
	if reminded > 0 {
		e.logger.Info("expired pre-matches reminded", map[string]interface{}{"count": reminded})
	}
	return reminded, nil
}
