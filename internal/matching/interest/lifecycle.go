package interest

import (
	"context"
	"errors"
	"fmt"

	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/validation"
	"companion-workers/internal/matching/limits"
	"companion-workers/internal/matching/prematch"
	"companion-workers/internal/models"
	"companion-workers/internal/store"
)

// ExpressInterest creates a pending Interest from youthID to elderlyID. Both
// ceilings are checked up front; the check at accept time is authoritative.
func (e *Engine) ExpressInterest(ctx context.Context, youthID, elderlyID string) (*models.Interest, error) {
	if youthID == "" || elderlyID == "" || youthID == elderlyID {
		return nil, apperrors.NewValidationFailedError("youthId and elderlyId must be distinct and non-empty")
	}
	verdict, err := e.policy.CanStartPreMatch(ctx, youthID, elderlyID)
	if err != nil {
		return nil, err
	}
	if !verdict.Allowed {
		limits.Refused(verdict.Reason, limits.PhaseCreate)
		return nil, verdict.Err(e.policy.Ceilings())
	}

	now := e.now().UTC()
	in := &models.Interest{
		YouthID:         youthID,
		ElderlyID:       elderlyID,
		Status:          models.StatusPendingInterest,
		YouthDecision:   models.DecisionAccept,
		ElderlyDecision: models.DecisionPending,
		AppliedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreateInterest(ctx, in); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperrors.NewDuplicateInterestError(youthID, elderlyID)
		}
		return nil, store.Translate(err, "interest", youthID+"/"+elderlyID)
	}

	e.recorded(ctx, "none", in)
	e.notify(ctx, elderlyID, models.NotificationNewInterest, "Someone would like to meet you",
		"A young person has expressed interest in getting to know you.", in.ID)
	return in, nil
}

// RespondToInterest is the elderly party's answer to a pending Interest.
// Accepting re-checks both ceilings atomically with the status change.
func (e *Engine) RespondToInterest(ctx context.Context, actor models.Actor, interestID string, accept bool) (*models.Interest, error) {
	in, err := e.load(ctx, interestID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != in.ElderlyID {
		return nil, apperrors.NewNotAuthorizedError(actor.UserID, "only the elderly party may respond")
	}
	if err := requireStatus(in, models.StatusPendingInterest); err != nil {
		return nil, err
	}

	next := *in
	next.UpdatedAt = e.now().UTC()
	if !accept {
		next.Status = models.StatusRejected
		next.ElderlyDecision = models.DecisionDecline
		next.EndReason = models.EndReasonInterestDeclined
		saved, err := e.transition(ctx, &next, models.StatusPendingInterest)
		if err != nil {
			return nil, err
		}
		e.notify(ctx, in.YouthID, models.NotificationInterestDeclined, "Interest declined",
			"Your interest was declined. There are many others to meet.", in.ID)
		return saved, nil
	}

	next.Status = models.StatusPreChatActive
	next.ElderlyDecision = models.DecisionAccept
	saved, err := e.store.ActivatePreMatch(ctx, &next, e.policy.Admission())
	if err != nil {
		return nil, store.Translate(err, "interest", interestID)
	}
	e.recorded(ctx, models.StatusPendingInterest, saved)

	// the status change stands even if these fail; failures land in the outbox
	e.notify(ctx, in.YouthID, models.NotificationInterestAccepted, "Interest accepted",
		"Your interest was accepted. Say hello in your new chat.", in.ID)
	if e.effects != nil {
		e.effects.Welcome(ctx, models.WelcomeMessagePayload{ApplicationID: in.ID, YouthID: in.YouthID, ElderlyID: in.ElderlyID})
	}
	return saved, nil
}

// SubmitFormalApplication turns an active pre-match into an application for
// admin review once the minimum hold has passed. An application sent back
// with info_requested may be resubmitted at any time.
func (e *Engine) SubmitFormalApplication(ctx context.Context, actor models.Actor, interestID, letter string) (*models.Interest, error) {
	in, err := e.load(ctx, interestID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != in.YouthID {
		return nil, apperrors.NewNotAuthorizedError(actor.UserID, "only the youth party may apply")
	}
	if err := requireStatus(in, models.StatusPreChatActive, models.StatusInfoRequested); err != nil {
		return nil, err
	}
	if in.Status == models.StatusPreChatActive {
		if st := e.timer.CalcPreMatchStatus(in.AppliedAt); !st.CanApply {
			return nil, notEligible(e.timer.Holds(), st, in)
		}
	}
	if err := validation.Var(letter, "letter"); err != nil {
		return nil, err
	}

	from := in.Status
	next := *in
	next.Status = models.StatusPendingReview
	next.MotivationLetter = letter
	next.YouthDecision = models.DecisionAccept
	saved, err := e.transition(ctx, &next, from)
	if err != nil {
		return nil, err
	}
	e.index(ctx, saved)
	e.notify(ctx, in.ElderlyID, models.NotificationApplicationQueued, "Application submitted",
		"A formal application to match with you is being reviewed.", in.ID)
	return saved, nil
}

func notEligible(h prematch.Holds, st prematch.Status, in *models.Interest) error {
	remaining := h.MinDays - st.DaysPassed
	return apperrors.NewNotEligibleError(
		fmt.Sprintf("Formal applications open after %d days of chatting; %d passed so far", h.MinDays, st.DaysPassed),
		fmt.Sprintf("Keep chatting and apply again in %d day(s)", remaining),
	).WithMetadata("interestId", in.ID).WithMetadata("daysPassed", st.DaysPassed)
}

// RequestMoreInfo sends a pending application back to the youth.
func (e *Engine) RequestMoreInfo(ctx context.Context, actor models.Actor, interestID, note string) (*models.Interest, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	in, err := e.load(ctx, interestID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(in, models.StatusPendingReview); err != nil {
		return nil, err
	}
	next := *in
	next.Status = models.StatusInfoRequested
	saved, err := e.transition(ctx, &next, models.StatusPendingReview)
	if err != nil {
		return nil, err
	}
	e.index(ctx, saved)
	msg := "The review team needs more information about your application."
	if note != "" {
		msg += " " + note
	}
	e.notify(ctx, in.YouthID, models.NotificationInfoRequested, "More information needed", msg, in.ID)
	return saved, nil
}

// ReviewFormalApplication is the admin decision on a pending application.
// Approval hands the final decision to the elderly party.
func (e *Engine) ReviewFormalApplication(ctx context.Context, actor models.Actor, interestID string, approve bool, reason string) (*models.Interest, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	in, err := e.load(ctx, interestID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(in, models.StatusPendingReview); err != nil {
		return nil, err
	}

	reviewed := e.now().UTC()
	next := *in
	next.ReviewedAt = &reviewed
	if approve {
		next.Status = models.StatusApproved
		next.ElderlyDecision = models.DecisionPending
	} else {
		next.Status = models.StatusRejected
		next.EndReason = models.EndReasonReviewRejected
		next.RejectionReason = reason
	}
	saved, err := e.transition(ctx, &next, models.StatusPendingReview)
	if err != nil {
		return nil, err
	}
	e.index(ctx, saved)

	if approve {
		e.notify(ctx, in.YouthID, models.NotificationApplicationReview, "Application approved",
			"Your application was approved and is waiting for the final decision.", in.ID)
		e.notify(ctx, in.ElderlyID, models.NotificationDecisionRequired, "Your decision is needed",
			"An approved application is waiting for your answer.", in.ID)
	} else {
		e.notify(ctx, in.YouthID, models.NotificationApplicationReview, "Application not approved", reason, in.ID)
	}
	return saved, nil
}

// DecideApplication is the elderly party's final answer on an approved
// application. Accepting confirms the match.
func (e *Engine) DecideApplication(ctx context.Context, actor models.Actor, interestID string, accept bool, reason string) (*models.Interest, *models.Relationship, error) {
	in, err := e.load(ctx, interestID)
	if err != nil {
		return nil, nil, err
	}
	if actor.UserID != in.ElderlyID {
		return nil, nil, apperrors.NewNotAuthorizedError(actor.UserID, "only the elderly party may decide")
	}
	if err := requireStatus(in, models.StatusApproved); err != nil {
		return nil, nil, err
	}

	next := *in
	if !accept {
		next.Status = models.StatusRejected
		next.ElderlyDecision = models.DecisionDecline
		next.EndReason = models.EndReasonElderlyDeclined
		next.RejectionReason = reason
		saved, err := e.transition(ctx, &next, models.StatusApproved)
		if err != nil {
			return nil, nil, err
		}
		e.notify(ctx, in.YouthID, models.NotificationMatchDeclined, "Match declined", reason, in.ID)
		return saved, nil, nil
	}

	next.Status = models.StatusBothAccepted
	next.ElderlyDecision = models.DecisionAccept
	saved, err := e.transition(ctx, &next, models.StatusApproved)
	if err != nil {
		return nil, nil, err
	}
	e.notify(ctx, in.YouthID, models.NotificationMatchAccepted, "It's a match",
		"Your application was accepted. Your journey together starts now.", in.ID)
	rel, err := e.ConfirmMatch(ctx, in.ID)
	if err != nil {
		return saved, nil, err
	}
	return saved, rel, nil
}

// ConfirmMatch creates the Relationship of a both_accepted application. It
// is safe to repeat; the existing Relationship is returned.
func (e *Engine) ConfirmMatch(ctx context.Context, interestID string) (*models.Relationship, error) {
	in, err := e.load(ctx, interestID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(in, models.StatusBothAccepted); err != nil {
		return nil, err
	}
	existing, err := e.store.GetRelationshipByApplication(ctx, in.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, store.Translate(err, "relationship", in.ID)
	}

	now := e.now().UTC()
	first := models.StageOrder[0]
	rel := &models.Relationship{
		YouthID:          in.YouthID,
		ElderlyID:        in.ElderlyID,
		ApplicationID:    in.ID,
		CurrentStage:     first,
		StageStartDate:   now,
		Status:           models.RelationshipActive,
		EndRequestStatus: models.EndRequestNone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.CreateRelationship(ctx, rel, e.catalog.Seed(first)); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			existing, getErr := e.store.GetRelationshipByApplication(ctx, in.ID)
			return existing, store.Translate(getErr, "relationship", in.ID)
		}
		return nil, store.Translate(err, "relationship", in.ID)
	}
	e.logger.Info("relationship created", map[string]interface{}{"relationshipId": rel.ID, "interestId": in.ID})
	if e.effects != nil {
		e.effects.Emit(ctx, models.TableRelationships, models.OpInsert, rel.ID, rel, rel.YouthID, rel.ElderlyID)
	}
	return rel, nil
}

// EndPreMatch lets either party close an active pre-match chat.
func (e *Engine) EndPreMatch(ctx context.Context, actor models.Actor, interestID, reason string) (*models.Interest, error) {
	in, err := e.load(ctx, interestID)
	if err != nil {
		return nil, err
	}
	role, ok := in.PartyRole(actor.UserID)
	if !ok {
		return nil, apperrors.NewNotAuthorizedError(actor.UserID, "not a party to interest "+in.ID)
	}
	if err := requireStatus(in, models.StatusPreChatActive); err != nil {
		return nil, err
	}

	next := *in
	next.Status = models.StatusRejected
	next.EndReason = models.EndReasonPreMatchEnded
	next.RejectionReason = reason
	if role == models.RoleYouth {
		next.YouthDecision = models.DecisionDecline
	} else {
		next.ElderlyDecision = models.DecisionDecline
	}
	saved, err := e.transition(ctx, &next, models.StatusPreChatActive)
	if err != nil {
		return nil, err
	}
	e.notify(ctx, in.Counterpart(actor.UserID), models.NotificationPreMatchEnded, "Chat ended",
		"The other person has ended your pre-match chat.", in.ID)
	return saved, nil
}

// ConfirmRejection is the youth acknowledging a rejected Interest, which
// removes it and its chat.
func (e *Engine) ConfirmRejection(ctx context.Context, actor models.Actor, interestID string) error {
	in, err := e.load(ctx, interestID)
	if err != nil {
		return err
	}
	if actor.UserID != in.YouthID {
		return apperrors.NewNotAuthorizedError(actor.UserID, "only the youth party may confirm a rejection")
	}
	if err := requireStatus(in, models.StatusRejected); err != nil {
		return err
	}
	return e.remove(ctx, in)
}

// WithdrawInterest lets the youth take back an Interest the elderly party has
// not answered yet. The record stays as rejected until the youth confirms it.
func (e *Engine) WithdrawInterest(ctx context.Context, actor models.Actor, interestID, reason string) (*models.Interest, error) {
	in, err := e.load(ctx, interestID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != in.YouthID {
		return nil, apperrors.NewNotAuthorizedError(actor.UserID, "only the youth party may withdraw interest "+in.ID)
	}
	if err := requireStatus(in, models.StatusPendingInterest); err != nil {
		return nil, err
	}

	next := *in
	next.Status = models.StatusRejected
	next.EndReason = models.EndReasonWithdrawn
	next.RejectionReason = reason
	next.YouthDecision = models.DecisionDecline
	return e.transition(ctx, &next, models.StatusPendingInterest)
}

// DeleteApplication is the youth's explicit delete of a rejected Interest.
// Nobody else may destroy the record, and nothing short of rejected can be
// deleted.
func (e *Engine) DeleteApplication(ctx context.Context, actor models.Actor, interestID string) error {
	in, err := e.load(ctx, interestID)
	if err != nil {
		return err
	}
	if actor.UserID != in.YouthID {
		return apperrors.NewNotAuthorizedError(actor.UserID, "only the youth party may delete interest "+in.ID)
	}
	if err := requireStatus(in, models.StatusRejected); err != nil {
		return err
	}
	return e.remove(ctx, in)
}

// remove deletes messages first so a failure leaves the record to retry against.
func (e *Engine) remove(ctx context.Context, in *models.Interest) error {
	if err := e.store.DeleteMessagesByApplication(ctx, in.ID); err != nil {
		return store.Translate(err, "messages", in.ID)
	}
	if err := e.store.DeleteInterest(ctx, in.ID, in.Status); err != nil {
		return store.Translate(err, "interest", in.ID)
	}
	e.logger.Info("interest deleted", map[string]interface{}{"interestId": in.ID, "status": string(in.Status)})
	e.emit(ctx, models.OpDelete, in)
	return nil
}

// GetPreMatchStatus reports the hold-period state of an Interest.
func (e *Engine) GetPreMatchStatus(ctx context.Context, interestID string) (prematch.Status, error) {
	in, err := e.load(ctx, interestID)
	if err != nil {
		return prematch.Status{}, err
	}
	return e.timer.CalcPreMatchStatus(in.AppliedAt), nil
}
