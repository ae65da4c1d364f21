// Package limits is the admission control for concurrent pre-matches.
package limits

import (
	"context"
	"fmt"

	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/metrics"
	"companion-workers/internal/models"
	"companion-workers/internal/store"
)

// Reason explains a refused admission.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonYouthLimit   Reason = "youth_limit_reached"
	ReasonElderlyLimit Reason = "elderly_limit_reached"
)

// Phases label where an admission check ran.
const (
	PhaseCreate = "create"
	PhaseAccept = "accept"
)

// Ceilings are the per-role limits on concurrent pre_chat_active Interests.
type Ceilings struct {
	Youth   int
	Elderly int
}

// DefaultCeilings returns youth 3, elderly 5.
func DefaultCeilings() Ceilings {
	return Ceilings{Youth: 3, Elderly: 5}
}

// For returns the ceiling of role. ok is false for roles that are exempt.
func (c Ceilings) For(role models.Role) (ceiling int, ok bool) {
	switch role {
	case models.RoleYouth:
		return c.Youth, true
	case models.RoleElderly:
		return c.Elderly, true
	default:
		return 0, false
	}
}

// Verdict is the outcome of CanStartPreMatch.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

// Evaluate applies the ceilings to live counts. Youth is checked before
// elderly, so a double violation reports the youth side.
func Evaluate(c Ceilings, youthActive, elderlyActive int) Verdict {
	if youthActive >= c.Youth {
		return Verdict{Reason: ReasonYouthLimit}
	}
	if elderlyActive >= c.Elderly {
		return Verdict{Reason: ReasonElderlyLimit}
	}
	return Verdict{Allowed: true}
}

// Err converts a refusal into a LimitExceeded error naming the blocked party.
func (v Verdict) Err(c Ceilings) error {
	switch v.Reason {
	case ReasonYouthLimit:
		return apperrors.NewLimitExceededError(apperrors.PartyYouth, c.Youth)
	case ReasonElderlyLimit:
		return apperrors.NewLimitExceededError(apperrors.PartyElderly, c.Elderly)
	default:
		return nil
	}
}

// Counter is the slice of the store the policy reads.
type Counter interface {
	CountActivePreMatches(ctx context.Context, userID string, role models.Role) (int, error)
}

// Policy evaluates ceilings against a Counter.
type Policy struct {
	counter  Counter
	ceilings Ceilings
}

func NewPolicy(counter Counter, ceilings Ceilings) *Policy {
	return &Policy{counter: counter, ceilings: ceilings}
}

func (p *Policy) Ceilings() Ceilings { return p.ceilings }

// CheckLimit reports true when userID is at or above the ceiling for role.
// Admins are never blocked.
func (p *Policy) CheckLimit(ctx context.Context, userID string, role models.Role) (bool, error) {
	ceiling, limited := p.ceilings.For(role)
	if !limited {
		return false, nil
	}
	n, err := p.counter.CountActivePreMatches(ctx, userID, role)
	if err != nil {
		return false, apperrors.NewDependencyFailureError("store", fmt.Errorf("count active pre-matches: %w", err))
	}
	return n >= ceiling, nil
}

// CanStartPreMatch evaluates both parties, youth first.
func (p *Policy) CanStartPreMatch(ctx context.Context, youthID, elderlyID string) (Verdict, error) {
	blocked, err := p.CheckLimit(ctx, youthID, models.RoleYouth)
	if err != nil {
		return Verdict{}, err
	}
	if blocked {
		return Verdict{Reason: ReasonYouthLimit}, nil
	}
	blocked, err = p.CheckLimit(ctx, elderlyID, models.RoleElderly)
	if err != nil {
		return Verdict{}, err
	}
	if blocked {
		return Verdict{Reason: ReasonElderlyLimit}, nil
	}
	return Verdict{Allowed: true}, nil
}

// Admission is the accept-time check run by the store under its admission lock.
func (p *Policy) Admission() store.Admission {
	return func(youthActive, elderlyActive int) error {
		v := Evaluate(p.ceilings, youthActive, elderlyActive)
		if !v.Allowed {
			Refused(v.Reason, PhaseAccept)
		}
		return v.Err(p.ceilings)
	}
}

// Refused counts a refused admission.
func Refused(reason Reason, phase string) {
	party := apperrors.PartyYouth
	if reason == ReasonElderlyLimit {
		party = apperrors.PartyElderly
	}
	metrics.LimitRejections.WithLabelValues(party, phase).Inc()
}
