// Package session holds one user's derived relationship view. A Session is
// created per connected user, refreshed from the engines whenever the change
// hub reports an event concerning that user, and released with Close.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"companion-workers/internal/changefeed"
	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/matching/cooling"
	"companion-workers/internal/matching/stage"
	"companion-workers/internal/models"
	"companion-workers/internal/store"
)

type ProgressionReader interface {
	GetStageProgression(ctx context.Context, userID string) (*stage.Progression, error)
}

type CoolingReader interface {
	GetCoolingPeriodInfo(ctx context.Context, userID string) (cooling.Info, error)
}

type MilestoneLoader interface {
	LoadMilestoneInfo(ctx context.Context, rel *models.Relationship) (stage.MilestoneInfo, error)
}

// Deps are the engines a session re-queries. Milestones should be a tracker
// owned by this session so each milestone is shown to it once.
type Deps struct {
	Relationships store.RelationshipStore
	Stages        ProgressionReader
	Cooling       CoolingReader
	Milestones    MilestoneLoader
	Hub           *changefeed.Hub
	Clock         func() time.Time
}

// Snapshot is the derived state shown to the user.
type Snapshot struct {
	UserID          string               `json:"userId"`
	HasRelationship bool                 `json:"hasRelationship"`
	Progression     *stage.Progression   `json:"progression,omitempty"`
	Cooling         *cooling.Info        `json:"cooling,omitempty"`
	Milestone       *stage.MilestoneInfo `json:"milestone,omitempty"`
	Trigger         models.EventKind     `json:"trigger,omitempty"`
	RefreshedAt     time.Time            `json:"refreshedAt"`
}

// Handle is a caller-owned subscription. Close stops further callbacks; it
// must not be called from inside the callback it stops.
type Handle struct {
	session *Session
	sub     *changefeed.Subscription
	done    chan struct{}
	once    sync.Once
}

func (h *Handle) Close() {
	h.once.Do(func() {
		h.sub.Close()
		<-h.done
		h.session.release(h)
	})
}

type Session struct {
	userID string
	deps   Deps
	logger logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	latest  Snapshot
	handles map[*Handle]struct{}
	closed  bool
}

func NewSession(userID string, deps Deps, log logger.Logger) *Session {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		userID:  userID,
		deps:    deps,
		logger:  logger.ForComponent(log, "session").WithFields(map[string]interface{}{"userId": userID}),
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[*Handle]struct{}),
	}
}

// Latest is the last snapshot Refresh produced.
func (s *Session) Latest() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Refresh re-queries the engines. A user without a current relationship gets
// an empty snapshot, not an error.
func (s *Session) Refresh(ctx context.Context) (Snapshot, error) {
	return s.refresh(ctx, "")
}

func (s *Session) refresh(ctx context.Context, trigger models.EventKind) (Snapshot, error) {
	snap := Snapshot{UserID: s.userID, Trigger: trigger, RefreshedAt: s.deps.Clock().UTC()}

	rel, err := s.deps.Relationships.GetCurrentRelationship(ctx, s.userID)
	switch {
	case err == nil:
		snap.HasRelationship = true
	case errors.Is(err, store.ErrNotFound):
		s.remember(snap)
		return snap, nil
	default:
		return Snapshot{}, store.Translate(err, "relationship", s.userID)
	}

	if s.deps.Stages != nil {
		p, err := s.deps.Stages.GetStageProgression(ctx, s.userID)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Progression = p
	}
	if s.deps.Cooling != nil {
		info, err := s.deps.Cooling.GetCoolingPeriodInfo(ctx, s.userID)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Cooling = &info
	}
	if s.deps.Milestones != nil {
		m, err := s.deps.Milestones.LoadMilestoneInfo(ctx, rel)
		if err != nil {
			// milestones are decoration
			s.logger.Warn("milestones unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			snap.Milestone = &m
		}
	}

	s.remember(snap)
	return snap, nil
}

func (s *Session) remember(snap Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
}

// Subscribe calls onChange with a fresh snapshot after every hub event that
// concerns the user. Refresh failures are logged and skipped.
func (s *Session) Subscribe(onChange func(Snapshot)) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, apperrors.NewInvalidStateError("session", s.userID, "closed", "open")
	}

	sub := s.deps.Hub.Subscribe(changefeed.ForUser(s.userID), 0)
	h := &Handle{session: s, sub: sub, done: make(chan struct{})}
	s.handles[h] = struct{}{}

	go func() {
		defer close(h.done)
		for ev := range sub.C {
			snap, err := s.refresh(s.ctx, ev.Kind)
			if err != nil {
				if s.ctx.Err() != nil {
					continue
				}
				s.logger.Warn("refresh after change failed", map[string]interface{}{
					"kind":  string(ev.Kind),
					"error": err.Error(),
				})
				continue
			}
			onChange(snap)
		}
	}()
	return h, nil
}

func (s *Session) release(h *Handle) {
	s.mu.Lock()
	delete(s.handles, h)
	s.mu.Unlock()
}

// Close releases every handle. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handles := make([]*Handle, 0, len(s.handles))
	for h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = nil
	s.mu.Unlock()

	s.cancel()
	for _, h := range handles {
		h.Close()
	}
}
