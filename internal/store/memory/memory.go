// Package memory is an in-process Store used by tests and the matchctl dry-run mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"companion-workers/internal/models"
	"companion-workers/internal/store"

	"github.com/google/uuid"
)

type signalKey struct {
	relationshipID string
	stage          models.Stage
	kind           string
}

type transitionKey struct {
	relationshipID string
	to             models.Stage
}

// Store keeps every table in maps guarded by one mutex, so each method is a
// single atomic step.
type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	interests     map[string]*models.Interest
	relationships map[string]*models.Relationship
	requirements  map[string]*models.StageRequirement
	transitions   map[transitionKey]models.StageTransition
	signals       map[signalKey]time.Time
	messages      map[string]*models.Message
	notifications map[string]*models.Notification
	outbox        map[string]*models.SideEffect
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:           time.Now,
		interests:     make(map[string]*models.Interest),
		relationships: make(map[string]*models.Relationship),
		requirements:  make(map[string]*models.StageRequirement),
		transitions:   make(map[transitionKey]models.StageTransition),
		signals:       make(map[signalKey]time.Time),
		messages:      make(map[string]*models.Message),
		notifications: make(map[string]*models.Notification),
		outbox:        make(map[string]*models.SideEffect),
	}
}

// WithClock overrides the clock used for UpdatedAt stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func copyInterest(in *models.Interest) *models.Interest {
	c := *in
	return &c
}

func copyRelationship(r *models.Relationship) *models.Relationship {
	c := *r
	if r.ProgressFrozenAt != nil {
		v := *r.ProgressFrozenAt
		c.ProgressFrozenAt = &v
	}
	return &c
}

func copyRequirement(r *models.StageRequirement) *models.StageRequirement {
	c := *r
	return &c
}

// ---- interests ----

func (s *Store) GetInterest(_ context.Context, id string) (*models.Interest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.interests[id]
	if !ok {
		return nil, fmt.Errorf("interest %s: %w", id, store.ErrNotFound)
	}
	return copyInterest(in), nil
}

func matchesFilter(in *models.Interest, f store.InterestFilter) bool {
	if f.YouthID != "" && in.YouthID != f.YouthID {
		return false
	}
	if f.ElderlyID != "" && in.ElderlyID != f.ElderlyID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if in.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.AppliedBefore.IsZero() && !in.AppliedAt.Before(f.AppliedBefore) {
		return false
	}
	if f.ReminderUnsent && in.ReminderSentAt != nil {
		return false
	}
	return true
}

func (s *Store) ListInterests(_ context.Context, f store.InterestFilter) ([]*models.Interest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Interest
	for _, in := range s.interests {
		if matchesFilter(in, f) {
			out = append(out, copyInterest(in))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppliedAt.Before(out[j].AppliedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) countActiveLocked(userID string, role models.Role) int {
	n := 0
	for _, in := range s.interests {
		if in.Status != models.StatusPreChatActive {
			continue
		}
		switch role {
		case models.RoleYouth:
			if in.YouthID == userID {
				n++
			}
		case models.RoleElderly:
			if in.ElderlyID == userID {
				n++
			}
		}
	}
	return n
}

func (s *Store) CountActivePreMatches(_ context.Context, userID string, role models.Role) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveLocked(userID, role), nil
}

func (s *Store) CreateInterest(_ context.Context, in *models.Interest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.interests {
		if existing.YouthID == in.YouthID && existing.ElderlyID == in.ElderlyID && existing.Status.IsBlocking() {
			return fmt.Errorf("interest for pair %s/%s: %w", in.YouthID, in.ElderlyID, store.ErrDuplicate)
		}
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if _, exists := s.interests[in.ID]; exists {
		return fmt.Errorf("interest %s: %w", in.ID, store.ErrDuplicate)
	}
	s.interests[in.ID] = copyInterest(in)
	return nil
}

func (s *Store) updateInterestLocked(in *models.Interest, expected models.InterestStatus) (*models.Interest, error) {
	cur, ok := s.interests[in.ID]
	if !ok {
		return nil, fmt.Errorf("interest %s: %w", in.ID, store.ErrNotFound)
	}
	if cur.Status != expected {
		return nil, fmt.Errorf("interest %s is %s, expected %s: %w", in.ID, cur.Status, expected, store.ErrPreconditionFailed)
	}
	next := copyInterest(in)
	next.UpdatedAt = s.now().UTC()
	s.interests[in.ID] = next
	return copyInterest(next), nil
}

func (s *Store) UpdateInterest(_ context.Context, in *models.Interest, expected models.InterestStatus) (*models.Interest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateInterestLocked(in, expected)
}

func (s *Store) ActivatePreMatch(_ context.Context, in *models.Interest, admit store.Admission) (*models.Interest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := admit(s.countActiveLocked(in.YouthID, models.RoleYouth), s.countActiveLocked(in.ElderlyID, models.RoleElderly)); err != nil {
		return nil, err
	}
	return s.updateInterestLocked(in, models.StatusPendingInterest)
}

func (s *Store) DeleteInterest(_ context.Context, id string, expected models.InterestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.interests[id]
	if !ok {
		return fmt.Errorf("interest %s: %w", id, store.ErrNotFound)
	}
	if cur.Status != expected {
		return fmt.Errorf("interest %s is %s: %w", id, cur.Status, store.ErrPreconditionFailed)
	}
	delete(s.interests, id)
	return nil
}

// ---- relationships ----

func (s *Store) GetRelationship(_ context.Context, id string) (*models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.relationships[id]
	if !ok {
		return nil, fmt.Errorf("relationship %s: %w", id, store.ErrNotFound)
	}
	return copyRelationship(r), nil
}

func (s *Store) GetRelationshipByApplication(_ context.Context, applicationID string) (*models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.relationships {
		if r.ApplicationID == applicationID {
			return copyRelationship(r), nil
		}
	}
	return nil, fmt.Errorf("relationship for application %s: %w", applicationID, store.ErrNotFound)
}

func (s *Store) GetCurrentRelationship(_ context.Context, userID string) (*models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Relationship
	for _, r := range s.relationships {
		if r.Status == models.RelationshipEnded || !r.IsParty(userID) {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, fmt.Errorf("relationship for user %s: %w", userID, store.ErrNotFound)
	}
	return copyRelationship(best), nil
}

func (s *Store) CreateRelationship(_ context.Context, r *models.Relationship, reqs []*models.StageRequirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.relationships {
		if existing.ApplicationID == r.ApplicationID {
			return fmt.Errorf("relationship for application %s: %w", r.ApplicationID, store.ErrDuplicate)
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.relationships[r.ID] = copyRelationship(r)
	s.seedRequirementsLocked(r.ID, reqs)
	return nil
}

func (s *Store) seedRequirementsLocked(relationshipID string, reqs []*models.StageRequirement) {
	for _, req := range reqs {
		c := copyRequirement(req)
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.RelationshipID = relationshipID
		req.ID = c.ID
		req.RelationshipID = relationshipID
		s.requirements[c.ID] = c
	}
}

func (s *Store) guardHolds(cur *models.Relationship, g store.RelationshipGuard) bool {
	return cur.Status == g.Status && cur.EndRequestStatus == g.EndRequestStatus && cur.CurrentStage == g.Stage
}

func (s *Store) UpdateRelationship(_ context.Context, r *models.Relationship, guard store.RelationshipGuard) (*models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.relationships[r.ID]
	if !ok {
		return nil, fmt.Errorf("relationship %s: %w", r.ID, store.ErrNotFound)
	}
	if !s.guardHolds(cur, guard) {
		return nil, fmt.Errorf("relationship %s changed: %w", r.ID, store.ErrPreconditionFailed)
	}
	next := copyRelationship(r)
	// counters and stage are owned by IncrementMetric and AdvanceStage
	next.Metrics = cur.Metrics
	next.CurrentStage = cur.CurrentStage
	next.StageStartDate = cur.StageStartDate
	next.UpdatedAt = s.now().UTC()
	s.relationships[r.ID] = next
	return copyRelationship(next), nil
}

func (s *Store) AdvanceStage(_ context.Context, relationshipID string, from, next models.Stage, at time.Time, reqs []*models.StageRequirement) (*models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.relationships[relationshipID]
	if !ok {
		return nil, fmt.Errorf("relationship %s: %w", relationshipID, store.ErrNotFound)
	}
	if cur.CurrentStage != from || cur.Status != models.RelationshipActive {
		return nil, fmt.Errorf("relationship %s is %s/%s: %w", relationshipID, cur.Status, cur.CurrentStage, store.ErrPreconditionFailed)
	}
	key := transitionKey{relationshipID, next}
	if _, done := s.transitions[key]; done {
		return nil, fmt.Errorf("transition %s->%s already recorded: %w", relationshipID, next, store.ErrPreconditionFailed)
	}

	updated := copyRelationship(cur)
	updated.CurrentStage = next
	updated.StageStartDate = at
	updated.Metrics = models.StageMetrics{}
	updated.UpdatedAt = at
	s.relationships[relationshipID] = updated
	s.transitions[key] = models.StageTransition{RelationshipID: relationshipID, FromStage: from, ToStage: next, CreatedAt: at}
	s.seedRequirementsLocked(relationshipID, reqs)
	return copyRelationship(updated), nil
}

func (s *Store) IncrementMetric(_ context.Context, relationshipID string, metric models.Metric, delta int) (*models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.relationships[relationshipID]
	if !ok {
		return nil, fmt.Errorf("relationship %s: %w", relationshipID, store.ErrNotFound)
	}
	if !metric.IsValid() {
		return nil, fmt.Errorf("unknown metric %q: %w", metric, store.ErrPreconditionFailed)
	}
	cur.Metrics = cur.Metrics.Add(metric, delta)
	cur.UpdatedAt = s.now().UTC()
	return copyRelationship(cur), nil
}

func (s *Store) SaveProgress(_ context.Context, relationshipID string, stage models.Stage, percent int, met bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.relationships[relationshipID]
	if !ok {
		return fmt.Errorf("relationship %s: %w", relationshipID, store.ErrNotFound)
	}
	if cur.CurrentStage != stage {
		return fmt.Errorf("relationship %s left stage %s: %w", relationshipID, stage, store.ErrPreconditionFailed)
	}
	cur.Metrics.ProgressPercentage = percent
	cur.Metrics.RequirementsMet = met
	return nil
}

func (s *Store) ListRequirements(_ context.Context, relationshipID string, stage models.Stage) ([]*models.StageRequirement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.StageRequirement
	for _, req := range s.requirements {
		if req.RelationshipID == relationshipID && req.Stage == stage {
			out = append(out, copyRequirement(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) UpdateRequirement(_ context.Context, req *models.StageRequirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requirements[req.ID]; !ok {
		return fmt.Errorf("requirement %s: %w", req.ID, store.ErrNotFound)
	}
	s.requirements[req.ID] = copyRequirement(req)
	return nil
}

func (s *Store) ListCoolingExpired(_ context.Context, now time.Time, limit int) ([]*models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Relationship
	for _, r := range s.relationships {
		if r.Status == models.RelationshipPaused &&
			r.EndRequestStatus == models.EndRequestPendingCooldown &&
			r.CoolingEndsAt != nil && !r.CoolingEndsAt.After(now) {
			out = append(out, copyRelationship(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CoolingEndsAt.Before(*out[j].CoolingEndsAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListTransitions(_ context.Context, relationshipID string) ([]models.StageTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StageTransition
	for k, t := range s.transitions {
		if k.relationshipID == relationshipID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToStage.Index() < out[j].ToStage.Index() })
	return out, nil
}

func (s *Store) ClaimStageSignal(_ context.Context, relationshipID string, stage models.Stage, kind string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := signalKey{relationshipID, stage, kind}
	if _, claimed := s.signals[key]; claimed {
		return false, nil
	}
	s.signals[key] = s.now().UTC()
	return true, nil
}

// ---- messages ----

func (s *Store) CreateWelcomeMessage(_ context.Context, applicationID, youthID, elderlyID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ApplicationID == applicationID && m.IsSystem {
			c := *m
			return &c, nil
		}
	}
	m := &models.Message{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		SenderID:      models.SystemSenderID,
		Content:       models.WelcomeText,
		IsSystem:      true,
		CreatedAt:     s.now().UTC(),
	}
	s.messages[m.ID] = m
	c := *m
	return &c, nil
}

// AddMessage stores a chat message.
func (s *Store) AddMessage(m *models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	c := *m
	s.messages[m.ID] = &c
}

// MessagesFor returns the messages of one application.
func (s *Store) MessagesFor(applicationID string) []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, m := range s.messages {
		if m.ApplicationID == applicationID {
			c := *m
			out = append(out, &c)
		}
	}
	return out
}

func (s *Store) DeleteMessagesByApplication(_ context.Context, applicationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.messages {
		if m.ApplicationID == applicationID {
			delete(s.messages, id)
		}
	}
	return nil
}

// ---- notifications ----

func (s *Store) InsertNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	c := *n
	s.notifications[n.ID] = &c
	return nil
}

func (s *Store) MarkDelivered(_ context.Context, id string, channels []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s: %w", id, store.ErrNotFound)
	}
	n.Channels = append([]string(nil), channels...)
	n.Status = "delivered"
	n.DeliveredAt = &at
	return nil
}

// Notifications returns every notification for userID.
func (s *Store) Notifications(userID string) []*models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			c := *n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ---- outbox ----

func (s *Store) ParkSideEffect(_ context.Context, se *models.SideEffect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if se.ID == "" {
		se.ID = uuid.NewString()
	}
	c := *se
	s.outbox[se.ID] = &c
	return nil
}

func (s *Store) DueSideEffects(_ context.Context, now time.Time, limit int) ([]*models.SideEffect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SideEffect
	for _, se := range s.outbox {
		if !se.NextAttempt.After(now) {
			c := *se
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttempt.Before(out[j].NextAttempt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RescheduleSideEffect(_ context.Context, id string, attempts int, next time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("side effect %s: %w", id, store.ErrNotFound)
	}
	se.Attempts = attempts
	se.NextAttempt = next
	se.LastError = lastErr
	return nil
}

func (s *Store) DeleteSideEffect(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outbox, id)
	return nil
}
