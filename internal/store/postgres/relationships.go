// internal/store/postgres/relationships.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"companion-workers/internal/common/database"
	"companion-workers/internal/models"
	"companion-workers/internal/store"

	"github.com/google/uuid"
)

const relationshipColumns = `id, youth_id, elderly_id, application_id, current_stage, stage_start_date,
	meetings, active_days, video_calls, message_count, progress_percentage, requirements_met,
	status, end_request_status, end_request_by, end_request_reason, end_request_at,
	cooling_ends_at, progress_frozen_at, created_at, updated_at`

const requirementColumns = `id, relationship_id, stage, key, title, kind, metric, target,
	completed, completed_by, completed_at`

// metricColumns whitelists the counter columns IncrementMetric may touch.
var metricColumns = map[models.Metric]string{
	models.MetricMeetings:   "meetings",
	models.MetricActiveDays: "active_days",
	models.MetricVideoCalls: "video_calls",
	models.MetricMessages:   "message_count",
}

func scanRelationship(row rowScanner) (*models.Relationship, error) {
	var (
		r         models.Relationship
		endAt     sql.NullTime
		coolingAt sql.NullTime
		frozen    sql.NullInt64
	)
	err := row.Scan(
		&r.ID, &r.YouthID, &r.ElderlyID, &r.ApplicationID, &r.CurrentStage, &r.StageStartDate,
		&r.Metrics.Meetings, &r.Metrics.ActiveDays, &r.Metrics.VideoCalls, &r.Metrics.MessageCount,
		&r.Metrics.ProgressPercentage, &r.Metrics.RequirementsMet,
		&r.Status, &r.EndRequestStatus, &r.EndRequestBy, &r.EndRequestReason, &endAt,
		&coolingAt, &frozen, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.EndRequestAt = nullTime(endAt)
	r.CoolingEndsAt = nullTime(coolingAt)
	r.ProgressFrozenAt = nullInt(frozen)
	return &r, nil
}

func scanRequirement(row rowScanner) (*models.StageRequirement, error) {
	var (
		req         models.StageRequirement
		completedAt sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.RelationshipID, &req.Stage, &req.Key, &req.Title, &req.Kind, &req.Metric,
		&req.Target, &req.Completed, &req.CompletedBy, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	req.CompletedAt = nullTime(completedAt)
	return &req, nil
}

func (s *Store) queryRelationship(ctx context.Context, what, where string, args ...interface{}) (*models.Relationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM relationships WHERE ` + where
	r, err := scanRelationship(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("relationship %s: %w", what, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get relationship %s: %w", what, err)
	}
	return r, nil
}

func (s *Store) GetRelationship(ctx context.Context, id string) (*models.Relationship, error) {
	return s.queryRelationship(ctx, id, `id = $1`, id)
}

func (s *Store) GetRelationshipByApplication(ctx context.Context, applicationID string) (*models.Relationship, error) {
	return s.queryRelationship(ctx, "for application "+applicationID, `application_id = $1`, applicationID)
}

func (s *Store) GetCurrentRelationship(ctx context.Context, userID string) (*models.Relationship, error) {
	return s.queryRelationship(ctx, "for user "+userID,
		`(youth_id = $1 OR elderly_id = $1) AND status <> $2 ORDER BY created_at DESC LIMIT 1`,
		userID, models.RelationshipEnded)
}

func insertRequirements(ctx context.Context, q querier, relationshipID string, reqs []*models.StageRequirement) error {
	for _, req := range reqs {
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		req.RelationshipID = relationshipID
		_, err := q.ExecContext(ctx, `
			INSERT INTO stage_requirements (`+requirementColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (relationship_id, stage, key) DO NOTHING`,
			req.ID, req.RelationshipID, req.Stage, req.Key, req.Title, req.Kind, req.Metric,
			req.Target, req.Completed, req.CompletedBy, req.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("insert requirement %s/%s: %w", req.Stage, req.Key, err)
		}
	}
	return nil
}

func (s *Store) CreateRelationship(ctx context.Context, r *models.Relationship, reqs []*models.StageRequirement) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO relationships (`+relationshipColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
			r.ID, r.YouthID, r.ElderlyID, r.ApplicationID, r.CurrentStage, r.StageStartDate,
			r.Metrics.Meetings, r.Metrics.ActiveDays, r.Metrics.VideoCalls, r.Metrics.MessageCount,
			r.Metrics.ProgressPercentage, r.Metrics.RequirementsMet,
			r.Status, r.EndRequestStatus, r.EndRequestBy, r.EndRequestReason, r.EndRequestAt,
			r.CoolingEndsAt, r.ProgressFrozenAt, r.CreatedAt, r.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("relationship for application %s: %w", r.ApplicationID, store.ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("insert relationship: %w", err)
		}
		return insertRequirements(ctx, tx, r.ID, reqs)
	})
}

// UpdateRelationship writes the status and end-request columns only; counters
// and stage belong to IncrementMetric and AdvanceStage.
func (s *Store) UpdateRelationship(ctx context.Context, r *models.Relationship, guard store.RelationshipGuard) (*models.Relationship, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE relationships
		SET status = $2, end_request_status = $3, end_request_by = $4, end_request_reason = $5,
		    end_request_at = $6, cooling_ends_at = $7, progress_frozen_at = $8, updated_at = $9
		WHERE id = $1 AND status = $10 AND end_request_status = $11 AND current_stage = $12
		RETURNING `+relationshipColumns,
		r.ID, r.Status, r.EndRequestStatus, r.EndRequestBy, r.EndRequestReason,
		r.EndRequestAt, r.CoolingEndsAt, r.ProgressFrozenAt, s.now().UTC(),
		guard.Status, guard.EndRequestStatus, guard.Stage,
	)
	updated, err := scanRelationship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, missingOrStale(ctx, s.db, "relationships", r.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("update relationship %s: %w", r.ID, err)
	}
	return updated, nil
}

// AdvanceStage performs the guarded stage write and records the
// (relationship, next) transition row in the same transaction; the primary
// key on stage_transitions makes a replayed advance a no-op.
func (s *Store) AdvanceStage(ctx context.Context, relationshipID string, from, next models.Stage, at time.Time, reqs []*models.StageRequirement) (*models.Relationship, error) {
	var out *models.Relationship
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE relationships
			SET current_stage = $2, stage_start_date = $3, meetings = 0, active_days = 0,
			    video_calls = 0, message_count = 0, progress_percentage = 0,
			    requirements_met = FALSE, updated_at = $3
			WHERE id = $1 AND current_stage = $4 AND status = $5
			RETURNING `+relationshipColumns,
			relationshipID, next, at, from, models.RelationshipActive,
		)
		updated, err := scanRelationship(row)
		if errors.Is(err, sql.ErrNoRows) {
			return missingOrStale(ctx, tx, "relationships", relationshipID)
		}
		if err != nil {
			return fmt.Errorf("advance relationship %s: %w", relationshipID, err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO stage_transitions (relationship_id, to_stage, from_stage, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`,
			relationshipID, next, from, at,
		)
		if err != nil {
			return fmt.Errorf("record transition %s->%s: %w", relationshipID, next, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("transition %s->%s already recorded: %w", relationshipID, next, store.ErrPreconditionFailed)
		}

		if err := insertRequirements(ctx, tx, relationshipID, reqs); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) IncrementMetric(ctx context.Context, relationshipID string, metric models.Metric, delta int) (*models.Relationship, error) {
	column, ok := metricColumns[metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q: %w", metric, store.ErrPreconditionFailed)
	}
	query := fmt.Sprintf(`
		UPDATE relationships
		SET %[1]s = GREATEST(%[1]s + $2, 0), updated_at = $3
		WHERE id = $1
		RETURNING `+relationshipColumns, column)
	updated, err := scanRelationship(s.db.QueryRowContext(ctx, query, relationshipID, delta, s.now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("relationship %s: %w", relationshipID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("increment %s on %s: %w", metric, relationshipID, err)
	}
	return updated, nil
}

func (s *Store) SaveProgress(ctx context.Context, relationshipID string, stage models.Stage, percent int, met bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relationships SET progress_percentage = $3, requirements_met = $4
		WHERE id = $1 AND current_stage = $2`,
		relationshipID, stage, percent, met,
	)
	if err != nil {
		return fmt.Errorf("save progress for %s: %w", relationshipID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return missingOrStale(ctx, s.db, "relationships", relationshipID)
	}
	return nil
}

func (s *Store) ListRequirements(ctx context.Context, relationshipID string, stage models.Stage) ([]*models.StageRequirement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requirementColumns+` FROM stage_requirements
		WHERE relationship_id = $1 AND stage = $2
		ORDER BY key`,
		relationshipID, stage,
	)
	if err != nil {
		return nil, fmt.Errorf("list requirements for %s: %w", relationshipID, err)
	}
	defer rows.Close()

	var out []*models.StageRequirement
	for rows.Next() {
		req, err := scanRequirement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan requirement: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRequirement(ctx context.Context, req *models.StageRequirement) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stage_requirements SET completed = $2, completed_by = $3, completed_at = $4
		WHERE id = $1`,
		req.ID, req.Completed, req.CompletedBy, req.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update requirement %s: %w", req.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("requirement %s: %w", req.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListCoolingExpired(ctx context.Context, now time.Time, limit int) ([]*models.Relationship, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationshipColumns+` FROM relationships
		WHERE status = $1 AND end_request_status = $2 AND cooling_ends_at <= $3
		ORDER BY cooling_ends_at
		LIMIT $4`,
		models.RelationshipPaused, models.EndRequestPendingCooldown, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired cooldowns: %w", err)
	}
	defer rows.Close()

	var out []*models.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListTransitions(ctx context.Context, relationshipID string) ([]models.StageTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT relationship_id, from_stage, to_stage, created_at FROM stage_transitions
		WHERE relationship_id = $1
		ORDER BY created_at`,
		relationshipID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions for %s: %w", relationshipID, err)
	}
	defer rows.Close()

	var out []models.StageTransition
	for rows.Next() {
		var t models.StageTransition
		if err := rows.Scan(&t.RelationshipID, &t.FromStage, &t.ToStage, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ClaimStageSignal(ctx context.Context, relationshipID string, stage models.Stage, kind string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_signals (relationship_id, stage, kind, claimed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		relationshipID, stage, kind, s.now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("claim %s signal for %s: %w", kind, relationshipID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s signal for %s: %w", kind, relationshipID, err)
	}
	return n == 1, nil
}
