// internal/store/postgres/interests.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"companion-workers/internal/common/database"
	"companion-workers/internal/models"
	"companion-workers/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const interestColumns = `id, youth_id, elderly_id, status, youth_decision, elderly_decision,
	motivation_letter, rejection_reason, end_reason, applied_at, reviewed_at,
	reminder_sent_at, created_at, updated_at`

func scanInterest(row rowScanner) (*models.Interest, error) {
	var (
		in       models.Interest
		reviewed sql.NullTime
		reminder sql.NullTime
	)
	err := row.Scan(
		&in.ID, &in.YouthID, &in.ElderlyID, &in.Status, &in.YouthDecision, &in.ElderlyDecision,
		&in.MotivationLetter, &in.RejectionReason, &in.EndReason, &in.AppliedAt, &reviewed,
		&reminder, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	in.ReviewedAt = nullTime(reviewed)
	in.ReminderSentAt = nullTime(reminder)
	return &in, nil
}

func (s *Store) GetInterest(ctx context.Context, id string) (*models.Interest, error) {
	query := `SELECT ` + interestColumns + ` FROM interests WHERE id = $1`
	in, err := scanInterest(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("interest %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get interest %s: %w", id, err)
	}
	return in, nil
}

func (s *Store) ListInterests(ctx context.Context, f store.InterestFilter) ([]*models.Interest, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.YouthID != "" {
		add("youth_id = $%d", f.YouthID)
	}
	if f.ElderlyID != "" {
		add("elderly_id = $%d", f.ElderlyID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if !f.AppliedBefore.IsZero() {
		add("applied_at < $%d", f.AppliedBefore)
	}
	if f.ReminderUnsent {
		where = append(where, "reminder_sent_at IS NULL")
	}

	query := `SELECT ` + interestColumns + ` FROM interests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY applied_at`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list interests: %w", err)
	}
	defer rows.Close()

	var out []*models.Interest
	for rows.Next() {
		in, err := scanInterest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interest: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func partyColumn(role models.Role) (string, bool) {
	switch role {
	case models.RoleYouth:
		return "youth_id", true
	case models.RoleElderly:
		return "elderly_id", true
	default:
		return "", false
	}
}

func countActive(ctx context.Context, q querier, userID string, role models.Role) (int, error) {
	column, ok := partyColumn(role)
	if !ok {
		return 0, nil
	}
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM interests WHERE %s = $1 AND status = $2`, column)
	if err := q.QueryRowContext(ctx, query, userID, models.StatusPreChatActive).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active pre-matches for %s: %w", userID, err)
	}
	return n, nil
}

func (s *Store) CountActivePreMatches(ctx context.Context, userID string, role models.Role) (int, error) {
	return countActive(ctx, s.db, userID, role)
}

func (s *Store) CreateInterest(ctx context.Context, in *models.Interest) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interests (`+interestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		in.ID, in.YouthID, in.ElderlyID, in.Status, in.YouthDecision, in.ElderlyDecision,
		in.MotivationLetter, in.RejectionReason, in.EndReason, in.AppliedAt, in.ReviewedAt,
		in.ReminderSentAt, in.CreatedAt, in.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("interest for pair %s/%s: %w", in.YouthID, in.ElderlyID, store.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert interest: %w", err)
	}
	return nil
}

func (s *Store) updateInterest(ctx context.Context, q querier, in *models.Interest, expected models.InterestStatus) (*models.Interest, error) {
	row := q.QueryRowContext(ctx, `
		UPDATE interests
		SET status = $2, youth_decision = $3, elderly_decision = $4, motivation_letter = $5,
		    rejection_reason = $6, end_reason = $7, reviewed_at = $8, reminder_sent_at = $9,
		    updated_at = $10
		WHERE id = $1 AND status = $11
		RETURNING `+interestColumns,
		in.ID, in.Status, in.YouthDecision, in.ElderlyDecision, in.MotivationLetter,
		in.RejectionReason, in.EndReason, in.ReviewedAt, in.ReminderSentAt,
		s.now().UTC(), expected,
	)
	updated, err := scanInterest(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, missingOrStale(ctx, q, "interests", in.ID)
	case isUniqueViolation(err):
		return nil, fmt.Errorf("interest for pair %s/%s: %w", in.YouthID, in.ElderlyID, store.ErrDuplicate)
	case err != nil:
		return nil, fmt.Errorf("update interest %s: %w", in.ID, err)
	}
	return updated, nil
}

func (s *Store) UpdateInterest(ctx context.Context, in *models.Interest, expected models.InterestStatus) (*models.Interest, error) {
	return s.updateInterest(ctx, s.db, in, expected)
}

// admissionKeys are the advisory-lock keys of both parties, in lock order.
func admissionKeys(in *models.Interest) []string {
	keys := []string{"youth:" + in.YouthID, "elderly:" + in.ElderlyID}
	sort.Strings(keys)
	return keys
}

func (s *Store) ActivatePreMatch(ctx context.Context, in *models.Interest, admit store.Admission) (*models.Interest, error) {
	var out *models.Interest
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, key := range admissionKeys(in) {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
				return fmt.Errorf("admission lock %s: %w", key, err)
			}
		}
		youth, err := countActive(ctx, tx, in.YouthID, models.RoleYouth)
		if err != nil {
			return err
		}
		elderly, err := countActive(ctx, tx, in.ElderlyID, models.RoleElderly)
		if err != nil {
			return err
		}
		if err := admit(youth, elderly); err != nil {
			return err
		}
		out, err = s.updateInterest(ctx, tx, in, models.StatusPendingInterest)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteInterest(ctx context.Context, id string, expected models.InterestStatus) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM interests WHERE id = $1 AND status = $2`, id, expected)
	if err != nil {
		return fmt.Errorf("delete interest %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return missingOrStale(ctx, s.db, "interests", id)
	}
	return nil
}
