// internal/store/postgres/messages.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"companion-workers/internal/models"
	"companion-workers/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const messageColumns = `id, application_id, sender_id, content, is_system, created_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	if err := row.Scan(&m.ID, &m.ApplicationID, &m.SenderID, &m.Content, &m.IsSystem, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateWelcomeMessage inserts the system welcome message once per application;
// a replay returns the existing row.
func (s *Store) CreateWelcomeMessage(ctx context.Context, applicationID, youthID, elderlyID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (application_id) WHERE is_system DO NOTHING
		RETURNING `+messageColumns,
		uuid.NewString(), applicationID, models.SystemSenderID, models.WelcomeText, s.now().UTC(),
	)
	m, err := scanMessage(row)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("insert welcome message for %s: %w", applicationID, err)
	}

	existing, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE application_id = $1 AND is_system`, applicationID))
	if err != nil {
		return nil, fmt.Errorf("load welcome message for %s: %w", applicationID, err)
	}
	return existing, nil
}

func (s *Store) DeleteMessagesByApplication(ctx context.Context, applicationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE application_id = $1`, applicationID); err != nil {
		return fmt.Errorf("delete messages for %s: %w", applicationID, err)
	}
	return nil
}

func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if n.Status == "" {
		n.Status = "created"
	}
	channels := n.Channels
	if channels == nil {
		channels = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, reference_id, channels, status, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.ReferenceID, pq.Array(channels),
		n.Status, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification for %s: %w", n.UserID, err)
	}
	return nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string, channels []string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET channels = $2, status = 'delivered', delivered_at = $3
		WHERE id = $1`,
		id, pq.Array(channels), at,
	)
	if err != nil {
		return fmt.Errorf("mark notification %s delivered: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s: %w", id, store.ErrNotFound)
	}
	return nil
}

const sideEffectColumns = `id, kind, reference_id, payload, attempts, last_error, created_at, next_attempt`

func (s *Store) ParkSideEffect(ctx context.Context, se *models.SideEffect) error {
	if se.ID == "" {
		se.ID = uuid.NewString()
	}
	if se.CreatedAt.IsZero() {
		se.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO side_effect_outbox (`+sideEffectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		se.ID, se.Kind, se.ReferenceID, []byte(se.Payload), se.Attempts, se.LastError,
		se.CreatedAt, se.NextAttempt,
	)
	if err != nil {
		return fmt.Errorf("park %s side effect for %s: %w", se.Kind, se.ReferenceID, err)
	}
	return nil
}

func (s *Store) DueSideEffects(ctx context.Context, now time.Time, limit int) ([]*models.SideEffect, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sideEffectColumns+` FROM side_effect_outbox
		WHERE next_attempt <= $1
		ORDER BY next_attempt
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due side effects: %w", err)
	}
	defer rows.Close()

	var out []*models.SideEffect
	for rows.Next() {
		var (
			se      models.SideEffect
			payload []byte
		)
		if err := rows.Scan(&se.ID, &se.Kind, &se.ReferenceID, &payload, &se.Attempts, &se.LastError,
			&se.CreatedAt, &se.NextAttempt); err != nil {
			return nil, fmt.Errorf("scan side effect: %w", err)
		}
		se.Payload = payload
		out = append(out, &se)
	}
	return out, rows.Err()
}

func (s *Store) RescheduleSideEffect(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE side_effect_outbox SET attempts = $2, next_attempt = $3, last_error = $4
		WHERE id = $1`,
		id, attempts, next, lastErr,
	)
	if err != nil {
		return fmt.Errorf("reschedule side effect %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("side effect %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteSideEffect(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM side_effect_outbox WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete side effect %s: %w", id, err)
	}
	return nil
}
