package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   Session persistence backing internal/tracker's FSM
 * BUSINESS:  idx_sessions_one_open_per_profile enforces P3 at the storage
 *            layer: a second concurrent open session is a unique
 *            constraint violation, surfaced as a StateError
 * CHANGE:    New repository
 * RISK:      Low
 */
type SessionRepository struct {
	db *sql.DB
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, profile_id, start_time, end_time, termination_reason, total_seconds, active_seconds, idle_seconds)
		VALUES (?, ?, ?, NULL, '', 0, 0, 0)`,
		s.ID, s.ProfileID, s.StartTime)
	if err != nil {
		if isUniqueConstraint(err) {
			return domain.NewStateError("profile already has an open session")
		}
		return domain.NewTransientStoreError("inserting session", err)
	}
	return nil
}

func (r *SessionRepository) Update(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET end_time=?, termination_reason=?, total_seconds=?, active_seconds=?, idle_seconds=?
		WHERE id=?`,
		nullTime(s.EndTime), string(s.TerminationReason), s.TotalSeconds, s.ActiveSeconds, s.IdleSeconds, s.ID)
	if err != nil {
		return domain.NewTransientStoreError("updating session", err)
	}
	return nil
}

func (r *SessionRepository) OpenForProfile(ctx context.Context, profileID string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, profile_id, start_time, end_time, termination_reason, total_seconds, active_seconds, idle_seconds
		FROM sessions WHERE profile_id = ? AND end_time IS NULL`, profileID)
	return scanSession(row)
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, profile_id, start_time, end_time, termination_reason, total_seconds, active_seconds, idle_seconds
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (r *SessionRepository) History(ctx context.Context, profileID string, since, until time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, profile_id, start_time, end_time, termination_reason, total_seconds, active_seconds, idle_seconds
		FROM sessions WHERE profile_id = ? AND start_time >= ? AND start_time < ?
		ORDER BY start_time ASC`, profileID, since, until)
	if err != nil {
		return nil, domain.NewTransientStoreError("listing session history", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func scanSession(row rowScanner) (*domain.Session, error) {
	s := &domain.Session{}
	var endTime sql.NullTime
	var reason string
	if err := row.Scan(&s.ID, &s.ProfileID, &s.StartTime, &endTime, &reason, &s.TotalSeconds, &s.ActiveSeconds, &s.IdleSeconds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.NewTransientStoreError("scanning session", err)
	}
	s.TerminationReason = domain.TerminationReason(reason)
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	return s, nil
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
