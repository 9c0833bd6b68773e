package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   Exception and ApprovalRequest persistence backing
 *            internal/broker's lifecycle management
 * CHANGE:    New repositories
 * RISK:      Low
 */
type ExceptionRepository struct{ db *sql.DB }

func (r *ExceptionRepository) Create(ctx context.Context, e *domain.Exception) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exceptions (id, profile_id, kind, granted_by, granted_at, expires_at, active, used, extra_minutes, app_id, domain)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProfileID, string(e.Kind), string(e.GrantedBy), e.GrantedAt, e.ExpiresAt,
		boolToInt(e.Active), boolToInt(e.Used), nullInt64(e.ExtraMinutes), nullString(e.AppID), nullString(e.Domain))
	if err != nil {
		return domain.NewTransientStoreError("inserting exception", err)
	}
	return nil
}

func (r *ExceptionRepository) Update(ctx context.Context, e *domain.Exception) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exceptions SET active=?, used=? WHERE id=?`,
		boolToInt(e.Active), boolToInt(e.Used), e.ID)
	if err != nil {
		return domain.NewTransientStoreError("updating exception", err)
	}
	return nil
}

func (r *ExceptionRepository) ActiveForProfile(ctx context.Context, profileID string) ([]*domain.Exception, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, profile_id, kind, granted_by, granted_at, expires_at, active, used, extra_minutes, app_id, domain
		FROM exceptions WHERE profile_id = ? AND active = 1`, profileID)
	if err != nil {
		return nil, domain.NewTransientStoreError("listing active exceptions", err)
	}
	defer rows.Close()

	var out []*domain.Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// DueForSweep returns every active exception whose expiry has passed,
// consulted by internal/broker's exception sweep, which internal/daemon
// runs on every maintenance tick.
func (r *ExceptionRepository) DueForSweep(ctx context.Context, now time.Time) ([]*domain.Exception, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, profile_id, kind, granted_by, granted_at, expires_at, active, used, extra_minutes, app_id, domain
		FROM exceptions WHERE active = 1 AND expires_at <= ?`, now)
	if err != nil {
		return nil, domain.NewTransientStoreError("listing exceptions due for sweep", err)
	}
	defer rows.Close()

	var out []*domain.Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func scanException(row rowScanner) (*domain.Exception, error) {
	e := &domain.Exception{}
	var kind, grantedBy string
	var active, used int
	var extraMinutes sql.NullInt64
	var appID, dom sql.NullString
	if err := row.Scan(&e.ID, &e.ProfileID, &kind, &grantedBy, &e.GrantedAt, &e.ExpiresAt,
		&active, &used, &extraMinutes, &appID, &dom); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.NewTransientStoreError("scanning exception", err)
	}
	e.Kind = domain.ExceptionKind(kind)
	e.GrantedBy = domain.GrantedBy(grantedBy)
	e.Active = active != 0
	e.Used = used != 0
	e.ExtraMinutes = extraMinutes.Int64
	e.AppID = appID.String
	e.Domain = dom.String
	return e, nil
}

type ApprovalRequestRepository struct{ db *sql.DB }

func (r *ApprovalRequestRepository) Create(ctx context.Context, a *domain.ApprovalRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO approval_requests (id, profile_id, subject, kind, rationale, created_at, state, resolving_parent, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', NULL)`,
		a.ID, a.ProfileID, a.Subject, string(a.Kind), string(a.Rationale), a.CreatedAt, string(a.State))
	if err != nil {
		return domain.NewTransientStoreError("inserting approval request", err)
	}
	return nil
}

func (r *ApprovalRequestRepository) Update(ctx context.Context, a *domain.ApprovalRequest) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE approval_requests SET state=?, resolving_parent=?, resolved_at=? WHERE id=?`,
		string(a.State), a.ResolvingParent, nullTime(a.ResolvedAt), a.ID)
	if err != nil {
		return domain.NewTransientStoreError("updating approval request", err)
	}
	return nil
}

func (r *ApprovalRequestRepository) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, profile_id, subject, kind, rationale, created_at, state, resolving_parent, resolved_at
		FROM approval_requests WHERE id = ?`, id)
	return scanApproval(row)
}

// PendingDuplicate finds a still-pending request for the same profile and
// subject, used to enforce the 5-minute request_approval dedup window.
func (r *ApprovalRequestRepository) PendingDuplicate(ctx context.Context, profileID, subject string, since time.Time) (*domain.ApprovalRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, profile_id, subject, kind, rationale, created_at, state, resolving_parent, resolved_at
		FROM approval_requests
		WHERE profile_id = ? AND subject = ? AND state = 'pending' AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`, profileID, subject, since)
	return scanApproval(row)
}

func (r *ApprovalRequestRepository) Pending(ctx context.Context, profileID string) ([]*domain.ApprovalRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, profile_id, subject, kind, rationale, created_at, state, resolving_parent, resolved_at
		FROM approval_requests WHERE profile_id = ? AND state = 'pending' ORDER BY created_at ASC`, profileID)
	if err != nil {
		return nil, domain.NewTransientStoreError("listing pending approval requests", err)
	}
	defer rows.Close()

	var out []*domain.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func scanApproval(row rowScanner) (*domain.ApprovalRequest, error) {
	a := &domain.ApprovalRequest{}
	var kind, rationale, state string
	var resolvedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.ProfileID, &a.Subject, &kind, &rationale, &a.CreatedAt, &state, &a.ResolvingParent, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.NewTransientStoreError("scanning approval request", err)
	}
	a.Kind = domain.ApprovalSubjectKind(kind)
	a.Rationale = domain.EnumeratedReason(rationale)
	a.State = domain.ApprovalState(state)
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return a, nil
}

func nullInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
