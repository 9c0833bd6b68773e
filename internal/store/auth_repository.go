package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   Session token and rate-limit attempt persistence backing
 *            internal/auth
 * BUSINESS:  Tokens are stored only as their SHA-256 hash (P7); a stolen
 *            database file yields no usable tokens without the envelope
 *            passphrase, and even then no bearer secret is recoverable
 * CHANGE:    New repository
 * RISK:      Medium - the entire bus surface's authorization rests on
 *            these two tables being correct
 */
type AuthRepository struct{ db *sql.DB }

func (r *AuthRepository) IssueToken(ctx context.Context, tokenHash, identity string, issuedAt, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_tokens (token_hash, identity, issued_at, expires_at, revoked) VALUES (?, ?, ?, ?, 0)`,
		tokenHash, identity, issuedAt, expiresAt)
	if err != nil {
		return domain.NewTransientStoreError("issuing session token", err)
	}
	return nil
}

// RevokeActiveForIdentity revokes every not-yet-revoked token for an
// identity, expired or not,
// enforcing the single-active-token-per-identity invariant (P7) before a
// fresh one is issued.
func (r *AuthRepository) RevokeActiveForIdentity(ctx context.Context, identity string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE auth_tokens SET revoked = 1 WHERE identity = ? AND revoked = 0`, identity)
	if err != nil {
		return domain.NewTransientStoreError("revoking prior session tokens", err)
	}
	return nil
}

type TokenRecord struct {
	Identity  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

func (r *AuthRepository) Lookup(ctx context.Context, tokenHash string) (*TokenRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT identity, issued_at, expires_at, revoked FROM auth_tokens WHERE token_hash = ?`, tokenHash)
	rec := &TokenRecord{}
	var revoked int
	if err := row.Scan(&rec.Identity, &rec.IssuedAt, &rec.ExpiresAt, &revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.NewTransientStoreError("looking up session token", err)
	}
	rec.Revoked = revoked != 0
	return rec, nil
}

func (r *AuthRepository) RecordAttempt(ctx context.Context, identity string, at time.Time, success bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_attempts (identity, attempted_at, success) VALUES (?, ?, ?)`,
		identity, at, boolToInt(success))
	if err != nil {
		return domain.NewTransientStoreError("recording auth attempt", err)
	}
	return nil
}

// FailuresSince counts failed attempts for identity within [since, now),
// the input internal/auth's rate limiter uses alongside golang.org/x/time/rate.
func (r *AuthRepository) FailuresSince(ctx context.Context, identity string, since time.Time) (int, error) {
	var n int
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM auth_attempts WHERE identity = ? AND success = 0 AND attempted_at >= ?`, identity, since)
	if err := row.Scan(&n); err != nil {
		return 0, domain.NewTransientStoreError("counting auth failures", err)
	}
	return n, nil
}
