package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
	"github.com/dots-distro/dots-family-mode-sub003/internal/store"
)

/**
 * CONTEXT:   Session token issuance and validation for the bus facade's
 *            per-call authorization check
 * INPUT:     An authenticated parent identity (system username or bus
 *            unique name)
 * OUTPUT:    An opaque bearer token handed back over the bus, and a
 *            Validate call the bus facade makes on every subsequent
 *            parent-scoped method call
 * BUSINESS:  At most one active token per identity (P7): issuing a new
 *            one revokes every other active token for that identity
 * CHANGE:    New package, token bookkeeping style grounded on the
 *            teacher's ActiveSessionTracker (mutex-guarded map + TTL,
 *            generalized here to store-backed persistence so a daemon
 *            restart does not silently log every parent out)
 * RISK:      High - this is the only gate between "a process dialed the
 *            bus" and "that process may mutate policy"
 */

const tokenBytes = 16 // 128 bits, per spec.md 4.H

// Token is the result of a successful authenticate_parent call.
type Token struct {
	Value     string
	Identity  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Manager issues and validates session tokens against the encrypted store.
type Manager struct {
	store   *store.Store
	timeout time.Duration
}

func NewManager(s *store.Store, sessionTimeout time.Duration) *Manager {
	return &Manager{store: s, timeout: sessionTimeout}
}

// Issue mints a new token for identity, revoking any token already active
// for it first.
func (m *Manager) Issue(ctx context.Context, identity string, now time.Time) (*Token, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, domain.NewInternalError("generating session token", err)
	}
	value := base64.RawURLEncoding.EncodeToString(raw)

	if err := m.store.Auth.RevokeActiveForIdentity(ctx, identity); err != nil {
		return nil, err
	}

	expiresAt := now.Add(m.timeout)
	if err := m.store.Auth.IssueToken(ctx, HashToken(value), identity, now, expiresAt); err != nil {
		return nil, err
	}

	return &Token{Value: value, Identity: identity, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// Validate reports the identity bound to token if it is unexpired and not
// revoked, or an AuthError otherwise.
func (m *Manager) Validate(ctx context.Context, token string, now time.Time) (string, error) {
	rec, err := m.store.Auth.Lookup(ctx, HashToken(token))
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", domain.NewAuthError("session token not recognized")
	}
	if rec.Revoked {
		return "", domain.NewAuthError("session token has been revoked")
	}
	if !now.Before(rec.ExpiresAt) {
		return "", domain.NewAuthError("session token has expired")
	}
	return rec.Identity, nil
}

// Invalidate revokes every active token for identity, used on explicit
// parent logout.
func (m *Manager) Invalidate(ctx context.Context, identity string) error {
	return m.store.Auth.RevokeActiveForIdentity(ctx, identity)
}
