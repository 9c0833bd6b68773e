package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
	"github.com/dots-distro/dots-family-mode-sub003/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConnectionConfig(filepath.Join(dir, "family.db.enc"))
	s, err := Open(context.Background(), cfg, "test-passphrase", logger.NewDefaultLogger("test", "error"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestProfile(t *testing.T, s *Store, displayName string) *domain.Profile {
	t.Helper()
	p, err := domain.NewProfile(displayName, domain.AgeBand8to12, domain.ProfileConfig{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Profiles.Create(context.Background(), p))
	return p
}

// P1: the audit log is append-only; neither UPDATE nor DELETE may succeed
// against audit_records, enforced by trg_audit_no_update/
// trg_audit_no_delete regardless of what the repository API exposes.
func TestAuditRecords_AreImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := domain.NewAuditRecord(domain.AuditActorSystem, "policy_decision", domain.ResourceProfile, "p1", true, time.Now())
	require.NoError(t, s.Audit.Append(ctx, rec))

	before, err := s.Audit.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), before)

	_, err = s.db.ExecContext(ctx, `UPDATE audit_records SET action = 'tampered' WHERE id = 1`)
	assert.Error(t, err, "trg_audit_no_update must reject the update")

	_, err = s.db.ExecContext(ctx, `DELETE FROM audit_records WHERE id = 1`)
	assert.Error(t, err, "trg_audit_no_delete must reject the delete")

	after, err := s.Audit.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "row count must never decrease")
}

// P2: every profile mutation appends a PolicyVersion; history is never
// truncated or overwritten, only appended to.
func TestProfileHistory_IsAppendOnlyAcrossUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProfile(t, s, "kid-1")

	history, err := s.Profiles.History(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "creation must write the first PolicyVersion")

	p.ConfigVersion++
	require.NoError(t, s.Profiles.Update(ctx, p, domain.ActorParent, "tightened screen time", time.Now()))

	history, err = s.Profiles.History(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "an update must append, not replace, the prior version")
}

// P3: at most one open session per profile, enforced by
// idx_sessions_one_open_per_profile at the storage layer.
func TestSessions_RejectSecondOpenSessionForSameProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProfile(t, s, "kid-2")

	first := domain.NewSession(p.ID, time.Now())
	require.NoError(t, s.Sessions.Create(ctx, first))

	second := domain.NewSession(p.ID, time.Now())
	err := s.Sessions.Create(ctx, second)
	assert.Error(t, err, "a second concurrently open session for the same profile must be rejected")
}

func TestSessions_AllowsNewOpenSessionAfterPriorOneCloses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProfile(t, s, "kid-3")

	first := domain.NewSession(p.ID, time.Now())
	require.NoError(t, s.Sessions.Create(ctx, first))

	closedAt := time.Now()
	first.EndTime = &closedAt
	first.TerminationReason = domain.TerminationLogout
	require.NoError(t, s.Sessions.Update(ctx, first))

	second := domain.NewSession(p.ID, time.Now())
	assert.NoError(t, s.Sessions.Create(ctx, second), "a new session must be allowed once the prior one is closed")
}
