package broker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dots-distro/dots-family-mode-sub003/internal/auth"
	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
	"github.com/dots-distro/dots-family-mode-sub003/internal/store"
	"github.com/dots-distro/dots-family-mode-sub003/pkg/logger"
)

type stubTrackerNotifier struct {
	exceptions map[string][]domain.Exception
}

func (s *stubTrackerNotifier) SetExceptions(profileID string, exceptions []domain.Exception) {
	if s.exceptions == nil {
		s.exceptions = make(map[string][]domain.Exception)
	}
	s.exceptions[profileID] = exceptions
}

func newTestBroker(t *testing.T) (*Broker, *store.Store, *auth.Manager, *stubTrackerNotifier) {
	t.Helper()
	dir := t.TempDir()
	cfg := store.DefaultConnectionConfig(filepath.Join(dir, "family.db.enc"))
	db, err := store.Open(context.Background(), cfg, "test-passphrase", logger.NewDefaultLogger("test", "error"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tokens := auth.NewManager(db, time.Hour)
	notifier := &stubTrackerNotifier{}
	b := New(db, tokens, notifier, logger.NewDefaultLogger("test", "error"))
	return b, db, tokens, notifier
}

func newTestProfile(t *testing.T, db *store.Store) *domain.Profile {
	t.Helper()
	p, err := domain.NewProfile("kid", domain.AgeBand8to12, domain.ProfileConfig{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, db.Profiles.Create(context.Background(), p))
	return p
}

func TestRequestApproval_DedupsWithinWindow(t *testing.T) {
	b, db, _, _ := newTestBroker(t)
	ctx := context.Background()
	p := newTestProfile(t, db)
	now := time.Now()

	first, err := b.RequestApproval(ctx, p.ID, "minecraft.exe", domain.SubjectApplication, domain.ReasonApplicationDenied, now)
	require.NoError(t, err)

	second, err := b.RequestApproval(ctx, p.ID, "minecraft.exe", domain.SubjectApplication, domain.ReasonApplicationDenied, now.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "a repeat request within the dedup window must return the existing pending request")
}

func TestRequestApproval_NewRequestAfterDedupWindowExpires(t *testing.T) {
	b, db, _, _ := newTestBroker(t)
	ctx := context.Background()
	p := newTestProfile(t, db)
	now := time.Now()

	first, err := b.RequestApproval(ctx, p.ID, "roblox.exe", domain.SubjectApplication, domain.ReasonApplicationDenied, now)
	require.NoError(t, err)

	second, err := b.RequestApproval(ctx, p.ID, "roblox.exe", domain.SubjectApplication, domain.ReasonApplicationDenied, now.Add(RequestDedupWindow+time.Second))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestResolveRequest_RequiresValidSessionToken(t *testing.T) {
	b, db, _, _ := newTestBroker(t)
	ctx := context.Background()
	p := newTestProfile(t, db)
	now := time.Now()

	req, err := b.RequestApproval(ctx, p.ID, "minecraft.exe", domain.SubjectApplication, domain.ReasonApplicationDenied, now)
	require.NoError(t, err)

	err = b.ResolveRequest(ctx, req.ID, "not-a-real-token", true, now)
	assert.Error(t, err)
}

func TestResolveRequest_ApprovalGrantsImpliedExceptionAndNotifiesTracker(t *testing.T) {
	b, db, tokens, notifier := newTestBroker(t)
	ctx := context.Background()
	p := newTestProfile(t, db)
	now := time.Now()

	tok, err := tokens.Issue(ctx, "parent", now)
	require.NoError(t, err)

	req, err := b.RequestApproval(ctx, p.ID, "minecraft.exe", domain.SubjectApplication, domain.ReasonApplicationDenied, now)
	require.NoError(t, err)

	require.NoError(t, b.ResolveRequest(ctx, req.ID, tok.Value, true, now))

	active, err := db.Exceptions.ActiveForProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, "minecraft.exe", active[0].AppID)

	assert.Len(t, notifier.exceptions[p.ID], 1, "the tracker must be refreshed with the new exception")
}

func TestResolveRequest_DenialGrantsNoException(t *testing.T) {
	b, db, tokens, _ := newTestBroker(t)
	ctx := context.Background()
	p := newTestProfile(t, db)
	now := time.Now()

	tok, err := tokens.Issue(ctx, "parent", now)
	require.NoError(t, err)

	req, err := b.RequestApproval(ctx, p.ID, "minecraft.exe", domain.SubjectApplication, domain.ReasonApplicationDenied, now)
	require.NoError(t, err)

	require.NoError(t, b.ResolveRequest(ctx, req.ID, tok.Value, false, now))

	active, err := db.Exceptions.ActiveForProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestGrantException_RequiresValidSessionToken(t *testing.T) {
	b, db, _, _ := newTestBroker(t)
	ctx := context.Background()
	p := newTestProfile(t, db)

	_, err := b.GrantException(ctx, "not-a-real-token", p.ID, domain.ExceptionExtraTime, time.Now().Add(time.Hour), ExceptionPayload{ExtraMinutes: 15}, time.Now())
	assert.Error(t, err)
}

func TestGrantException_SucceedsWithValidTokenAndNotifiesTracker(t *testing.T) {
	b, db, tokens, notifier := newTestBroker(t)
	ctx := context.Background()
	p := newTestProfile(t, db)
	now := time.Now()

	tok, err := tokens.Issue(ctx, "parent", now)
	require.NoError(t, err)

	ex, err := b.GrantException(ctx, tok.Value, p.ID, domain.ExceptionExtraTime, now.Add(time.Hour), ExceptionPayload{ExtraMinutes: 15}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(15), ex.ExtraMinutes)
	assert.Len(t, notifier.exceptions[p.ID], 1)
}

func TestSweepExceptions_ExpiresDueExceptionsAndRefreshesTracker(t *testing.T) {
	b, db, tokens, notifier := newTestBroker(t)
	ctx := context.Background()
	p := newTestProfile(t, db)
	now := time.Now()

	tok, err := tokens.Issue(ctx, "parent", now)
	require.NoError(t, err)
	_, err = b.GrantException(ctx, tok.Value, p.ID, domain.ExceptionExtraTime, now.Add(time.Minute), ExceptionPayload{ExtraMinutes: 1}, now)
	require.NoError(t, err)

	require.NoError(t, b.SweepExceptions(ctx, now.Add(2*time.Minute)))

	active, err := db.Exceptions.ActiveForProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, active, "the exception must be expired once past its expiry")
	assert.Empty(t, notifier.exceptions[p.ID], "the tracker must be refreshed to reflect the expiry")
}
