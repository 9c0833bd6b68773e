package daemon

import (
	"context"
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/auth"
	"github.com/dots-distro/dots-family-mode-sub003/internal/broker"
	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   Adapter satisfying internal/bus.Dependencies without that
 *            package importing internal/daemon (avoids an import cycle,
 *            since internal/daemon already imports internal/bus)
 * INPUT:     Bus method arguments, already unmarshalled by godbus
 * OUTPUT:    Domain calls against the orchestrator's component set
 * BUSINESS:  Authenticate enforces the rate limiter before touching the
 *            passphrase hash at all, so a lockout can never be bypassed
 *            by a cheap comparison timing difference
 * CHANGE:    New
 * RISK:      Medium - thin, but every bus call funnels through here
 */
type daemonFacade struct {
	o *Orchestrator
}

func (f *daemonFacade) CreateProfile(ctx context.Context, displayName, band string) (*domain.Profile, error) {
	return f.o.profiles.Create(ctx, displayName, domain.AgeBand(band), domain.ProfileConfig{}, time.Now())
}

func (f *daemonFacade) ListProfiles(ctx context.Context) ([]*domain.Profile, error) {
	return f.o.profiles.List(true), nil
}

// GetActiveProfile implements get_active_profile.
func (f *daemonFacade) GetActiveProfile(ctx context.Context, profileID string) (*domain.Profile, error) {
	p, ok := f.o.profiles.Get(profileID)
	if !ok {
		return nil, domain.NewStateError("profile not found")
	}
	return p, nil
}

// CheckApplicationAllowed implements check_application_allowed by
// evaluating the same policy gate a live ProcessExec event would hit.
func (f *daemonFacade) CheckApplicationAllowed(ctx context.Context, profileID, appID string) (bool, error) {
	p, ok := f.o.profiles.Get(profileID)
	if !ok {
		return false, domain.NewStateError("profile not found")
	}

	snapshot := domain.ProfileSnapshot{
		ProfileID:        p.ID,
		AgeBand:          p.AgeBand,
		Config:           p.Config,
		ActiveExceptions: f.o.track.Exceptions(profileID),
	}
	tracker, _ := f.o.track.Status(profileID)
	tracker.ProfileID = profileID
	if tracker.Now.IsZero() {
		tracker.Now = time.Now()
	}

	event := domain.Event{Kind: domain.EventProcessExec, ProfileID: profileID, AppID: appID}
	decision := f.o.engine.Evaluate(snapshot, tracker, event)
	return decision.Kind == domain.DecisionAllow || decision.Kind == domain.DecisionWarn, nil
}

// GetRemainingTime implements get_remaining_time: the tracker's live
// active-seconds count against the profile's configured daily quota.
func (f *daemonFacade) GetRemainingTime(ctx context.Context, profileID string) (domain.ProfileStatus, error) {
	p, ok := f.o.profiles.Get(profileID)
	if !ok {
		return domain.ProfileStatus{}, domain.NewStateError("profile not found")
	}

	snap, _ := f.o.track.Status(profileID)
	status := domain.ProfileStatus{
		ProfileID:       profileID,
		ActiveSessionID: snap.SessionID,
		FSMState:        snap.State,
	}
	if status.FSMState == "" {
		status.FSMState = domain.FSMInactive
	}

	if quota := p.Config.ScreenTime.DailyQuotaSeconds; quota != nil {
		status.HasQuota = true
		remaining := *quota - snap.ActiveSeconds
		if remaining < 0 {
			remaining = 0
		}
		status.RemainingQuotaSecs = remaining
	}
	return status, nil
}

func (f *daemonFacade) RequestApproval(ctx context.Context, profileID, subject, kind, rationale string) (*domain.ApprovalRequest, error) {
	return f.o.brk.RequestApproval(ctx, profileID, subject, domain.ApprovalSubjectKind(kind), domain.EnumeratedReason(rationale), time.Now())
}

func (f *daemonFacade) ResolveRequest(ctx context.Context, requestID, sessionToken string, approve bool) error {
	return f.o.brk.ResolveRequest(ctx, requestID, sessionToken, approve, time.Now())
}

func (f *daemonFacade) GrantException(ctx context.Context, sessionToken, profileID, kind string, extraMinutes int64) error {
	now := time.Now()
	_, err := f.o.brk.GrantException(ctx, sessionToken, profileID, domain.ExceptionKind(kind), now.Add(exceptionWindow(kind, extraMinutes)), broker.ExceptionPayload{ExtraMinutes: extraMinutes}, now)
	return err
}

func exceptionWindow(kind string, extraMinutes int64) time.Duration {
	if domain.ExceptionKind(kind) == domain.ExceptionExtraTime && extraMinutes > 0 {
		return time.Duration(extraMinutes) * time.Minute
	}
	return 24 * time.Hour
}

func (f *daemonFacade) Authenticate(ctx context.Context, passphrase string) (string, error) {
	const identity = "parent"
	now := time.Now()

	if err := f.o.rateLimit.Allow(ctx, identity, now); err != nil {
		return "", err
	}

	ok, err := auth.VerifyPassphrase(f.o.passphraseHash, passphrase)
	_ = f.o.rateLimit.RecordResult(ctx, identity, now, ok && err == nil)
	if err != nil {
		return "", domain.NewAuthError("passphrase verification failed")
	}
	if !ok {
		return "", domain.NewAuthError("incorrect passphrase")
	}

	token, err := f.o.tokens.Issue(ctx, identity, now)
	if err != nil {
		return "", err
	}
	return token.Value, nil
}
