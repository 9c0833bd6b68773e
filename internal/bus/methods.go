package bus

import (
	"context"

	"github.com/godbus/dbus/v5"
)

/**
 * CONTEXT:   Exported D-Bus methods, one Go method per wire method
 * INPUT:     Method call arguments as decoded by godbus from the wire
 * OUTPUT:    (reply..., *dbus.Error) - godbus's Export convention for a
 *            method that can fail
 * BUSINESS:  Every method except Authenticate calls s.authorizeCall
 *            first; GetActiveProfile/CheckApplicationAllowed/
 *            GetRemainingTime also call s.scopeCall; ResolveRequest/
 *            GrantException additionally need a valid parent session
 *            token, checked by the broker
 * CHANGE:    New; method bodies are thin dispatch, matching the
 *            teacher's handlers.go pattern of one function per route
 *            validating input then delegating to a use-case method
 * RISK:      High - the authorizeCall gate is the only thing standing
 *            between an unprivileged child session and a parent-only
 *            action
 */

func (s *Service) authorizeCall(sender dbus.Sender, method string) *dbus.Error {
	if s.auth == nil {
		return nil
	}
	if err := s.auth(s.conn, sender, method); err != nil {
		s.log.Warn("unauthorized bus call", "method", method, "sender", sender, "error", err)
		return dbus.MakeFailedError(err)
	}
	return nil
}

// scopeCall additionally checks "own profile only" for methods scoped to
// a specific profile id.
func (s *Service) scopeCall(sender dbus.Sender, method, profileID string) *dbus.Error {
	if s.scope == nil {
		return nil
	}
	if err := s.scope(s.conn, sender, method, profileID); err != nil {
		s.log.Warn("out-of-scope bus call", "method", method, "sender", sender, "profile_id", profileID, "error", err)
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (s *Service) CreateProfile(displayName, band string, sender dbus.Sender) (string, *dbus.Error) {
	if dbusErr := s.authorizeCall(sender, "CreateProfile"); dbusErr != nil {
		return "", dbusErr
	}
	profile, err := s.deps.CreateProfile(context.Background(), displayName, band)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	_ = s.EmitProfileChanged(profile.ID)
	return profile.ID, nil
}

func (s *Service) ListProfiles(sender dbus.Sender) ([]string, *dbus.Error) {
	if dbusErr := s.authorizeCall(sender, "ListProfiles"); dbusErr != nil {
		return nil, dbusErr
	}
	profiles, err := s.deps.ListProfiles(context.Background())
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// GetActiveProfile implements get_active_profile: a dots-family-children
// caller may only name its own bound profile (enforced by scopeCall).
func (s *Service) GetActiveProfile(profileID string, sender dbus.Sender) (string, string, string, bool, *dbus.Error) {
	if dbusErr := s.authorizeCall(sender, "GetActiveProfile"); dbusErr != nil {
		return "", "", "", false, dbusErr
	}
	if dbusErr := s.scopeCall(sender, "GetActiveProfile", profileID); dbusErr != nil {
		return "", "", "", false, dbusErr
	}
	p, err := s.deps.GetActiveProfile(context.Background(), profileID)
	if err != nil {
		return "", "", "", false, dbus.MakeFailedError(err)
	}
	return p.ID, p.DisplayName, string(p.AgeBand), p.Active, nil
}

// CheckApplicationAllowed implements check_application_allowed.
func (s *Service) CheckApplicationAllowed(profileID, appID string, sender dbus.Sender) (bool, *dbus.Error) {
	if dbusErr := s.authorizeCall(sender, "CheckApplicationAllowed"); dbusErr != nil {
		return false, dbusErr
	}
	if dbusErr := s.scopeCall(sender, "CheckApplicationAllowed", profileID); dbusErr != nil {
		return false, dbusErr
	}
	allowed, err := s.deps.CheckApplicationAllowed(context.Background(), profileID, appID)
	if err != nil {
		return false, dbus.MakeFailedError(err)
	}
	return allowed, nil
}

// GetRemainingTime implements get_remaining_time.
func (s *Service) GetRemainingTime(profileID string, sender dbus.Sender) (int64, bool, string, *dbus.Error) {
	if dbusErr := s.authorizeCall(sender, "GetRemainingTime"); dbusErr != nil {
		return 0, false, "", dbusErr
	}
	if dbusErr := s.scopeCall(sender, "GetRemainingTime", profileID); dbusErr != nil {
		return 0, false, "", dbusErr
	}
	status, err := s.deps.GetRemainingTime(context.Background(), profileID)
	if err != nil {
		return 0, false, "", dbus.MakeFailedError(err)
	}
	return status.RemainingQuotaSecs, status.HasQuota, string(status.FSMState), nil
}

func (s *Service) RequestApproval(profileID, subject, kind, rationale string, sender dbus.Sender) (string, *dbus.Error) {
	if dbusErr := s.authorizeCall(sender, "RequestApproval"); dbusErr != nil {
		return "", dbusErr
	}
	req, err := s.deps.RequestApproval(context.Background(), profileID, subject, kind, rationale)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	_ = s.EmitApprovalRequested(req.ID, profileID, subject)
	return req.ID, nil
}

func (s *Service) ResolveRequest(requestID, sessionToken string, approve bool, sender dbus.Sender) *dbus.Error {
	if dbusErr := s.authorizeCall(sender, "ResolveRequest"); dbusErr != nil {
		return dbusErr
	}
	if err := s.deps.ResolveRequest(context.Background(), requestID, sessionToken, approve); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (s *Service) GrantException(sessionToken, profileID, kind string, extraMinutes int64, sender dbus.Sender) *dbus.Error {
	if dbusErr := s.authorizeCall(sender, "GrantException"); dbusErr != nil {
		return dbusErr
	}
	if err := s.deps.GrantException(context.Background(), sessionToken, profileID, kind, extraMinutes); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (s *Service) Authenticate(passphrase string, sender dbus.Sender) (string, *dbus.Error) {
	// Authenticate has no prior-auth gate: it IS the auth step. Rate
	// limiting against brute force lives in internal/auth.RateLimiter,
	// invoked by the daemon orchestrator's Authenticate wiring.
	token, err := s.deps.Authenticate(context.Background(), passphrase)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return token, nil
}
