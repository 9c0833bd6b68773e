package domain

import "time"

/**
 * CONTEXT:   Snapshot types passed into the (pure) policy engine so that
 *            every input a decision needs is explicit and replayable
 * INPUT:     Assembled by internal/profile (ProfileSnapshot) and
 *            internal/tracker (TrackerSnapshot) before each Evaluate call
 * OUTPUT:    Immutable value types consumed only by internal/policy
 * BUSINESS:  Keeping the engine stateless/pure is what makes P5 (decision
 *            determinism) and off-box replay possible
 * CHANGE:    Initial implementation
 * RISK:      Low - value types, no behavior
 */

// ProfileSnapshot is the slice of Profile state the engine needs to decide.
type ProfileSnapshot struct {
	ProfileID         string
	AgeBand           AgeBand
	Config            ProfileConfig
	ActiveExceptions  []Exception
}

// TrackerFSMState is the Session & Quota Tracker's per-profile state.
type TrackerFSMState string

const (
	FSMInactive TrackerFSMState = "Inactive"
	FSMActive   TrackerFSMState = "Active"
	FSMIdle     TrackerFSMState = "Idle"
	FSMEnded    TrackerFSMState = "Ended"
)

// TrackerSnapshot is the slice of Session & Quota Tracker state the engine
// needs to decide.
type TrackerSnapshot struct {
	ProfileID          string
	State              TrackerFSMState
	SessionID          string
	ActiveSeconds      int64 // accumulated today
	Now                time.Time
}

// DailyUsageSummary is a computed, never-persisted read-model rollup over
// Activity rows for a (profile, date) pair, answering "how much time did
// this profile spend today" without introducing a second source of truth
// alongside the Activity table (see the Open Question in spec.md 9, which
// this spec resolves by keeping Activity authoritative).
type DailyUsageSummary struct {
	ProfileID     string
	Date          time.Time
	ActiveSeconds int64
	IdleSeconds   int64
}

// ProfileStatus is a live snapshot assembled for bus calls like
// get_remaining_time / get_active_profile.
type ProfileStatus struct {
	ProfileID          string
	ActiveSessionID     string
	FSMState            TrackerFSMState
	RemainingQuotaSecs  int64
	HasQuota            bool
}
