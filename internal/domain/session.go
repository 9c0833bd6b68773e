package domain

import (
	"time"

	"github.com/google/uuid"
)

/**
 * CONTEXT:   Session models a child's login-to-logout interval and accumulates
 *            the active/idle seconds the quota gate consults
 * INPUT:     Profile reference, start timestamp
 * OUTPUT:    Session entity tracked by internal/tracker for the life of the login
 * BUSINESS:  At most one Session per profile may have a null end time (P3)
 * CHANGE:    Initial implementation, generalized from a single fixed-duration
 *            window to an open-ended session terminated by policy or logout
 * RISK:      Low - domain entity, mutated only through internal/tracker
 */

// TerminationReason explains why a Session ended.
type TerminationReason string

const (
	TerminationLogout     TerminationReason = "logout"
	TerminationTimeLimit  TerminationReason = "time_limit"
	TerminationBedtime    TerminationReason = "bedtime"
	TerminationCrash      TerminationReason = "crash"
	TerminationShutdown   TerminationReason = "shutdown"
)

// Session is a child's login-to-logout interval.
type Session struct {
	ID               string
	ProfileID        string
	StartTime        time.Time
	EndTime          *time.Time
	TerminationReason TerminationReason

	TotalSeconds  int64
	ActiveSeconds int64
	IdleSeconds   int64
}

// NewSession starts a new session for a profile.
func NewSession(profileID string, start time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		StartTime: start,
	}
}

// IsOpen reports whether the session has not yet ended (the invariant P3
// constrains there to be at most one such Session per profile).
func (s *Session) IsOpen() bool { return s.EndTime == nil }

// End closes the session, recording total elapsed wall-clock time. Active
// and idle seconds are supplied by the tracker which is the sole owner of
// the accumulation counters.
func (s *Session) End(now time.Time, reason TerminationReason) {
	if !s.IsOpen() {
		return
	}
	end := now
	s.EndTime = &end
	s.TerminationReason = reason
	s.TotalSeconds = int64(end.Sub(s.StartTime).Seconds())
	s.IdleSeconds = s.TotalSeconds - s.ActiveSeconds
	if s.IdleSeconds < 0 {
		s.IdleSeconds = 0
	}
}

// Category groups applications for reporting and age-band defaults.
type Category string

const (
	CategoryBrowser     Category = "browser"
	CategoryGame        Category = "game"
	CategoryEducational Category = "educational"
	CategorySocial      Category = "social"
	CategoryTerminal    Category = "terminal"
	CategoryOther       Category = "other"
)

// Activity is a single observed in-session event with duration, attributed
// to an application.
type Activity struct {
	ID           string
	SessionID    string
	ProfileID    string
	Timestamp    time.Time
	AppID        string
	AppDisplay   string
	Category     Category
	WindowTitle  string // optional, elidable per privacy config
	DurationSecs int64
}

// Action is the outcome the engine attached to a network/terminal event.
type Action string

const (
	ActionAllowed  Action = "allowed"
	ActionBlocked  Action = "blocked"
	ActionWarned   Action = "warned"
	ActionApproved Action = "approved"
)

// NetworkActivity records a single DomainRequest decision. Only the domain,
// never the full URL, is persisted.
type NetworkActivity struct {
	ID        string
	ProfileID string
	SessionID string
	Timestamp time.Time
	Domain    string
	Category  string
	Action    Action
	Reason    EnumeratedReason
}

// RiskLevel classifies a terminal command's danger.
type RiskLevel string

const (
	RiskSafe        RiskLevel = "safe"
	RiskEducational RiskLevel = "educational"
	RiskRisky       RiskLevel = "risky"
	RiskDangerous   RiskLevel = "dangerous"
)

// TerminalCommand records a single shell command observation.
type TerminalCommand struct {
	ID        string
	ProfileID string
	SessionID string
	Timestamp time.Time
	Command   string
	Risk      RiskLevel
	Action    Action
}

// MemoryEvent is a telemetry-class probe observation (coalescable/droppable
// under backpressure, per spec.md 4.A).
type MemoryEvent struct {
	ID         string
	ProfileID  string
	Timestamp  time.Time
	PID        int
	BytesAlloc int64
}

// DiskIOOp is the filesystem operation a DiskIOEvent observed.
type DiskIOOp string

const (
	DiskIOOpen   DiskIOOp = "open"
	DiskIORead   DiskIOOp = "read"
	DiskIOWrite  DiskIOOp = "write"
	DiskIOUnlink DiskIOOp = "unlink"
	DiskIOChmod  DiskIOOp = "chmod"
)

// DiskIOEvent is a telemetry-class probe observation.
type DiskIOEvent struct {
	ID        string
	ProfileID string
	Timestamp time.Time
	PID       int
	Path      string
	Op        DiskIOOp
}
