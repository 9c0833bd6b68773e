package domain

import (
	"time"

	"github.com/google/uuid"
)

/**
 * CONTEXT:   Exception is a time-bounded parent override of an engine rule,
 *            granted directly by grant_exception or implied by an approved
 *            ApprovalRequest
 * INPUT:     Profile, exception kind, type-specific payload, expiry
 * OUTPUT:    Exception entity consulted by the policy engine and applied to
 *            the tracker within one evaluation tick
 * BUSINESS:  Exceptions are swept on internal/daemon's maintenance tick
 *            (the monitoring interval), not on session transitions;
 *            expiring one is an audited state change
 * CHANGE:    Initial implementation
 * RISK:      Low - domain entity, lifecycle owned by internal/broker
 */

// ExceptionKind is the type of override a parent can grant.
type ExceptionKind string

const (
	ExceptionExtraTime         ExceptionKind = "extra_time"
	ExceptionAllowApp          ExceptionKind = "allow_app"
	ExceptionAllowWebsite      ExceptionKind = "allow_website"
	ExceptionSuspendMonitoring ExceptionKind = "suspend_monitoring"
)

// GrantedBy identifies who caused an Exception to exist.
type GrantedBy string

const (
	GrantedByParent GrantedBy = "parent"
	GrantedBySystem GrantedBy = "system"
)

// Exception is a time-bounded override of a policy rule.
type Exception struct {
	ID         string
	ProfileID  string
	Kind       ExceptionKind
	GrantedBy  GrantedBy
	GrantedAt  time.Time
	ExpiresAt  time.Time
	Active     bool
	Used       bool

	// Type-specific payload: exactly one is meaningful per Kind.
	ExtraMinutes int64  // extra_time
	AppID        string // allow_app
	Domain       string // allow_website
	// suspend_monitoring carries no payload beyond scope

}

// NewException constructs a pending, active Exception.
func NewException(profileID string, kind ExceptionKind, grantedBy GrantedBy, expiresAt, now time.Time) *Exception {
	return &Exception{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Kind:      kind,
		GrantedBy: grantedBy,
		GrantedAt: now,
		ExpiresAt: expiresAt,
		Active:    true,
	}
}

// CoversNow reports whether the exception is active and not yet expired.
func (e *Exception) CoversNow(now time.Time) bool {
	return e.Active && now.Before(e.ExpiresAt)
}

// Expire marks an exception inactive; callers are responsible for auditing
// the transition (spec.md 4.E sweep contract).
func (e *Exception) Expire() {
	e.Active = false
}

// ApprovalState is the ApprovalRequest state machine's current state.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
	ApprovalExpired  ApprovalState = "expired"
)

// ApprovalSubjectKind is what kind of subject an ApprovalRequest names.
type ApprovalSubjectKind string

const (
	SubjectApplication ApprovalSubjectKind = "application"
	SubjectWebsite     ApprovalSubjectKind = "website"
	SubjectTerminal    ApprovalSubjectKind = "terminal"
)

// ApprovalRequest is a pending parent-gated decision on a child action.
type ApprovalRequest struct {
	ID               string
	ProfileID        string
	Subject          string // app id, domain, or command
	Kind             ApprovalSubjectKind
	Rationale        EnumeratedReason
	CreatedAt        time.Time
	State            ApprovalState
	ResolvingParent  string
	ResolvedAt       *time.Time
}

// NewApprovalRequest constructs a pending approval request.
func NewApprovalRequest(profileID, subject string, kind ApprovalSubjectKind, rationale EnumeratedReason, now time.Time) *ApprovalRequest {
	return &ApprovalRequest{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Subject:   subject,
		Kind:      kind,
		Rationale: rationale,
		CreatedAt: now,
		State:     ApprovalPending,
	}
}

// IsTerminal reports whether the request has reached an immutable state.
func (r *ApprovalRequest) IsTerminal() bool {
	return r.State != ApprovalPending
}

// Resolve transitions a pending request to Approved or Rejected. Resolving
// a non-pending request is a StateError per spec.md 4.E.
func (r *ApprovalRequest) Resolve(approve bool, parentIdentity string, now time.Time) error {
	if r.IsTerminal() {
		return NewStateError("approval request is not pending")
	}
	if approve {
		r.State = ApprovalApproved
	} else {
		r.State = ApprovalRejected
	}
	r.ResolvingParent = parentIdentity
	r.ResolvedAt = &now
	return nil
}

// ExpireIfStale transitions a pending request older than ttl to Expired.
func (r *ApprovalRequest) ExpireIfStale(now time.Time, ttl time.Duration) bool {
	if r.State != ApprovalPending {
		return false
	}
	if now.Sub(r.CreatedAt) < ttl {
		return false
	}
	r.State = ApprovalExpired
	r.ResolvedAt = &now
	return true
}
