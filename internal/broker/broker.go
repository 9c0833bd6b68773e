// Package broker implements the Approval & Exception Broker (component E):
// the ApprovalRequest and Exception lifecycles, backed by internal/store.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/auth"
	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
	"github.com/dots-distro/dots-family-mode-sub003/internal/store"
	"github.com/dots-distro/dots-family-mode-sub003/pkg/logger"
)

/**
 * CONTEXT:   ApprovalRequest and Exception lifecycle management
 * INPUT:     request_approval/resolve_request/grant_exception calls from
 *            internal/bus, each on behalf of a child or an authenticated
 *            parent
 * OUTPUT:    Persisted ApprovalRequest/Exception rows, audited, and a
 *            live exception list pushed into internal/tracker
 * BUSINESS:  request_approval is idempotent within a 5-minute dedup
 *            window per (profile, subject); resolve_request requires a
 *            valid parent session token and atomically creates the
 *            implied Exception on approval
 * CHANGE:    New package, dedup-map + sweep-loop shape grounded on the
 *            teacher's ActiveSessionTracker cleanup goroutine pattern
 * RISK:      Medium - the only path by which a Block can become an Allow
 *            without a policy edit
 */
const (
	RequestDedupWindow = 5 * time.Minute
	ExceptionSweep      = 60 * time.Second
	ApprovalSweep       = 30 * time.Second
	approvalTTL         = 24 * time.Hour
)

type TrackerNotifier interface {
	SetExceptions(profileID string, exceptions []domain.Exception)
}

type Broker struct {
	db       *store.Store
	tokens   *auth.Manager
	log      *logger.DefaultLogger
	tracker  TrackerNotifier

	mu sync.Mutex
}

func New(db *store.Store, tokens *auth.Manager, tracker TrackerNotifier, log *logger.DefaultLogger) *Broker {
	return &Broker{db: db, tokens: tokens, tracker: tracker, log: log.With("broker")}
}

// RequestApproval is idempotent on (profile, subject) within
// RequestDedupWindow: a repeat call within the window returns the
// existing pending request's id rather than creating a second one.
func (b *Broker) RequestApproval(ctx context.Context, profileID, subject string, kind domain.ApprovalSubjectKind, rationale domain.EnumeratedReason, now time.Time) (*domain.ApprovalRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := b.db.ApprovalRequests.PendingDuplicate(ctx, profileID, subject, now.Add(-RequestDedupWindow))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	req := domain.NewApprovalRequest(profileID, subject, kind, rationale, now)
	if err := b.db.ApprovalRequests.Create(ctx, req); err != nil {
		return nil, err
	}
	if err := b.audit(ctx, domain.AuditActorChild, "approval_request_created", domain.ResourceApproval, req.ID, true, now); err != nil {
		b.log.Warn("failed to audit approval request creation", "error", err)
	}
	return req, nil
}

// ResolveRequest requires a validated parent session token. On approval
// it atomically writes the resolution and the implied Exception.
func (b *Broker) ResolveRequest(ctx context.Context, requestID, sessionToken string, approve bool, now time.Time) error {
	identity, err := b.tokens.Validate(ctx, sessionToken, now)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	req, err := b.db.ApprovalRequests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return domain.NewValidationError("unknown approval request id")
	}
	if err := req.Resolve(approve, identity, now); err != nil {
		return err
	}
	if err := b.db.ApprovalRequests.Update(ctx, req); err != nil {
		return err
	}

	if approve {
		ex, err := b.impliedException(req, now)
		if err != nil {
			return err
		}
		if err := b.db.Exceptions.Create(ctx, ex); err != nil {
			return err
		}
		b.refreshTrackerExceptions(ctx, req.ProfileID)
	}

	return b.audit(ctx, domain.AuditActorParent, "approval_request_resolved", domain.ResourceApproval, req.ID, true, now)
}

func (b *Broker) impliedException(req *domain.ApprovalRequest, now time.Time) (*domain.Exception, error) {
	switch req.Kind {
	case domain.SubjectApplication:
		ex := domain.NewException(req.ProfileID, domain.ExceptionAllowApp, domain.GrantedByParent, now.Add(approvalTTL), now)
		ex.AppID = req.Subject
		return ex, nil
	case domain.SubjectWebsite:
		ex := domain.NewException(req.ProfileID, domain.ExceptionAllowWebsite, domain.GrantedByParent, now.Add(approvalTTL), now)
		ex.Domain = req.Subject
		return ex, nil
	case domain.SubjectTerminal:
		ex := domain.NewException(req.ProfileID, domain.ExceptionAllowApp, domain.GrantedByParent, now.Add(approvalTTL), now)
		ex.AppID = req.Subject
		return ex, nil
	default:
		return nil, domain.NewInternalError("unknown approval subject kind", nil)
	}
}

// GrantException lets a parent directly grant an override without an
// intervening ApprovalRequest (e.g. "give 15 more minutes" from the
// parent app).
func (b *Broker) GrantException(ctx context.Context, sessionToken, profileID string, kind domain.ExceptionKind, expiresAt time.Time, payload ExceptionPayload, now time.Time) (*domain.Exception, error) {
	identity, err := b.tokens.Validate(ctx, sessionToken, now)
	if err != nil {
		return nil, err
	}

	ex := domain.NewException(profileID, kind, domain.GrantedByParent, expiresAt, now)
	ex.ExtraMinutes = payload.ExtraMinutes
	ex.AppID = payload.AppID
	ex.Domain = payload.Domain

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.db.Exceptions.Create(ctx, ex); err != nil {
		return nil, err
	}
	b.refreshTrackerExceptions(ctx, profileID)

	if err := b.audit(ctx, domain.AuditActorParent, "exception_granted", domain.ResourceException, ex.ID, true, now); err != nil {
		b.log.Warn("failed to audit exception grant", "error", err, "identity", identity)
	}
	return ex, nil
}

type ExceptionPayload struct {
	ExtraMinutes int64
	AppID        string
	Domain       string
}

func (b *Broker) refreshTrackerExceptions(ctx context.Context, profileID string) {
	active, err := b.db.Exceptions.ActiveForProfile(ctx, profileID)
	if err != nil {
		b.log.Warn("failed to reload active exceptions for tracker", "profile_id", profileID, "error", err)
		return
	}
	values := make([]domain.Exception, 0, len(active))
	for _, e := range active {
		values = append(values, *e)
	}
	b.tracker.SetExceptions(profileID, values)
}

// SweepExceptions expires every active exception past its expiry.
// internal/daemon calls it on every maintenance tick (the monitoring
// interval); session state transitions do not trigger it.
func (b *Broker) SweepExceptions(ctx context.Context, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	due, err := b.db.Exceptions.DueForSweep(ctx, now)
	if err != nil {
		return err
	}
	touched := map[string]bool{}
	for _, ex := range due {
		ex.Expire()
		if err := b.db.Exceptions.Update(ctx, ex); err != nil {
			return err
		}
		if err := b.audit(ctx, domain.AuditActorSystem, "exception_expired", domain.ResourceException, ex.ID, true, now); err != nil {
			b.log.Warn("failed to audit exception expiry", "error", err)
		}
		touched[ex.ProfileID] = true
	}
	for profileID := range touched {
		b.refreshTrackerExceptions(ctx, profileID)
	}
	return nil
}

// SweepApprovals expires stale pending ApprovalRequests.
func (b *Broker) SweepApprovals(ctx context.Context, profileIDs []string, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, profileID := range profileIDs {
		pending, err := b.db.ApprovalRequests.Pending(ctx, profileID)
		if err != nil {
			return err
		}
		for _, req := range pending {
			if req.ExpireIfStale(now, approvalTTL) {
				if err := b.db.ApprovalRequests.Update(ctx, req); err != nil {
					return err
				}
				if err := b.audit(ctx, domain.AuditActorSystem, "approval_request_expired", domain.ResourceApproval, req.ID, true, now); err != nil {
					b.log.Warn("failed to audit approval expiry", "error", err)
				}
			}
		}
	}
	return nil
}

func (b *Broker) ListPending(ctx context.Context, profileID string) ([]*domain.ApprovalRequest, error) {
	return b.db.ApprovalRequests.Pending(ctx, profileID)
}

func (b *Broker) audit(ctx context.Context, actor domain.AuditActor, action string, kind domain.ResourceKind, resourceID string, success bool, now time.Time) error {
	rec := domain.NewAuditRecord(actor, action, kind, resourceID, success, now)
	return b.db.Audit.Append(ctx, rec)
}
