// Package bus implements the Bus Facade (component G): the D-Bus
// system-bus service every other component is reached through.
package bus

import (
	"context"
	"fmt"
	"os/user"
	"strconv"

	"github.com/godbus/dbus/v5"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
	"github.com/dots-distro/dots-family-mode-sub003/pkg/logger"
)

/**
 * CONTEXT:   System D-Bus surface the parent app, child session helper,
 *            and CLI all talk to; the only network-reachable-equivalent
 *            boundary in the daemon
 * INPUT:     Method calls on org.dots.FamilyDaemon, authorized by caller
 *            uid via org.freedesktop.DBus.GetConnectionUnixUser
 * OUTPUT:    Method replies plus ProfileChanged/ApprovalRequested
 *            broadcast signals
 * BUSINESS:  spec.md 4.G: mutating calls require root (the session helper)
 *            or membership in the family-parent unix group, and
 *            ResolveRequest/GrantException also a valid parent session
 *            token; family-children members may call only the four
 *            methods in childPermittedMethods
 * CHANGE:    New package; method-dispatch/middleware shape (auth check
 *            wrapping a handler, structured request logging) grounded on
 *            the teacher's internal/daemon/middleware.go HTTP middleware
 *            chain, translated from net/http.Handler to a per-method
 *            dbus.Conn.Export wrapper since D-Bus has no middleware
 *            chain primitive of its own
 * RISK:      High - the only externally reachable attack surface
 */
const (
	BusName       = "org.dots.FamilyDaemon"
	ObjectPath    = dbus.ObjectPath("/org/dots/FamilyDaemon")
	InterfaceName = "org.dots.FamilyDaemon1"
)

// Dependencies is the set of component facades the bus service dispatches
// into. It is an interface so internal/bus never imports internal/daemon
// and can be tested against fakes.
type Dependencies interface {
	CreateProfile(ctx context.Context, displayName, band string) (*domain.Profile, error)
	ListProfiles(ctx context.Context) ([]*domain.Profile, error)
	GetActiveProfile(ctx context.Context, profileID string) (*domain.Profile, error)
	CheckApplicationAllowed(ctx context.Context, profileID, appID string) (bool, error)
	GetRemainingTime(ctx context.Context, profileID string) (domain.ProfileStatus, error)
	RequestApproval(ctx context.Context, profileID, subject, kind, rationale string) (*domain.ApprovalRequest, error)
	ResolveRequest(ctx context.Context, requestID, sessionToken string, approve bool) error
	GrantException(ctx context.Context, sessionToken, profileID, kind string, extraMinutes int64) error
	Authenticate(ctx context.Context, passphrase string) (token string, err error)
}

// AuthorizeFunc resolves a D-Bus sender's unix uid and decides whether it
// may invoke a given method name.
type AuthorizeFunc func(conn *dbus.Conn, sender dbus.Sender, method string) error

// ScopeFunc additionally checks that a scoped method's profileID argument
// is one the caller is allowed to name (spec.md 6's "own profile only").
type ScopeFunc func(conn *dbus.Conn, sender dbus.Sender, method, profileID string) error

type Service struct {
	conn  *dbus.Conn
	deps  Dependencies
	log   *logger.DefaultLogger
	auth  AuthorizeFunc
	scope ScopeFunc
}

func New(conn *dbus.Conn, deps Dependencies, authorize AuthorizeFunc, scope ScopeFunc, log *logger.DefaultLogger) *Service {
	return &Service{conn: conn, deps: deps, auth: authorize, scope: scope, log: log.With("bus")}
}

// Start acquires the well-known bus name and exports the object. It
// returns domain.CapabilityError if the name is already owned (another
// daemon instance is running).
func (s *Service) Start() error {
	reply, err := s.conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return domain.NewCapabilityError(fmt.Sprintf("failed to request bus name %s", BusName), err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return domain.NewCapabilityError(fmt.Sprintf("bus name %s already owned, another instance is running", BusName), nil)
	}

	if err := s.conn.Export(s, ObjectPath, InterfaceName); err != nil {
		return domain.NewCapabilityError("failed to export object", err)
	}

	node := introspectNode()
	if err := s.conn.Export(node, ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return domain.NewCapabilityError("failed to export introspection", err)
	}
	return nil
}

func (s *Service) Close() error {
	_, _ = s.conn.ReleaseName(BusName)
	return s.conn.Close()
}

// EmitProfileChanged broadcasts a ProfileChanged signal, consumed by the
// parent app's live profile list.
func (s *Service) EmitProfileChanged(profileID string) error {
	return s.conn.Emit(ObjectPath, InterfaceName+".ProfileChanged", profileID)
}

// EmitApprovalRequested broadcasts ApprovalRequested, which the parent
// app's notification surface subscribes to.
func (s *Service) EmitApprovalRequested(requestID, profileID, subject string) error {
	return s.conn.Emit(ObjectPath, InterfaceName+".ApprovalRequested", requestID, profileID, subject)
}

// connectionUID resolves a D-Bus sender's unix uid via the well-known
// org.freedesktop.DBus.GetConnectionUnixUser call, the same mechanism
// polkit and other system services use for caller identification.
func connectionUID(conn *dbus.Conn, sender dbus.Sender) (int, error) {
	var uid uint32
	obj := conn.BusObject()
	err := obj.Call("org.freedesktop.DBus.GetConnectionUnixUser", 0, string(sender)).Store(&uid)
	if err != nil {
		return 0, domain.NewCapabilityError("failed to resolve caller uid", err)
	}
	return int(uid), nil
}

// lookupUser is a thin wrapper over os/user so callers/tests can be
// grounded against real /etc/passwd semantics without a mock.
func lookupUser(uid int) (*user.User, error) {
	return user.LookupId(strconv.Itoa(uid))
}
