package bus

import "github.com/godbus/dbus/v5/introspect"

// introspectNode builds the static introspection document godbus serves
// for org.freedesktop.DBus.Introspectable.Introspect, so bus-aware tools
// (busctl, d-feet) can discover the method surface without out-of-band
// documentation.
func introspectNode() introspect.Introspectable {
	xml := introspect.NewIntrospectable(&introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: InterfaceName,
				Methods: []introspect.Method{
					{Name: "CreateProfile", Args: []introspect.Arg{
						{Name: "display_name", Type: "s", Direction: "in"},
						{Name: "age_band", Type: "s", Direction: "in"},
						{Name: "profile_id", Type: "s", Direction: "out"},
					}},
					{Name: "ListProfiles", Args: []introspect.Arg{
						{Name: "profile_ids", Type: "as", Direction: "out"},
					}},
					{Name: "GetActiveProfile", Args: []introspect.Arg{
						{Name: "profile_id", Type: "s", Direction: "in"},
						{Name: "id", Type: "s", Direction: "out"},
						{Name: "display_name", Type: "s", Direction: "out"},
						{Name: "age_band", Type: "s", Direction: "out"},
						{Name: "active", Type: "b", Direction: "out"},
					}},
					{Name: "CheckApplicationAllowed", Args: []introspect.Arg{
						{Name: "profile_id", Type: "s", Direction: "in"},
						{Name: "app_id", Type: "s", Direction: "in"},
						{Name: "allowed", Type: "b", Direction: "out"},
					}},
					{Name: "GetRemainingTime", Args: []introspect.Arg{
						{Name: "profile_id", Type: "s", Direction: "in"},
						{Name: "remaining_seconds", Type: "x", Direction: "out"},
						{Name: "has_quota", Type: "b", Direction: "out"},
						{Name: "fsm_state", Type: "s", Direction: "out"},
					}},
					{Name: "RequestApproval", Args: []introspect.Arg{
						{Name: "profile_id", Type: "s", Direction: "in"},
						{Name: "subject", Type: "s", Direction: "in"},
						{Name: "kind", Type: "s", Direction: "in"},
						{Name: "rationale", Type: "s", Direction: "in"},
						{Name: "request_id", Type: "s", Direction: "out"},
					}},
					{Name: "ResolveRequest", Args: []introspect.Arg{
						{Name: "request_id", Type: "s", Direction: "in"},
						{Name: "session_token", Type: "s", Direction: "in"},
						{Name: "approve", Type: "b", Direction: "in"},
					}},
					{Name: "GrantException", Args: []introspect.Arg{
						{Name: "session_token", Type: "s", Direction: "in"},
						{Name: "profile_id", Type: "s", Direction: "in"},
						{Name: "kind", Type: "s", Direction: "in"},
						{Name: "extra_minutes", Type: "x", Direction: "in"},
					}},
					{Name: "Authenticate", Args: []introspect.Arg{
						{Name: "passphrase", Type: "s", Direction: "in"},
						{Name: "token", Type: "s", Direction: "out"},
					}},
				},
				Signals: []introspect.Signal{
					{Name: "ProfileChanged", Args: []introspect.Arg{
						{Name: "profile_id", Type: "s"},
					}},
					{Name: "ApprovalRequested", Args: []introspect.Arg{
						{Name: "request_id", Type: "s"},
						{Name: "profile_id", Type: "s"},
						{Name: "subject", Type: "s"},
					}},
				},
			},
		},
	})
	return xml
}
