package bus

import (
	"os/user"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize_AuthenticateNeverTouchesTheConnection(t *testing.T) {
	p := NewPolicy(DefaultParentGroup, DefaultChildrenGroup, nil)
	// A nil *dbus.Conn would panic if Authorize tried to resolve the
	// caller's uid; Authenticate must short-circuit before that.
	err := p.Authorize(nil, "", "Authenticate")
	assert.NoError(t, err)
}

func TestUserInGroup_TrueForCallersOwnPrimaryGroup(t *testing.T) {
	u, err := user.Current()
	require.NoError(t, err)
	g, err := user.LookupGroupId(u.Gid)
	require.NoError(t, err)

	inGroup, err := userInGroup(u, g.Name)
	require.NoError(t, err)
	assert.True(t, inGroup)
}

func TestUserInGroup_FalseForUnrelatedGroup(t *testing.T) {
	u, err := user.Current()
	require.NoError(t, err)

	inGroup, err := userInGroup(u, "a-group-name-that-should-never-exist-on-this-host")
	assert.Error(t, err)
	assert.False(t, inGroup)
}

func TestMutatingMethods_CoversEveryStateChangingCall(t *testing.T) {
	for _, m := range []string{"CreateProfile", "ResolveRequest", "GrantException"} {
		assert.True(t, mutatingMethods[m], "%s must require dots-family-parents membership", m)
	}
	assert.False(t, mutatingMethods["ListProfiles"], "ListProfiles is read-only and must not be listed as mutating")
}

// spec.md 6: request_command_approval is one of the four calls granted to
// dots-family-children, not a parent-only mutating call.
func TestMutatingMethods_RequestApprovalIsNotParentOnly(t *testing.T) {
	assert.False(t, mutatingMethods["RequestApproval"], "RequestApproval must be reachable by dots-family-children")
	assert.True(t, childPermittedMethods["RequestApproval"])
}

// spec.md 6: the fixed read-only subset granted to dots-family-children.
func TestChildPermittedMethods_IsExactlyTheSpecFixedSubset(t *testing.T) {
	want := []string{"GetActiveProfile", "CheckApplicationAllowed", "GetRemainingTime", "RequestApproval"}
	assert.Len(t, childPermittedMethods, len(want))
	for _, m := range want {
		assert.True(t, childPermittedMethods[m], "%s must be in childPermittedMethods", m)
	}
}

func TestMutatingMethods_NeverOverlapChildPermittedMethods(t *testing.T) {
	for m := range mutatingMethods {
		assert.False(t, childPermittedMethods[m], "%s cannot be both mutating and child-permitted", m)
	}
}

func TestAuthorizeScope_NonScopedMethodNeedsNoConnection(t *testing.T) {
	p := NewPolicy(DefaultParentGroup, DefaultChildrenGroup, nil)
	// AuthorizeScope must check scopedMethods before touching conn at all,
	// same short-circuit shape as Authorize's Authenticate case; a nil
	// *dbus.Conn would panic if it tried to resolve the caller's uid.
	err := p.AuthorizeScope(nil, "", "ListProfiles", "p1")
	assert.NoError(t, err)
}

func TestScopedMethods_ExcludesRequestApproval(t *testing.T) {
	assert.False(t, scopedMethods["RequestApproval"], "RequestApproval's profileID argument is not checked against the caller's bound profile")
	assert.True(t, scopedMethods["GetActiveProfile"])
	assert.True(t, scopedMethods["CheckApplicationAllowed"])
	assert.True(t, scopedMethods["GetRemainingTime"])
}
