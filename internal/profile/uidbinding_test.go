package profile

import (
	"os/user"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

func TestProfileForUID_MatchesActiveProfileBySystemUsername(t *testing.T) {
	me, err := user.Current()
	require.NoError(t, err)
	uid, err := strconv.Atoi(me.Uid)
	require.NoError(t, err)

	s := &Store{
		uids: newUIDCache(),
		profiles: map[string]*domain.Profile{
			"p1": {ID: "p1", Active: true, SystemUsername: me.Username},
		},
	}

	assert.Equal(t, "p1", s.ProfileForUID(uid))
}

func TestProfileForUID_IgnoresInactiveProfile(t *testing.T) {
	me, err := user.Current()
	require.NoError(t, err)
	uid, err := strconv.Atoi(me.Uid)
	require.NoError(t, err)

	s := &Store{
		uids: newUIDCache(),
		profiles: map[string]*domain.Profile{
			"p1": {ID: "p1", Active: false, SystemUsername: me.Username},
		},
	}

	assert.Equal(t, "", s.ProfileForUID(uid))
}

func TestProfileForUID_UnknownUIDReturnsEmpty(t *testing.T) {
	s := &Store{uids: newUIDCache(), profiles: map[string]*domain.Profile{}}
	assert.Equal(t, "", s.ProfileForUID(999999999))
}

func TestUIDCache_CachesFailedLookup(t *testing.T) {
	c := newUIDCache()
	first := c.usernameFor(999999999)
	assert.Equal(t, "", first)
	_, cached := c.names[999999999]
	assert.True(t, cached, "a failed lookup must still be cached to avoid repeat NSS round-trips")
}
