package profile

import (
	"os/user"
	"strconv"
	"sync"
)

/**
 * CONTEXT:   uid -> profile binding for internal/intake's ProfileBinder
 * INPUT:     A raw event's numeric uid, and each cached Profile's
 *            SystemUsername
 * OUTPUT:    A profile id, or "" when the uid belongs to no bound profile
 *            (e.g. a shared/parent account, or a system service)
 * BUSINESS:  spec.md 4.A: events whose uid cannot be bound to a profile
 *            still flow through intake (so unbound activity is visible
 *            in the audit log) but never drive an enforcement Decision
 * CHANGE:    New; resolution result cached since os/user.LookupId does a
 *            NSS round-trip and this is called on every intake event
 * RISK:      Low - a miss here just means an event goes unattributed,
 *            never misattributed to the wrong profile
 */
type uidCache struct {
	mu    sync.Mutex
	names map[int]string // uid -> username, "" cached for a failed lookup
}

func newUIDCache() *uidCache {
	return &uidCache{names: make(map[int]string)}
}

func (c *uidCache) usernameFor(uid int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.names[uid]; ok {
		return name
	}
	u, err := user.LookupId(strconv.Itoa(uid))
	name := ""
	if err == nil {
		name = u.Username
	}
	c.names[uid] = name
	return name
}

// ProfileForUID implements intake.ProfileBinder.
func (s *Store) ProfileForUID(uid int) string {
	if s.uids == nil {
		return ""
	}
	username := s.uids.usernameFor(uid)
	if username == "" {
		return ""
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.Active && p.SystemUsername == username {
			return p.ID
		}
	}
	return ""
}
