// Package profile implements the Profile & Policy Store (component B): a
// write-through, in-memory cache of every Profile and its current
// ProfileConfig, kept current for the policy engine and tracker without
// a store round-trip on every event.
package profile

import (
	"context"
	"sync"
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/ageband"
	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
	"github.com/dots-distro/dots-family-mode-sub003/internal/store"
	"github.com/dots-distro/dots-family-mode-sub003/pkg/logger"
)

/**
 * CONTEXT:   Profile & Policy Store cache
 * INPUT:     Profile CRUD calls from the bus facade, age-band defaults
 *            from internal/ageband
 * OUTPUT:    A consistent in-memory Profile/ProfileConfig view every
 *            other component reads without touching internal/store
 * BUSINESS:  Every mutation goes through internal/store first (write
 *            through, not write-behind): a crash between the store write
 *            and the cache update must never leave the two disagreeing
 *            in the store's favor, since the store is what survives a
 *            restart
 * CHANGE:    New package, cache shape grounded on the teacher's
 *            ProjectManager (RWMutex-guarded map, Config-struct
 *            constructor, logger injected)
 * RISK:      Medium - every gate in internal/policy reads through here
 */
type Store struct {
	db     *store.Store
	log    *logger.DefaultLogger

	mu       sync.RWMutex
	profiles map[string]*domain.Profile // id -> profile

	subsMu sync.Mutex
	subs   []chan domain.Profile

	uids *uidCache
}

type Config struct {
	DB     *store.Store
	Logger *logger.DefaultLogger
}

func New(cfg Config) *Store {
	return &Store{
		db:       cfg.DB,
		log:      cfg.Logger.With("profile"),
		profiles: make(map[string]*domain.Profile),
		uids:     newUIDCache(),
	}
}

// Load populates the cache from the store; called once during daemon
// startup after internal/store.Open succeeds.
func (s *Store) Load(ctx context.Context) error {
	profiles, err := s.db.Profiles.List(ctx, true)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	s.log.Info("loaded profiles", "count", len(profiles))
	return nil
}

// Create makes a new Profile, applying age-band defaults to any
// zero-valued ProfileConfig section before the first PolicyVersion is
// written.
func (s *Store) Create(ctx context.Context, displayName string, band domain.AgeBand, cfg domain.ProfileConfig, now time.Time) (*domain.Profile, error) {
	cfg = ageband.ApplyDefaults(band, cfg)
	p, err := domain.NewProfile(displayName, band, cfg, now)
	if err != nil {
		return nil, err
	}
	if err := s.db.Profiles.Create(ctx, p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()

	s.publish(*p)
	return p, nil
}

// Update replaces a profile's ProfileConfig, writing a new PolicyVersion.
func (s *Store) Update(ctx context.Context, profileID string, mutate func(*domain.ProfileConfig), actor domain.PatchActor, reason string, now time.Time) (*domain.Profile, error) {
	s.mu.Lock()
	p, ok := s.profiles[profileID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.NewValidationError("unknown profile id")
	}
	next := *p
	mutate(&next.Config)
	if err := next.Config.Validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	if err := s.db.Profiles.Update(ctx, &next, actor, reason, now); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.profiles[profileID] = &next
	s.mu.Unlock()

	s.publish(next)
	return &next, nil
}

// Deactivate soft-deletes a profile.
func (s *Store) Deactivate(ctx context.Context, profileID string, now time.Time) error {
	s.mu.Lock()
	p, ok := s.profiles[profileID]
	if !ok {
		s.mu.Unlock()
		return domain.NewValidationError("unknown profile id")
	}
	next := *p
	next.Deactivate(now)
	s.mu.Unlock()

	if err := s.db.Profiles.Update(ctx, &next, domain.ActorParent, "deactivated", now); err != nil {
		return err
	}

	s.mu.Lock()
	s.profiles[profileID] = &next
	s.mu.Unlock()

	s.publish(next)
	return nil
}

func (s *Store) Get(profileID string) (*domain.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	return p, ok
}

func (s *Store) List(activeOnly bool) []*domain.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Store) History(ctx context.Context, profileID string) ([]domain.PolicyVersion, error) {
	return s.db.Profiles.History(ctx, profileID)
}

// Subscribe returns a channel receiving every Create/Update/Deactivate
// going forward; an update is dropped for a subscriber whose 16-slot
// buffer is full. No component in this module subscribes.
func (s *Store) Subscribe() <-chan domain.Profile {
	ch := make(chan domain.Profile, 16)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Store) publish(p domain.Profile) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- p:
		default:
			s.log.Warn("profile subscriber channel full, dropping update", "profile_id", p.ID)
		}
	}
}
