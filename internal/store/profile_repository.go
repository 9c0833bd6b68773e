package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   Profile persistence, the root entity every other repository
 *            foreign-keys against
 * INPUT:     domain.Profile values from internal/profile
 * OUTPUT:    Rows in the profiles table; profiles are soft-deactivated,
 *            never deleted, so history stays referentially intact
 * CHANGE:    New repository, one per entity per spec.md 4.F's "one
 *            repository per entity" requirement
 * RISK:      Low - straightforward CRUD over a narrow table
 */
type ProfileRepository struct {
	db *sql.DB
}

func (r *ProfileRepository) Create(ctx context.Context, p *domain.Profile) error {
	cfg, err := p.Config.Encode()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, age_band, birthday, system_username, active, config_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DisplayName, string(p.AgeBand), nullTime(p.Birthday), p.SystemUsername,
		boolToInt(p.Active), p.ConfigVersion, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.NewTransientStoreError("inserting profile", err)
	}
	return r.insertPolicyVersion(ctx, p.ID, 1, cfg, domain.ActorParent, "initial creation", p.CreatedAt)
}

func (r *ProfileRepository) insertPolicyVersion(ctx context.Context, profileID string, version int64, snapshot []byte, actor domain.PatchActor, reason string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO policy_versions (profile_id, version, snapshot, actor, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		profileID, version, string(snapshot), string(actor), reason, now)
	if err != nil {
		return domain.NewTransientStoreError("inserting policy version", err)
	}
	return nil
}

// Update persists a new ProfileConfig as the next PolicyVersion and bumps
// the profile's pointer to it. Never overwrites an existing version row:
// PolicyVersion history is append-only (P2).
func (r *ProfileRepository) Update(ctx context.Context, p *domain.Profile, actor domain.PatchActor, reason string, now time.Time) error {
	cfg, err := p.Config.Encode()
	if err != nil {
		return err
	}
	nextVersion := p.ConfigVersion + 1
	_, err = r.db.ExecContext(ctx, `
		UPDATE profiles SET display_name=?, age_band=?, birthday=?, system_username=?, active=?, config_version=?, updated_at=?
		WHERE id=?`,
		p.DisplayName, string(p.AgeBand), nullTime(p.Birthday), p.SystemUsername,
		boolToInt(p.Active), nextVersion, now, p.ID)
	if err != nil {
		return domain.NewTransientStoreError("updating profile", err)
	}
	if err := r.insertPolicyVersion(ctx, p.ID, nextVersion, cfg, actor, reason, now); err != nil {
		return err
	}
	p.ConfigVersion = nextVersion
	p.UpdatedAt = now
	return nil
}

func (r *ProfileRepository) Get(ctx context.Context, id string) (*domain.Profile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, age_band, birthday, system_username, active, config_version, created_at, updated_at
		FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, err
	}
	cfg, err := r.latestConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Config = cfg
	return p, nil
}

func (r *ProfileRepository) latestConfig(ctx context.Context, profileID string) (domain.ProfileConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT snapshot FROM policy_versions WHERE profile_id = ? ORDER BY version DESC LIMIT 1`, profileID)
	var snapshot string
	if err := row.Scan(&snapshot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProfileConfig{}, domain.NewStateError("profile has no policy version")
		}
		return domain.ProfileConfig{}, domain.NewTransientStoreError("reading latest policy version", err)
	}
	return domain.DecodeProfileConfig([]byte(snapshot))
}

func (r *ProfileRepository) List(ctx context.Context, includeInactive bool) ([]*domain.Profile, error) {
	query := `SELECT id, display_name, age_band, birthday, system_username, active, config_version, created_at, updated_at FROM profiles`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.NewTransientStoreError("listing profiles", err)
	}
	defer rows.Close()

	var out []*domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		cfg, err := r.latestConfig(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Config = cfg
		out = append(out, p)
	}
	return out, nil
}

// History returns every PolicyVersion ever written for a profile, oldest
// first (P2: profile history completeness).
func (r *ProfileRepository) History(ctx context.Context, profileID string) ([]domain.PolicyVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT profile_id, version, snapshot, actor, reason, created_at
		FROM policy_versions WHERE profile_id = ? ORDER BY version ASC`, profileID)
	if err != nil {
		return nil, domain.NewTransientStoreError("reading policy version history", err)
	}
	defer rows.Close()

	var out []domain.PolicyVersion
	for rows.Next() {
		var pv domain.PolicyVersion
		var snapshot, actor string
		if err := rows.Scan(&pv.ProfileID, &pv.Version, &snapshot, &actor, &pv.Reason, &pv.CreatedAt); err != nil {
			return nil, domain.NewTransientStoreError("scanning policy version", err)
		}
		pv.Actor = domain.PatchActor(actor)
		cfg, err := domain.DecodeProfileConfig([]byte(snapshot))
		if err != nil {
			return nil, err
		}
		pv.Snapshot = cfg
		out = append(out, pv)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*domain.Profile, error) {
	p := &domain.Profile{}
	var ageBand string
	var birthday sql.NullTime
	var active int
	if err := row.Scan(&p.ID, &p.DisplayName, &ageBand, &birthday, &p.SystemUsername,
		&active, &p.ConfigVersion, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewStateError("profile not found")
		}
		return nil, domain.NewTransientStoreError("scanning profile", err)
	}
	p.AgeBand = domain.AgeBand(ageBand)
	p.Active = active != 0
	if birthday.Valid {
		p.Birthday = &birthday.Time
	}
	return p, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// PolicyVersionRepository exposes standalone append/read access for
// callers (e.g. internal/broker granting an exception that also bumps
// policy reasoning) that don't hold a full *domain.Profile in hand.
type PolicyVersionRepository struct {
	db *sql.DB
}

func (r *PolicyVersionRepository) Latest(ctx context.Context, profileID string) (domain.PolicyVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT profile_id, version, snapshot, actor, reason, created_at
		FROM policy_versions WHERE profile_id = ? ORDER BY version DESC LIMIT 1`, profileID)
	var pv domain.PolicyVersion
	var snapshot, actor string
	if err := row.Scan(&pv.ProfileID, &pv.Version, &snapshot, &actor, &pv.Reason, &pv.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PolicyVersion{}, domain.NewStateError("profile has no policy version")
		}
		return domain.PolicyVersion{}, domain.NewTransientStoreError("reading latest policy version", err)
	}
	pv.Actor = domain.PatchActor(actor)
	cfg, err := domain.DecodeProfileConfig([]byte(snapshot))
	if err != nil {
		return domain.PolicyVersion{}, err
	}
	pv.Snapshot = cfg
	return pv, nil
}
