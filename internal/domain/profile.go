package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

/**
 * CONTEXT:   Profile is the unit of policy for one child, the root entity every
 *            other component (tracker, engine, broker, store) keys off of
 * INPUT:     Display name, age band, optional system username binding
 * OUTPUT:    Validated Profile entity with an embedded, independently versioned
 *            ProfileConfig
 * BUSINESS:  Profiles are created and mutated only by an authenticated parent and
 *            are soft-deactivated, never hard-deleted, so history keeps referential
 *            integrity
 * CHANGE:    Initial implementation
 * RISK:      Low - domain entity, no external dependencies
 */

// AgeBand is one of the canonical age bands the engine derives defaults from.
type AgeBand string

const (
	AgeBand5to7   AgeBand = "5-7"
	AgeBand8to12  AgeBand = "8-12"
	AgeBand13to17 AgeBand = "13-17"
	AgeBandCustom AgeBand = "custom"
)

// Profile is the per-child policy record.
type Profile struct {
	ID               string
	DisplayName      string
	AgeBand          AgeBand
	Birthday         *time.Time
	SystemUsername   string // optional binding for session lock-out
	Active           bool
	Config           ProfileConfig
	ConfigVersion    int64 // matches the latest PolicyVersion.Version
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewProfile validates its inputs and constructs a Profile with config as
// given; age-band defaults are applied by internal/profile's Store.Create,
// not here.
func NewProfile(displayName string, ageBand AgeBand, config ProfileConfig, now time.Time) (*Profile, error) {
	if displayName == "" {
		return nil, NewValidationError("display name cannot be empty")
	}
	switch ageBand {
	case AgeBand5to7, AgeBand8to12, AgeBand13to17, AgeBandCustom:
	default:
		return nil, NewValidationError(fmt.Sprintf("unknown age band %q", ageBand))
	}

	p := &Profile{
		ID:            uuid.NewString(),
		DisplayName:   displayName,
		AgeBand:       ageBand,
		Active:        true,
		Config:        config,
		ConfigVersion: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Deactivate soft-deletes the profile. Profiles are never hard-deleted:
// history rows reference them for the life of the store.
func (p *Profile) Deactivate(now time.Time) {
	p.Active = false
	p.UpdatedAt = now
}

// ScreenTimeConfig holds daily quota and bedtime configuration.
type ScreenTimeConfig struct {
	DailyQuotaSeconds     *int64           `json:"daily_quota_seconds,omitempty"` // nil = no quota
	WeekdayOverrides      map[time.Weekday]int64 `json:"weekday_overrides,omitempty"`
	WeekendQuotaSeconds   *int64           `json:"weekend_quota_seconds,omitempty"`
	BedtimeStart          *ClockTime       `json:"bedtime_start,omitempty"`
	WakeTime              *ClockTime       `json:"wake_time,omitempty"`
	WarningThresholdsSecs []int64          `json:"warning_thresholds_seconds,omitempty"` // default {600, 60}
}

// ClockTime is a time-of-day, minute resolution.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (c ClockTime) Minutes() int { return c.Hour*60 + c.Minute }

func (c ClockTime) validate() error {
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return NewValidationError(fmt.Sprintf("invalid clock time %02d:%02d", c.Hour, c.Minute))
	}
	return nil
}

// TimeWindow is a permitted usage interval on a set of weekdays.
type TimeWindow struct {
	Start    ClockTime      `json:"start"`
	End      ClockTime      `json:"end"`
	Weekdays []time.Weekday `json:"weekdays"`
}

func (w TimeWindow) appliesTo(day time.Weekday) bool {
	for _, d := range w.Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// Covers reports whether the given wall-clock instant falls inside the
// window on its own weekday.
func (w TimeWindow) Covers(t time.Time) bool {
	if !w.appliesTo(t.Weekday()) {
		return false
	}
	mins := t.Hour()*60 + t.Minute()
	return mins >= w.Start.Minutes() && mins < w.End.Minutes()
}

// ApplicationsConfig is the per-profile app allow/deny policy.
type ApplicationsConfig struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// WebFilterLevel is the strictness of domain-level filtering.
type WebFilterLevel string

const (
	WebFilterStrict   WebFilterLevel = "strict"
	WebFilterModerate WebFilterLevel = "moderate"
	WebFilterMinimal  WebFilterLevel = "minimal"
	WebFilterDisabled WebFilterLevel = "disabled"
)

// WebFilteringConfig is the per-profile domain filtering policy.
type WebFilteringConfig struct {
	Level          WebFilterLevel `json:"level"`
	AllowDomains   []string       `json:"allow_domains,omitempty"`
	DenyDomains    []string       `json:"deny_domains,omitempty"`
	SafeSearch     bool           `json:"safe_search"`
}

// TerminalFilteringConfig is the per-profile terminal command policy.
type TerminalFilteringConfig struct {
	Enabled          bool `json:"enabled"`
	EducationalMode  bool `json:"educational_mode"`
}

// ProfileConfig is the effective, independently versioned policy document
// embedded in a Profile.
type ProfileConfig struct {
	ScreenTime         ScreenTimeConfig        `json:"screen_time"`
	TimeWindows        []TimeWindow            `json:"time_windows"`
	Applications       ApplicationsConfig      `json:"applications"`
	WebFiltering       WebFilteringConfig      `json:"web_filtering"`
	TerminalFiltering  TerminalFilteringConfig `json:"terminal_filtering"`
}

// Validate checks the config is internally consistent. It does not apply
// age-band defaults; that is the job of the ageband package when a field
// is left unspecified.
func (c *ProfileConfig) Validate() error {
	for _, w := range c.TimeWindows {
		if err := w.Start.validate(); err != nil {
			return err
		}
		if err := w.End.validate(); err != nil {
			return err
		}
		if w.End.Minutes() <= w.Start.Minutes() {
			return NewValidationError("time window end must be after start")
		}
		if len(w.Weekdays) == 0 {
			return NewValidationError("time window must name at least one weekday")
		}
	}
	if b := c.ScreenTime.BedtimeStart; b != nil {
		if err := b.validate(); err != nil {
			return err
		}
	}
	if w := c.ScreenTime.WakeTime; w != nil {
		if err := w.validate(); err != nil {
			return err
		}
	}
	switch c.WebFiltering.Level {
	case WebFilterStrict, WebFilterModerate, WebFilterMinimal, WebFilterDisabled, "":
	default:
		return NewValidationError(fmt.Sprintf("unknown web filtering level %q", c.WebFiltering.Level))
	}
	return nil
}

// Encode serializes the config for PolicyVersion snapshots (P9: round-trip
// property).
func (c ProfileConfig) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// DecodeProfileConfig is the inverse of Encode.
func DecodeProfileConfig(data []byte) (ProfileConfig, error) {
	var c ProfileConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return ProfileConfig{}, NewValidationError(fmt.Sprintf("malformed profile config: %v", err))
	}
	return c, nil
}

// PatchActor identifies who caused a PolicyVersion to be written.
type PatchActor string

const (
	ActorParent    PatchActor = "parent"
	ActorSystem    PatchActor = "system"
	ActorMigration PatchActor = "migration"
)

// PolicyVersion is an append-only snapshot of a ProfileConfig.
type PolicyVersion struct {
	ProfileID string
	Version   int64
	Snapshot  ProfileConfig
	Actor     PatchActor
	Reason    string
	CreatedAt time.Time
}
