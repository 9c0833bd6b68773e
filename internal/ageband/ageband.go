// Package ageband holds the canonical age-band default table used by
// internal/profile when a new Profile omits ProfileConfig sections.
package ageband

import (
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   Canonical {5-7, 8-12, 13-17} -> default ProfileConfig table
 * INPUT:     An AgeBand
 * OUTPUT:    A full ProfileConfig section set, used to fill in anything the
 *            creating parent left unspecified
 * BUSINESS:  This table is the single source of truth for age-band defaults;
 *            spec.md 4.B requires tests to pin it exactly
 * CHANGE:    Initial implementation, grounded on the teacher's pattern of a
 *            pure package-level lookup table (internal/workhour analyzers)
 * RISK:      Low - pure data, no side effects
 */

var quota5to7 = int64(90 * 60)
var quota8to12 = int64(150 * 60)
var quota13to17 = int64(240 * 60)

// defaults maps each canonical age band to its default ProfileConfig.
var defaults = map[domain.AgeBand]domain.ProfileConfig{
	domain.AgeBand5to7: {
		ScreenTime: domain.ScreenTimeConfig{
			DailyQuotaSeconds:     &quota5to7,
			WarningThresholdsSecs: []int64{600, 60},
			BedtimeStart:          &domain.ClockTime{Hour: 19, Minute: 30},
			WakeTime:              &domain.ClockTime{Hour: 7, Minute: 0},
		},
		TimeWindows: []domain.TimeWindow{
			{Start: domain.ClockTime{Hour: 8, Minute: 0}, End: domain.ClockTime{Hour: 19, Minute: 0},
				Weekdays: allWeekdays()},
		},
		Applications: domain.ApplicationsConfig{},
		WebFiltering: domain.WebFilteringConfig{Level: domain.WebFilterStrict, SafeSearch: true},
		TerminalFiltering: domain.TerminalFilteringConfig{Enabled: true, EducationalMode: true},
	},
	domain.AgeBand8to12: {
		ScreenTime: domain.ScreenTimeConfig{
			DailyQuotaSeconds:     &quota8to12,
			WarningThresholdsSecs: []int64{600, 60},
			BedtimeStart:          &domain.ClockTime{Hour: 20, Minute: 30},
			WakeTime:              &domain.ClockTime{Hour: 6, Minute: 30},
		},
		TimeWindows: []domain.TimeWindow{
			{Start: domain.ClockTime{Hour: 7, Minute: 0}, End: domain.ClockTime{Hour: 20, Minute: 0},
				Weekdays: allWeekdays()},
		},
		Applications: domain.ApplicationsConfig{},
		WebFiltering: domain.WebFilteringConfig{Level: domain.WebFilterModerate, SafeSearch: true},
		TerminalFiltering: domain.TerminalFilteringConfig{Enabled: true, EducationalMode: true},
	},
	domain.AgeBand13to17: {
		ScreenTime: domain.ScreenTimeConfig{
			DailyQuotaSeconds:     &quota13to17,
			WarningThresholdsSecs: []int64{600, 60},
			BedtimeStart:          &domain.ClockTime{Hour: 22, Minute: 30},
			WakeTime:              &domain.ClockTime{Hour: 6, Minute: 0},
		},
		TimeWindows:  nil, // unrestricted by default for teens
		Applications: domain.ApplicationsConfig{},
		WebFiltering: domain.WebFilteringConfig{Level: domain.WebFilterMinimal, SafeSearch: false},
		TerminalFiltering: domain.TerminalFilteringConfig{Enabled: false, EducationalMode: false},
	},
}

func allWeekdays() []time.Weekday {
	return []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}
}

// Default returns the canonical default ProfileConfig for a band. Custom
// bands get the 8-12 table as a conservative starting point; callers are
// expected to override every section explicitly for a custom band.
func Default(band domain.AgeBand) domain.ProfileConfig {
	if cfg, ok := defaults[band]; ok {
		return cfg
	}
	return defaults[domain.AgeBand8to12]
}

// ApplyDefaults fills any zero-valued section of cfg from the age band's
// defaults, leaving explicitly-set sections untouched.
func ApplyDefaults(band domain.AgeBand, cfg domain.ProfileConfig) domain.ProfileConfig {
	d := Default(band)

	if cfg.ScreenTime.DailyQuotaSeconds == nil && cfg.ScreenTime.WeekendQuotaSeconds == nil &&
		cfg.ScreenTime.BedtimeStart == nil && cfg.ScreenTime.WakeTime == nil {
		cfg.ScreenTime = d.ScreenTime
	}
	if len(cfg.ScreenTime.WarningThresholdsSecs) == 0 {
		cfg.ScreenTime.WarningThresholdsSecs = d.ScreenTime.WarningThresholdsSecs
	}
	if cfg.TimeWindows == nil {
		cfg.TimeWindows = d.TimeWindows
	}
	if cfg.WebFiltering.Level == "" {
		cfg.WebFiltering = d.WebFiltering
	}
	if !cfg.TerminalFiltering.Enabled && !cfg.TerminalFiltering.EducationalMode {
		cfg.TerminalFiltering = d.TerminalFiltering
	}
	return cfg
}

// DefaultAppDecision is the default app policy derived from age band for
// applications that appear in neither the allow- nor deny-set.
func DefaultAppDecision(band domain.AgeBand) domain.DecisionKind {
	switch band {
	case domain.AgeBand5to7:
		return domain.DecisionBlock
	case domain.AgeBand8to12:
		return domain.DecisionRequireApproval
	default:
		return domain.DecisionAllow
	}
}
