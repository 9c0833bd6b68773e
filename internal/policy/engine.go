// Package policy implements the Policy Engine (component C): a pure
// function from (ProfileSnapshot, TrackerSnapshot, Event) to Decision.
package policy

import (
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/ageband"
	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   Evaluate is the single entry point every enforcement surface
 *            calls; it holds no state beyond the injected terminal
 *            command pattern table
 * INPUT:     A ProfileSnapshot, a TrackerSnapshot, and one normalized Event
 * OUTPUT:    A Decision, deterministic for identical inputs (P5)
 * BUSINESS:  Gate order is fixed: time-window, quota, application, web,
 *            terminal, default. When both the time-window and quota gates
 *            would fire, time-window wins (P6) - this is the single most
 *            test-load-bearing line in the daemon
 * CHANGE:    New package; no teacher analogue exists (the teacher has no
 *            policy gate at all), so the shape is modeled directly on
 *            spec.md 4.C rather than adapted from teacher code, matching
 *            the "pure decision function over snapshots" contract
 * RISK:      High - every enforcement decision in the product funnels
 *            through this one function
 */
type Engine struct {
	terminalRules *TerminalRuleTable
}

func NewEngine() *Engine {
	return &Engine{terminalRules: DefaultTerminalRuleTable()}
}

// Evaluate is stateless and side-effect free: every input the decision
// needs is in the three arguments.
func (e *Engine) Evaluate(profile domain.ProfileSnapshot, tracker domain.TrackerSnapshot, event domain.Event) domain.Decision {
	if profile.ProfileID == "" {
		return domain.Block(domain.ReasonUnboundProfile, domain.ScopeEvent)
	}

	if d, fired := e.timeWindowGate(profile, tracker); fired {
		return d
	}
	if d, fired := e.quotaGate(profile, tracker); fired {
		return d
	}

	switch event.Kind {
	case domain.EventProcessExec, domain.EventFocusChanged:
		return e.applicationGate(profile, event)
	case domain.EventDomainRequest:
		return e.webFilterGate(profile, event)
	case domain.EventTerminalCmd:
		return e.terminalGate(profile, event)
	default:
		return domain.Allow(domain.ReasonDefaultAllow)
	}
}

// timeWindowGate implements spec.md 4.C gate 1. Overrides every later rule.
func (e *Engine) timeWindowGate(profile domain.ProfileSnapshot, tracker domain.TrackerSnapshot) (domain.Decision, bool) {
	now := tracker.Now

	if hasActiveException(profile.ActiveExceptions, domain.ExceptionExtraTime, now) ||
		hasActiveException(profile.ActiveExceptions, domain.ExceptionSuspendMonitoring, now) {
		return domain.Decision{}, false
	}

	if len(profile.Config.TimeWindows) == 0 {
		return domain.Decision{}, false // unrestricted profile (e.g. default 13-17 band)
	}

	for _, w := range profile.Config.TimeWindows {
		if w.Covers(now) {
			return domain.Decision{}, false
		}
	}
	return domain.Block(domain.ReasonOutsideTimeWindow, domain.ScopeSession), true
}

// quotaGate implements spec.md 4.C gate 2, including the default warning
// thresholds (10 minutes and 1 minute remaining).
func (e *Engine) quotaGate(profile domain.ProfileSnapshot, tracker domain.TrackerSnapshot) (domain.Decision, bool) {
	quota := profile.Config.ScreenTime.DailyQuotaSeconds
	if quota == nil {
		return domain.Decision{}, false
	}

	now := tracker.Now
	if hasActiveException(profile.ActiveExceptions, domain.ExceptionExtraTime, now) {
		return domain.Decision{}, false
	}

	remaining := *quota - tracker.ActiveSeconds
	if remaining <= 0 {
		return domain.Block(domain.ReasonQuotaExceeded, domain.ScopeSession), true
	}

	thresholds := profile.Config.ScreenTime.WarningThresholdsSecs
	if len(thresholds) == 0 {
		thresholds = []int64{600, 60}
	}
	for _, t := range thresholds {
		if remaining <= t {
			return domain.Warn(domain.ReasonQuotaNearlyExceeded, domain.ScopeSession, remaining), true
		}
	}
	return domain.Decision{}, false
}

// applicationGate implements spec.md 4.C gate 3.
func (e *Engine) applicationGate(profile domain.ProfileSnapshot, event domain.Event) domain.Decision {
	for _, ex := range profile.ActiveExceptions {
		if ex.Kind == domain.ExceptionAllowApp && ex.AppID == event.AppID {
			return domain.Allow(domain.ReasonApplicationAllowed)
		}
	}

	apps := profile.Config.Applications
	if containsString(apps.Deny, event.AppID) {
		return domain.Block(domain.ReasonApplicationDenied, domain.ScopeEvent)
	}
	if containsString(apps.Allow, event.AppID) {
		return domain.Allow(domain.ReasonApplicationAllowed)
	}

	switch ageband.DefaultAppDecision(profile.AgeBand) {
	case domain.DecisionBlock:
		return domain.Block(domain.ReasonApplicationDenied, domain.ScopeEvent)
	case domain.DecisionRequireApproval:
		return domain.RequireApproval(domain.ReasonApplicationDenied)
	default:
		return domain.Allow(domain.ReasonDefaultAllow)
	}
}

// categoryBlocklist is the per-level set of proxy-reported content
// categories each WebFilterLevel blocks when a domain hits neither the
// explicit allow nor deny list. Levels nest: strict blocks everything
// moderate blocks, moderate blocks everything minimal blocks.
var categoryBlocklist = map[domain.WebFilterLevel]map[string]bool{
	domain.WebFilterMinimal: {
		"adult":    true,
		"gambling": true,
	},
	domain.WebFilterModerate: {
		"adult":        true,
		"gambling":     true,
		"violence":     true,
		"drugs":        true,
		"weapons":      true,
	},
	domain.WebFilterStrict: {
		"adult":        true,
		"gambling":     true,
		"violence":     true,
		"drugs":        true,
		"weapons":      true,
		"social_media": true,
		"dating":       true,
		"gaming":       true,
	},
}

// webFilterGate implements spec.md 4.C gate 4: non-disabled levels
// dispatch the proxy-supplied category to a per-level blocklist instead
// of falling through to a blanket allow.
func (e *Engine) webFilterGate(profile domain.ProfileSnapshot, event domain.Event) domain.Decision {
	for _, ex := range profile.ActiveExceptions {
		if ex.Kind == domain.ExceptionAllowWebsite && ex.Domain == event.Domain {
			return domain.Allow(domain.ReasonDomainAllowed)
		}
	}

	wf := profile.Config.WebFiltering
	if containsString(wf.DenyDomains, event.Domain) {
		return domain.Block(domain.ReasonDomainDenied, domain.ScopeEvent)
	}
	if containsString(wf.AllowDomains, event.Domain) {
		return domain.Allow(domain.ReasonDomainAllowed)
	}

	if wf.Level == domain.WebFilterDisabled || wf.Level == "" {
		return domain.Allow(domain.ReasonDefaultAllow)
	}

	if blocked := categoryBlocklist[wf.Level]; blocked[event.Category] {
		return domain.Block(domain.ReasonDomainCategory, domain.ScopeEvent)
	}
	return domain.Allow(domain.ReasonDomainCategory)
}

// terminalGate implements spec.md 4.C gate 5.
func (e *Engine) terminalGate(profile domain.ProfileSnapshot, event domain.Event) domain.Decision {
	if !profile.Config.TerminalFiltering.Enabled {
		return domain.Allow(domain.ReasonDefaultAllow)
	}

	risk, matched := e.terminalRules.Classify(event.Command)
	if !matched && risk == domain.RiskDangerous {
		return domain.RequireApproval(domain.ReasonTerminalRisk)
	}

	switch risk {
	case domain.RiskDangerous:
		return domain.Block(domain.ReasonTerminalRisk, domain.ScopeEvent)
	case domain.RiskRisky:
		if profile.Config.TerminalFiltering.EducationalMode {
			return domain.Warn(domain.ReasonTerminalRisk, domain.ScopeEvent, 0)
		}
		return domain.RequireApproval(domain.ReasonTerminalRisk)
	default:
		return domain.Allow(domain.ReasonDefaultAllow)
	}
}

func hasActiveException(exceptions []domain.Exception, kind domain.ExceptionKind, now time.Time) bool {
	for _, ex := range exceptions {
		if ex.Kind == kind && ex.CoversNow(now) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
