package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

func quota(seconds int64) *int64 { return &seconds }

func baseProfile() domain.ProfileSnapshot {
	return domain.ProfileSnapshot{
		ProfileID: "p1",
		AgeBand:   domain.AgeBand8to12,
		Config: domain.ProfileConfig{
			ScreenTime: domain.ScreenTimeConfig{DailyQuotaSeconds: quota(3600)},
			TimeWindows: []domain.TimeWindow{
				{
					Start:    domain.ClockTime{Hour: 8, Minute: 0},
					End:      domain.ClockTime{Hour: 20, Minute: 0},
					Weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday},
				},
			},
		},
	}
}

func TestTimeWindowGate_OutsideWindowBlocks(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	now := time.Date(2026, 7, 30, 22, 0, 0, 0, time.UTC) // Thursday, 22:00 - outside window
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now}
	event := domain.Event{Kind: domain.EventProcessExec, ProfileID: "p1", AppID: "chrome"}

	d := e.Evaluate(profile, tracker, event)

	assert.Equal(t, domain.DecisionBlock, d.Kind)
	assert.Equal(t, domain.ReasonOutsideTimeWindow, d.Reason)
	assert.Equal(t, domain.ScopeSession, d.Scope)
}

// P6: when both the time-window and quota gates would fire, time-window
// wins. The test pins this deterministically.
func TestP6_TieBreak_TimeWindowWinsOverQuota(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	now := time.Date(2026, 7, 30, 22, 0, 0, 0, time.UTC) // outside window
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now, ActiveSeconds: 3600} // quota also exhausted
	event := domain.Event{Kind: domain.EventProcessExec, ProfileID: "p1", AppID: "chrome"}

	d := e.Evaluate(profile, tracker, event)

	require.Equal(t, domain.DecisionBlock, d.Kind)
	assert.Equal(t, domain.ReasonOutsideTimeWindow, d.Reason, "time-window must win the tie-break over quota")
}

func TestQuotaGate_ExceededBlocks(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) // inside window
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now, ActiveSeconds: 3600}
	event := domain.Event{Kind: domain.EventProcessExec, ProfileID: "p1", AppID: "chrome"}

	d := e.Evaluate(profile, tracker, event)

	assert.Equal(t, domain.DecisionBlock, d.Kind)
	assert.Equal(t, domain.ReasonQuotaExceeded, d.Reason)
}

func TestQuotaGate_WarnsAtThreshold(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now, ActiveSeconds: 3600 - 60}
	event := domain.Event{Kind: domain.EventProcessExec, ProfileID: "p1", AppID: "chrome"}

	d := e.Evaluate(profile, tracker, event)

	assert.Equal(t, domain.DecisionWarn, d.Kind)
	assert.Equal(t, domain.ReasonQuotaNearlyExceeded, d.Reason)
	assert.Equal(t, int64(60), d.TTLSecs)
}

func TestApplicationGate_DenySetBlocks(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	profile.Config.Applications.Deny = []string{"steam"}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now}
	event := domain.Event{Kind: domain.EventProcessExec, ProfileID: "p1", AppID: "steam"}

	d := e.Evaluate(profile, tracker, event)

	assert.Equal(t, domain.DecisionBlock, d.Kind)
	assert.Equal(t, domain.ReasonApplicationDenied, d.Reason)
}

func TestApplicationGate_ExceptionOverridesDeny(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	profile.Config.Applications.Deny = []string{"steam"}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	profile.ActiveExceptions = []domain.Exception{
		{Kind: domain.ExceptionAllowApp, AppID: "steam", Active: true, ExpiresAt: now.Add(time.Hour)},
	}
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now}
	event := domain.Event{Kind: domain.EventProcessExec, ProfileID: "p1", AppID: "steam"}

	d := e.Evaluate(profile, tracker, event)

	assert.Equal(t, domain.DecisionAllow, d.Kind)
	assert.Equal(t, domain.ReasonApplicationAllowed, d.Reason)
}

func TestApplicationGate_UnlistedUsesAgeBandDefault(t *testing.T) {
	e := NewEngine()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now}
	event := domain.Event{Kind: domain.EventProcessExec, ProfileID: "p1", AppID: "unknown-app"}

	young := baseProfile()
	young.AgeBand = domain.AgeBand5to7
	d := e.Evaluate(young, tracker, event)
	assert.Equal(t, domain.DecisionBlock, d.Kind)

	teen := baseProfile()
	teen.AgeBand = domain.AgeBand13to17
	d = e.Evaluate(teen, tracker, event)
	assert.Equal(t, domain.DecisionAllow, d.Kind)
}

func TestWebFilterGate_DenyDomainBlocks(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	profile.Config.WebFiltering = domain.WebFilteringConfig{Level: domain.WebFilterModerate, DenyDomains: []string{"example-bad.test"}}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now}
	event := domain.Event{Kind: domain.EventDomainRequest, ProfileID: "p1", Domain: "example-bad.test"}

	d := e.Evaluate(profile, tracker, event)

	assert.Equal(t, domain.DecisionBlock, d.Kind)
	assert.Equal(t, domain.ReasonDomainDenied, d.Reason)
}

func TestWebFilterGate_StrictLevelBlocksCategoryModerateAllows(t *testing.T) {
	e := NewEngine()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now}
	event := domain.Event{Kind: domain.EventDomainRequest, ProfileID: "p1", Domain: "social.example", Category: "social_media"}

	strict := baseProfile()
	strict.Config.WebFiltering = domain.WebFilteringConfig{Level: domain.WebFilterStrict}
	d := e.Evaluate(strict, tracker, event)
	assert.Equal(t, domain.DecisionBlock, d.Kind)
	assert.Equal(t, domain.ReasonDomainCategory, d.Reason)

	moderate := baseProfile()
	moderate.Config.WebFiltering = domain.WebFilteringConfig{Level: domain.WebFilterModerate}
	d = e.Evaluate(moderate, tracker, event)
	assert.Equal(t, domain.DecisionAllow, d.Kind, "social_media is only blocked at the strict level")
}

func TestWebFilterGate_ModerateLevelBlocksViolence(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	profile.Config.WebFiltering = domain.WebFilteringConfig{Level: domain.WebFilterModerate}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now}
	event := domain.Event{Kind: domain.EventDomainRequest, ProfileID: "p1", Domain: "gore.example", Category: "violence"}

	d := e.Evaluate(profile, tracker, event)

	assert.Equal(t, domain.DecisionBlock, d.Kind)
	assert.Equal(t, domain.ReasonDomainCategory, d.Reason)
}

func TestWebFilterGate_MinimalLevelOnlyBlocksAdultAndGambling(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	profile.Config.WebFiltering = domain.WebFilteringConfig{Level: domain.WebFilterMinimal}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now}

	blocked := e.Evaluate(profile, tracker, domain.Event{Kind: domain.EventDomainRequest, ProfileID: "p1", Domain: "bet.example", Category: "gambling"})
	assert.Equal(t, domain.DecisionBlock, blocked.Kind)

	allowed := e.Evaluate(profile, tracker, domain.Event{Kind: domain.EventDomainRequest, ProfileID: "p1", Domain: "forum.example", Category: "violence"})
	assert.Equal(t, domain.DecisionAllow, allowed.Kind, "violence is not blocked at the minimal level")
}

func TestWebFilterGate_UncategorizedDomainAllowedUnderAnyLevel(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	profile.Config.WebFiltering = domain.WebFilteringConfig{Level: domain.WebFilterStrict}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now}
	event := domain.Event{Kind: domain.EventDomainRequest, ProfileID: "p1", Domain: "homework-help.example"}

	d := e.Evaluate(profile, tracker, event)

	assert.Equal(t, domain.DecisionAllow, d.Kind)
	assert.Equal(t, domain.ReasonDomainCategory, d.Reason)
}

func TestWebFilterGate_DisabledAllowsEverything(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	profile.Config.WebFiltering = domain.WebFilteringConfig{Level: domain.WebFilterDisabled}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now}
	event := domain.Event{Kind: domain.EventDomainRequest, ProfileID: "p1", Domain: "anything.test"}

	d := e.Evaluate(profile, tracker, event)

	assert.Equal(t, domain.DecisionAllow, d.Kind)
}

func TestTerminalGate_DangerousPatternBlocks(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	profile.Config.TerminalFiltering = domain.TerminalFilteringConfig{Enabled: true}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now}
	event := domain.Event{Kind: domain.EventTerminalCmd, ProfileID: "p1", Command: "rm -rf /"}

	d := e.Evaluate(profile, tracker, event)

	assert.Equal(t, domain.DecisionBlock, d.Kind)
	assert.Equal(t, domain.ReasonTerminalRisk, d.Reason)
}

func TestTerminalGate_UnmatchedCommandRequiresApproval(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	profile.Config.TerminalFiltering = domain.TerminalFilteringConfig{Enabled: true}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now}
	event := domain.Event{Kind: domain.EventTerminalCmd, ProfileID: "p1", Command: "some-unclassified-binary --flag"}

	d := e.Evaluate(profile, tracker, event)

	assert.Equal(t, domain.DecisionRequireApproval, d.Kind)
}

func TestUnboundProfileBlocks(t *testing.T) {
	e := NewEngine()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	d := e.Evaluate(domain.ProfileSnapshot{}, domain.TrackerSnapshot{Now: now}, domain.Event{Kind: domain.EventProcessExec})

	assert.Equal(t, domain.DecisionBlock, d.Kind)
	assert.Equal(t, domain.ReasonUnboundProfile, d.Reason)
}

// P5: decision determinism - identical inputs always yield an identical
// decision.
func TestP5_Determinism(t *testing.T) {
	e := NewEngine()
	profile := baseProfile()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker := domain.TrackerSnapshot{ProfileID: "p1", Now: now, ActiveSeconds: 100}
	event := domain.Event{Kind: domain.EventProcessExec, ProfileID: "p1", AppID: "chrome"}

	first := e.Evaluate(profile, tracker, event)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Evaluate(profile, tracker, event))
	}
}
