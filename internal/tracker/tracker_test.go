package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
	"github.com/dots-distro/dots-family-mode-sub003/pkg/logger"
)

func TestRolloverDayBucket_ResetsOnMidnightCrossing(t *testing.T) {
	tr := &Tracker{idle: DefaultIdleThreshold, profiles: make(map[string]*profileState)}
	ps := tr.stateFor("p1", time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC))
	ps.activeSecondsDay = 500

	tr.rolloverDayBucket(ps, time.Date(2026, 7, 31, 0, 5, 0, 0, time.UTC))

	assert.Equal(t, int64(0), ps.activeSecondsDay, "quota counter must reset at midnight")
}

func TestAccumulate_TransitionsToIdleAfterThreshold(t *testing.T) {
	tr := &Tracker{idle: 300 * time.Second, profiles: make(map[string]*profileState)}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	ps := tr.stateFor("p1", now)
	ps.fsm = domain.FSMActive
	ps.lastActivity = now
	ps.lastTick = now

	tr.accumulate(ps, now.Add(400*time.Second))

	assert.Equal(t, domain.FSMIdle, ps.fsm)
}

func TestAccumulate_AccruesActiveSecondsWithinThreshold(t *testing.T) {
	tr := &Tracker{idle: 300 * time.Second, profiles: make(map[string]*profileState)}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	ps := tr.stateFor("p1", now)
	ps.fsm = domain.FSMActive
	ps.lastActivity = now
	ps.lastTick = now

	tr.accumulate(ps, now.Add(30*time.Second))

	assert.Equal(t, int64(30), ps.activeSecondsDay)
}

// Telemetry events (MemoryAlloc, DiskIO, ...) must still tick the
// active-seconds accumulator forward but must never count as the
// FocusChanged/input-activity signal that resets the idle clock (spec.md
// 4.D) - otherwise a trickle of background telemetry keeps a profile
// perpetually Active.
func TestHandle_TelemetryEventsAccumulateButNeverResetIdleClock(t *testing.T) {
	tr := New(nil, logger.NewDefaultLogger("test", "error"), 300*time.Second, 0)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	ps := tr.stateFor("p1", now)
	ps.fsm = domain.FSMActive
	ps.session = domain.NewSession("p1", now)
	ps.lastActivity = now
	ps.lastTick = now

	offsets := []time.Duration{100 * time.Second, 200 * time.Second, 301 * time.Second}
	var last domain.TrackerSnapshot
	for _, off := range offsets {
		snap, err := tr.Handle(context.Background(), domain.Event{
			Kind: domain.EventMemoryAlloc, ProfileID: "p1", KernelTime: now.Add(off),
		})
		assert.NoError(t, err)
		last = snap
	}

	assert.Equal(t, domain.FSMIdle, last.State, "no FocusChanged/input-activity for over the idle threshold must still reach Idle")
	assert.Equal(t, int64(301), ps.activeSecondsDay, "elapsed time must accumulate exactly once per interval, never double-counted")
}

func TestIsActivityEvent_FocusChangedAlwaysCounts(t *testing.T) {
	tr := &Tracker{debounce: DefaultActivationDebounce}
	assert.True(t, tr.isActivityEvent(domain.Event{Kind: domain.EventFocusChanged}))
}

func TestIsActivityEvent_TelemetryNeverCounts(t *testing.T) {
	tr := &Tracker{debounce: DefaultActivationDebounce}
	assert.False(t, tr.isActivityEvent(domain.Event{Kind: domain.EventMemoryAlloc}))
	assert.False(t, tr.isActivityEvent(domain.Event{Kind: domain.EventDiskIO}))
}

func TestIsActivityEvent_IdleChangedOnlyCountsWhenFresh(t *testing.T) {
	tr := &Tracker{debounce: 5 * time.Second}
	assert.True(t, tr.isActivityEvent(domain.Event{Kind: domain.EventIdleChanged, IdleMillis: 1000}))
	assert.False(t, tr.isActivityEvent(domain.Event{Kind: domain.EventIdleChanged, IdleMillis: 10_000}))
}

// Status must be safe to call concurrently with Handle, since bus calls
// read it from godbus dispatch goroutines while the decision goroutine
// keeps calling Handle.
func TestStatus_ReflectsMostRecentHandleCall(t *testing.T) {
	tr := New(nil, logger.NewDefaultLogger("test", "error"), 300*time.Second, 0)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	_, ok := tr.Status("p1")
	assert.False(t, ok, "no status published before the first Handle call")

	_, err := tr.Handle(context.Background(), domain.Event{Kind: domain.EventFocusChanged, ProfileID: "p1", KernelTime: now})
	assert.NoError(t, err)

	snap, ok := tr.Status("p1")
	assert.True(t, ok)
	assert.Equal(t, "p1", snap.ProfileID)
}

func TestSweepIdle_DemotesStaleActiveProfiles(t *testing.T) {
	tr := &Tracker{idle: 300 * time.Second, profiles: make(map[string]*profileState)}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	ps := tr.stateFor("p1", now)
	ps.fsm = domain.FSMActive
	ps.lastActivity = now

	tr.SweepIdle(now.Add(301 * time.Second))

	assert.Equal(t, domain.FSMIdle, ps.fsm)
}
