package intake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
	"github.com/dots-distro/dots-family-mode-sub003/pkg/events"
	"github.com/dots-distro/dots-family-mode-sub003/pkg/logger"
)

type stubBinder struct{ profileID string }

func (s stubBinder) ProfileForUID(uid int) string { return s.profileID }

func newTestIntake(binder ProfileBinder) *Intake {
	return New(binder, logger.NewDefaultLogger("test", "error"))
}

func TestIngest_DedupsWithinCoalesceWindow(t *testing.T) {
	in := newTestIntake(stubBinder{profileID: "p1"})
	now := time.Now()
	re := events.NewRawEvent(events.KindProcessExec, 100, 1000, now)
	re.SetField("app_id", "chrome")

	in.ingest(context.Background(), *re)
	in.ingest(context.Background(), *re) // same key, inside the window

	select {
	case <-in.Events():
	default:
		t.Fatal("expected the first event to reach the central channel")
	}
	select {
	case ev := <-in.Events():
		t.Fatalf("expected the duplicate to be suppressed, got %+v", ev)
	default:
	}
}

func TestIngest_DropsUnrecognizedKind(t *testing.T) {
	in := newTestIntake(stubBinder{profileID: "p1"})
	re := events.RawEvent{Kind: "NotARealKind", Timestamp: time.Now(), PID: 1, UID: 1}

	in.ingest(context.Background(), re)

	select {
	case ev := <-in.Events():
		t.Fatalf("expected no event for an unrecognized kind, got %+v", ev)
	default:
	}
}

func TestHandleBackpressure_DropsTelemetryKindsAndCounts(t *testing.T) {
	in := newTestIntake(stubBinder{})
	// Zero-capacity channel so the non-blocking send in ingest always
	// falls through to handleBackpressure.
	in.central = make(chan domain.Event)

	event := domain.Event{Kind: domain.EventMemoryAlloc}
	assert.False(t, event.Kind.IsSecurityRelevant())

	in.handleBackpressure(event)

	assert.Equal(t, uint64(1), in.DropCounts()[domain.EventMemoryAlloc])
}

func TestHandleBackpressure_BlocksRatherThanDropsSecurityRelevantKinds(t *testing.T) {
	in := newTestIntake(stubBinder{})
	in.central = make(chan domain.Event, 1)

	event := domain.Event{Kind: domain.EventTerminalCmd}
	assert.True(t, event.Kind.IsSecurityRelevant())

	in.handleBackpressure(event)

	assert.Len(t, in.central, 1)
	assert.Empty(t, in.DropCounts())
}
