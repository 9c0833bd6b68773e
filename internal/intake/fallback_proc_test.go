package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dots-distro/dots-family-mode-sub003/pkg/events"
)

func TestProcFallbackPoller_PollOnceEmitsOnlyNewPids(t *testing.T) {
	p := NewProcFallbackPoller(0)
	p.seen = map[int]bool{1: true}

	out := make(chan events.RawEvent, 16)
	p.pollOnce(out)
	close(out)

	for re := range out {
		assert.NotEqual(t, 1, re.PID, "pid already in the seen set must not be re-emitted")
		assert.Equal(t, "fallback", re.Source)
		assert.Equal(t, events.KindProcessExec, re.Kind)
	}
}

func TestProcFallbackPoller_PollOnceReplacesSeenSet(t *testing.T) {
	p := NewProcFallbackPoller(0)
	p.seen = map[int]bool{999999999: true} // a pid guaranteed absent from /proc

	out := make(chan events.RawEvent, 16)
	p.pollOnce(out)
	close(out)

	assert.False(t, p.seen[999999999], "a pid no longer present in /proc must drop out of the seen set")
}

func TestProcessComm_MissingPidReturnsEmptyString(t *testing.T) {
	assert.Equal(t, "", processComm(999999999))
}

func TestProcessUID_MissingPidReturnsZero(t *testing.T) {
	assert.Equal(t, 0, processUID(999999999))
}
