package intake

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/pkg/events"
)

/**
 * CONTEXT:   Fallback process enumeration poller, used when the kernel
 *            probe that would normally emit ProcessExec events is
 *            unavailable (unsupported kernel, missing capability)
 * INPUT:     Periodic /proc enumeration
 * OUTPUT:    RawEvents tagged source=fallback so internal/intake can
 *            distinguish a live probe observation from a polled one
 * BUSINESS:  spec.md 9 requires fallback pollers to exist for every
 *            probe kind so the daemon degrades rather than going blind
 * CHANGE:    Adapted from the teacher's root-level process-check-
 *            prototype.go (processExists/findProcessByName's /proc/PID
 *            enumeration), generalized from "watch one target PID" to
 *            "enumerate every PID every tick and diff against the last
 *            seen set"
 * RISK:      Medium - a fallback poller is inherently lossy between
 *            ticks; it is a degraded mode, not a substitute for a probe
 */
type ProcFallbackPoller struct {
	interval time.Duration
	seen     map[int]bool
}

func NewProcFallbackPoller(interval time.Duration) *ProcFallbackPoller {
	return &ProcFallbackPoller{interval: interval, seen: make(map[int]bool)}
}

func (p *ProcFallbackPoller) Name() string { return "proc-fallback" }

func (p *ProcFallbackPoller) Run(ctx context.Context, out chan<- events.RawEvent) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pollOnce(out)
		}
	}
}

func (p *ProcFallbackPoller) pollOnce(out chan<- events.RawEvent) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return
	}

	current := make(map[int]bool, len(entries))
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 {
			continue
		}
		current[pid] = true
		if p.seen[pid] {
			continue
		}

		uid := processUID(pid)
		comm := processComm(pid)
		re := events.NewRawEvent(events.KindProcessExec, pid, uid, time.Now())
		re.Source = "fallback"
		re.SetField("app_id", comm)
		re.SetField("app_display", comm)
		out <- *re
	}
	p.seen = current
}

func processComm(pid int) string {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func processUID(pid int) int {
	info, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid)))
	if err != nil {
		return 0
	}
	return statUID(info)
}
