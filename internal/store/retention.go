package store

import (
	"context"
	"time"
)

/**
 * CONTEXT:   Retention pruning for the telemetry-heavy observation tables
 * BUSINESS:  spec.md 4.F: PolicyVersion and AuditRecord are never pruned;
 *            only activities, network_activities, terminal_commands,
 *            memory_events and disk_io_events age out, on a configurable
 *            window (default 180 days)
 * CHANGE:    New helper, invoked by internal/daemon's periodic maintenance
 *            tick
 * RISK:      Low - deletes are narrow, timestamp-bounded, and never touch
 *            the two permanent tables
 */

// PruneResult reports how many rows were removed from each prunable table.
type PruneResult struct {
	Activities        int64
	NetworkActivities int64
	TerminalCommands  int64
	MemoryEvents      int64
	DiskIOEvents      int64
}

// Prune deletes observation rows older than window, measured from now.
// PolicyVersion and AuditRecord rows are structurally exempt: this
// function has no path to either table.
func (s *Store) Prune(ctx context.Context, now time.Time, window time.Duration) (PruneResult, error) {
	cutoff := now.Add(-window)
	var res PruneResult
	var err error

	if res.Activities, err = s.Activities.DeleteOlderThan(ctx, cutoff); err != nil {
		return res, err
	}
	if res.NetworkActivities, err = s.NetworkActivity.DeleteOlderThan(ctx, cutoff); err != nil {
		return res, err
	}
	if res.TerminalCommands, err = s.TerminalCommands.DeleteOlderThan(ctx, cutoff); err != nil {
		return res, err
	}
	if res.MemoryEvents, err = s.MemoryEvents.DeleteOlderThan(ctx, cutoff); err != nil {
		return res, err
	}
	if res.DiskIOEvents, err = s.DiskIOEvents.DeleteOlderThan(ctx, cutoff); err != nil {
		return res, err
	}
	return res, nil
}
