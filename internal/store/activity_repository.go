package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   Persistence for the four observation tables the tracker and
 *            policy engine emit into: app activity, network activity,
 *            terminal commands, and the two telemetry-class event kinds
 * CHANGE:    New repositories, one per entity
 * RISK:      Low - append-mostly tables, no update paths
 */
type ActivityRepository struct{ db *sql.DB }

func (r *ActivityRepository) Insert(ctx context.Context, a *domain.Activity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activities (id, session_id, profile_id, timestamp, app_id, app_display, category, window_title, duration_secs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.ProfileID, a.Timestamp, a.AppID, a.AppDisplay, string(a.Category), a.WindowTitle, a.DurationSecs)
	if err != nil {
		return domain.NewTransientStoreError("inserting activity", err)
	}
	return nil
}

func (r *ActivityRepository) ForSession(ctx context.Context, sessionID string) ([]*domain.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, profile_id, timestamp, app_id, app_display, category, window_title, duration_secs
		FROM activities WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, domain.NewTransientStoreError("listing activities", err)
	}
	defer rows.Close()

	var out []*domain.Activity
	for rows.Next() {
		a := &domain.Activity{}
		var category string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ProfileID, &a.Timestamp, &a.AppID, &a.AppDisplay, &category, &a.WindowTitle, &a.DurationSecs); err != nil {
			return nil, domain.NewTransientStoreError("scanning activity", err)
		}
		a.Category = domain.Category(category)
		out = append(out, a)
	}
	return out, nil
}

// SumDuration returns the total seconds of activity for a profile within
// [since, until), used by internal/tracker to reconstruct quota usage
// across a daemon restart.
func (r *ActivityRepository) SumDuration(ctx context.Context, profileID string, since, until time.Time) (int64, error) {
	var total sql.NullInt64
	row := r.db.QueryRowContext(ctx, `
		SELECT SUM(duration_secs) FROM activities WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?`,
		profileID, since, until)
	if err := row.Scan(&total); err != nil {
		return 0, domain.NewTransientStoreError("summing activity duration", err)
	}
	return total.Int64, nil
}

func (r *ActivityRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM activities WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, domain.NewTransientStoreError("pruning activities", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type NetworkActivityRepository struct{ db *sql.DB }

func (r *NetworkActivityRepository) Insert(ctx context.Context, n *domain.NetworkActivity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO network_activities (id, profile_id, session_id, timestamp, domain, category, action, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.ProfileID, n.SessionID, n.Timestamp, n.Domain, n.Category, string(n.Action), string(n.Reason))
	if err != nil {
		return domain.NewTransientStoreError("inserting network activity", err)
	}
	return nil
}

func (r *NetworkActivityRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM network_activities WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, domain.NewTransientStoreError("pruning network activities", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type TerminalCommandRepository struct{ db *sql.DB }

func (r *TerminalCommandRepository) Insert(ctx context.Context, t *domain.TerminalCommand) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO terminal_commands (id, profile_id, session_id, timestamp, command, risk, action)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProfileID, t.SessionID, t.Timestamp, t.Command, string(t.Risk), string(t.Action))
	if err != nil {
		return domain.NewTransientStoreError("inserting terminal command", err)
	}
	return nil
}

func (r *TerminalCommandRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM terminal_commands WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, domain.NewTransientStoreError("pruning terminal commands", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type MemoryEventRepository struct{ db *sql.DB }

func (r *MemoryEventRepository) Insert(ctx context.Context, m *domain.MemoryEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO memory_events (id, profile_id, timestamp, pid, bytes_alloc) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ProfileID, m.Timestamp, m.PID, m.BytesAlloc)
	if err != nil {
		return domain.NewTransientStoreError("inserting memory event", err)
	}
	return nil
}

func (r *MemoryEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM memory_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, domain.NewTransientStoreError("pruning memory events", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type DiskIOEventRepository struct{ db *sql.DB }

func (r *DiskIOEventRepository) Insert(ctx context.Context, d *domain.DiskIOEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO disk_io_events (id, profile_id, timestamp, pid, path, op) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProfileID, d.Timestamp, d.PID, d.Path, string(d.Op))
	if err != nil {
		return domain.NewTransientStoreError("inserting disk IO event", err)
	}
	return nil
}

func (r *DiskIOEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM disk_io_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, domain.NewTransientStoreError("pruning disk IO events", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
