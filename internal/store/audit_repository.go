package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   Append-only audit log persistence
 * BUSINESS:  No Update/Delete method exists on this repository by design;
 *            the trg_audit_no_update/trg_audit_no_delete triggers are the
 *            backstop, not the only defense (P1)
 * CHANGE:    New repository
 * RISK:      Low - insert and read only
 */
type AuditRepository struct{ db *sql.DB }

func (r *AuditRepository) Append(ctx context.Context, a domain.AuditRecord) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return domain.NewInternalError("encoding audit details", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_records (timestamp, actor, action, resource_kind, resource_id, source_addr, success, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Timestamp, string(a.Actor), a.Action, string(a.ResourceKind), a.ResourceID, a.SourceAddr, boolToInt(a.Success), string(details))
	if err != nil {
		return domain.NewTransientStoreError("appending audit record", err)
	}
	return nil
}

func (r *AuditRepository) ForResource(ctx context.Context, kind domain.ResourceKind, resourceID string) ([]domain.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, timestamp, actor, action, resource_kind, resource_id, source_addr, success, details
		FROM audit_records WHERE resource_kind = ? AND resource_id = ? ORDER BY timestamp ASC`, string(kind), resourceID)
	if err != nil {
		return nil, domain.NewTransientStoreError("reading audit records", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

func (r *AuditRepository) Since(ctx context.Context, since time.Time) ([]domain.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, timestamp, actor, action, resource_kind, resource_id, source_addr, success, details
		FROM audit_records WHERE timestamp >= ? ORDER BY timestamp ASC`, since)
	if err != nil {
		return nil, domain.NewTransientStoreError("reading audit records", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

// Count is used by tests asserting P1 (row count only increases).
func (r *AuditRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`).Scan(&n); err != nil {
		return 0, domain.NewTransientStoreError("counting audit records", err)
	}
	return n, nil
}

func scanAuditRows(rows *sql.Rows) ([]domain.AuditRecord, error) {
	var out []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		var actor, resourceKind, details string
		var success int
		if err := rows.Scan(&a.ID, &a.Timestamp, &actor, &a.Action, &resourceKind, &a.ResourceID, &a.SourceAddr, &success, &details); err != nil {
			return nil, domain.NewTransientStoreError("scanning audit record", err)
		}
		a.Actor = domain.AuditActor(actor)
		a.ResourceKind = domain.ResourceKind(resourceKind)
		a.Success = success != 0
		if details != "" {
			if err := json.Unmarshal([]byte(details), &a.Details); err != nil {
				return nil, domain.NewInternalError("decoding audit details", err)
			}
		}
		out = append(out, a)
	}
	return out, nil
}
