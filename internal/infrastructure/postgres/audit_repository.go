package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"bankrecon/internal/domain/audit"
)

type AuditRepository struct {
	db *DB
}

func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, e *audit.Entry) error {
	if err := appendAudit(ctx, r.db, e); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// appendAudit inserts e through q so callers can enlist it in a transaction.
func appendAudit(ctx context.Context, q querier, e *audit.Entry) error {
	if e == nil {
		return nil
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	query := `
		INSERT INTO audit_entries (id, tenant_id, connection_id, actor, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = q.ExecContext(ctx, query,
		e.ID, e.TenantID, nullString(e.ConnectionID), e.Actor, string(e.Action), payload, e.CreatedAt,
	)
	return err
}

func (r *AuditRepository) List(ctx context.Context, f audit.Filter) ([]*audit.Entry, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where, "tenant_id = "+arg(f.TenantID))
	if f.ConnectionID != "" {
		where = append(where, "connection_id = "+arg(f.ConnectionID))
	}
	if len(f.Actions) > 0 {
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		where = append(where, "action = ANY("+arg(pq.Array(actions))+")")
	}
	if f.Since != nil {
		where = append(where, "created_at >= "+arg(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "created_at < "+arg(*f.Until))
	}

	query := `
		SELECT id, tenant_id, COALESCE(connection_id::text, ''), actor, action, payload, created_at
		FROM audit_entries
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC, id DESC
		LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		var e audit.Entry
		var action string
		var payload []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ConnectionID, &e.Actor, &action, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = audit.Action(action)
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode audit payload: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}
