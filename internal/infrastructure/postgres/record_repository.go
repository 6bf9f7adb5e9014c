package postgres

import (
	"context"
	"fmt"

	"bankrecon/internal/domain/matching"
)

// RecordRepository reads unsettled internal records. It never writes.
type RecordRepository struct {
	db *DB
}

func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) ListOpen(ctx context.Context, tenantID string) ([]*matching.OpenRecord, error) {
	query := `
		SELECT id, tenant_id, kind, expected_amount, currency, expected_date, counterparty_ref
		FROM open_records
		WHERE tenant_id = $1 AND NOT settled
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open records: %w", err)
	}
	defer rows.Close()

	var records []*matching.OpenRecord
	for rows.Next() {
		var rec matching.OpenRecord
		var kind string
		err := rows.Scan(&rec.ID, &rec.TenantID, &kind, &rec.ExpectedAmount, &rec.Currency, &rec.ExpectedDate, &rec.CounterpartyRef)
		if err != nil {
			return nil, fmt.Errorf("failed to scan open record: %w", err)
		}
		rec.Kind = matching.RecordKind(kind)
		rec.ExpectedDate = rec.ExpectedDate.UTC()
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating open records: %w", err)
	}
	return records, nil
}
