package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bankrecon/internal/domain/transaction"
)

const transactionColumns = `
	id, connection_id, tenant_id, COALESCE(provider_id, ''), amount, currency, description,
	value_date, COALESCE(reference, ''), fingerprint, created_at`

type TransactionRepository struct {
	db *DB
}

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) GetByID(ctx context.Context, tenantID, id string) (*transaction.BankTransaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM bank_transactions
		WHERE id = $1 AND tenant_id = $2`

	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (r *TransactionRepository) ListByConnection(ctx context.Context, connectionID string, limit, offset int) ([]*transaction.BankTransaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM bank_transactions
		WHERE connection_id = $1
		ORDER BY value_date DESC, created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, connectionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*transaction.BankTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

func (r *TransactionRepository) CountByConnection(ctx context.Context, connectionID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bank_transactions WHERE connection_id = $1`, connectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// insertTransaction inserts t unless its (connection, fingerprint) is taken.
func insertTransaction(ctx context.Context, q querier, t *transaction.BankTransaction) (bool, error) {
	query := `
		INSERT INTO bank_transactions (
			id, connection_id, tenant_id, provider_id, amount, currency, description,
			value_date, reference, fingerprint, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT ON CONSTRAINT bank_transactions_connection_fingerprint_key DO NOTHING
	`
	res, err := q.ExecContext(ctx, query,
		t.ID, t.ConnectionID, t.TenantID, nullString(t.ProviderID), t.Amount, t.Currency,
		t.Description, t.ValueDate.Format("2006-01-02"), nullString(t.Reference), t.Fingerprint, t.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return n == 1, nil
}

func scanTransaction(s scanner) (*transaction.BankTransaction, error) {
	var t transaction.BankTransaction
	err := s.Scan(
		&t.ID, &t.ConnectionID, &t.TenantID, &t.ProviderID, &t.Amount, &t.Currency, &t.Description,
		&t.ValueDate, &t.Reference, &t.Fingerprint, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ValueDate = t.ValueDate.UTC()
	return &t, nil
}
