package postgres

import (
	"context"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/ingestion"
	"bankrecon/internal/domain/matching"
	"bankrecon/internal/domain/transaction"
)

// UnitOfWork runs an ingestion commit in a single database transaction.
type UnitOfWork struct {
	db *DB
}

func NewUnitOfWork(db *DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx ingestion.Tx) error) error {
	return u.db.WithTx(ctx, func(tx *Tx) error {
		return fn(ctx, ingestTx{q: tx})
	})
}

type ingestTx struct {
	q querier
}

func (t ingestTx) InsertTransaction(ctx context.Context, bt *transaction.BankTransaction) (bool, error) {
	return insertTransaction(ctx, t.q, bt)
}

func (t ingestTx) InsertMatches(ctx context.Context, matches []*matching.PaymentMatch) error {
	return insertMatches(ctx, t.q, matches)
}

func (t ingestTx) AppendAudit(ctx context.Context, e *audit.Entry) error {
	return appendAudit(ctx, t.q, e)
}
