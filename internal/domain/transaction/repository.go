package transaction

import (
	"context"
)

// Repository defines read access to imported transactions. Inserts happen
// inside the ingestion unit of work.
type Repository interface {
	// GetByID returns nil, nil when no transaction with id belongs to tenantID.
	GetByID(ctx context.Context, tenantID, id string) (*BankTransaction, error)
	ListByConnection(ctx context.Context, connectionID string, limit, offset int) ([]*BankTransaction, error)
	CountByConnection(ctx context.Context, connectionID string) (int64, error)
}
