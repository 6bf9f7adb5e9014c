package connection

import (
	"context"
	"time"

	"bankrecon/internal/domain/audit"
)

// Repository defines the interface for connection persistence.
type Repository interface {
	// Create inserts a new connection together with its creation audit entry.
	// Returns ErrConnectionExists if the tenant already has a connection for the account.
	Create(ctx context.Context, c *Connection, entry *audit.Entry) error

	// GetByID returns nil, nil when the connection does not exist.
	GetByID(ctx context.Context, id string) (*Connection, error)

	ListByTenant(ctx context.Context, tenantID string) ([]*Connection, error)

	ListByStatus(ctx context.Context, status Status, limit int) ([]*Connection, error)

	// ListDueForRetry returns ERROR connections whose NextRetryAt is at or before now.
	ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*Connection, error)

	// CompareAndSwap stores next only if the row still carries expectedStatus
	// and expectedVersion, and appends entry in the same transaction.
	// It reports false without error when the row has moved on.
	CompareAndSwap(ctx context.Context, next *Connection, expectedStatus Status, expectedVersion int64, entry *audit.Entry) (bool, error)

	// TouchSync stamps LastSyncAt without changing status or version.
	TouchSync(ctx context.Context, id string, at time.Time) error
}
