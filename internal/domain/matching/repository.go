package matching

import (
	"context"
	"time"

	"bankrecon/internal/domain/audit"
)

// RuleRepository defines persistence for tenant matching rules.
type RuleRepository interface {
	Create(ctx context.Context, r *Rule) error
	// GetByID returns nil, nil when the rule does not exist.
	GetByID(ctx context.Context, id string) (*Rule, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Rule, error)
	// ListActive returns active rules ordered by (priority, id).
	ListActive(ctx context.Context, tenantID string) ([]*Rule, error)
	Deactivate(ctx context.Context, id string) error
}

// RecordSource reads internal open records. Matching never writes them.
type RecordSource interface {
	ListOpen(ctx context.Context, tenantID string) ([]*OpenRecord, error)
}

// MatchRepository reads stored matches.
type MatchRepository interface {
	ListByTransaction(ctx context.Context, tenantID, transactionID string) ([]*PaymentMatch, error)
	CountByBucket(ctx context.Context, tenantID string, since time.Time) (map[Bucket]int, error)
}

// EvaluationWriter stores one evaluation's match rows and their audit
// entries atomically.
type EvaluationWriter interface {
	SaveEvaluation(ctx context.Context, matches []*PaymentMatch, entries []*audit.Entry) error
}
