package ingestion

import (
	"context"
	"sync"
	"time"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/connection"
	"bankrecon/internal/domain/matching"
	"bankrecon/internal/domain/transaction"
)

// Page is one slice of a provider statement.
type Page struct {
	Records []transaction.RawRecord `json:"records"`
	// NextCursor is empty on the last page.
	NextCursor string `json:"nextCursor,omitempty"`
}

// Provider pulls raw statement pages. Its output is untrusted and may
// repeat records across pages or runs.
type Provider interface {
	FetchPage(ctx context.Context, c *connection.Connection, credentials map[string]string, cursor string) (*Page, error)
}

// Tx is the write surface of one unit of work.
type Tx interface {
	// InsertTransaction inserts t unless (connection, fingerprint) exists.
	// inserted is false for a duplicate.
	InsertTransaction(ctx context.Context, t *transaction.BankTransaction) (inserted bool, err error)
	InsertMatches(ctx context.Context, matches []*matching.PaymentMatch) error
	AppendAudit(ctx context.Context, e *audit.Entry) error
}

// UnitOfWork runs fn atomically: every write in fn commits or none does.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Matcher proposes matches for a freshly inserted transaction.
type Matcher interface {
	Evaluate(ctx context.Context, tx *transaction.BankTransaction) ([]*matching.PaymentMatch, error)
}

// Connections is the slice of the lifecycle manager ingestion needs.
type Connections interface {
	GetByID(ctx context.Context, id string) (*connection.Connection, error)
	OpenCredentials(c *connection.Connection) (map[string]string, error)
	RecordSync(ctx context.Context, id string) error
	RetryAfter(c *connection.Connection) time.Duration
}

// RunGuard enforces at most one ingestion run per connection. A second
// acquirer is refused, not queued.
type RunGuard interface {
	TryAcquire(ctx context.Context, connectionID string) (release func(), ok bool, err error)
}

// MemoryGuard is a process-local RunGuard.
type MemoryGuard struct {
	running sync.Map // map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{}
}

func (g *MemoryGuard) TryAcquire(ctx context.Context, connectionID string) (func(), bool, error) {
	if _, loaded := g.running.LoadOrStore(connectionID, struct{}{}); loaded {
		return nil, false, nil
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.running.Delete(connectionID) })
	}, true, nil
}
