package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"bankrecon/internal/shared/clock"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Service writes and pages through the audit log.
type Service struct {
	repo  Repository
	clock clock.Clock
}

func NewService(repo Repository, clk clock.Clock) *Service {
	return &Service{repo: repo, clock: clk}
}

// NewEntry stamps an entry with an ID and the current time.
func NewEntry(clk clock.Clock, tenantID, connectionID, actor string, action Action, payload map[string]any) *Entry {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Entry{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		ConnectionID: connectionID,
		Actor:        actor,
		Action:       action,
		Payload:      payload,
		CreatedAt:    clk.Now(),
	}
}

// Record appends a new entry.
func (s *Service) Record(ctx context.Context, tenantID, connectionID, actor string, action Action, payload map[string]any) (*Entry, error) {
	e := NewEntry(s.clock, tenantID, connectionID, actor, action, payload)
	if err := s.repo.Append(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return e, nil
}

// Query returns one page of entries for a tenant, optionally narrowed to a
// connection or set of actions.
func (s *Service) Query(ctx context.Context, f Filter) (*Page, error) {
	if f.TenantID == "" {
		return nil, ErrTenantRequired
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	want := f.Limit
	f.Limit = want + 1

	entries, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	page := &Page{Entries: entries}
	if len(entries) > want {
		page.Entries = entries[:want]
		next := f.Offset + want
		page.NextOffset = &next
	}
	if page.Entries == nil {
		page.Entries = []*Entry{}
	}
	return page, nil
}
