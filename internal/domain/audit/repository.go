package audit

import "context"

// Repository persists audit entries. Implementations must never update or
// delete an appended entry.
type Repository interface {
	// Append stores a new entry.
	Append(ctx context.Context, e *Entry) error

	// List returns entries matching the filter ordered by CreatedAt desc, ID desc.
	// Limit and Offset are applied as given.
	List(ctx context.Context, f Filter) ([]*Entry, error)
}
