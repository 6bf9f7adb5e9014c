package ingestion

import (
	"errors"
	"fmt"
	"time"

	"bankrecon/internal/domain/connection"
)

var (
	ErrConnectionNotActive = errors.New("connection is not active")
	ErrRunInProgress       = errors.New("an ingestion run is already in progress for this connection")
	ErrProviderFault       = errors.New("provider fault")
)

// NotActiveError is returned when ingestion is attempted on a connection
// outside ACTIVE. Nothing is written.
type NotActiveError struct {
	ConnectionID string
	Status       connection.Status
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("connection %s is %s, not ACTIVE", e.ConnectionID, e.Status)
}

func (e *NotActiveError) Is(target error) bool { return target == ErrConnectionNotActive }

// ProviderFault wraps an upstream failure during a pull. The pipeline never
// retries; the caller decides whether to move the connection to ERROR.
type ProviderFault struct {
	ConnectionID string
	Code         connection.ErrorCode
	// RetryAfter is an opaque hint derived from the connection's backoff state.
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderFault) Error() string {
	return fmt.Sprintf("provider fault on connection %s (%s): %v", e.ConnectionID, e.Code, e.Err)
}

func (e *ProviderFault) Unwrap() error { return e.Err }

func (e *ProviderFault) Is(target error) bool { return target == ErrProviderFault }
