package connection

import (
	"errors"
	"fmt"
	"time"

	"bankrecon/internal/domain/credential"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionExists   = errors.New("a connection for this account already exists")
	ErrIllegalTransition  = errors.New("illegal status transition")
	ErrStaleState         = errors.New("connection status changed concurrently")
	ErrUnknownStatus      = errors.New("unknown connection status")
	ErrMissingAccountID   = errors.New("credentials do not identify an account")
)

// ErrorCode classifies why a connection entered ERROR.
type ErrorCode string

const (
	ErrorCodeIPNotWhitelisted ErrorCode = "IP_NOT_WHITELISTED"
	ErrorCodeAuthFailed       ErrorCode = "AUTH_FAILED"
	ErrorCodeNoPermission     ErrorCode = "NO_PERMISSION"
	ErrorCodeFormatMismatch   ErrorCode = "FORMAT_MISMATCH"
	ErrorCodeRateLimit        ErrorCode = "RATE_LIMIT"
	ErrorCodeBankDown         ErrorCode = "BANK_DOWN"
	ErrorCodeTimeout          ErrorCode = "TIMEOUT"
	ErrorCodeUnknown          ErrorCode = "UNKNOWN"
)

// Connection is a tenant's link to one bank account at one institution.
type Connection struct {
	ID                string                       `json:"id"`
	TenantID          string                       `json:"tenantId"`
	InstitutionID     string                       `json:"institutionId"`
	AccountID         string                       `json:"accountId"`
	IntegrationMethod credential.IntegrationMethod `json:"integrationMethod"`
	Credentials       credential.Bundle            `json:"-"`
	Status            Status                       `json:"status"`
	ConsecutiveErrors int                          `json:"consecutiveErrors"`
	LastSyncAt        *time.Time                   `json:"lastSyncAt,omitempty"`
	LastErrorCode     ErrorCode                    `json:"lastErrorCode,omitempty"`
	LastErrorMessage  string                       `json:"lastErrorMessage,omitempty"`
	LastErrorAt       *time.Time                   `json:"lastErrorAt,omitempty"`
	NextRetryAt       *time.Time                   `json:"nextRetryAt,omitempty"`
	DisabledAt        *time.Time                   `json:"disabledAt,omitempty"`
	Version           int64                        `json:"version"`
	CreatedAt         time.Time                    `json:"createdAt"`
	UpdatedAt         time.Time                    `json:"updatedAt"`
}

// Clone returns a deep copy so a proposed next state never aliases the current one.
func (c *Connection) Clone() *Connection {
	cp := *c
	cp.LastSyncAt = cloneTime(c.LastSyncAt)
	cp.LastErrorAt = cloneTime(c.LastErrorAt)
	cp.NextRetryAt = cloneTime(c.NextRetryAt)
	cp.DisabledAt = cloneTime(c.DisabledAt)
	cp.Credentials.Fields = make(map[string]string, len(c.Credentials.Fields))
	for k, v := range c.Credentials.Fields {
		cp.Credentials.Fields[k] = v
	}
	cp.Credentials.Sealed = append([]string(nil), c.Credentials.Sealed...)
	return &cp
}

// DueForRetry reports whether an ERROR connection's retry window has opened.
func (c *Connection) DueForRetry(now time.Time) bool {
	return c.Status == StatusError && c.NextRetryAt != nil && !now.Before(*c.NextRetryAt)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SubmitParams carries a credential submission.
type SubmitParams struct {
	TenantID      string
	InstitutionID string
	Fields        map[string]string
	Actor         string
}

// TransitionRequest asks the manager to move a connection from Expected to Target.
type TransitionRequest struct {
	ConnectionID string
	// TenantID, when set, must own the connection.
	TenantID     string
	Expected     Status
	Target       Status
	Actor        string
	Reason       string
	ErrorCode    ErrorCode
	ErrorMessage string
}

// IllegalTransitionError is returned for any pair outside the legal graph.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// Allowed lists the legal targets from e.From.
func (e *IllegalTransitionError) Allowed() []Status { return e.From.AllowedTargets() }

// StaleStateError is returned when the stored status differs from the caller's expectation.
type StaleStateError struct {
	ConnectionID string
	Expected     Status
	Actual       Status
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("connection %s is %s, expected %s", e.ConnectionID, e.Actual, e.Expected)
}

func (e *StaleStateError) Is(target error) bool { return target == ErrStaleState }
