package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/credential"
	"bankrecon/internal/shared/clock"
	"bankrecon/internal/shared/logger"
)

var (
	lifecycleMeter        = otel.Meter("bankrecon/connection")
	transitionsTotal, _   = lifecycleMeter.Int64Counter("connection.transitions.total", metric.WithDescription("Lifecycle transitions by outcome"))
	connectionsCreated, _ = lifecycleMeter.Int64Counter("connection.created.total", metric.WithDescription("Connections created from credential submissions"))
)

// Verifier checks submitted credentials against the institution.
type Verifier interface {
	Verify(ctx context.Context, c *Connection, credentials map[string]string) error
}

// Manager owns the connection state machine. It is the only writer of
// connection status.
type Manager struct {
	repo     Repository
	registry *credential.Registry
	vault    credential.Vault
	backoff  Backoff
	clock    clock.Clock
	verifier Verifier
}

func NewManager(repo Repository, registry *credential.Registry, vault credential.Vault, backoff Backoff, clk clock.Clock) *Manager {
	return &Manager{
		repo:     repo,
		registry: registry,
		vault:    vault,
		backoff:  backoff,
		clock:    clk,
	}
}

// SetVerifier installs the credential verifier used by Activate.
func (m *Manager) SetVerifier(v Verifier) {
	m.verifier = v
}

func (m *Manager) Backoff() Backoff { return m.backoff }

// SubmitCredentials validates a submission against the institution policy,
// seals its secret fields and stores a new DRAFT connection.
func (m *Manager) SubmitCredentials(ctx context.Context, params SubmitParams) (*Connection, error) {
	if err := m.registry.Validate(params.InstitutionID, params.Fields); err != nil {
		return nil, err
	}

	policy, err := m.registry.Get(params.InstitutionID)
	if err != nil {
		return nil, err
	}

	accountID := policy.AccountID(params.Fields)
	if accountID == "" {
		return nil, ErrMissingAccountID
	}

	bundle, err := credential.Seal(policy, params.Fields, m.vault)
	if err != nil {
		return nil, fmt.Errorf("failed to seal credentials: %w", err)
	}

	now := m.clock.Now()
	c := &Connection{
		ID:                uuid.NewString(),
		TenantID:          params.TenantID,
		InstitutionID:     policy.InstitutionID,
		AccountID:         accountID,
		IntegrationMethod: policy.IntegrationMethod,
		Credentials:       bundle,
		Status:            StatusDraft,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	entry := audit.NewEntry(m.clock, c.TenantID, c.ID, params.Actor, audit.ActionConnectionCreated, map[string]any{
		"institutionId":     c.InstitutionID,
		"accountId":         c.AccountID,
		"integrationMethod": string(c.IntegrationMethod),
		"status":            string(c.Status),
		"sealedFields":      bundle.Sealed,
	})

	if err := m.repo.Create(ctx, c, entry); err != nil {
		if errors.Is(err, ErrConnectionExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	connectionsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("institution", c.InstitutionID)))
	logger.FromContext(ctx).Info().
		Str("connection_id", c.ID).
		Str("tenant_id", c.TenantID).
		Str("institution", c.InstitutionID).
		Msg("connection created")

	return c, nil
}

// GetByID loads a connection regardless of tenant. Internal callers only.
func (m *Manager) GetByID(ctx context.Context, id string) (*Connection, error) {
	c, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if c == nil {
		return nil, ErrConnectionNotFound
	}
	return c, nil
}

// Get loads a connection owned by tenantID.
func (m *Manager) Get(ctx context.Context, tenantID, id string) (*Connection, error) {
	c, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.TenantID != tenantID {
		return nil, ErrConnectionNotFound
	}
	return c, nil
}

func (m *Manager) List(ctx context.Context, tenantID string) ([]*Connection, error) {
	conns, err := m.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

func (m *Manager) ListActive(ctx context.Context, limit int) ([]*Connection, error) {
	conns, err := m.repo.ListByStatus(ctx, StatusActive, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active connections: %w", err)
	}
	return conns, nil
}

// ListDueForRetry returns ERROR connections whose retry window has opened.
func (m *Manager) ListDueForRetry(ctx context.Context, limit int) ([]*Connection, error) {
	conns, err := m.repo.ListDueForRetry(ctx, m.clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections due for retry: %w", err)
	}
	return conns, nil
}

// RequestTransition moves a connection along one edge of the legal graph.
// The caller's Expected status must match the stored one.
func (m *Manager) RequestTransition(ctx context.Context, req TransitionRequest) (*Connection, error) {
	if !req.Expected.Valid() {
		return nil, fmt.Errorf("%w: expected %q", ErrUnknownStatus, req.Expected)
	}
	if !req.Target.Valid() {
		return nil, fmt.Errorf("%w: target %q", ErrUnknownStatus, req.Target)
	}
	if !CanTransition(req.Expected, req.Target) {
		transitionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "illegal")))
		return nil, &IllegalTransitionError{From: req.Expected, To: req.Target}
	}

	current, err := m.repo.GetByID(ctx, req.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if current == nil || (req.TenantID != "" && current.TenantID != req.TenantID) {
		return nil, ErrConnectionNotFound
	}
	if current.Status != req.Expected {
		transitionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "stale")))
		return nil, &StaleStateError{ConnectionID: current.ID, Expected: req.Expected, Actual: current.Status}
	}

	now := m.clock.Now()
	next := m.apply(current, req, now)
	entry := audit.NewEntry(m.clock, next.TenantID, next.ID, req.Actor, audit.ActionTransition, transitionPayload(current, next, req))

	swapped, err := m.repo.CompareAndSwap(ctx, next, current.Status, current.Version, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to persist transition: %w", err)
	}
	if !swapped {
		actual := Status("")
		if latest, err := m.repo.GetByID(ctx, current.ID); err == nil && latest != nil {
			actual = latest.Status
		}
		transitionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "stale")))
		return nil, &StaleStateError{ConnectionID: current.ID, Expected: req.Expected, Actual: actual}
	}

	transitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", "applied"),
		attribute.String("from", string(current.Status)),
		attribute.String("to", string(next.Status)),
	))

	ev := logger.FromContext(ctx).Info().
		Str("connection_id", next.ID).
		Str("from", string(current.Status)).
		Str("to", string(next.Status)).
		Str("actor", req.Actor)
	if next.Status == StatusError {
		ev = ev.Str("error_code", string(next.LastErrorCode)).
			Int("consecutive_errors", next.ConsecutiveErrors).
			Time("next_retry_at", *next.NextRetryAt)
	}
	ev.Msg("connection transitioned")

	return next, nil
}

// apply computes the post-transition state without touching storage.
func (m *Manager) apply(c *Connection, req TransitionRequest, now time.Time) *Connection {
	next := c.Clone()
	next.Status = req.Target
	next.Version = c.Version + 1
	next.UpdatedAt = now

	switch req.Target {
	case StatusError:
		next.ConsecutiveErrors = c.ConsecutiveErrors + 1
		code := req.ErrorCode
		if code == "" {
			code = ErrorCodeUnknown
		}
		next.LastErrorCode = code
		next.LastErrorMessage = req.ErrorMessage
		next.LastErrorAt = &now
		retryAt := now.Add(m.backoff.Delay(next.ConsecutiveErrors))
		next.NextRetryAt = &retryAt
	case StatusActive:
		next.ConsecutiveErrors = 0
		next.NextRetryAt = nil
		next.LastErrorCode = ""
		next.LastErrorMessage = ""
	case StatusPendingActivation:
		next.NextRetryAt = nil
	case StatusDisabled:
		next.NextRetryAt = nil
		next.DisabledAt = &now
	}
	return next
}

func transitionPayload(from, to *Connection, req TransitionRequest) map[string]any {
	p := map[string]any{
		"from":              string(from.Status),
		"to":                string(to.Status),
		"reason":            req.Reason,
		"version":           to.Version,
		"consecutiveErrors": to.ConsecutiveErrors,
	}
	if to.Status == StatusError {
		p["errorCode"] = string(to.LastErrorCode)
		p["errorMessage"] = to.LastErrorMessage
		p["nextRetryAt"] = to.NextRetryAt.UTC().Format(time.RFC3339)
	}
	return p
}

// Activate drives a DRAFT or ERROR connection through verification:
// -> PENDING_ACTIVATION -> ACTIVE on success, ERROR on failure. A failed
// verification is reflected in the returned connection, not as an error.
func (m *Manager) Activate(ctx context.Context, tenantID, id, actor string) (*Connection, error) {
	c, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenantID != "" && c.TenantID != tenantID {
		return nil, ErrConnectionNotFound
	}

	switch c.Status {
	case StatusDraft, StatusError:
		c, err = m.RequestTransition(ctx, TransitionRequest{
			ConnectionID: c.ID,
			Expected:     c.Status,
			Target:       StatusPendingActivation,
			Actor:        actor,
			Reason:       "verification requested",
		})
		if err != nil {
			return nil, err
		}
	case StatusPendingActivation:
	default:
		return nil, &IllegalTransitionError{From: c.Status, To: StatusPendingActivation}
	}

	verifyErr := m.verify(ctx, c)

	// The outcome is recorded even when the caller has gone away, so the
	// connection never stays in PENDING_ACTIVATION.
	settleCtx := context.WithoutCancel(ctx)
	if verifyErr != nil {
		logger.FromContext(ctx).Warn().Err(verifyErr).Str("connection_id", c.ID).Msg("credential verification failed")
		return m.RequestTransition(settleCtx, TransitionRequest{
			ConnectionID: c.ID,
			Expected:     StatusPendingActivation,
			Target:       StatusError,
			Actor:        actor,
			Reason:       "verification failed",
			ErrorCode:    ClassifyError(verifyErr),
			ErrorMessage: verifyErr.Error(),
		})
	}

	return m.RequestTransition(settleCtx, TransitionRequest{
		ConnectionID: c.ID,
		Expected:     StatusPendingActivation,
		Target:       StatusActive,
		Actor:        actor,
		Reason:       "verification succeeded",
	})
}

func (m *Manager) verify(ctx context.Context, c *Connection) error {
	if c.IntegrationMethod == credential.ManualUpload || m.verifier == nil {
		return nil
	}
	creds, err := m.OpenCredentials(c)
	if err != nil {
		return err
	}
	return m.verifier.Verify(ctx, c, creds)
}

// MarkFailed moves an ACTIVE or PENDING_ACTIVATION connection into ERROR
// after a provider fault.
func (m *Manager) MarkFailed(ctx context.Context, c *Connection, actor string, cause error) (*Connection, error) {
	return m.RequestTransition(ctx, TransitionRequest{
		ConnectionID: c.ID,
		Expected:     c.Status,
		Target:       StatusError,
		Actor:        actor,
		Reason:       "provider fault",
		ErrorCode:    ClassifyError(cause),
		ErrorMessage: cause.Error(),
	})
}

// RecordSync stamps the last successful sync time.
func (m *Manager) RecordSync(ctx context.Context, id string) error {
	if err := m.repo.TouchSync(ctx, id, m.clock.Now()); err != nil {
		return fmt.Errorf("failed to record sync: %w", err)
	}
	return nil
}

// RetryAfter is the opaque retry hint for callers hitting a provider fault.
func (m *Manager) RetryAfter(c *Connection) time.Duration {
	return m.backoff.RetryAfter(c, m.clock.Now())
}

// OpenCredentials decrypts the connection's sealed credential bundle.
func (m *Manager) OpenCredentials(c *Connection) (map[string]string, error) {
	creds, err := credential.Open(c.Credentials, m.vault)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials: %w", err)
	}
	return creds, nil
}
