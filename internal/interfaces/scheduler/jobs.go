package scheduler

import (
	"context"
	"errors"
	"fmt"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/connection"
	"bankrecon/internal/domain/ingestion"
	"bankrecon/internal/shared/logger"
)

// Lifecycle is the part of the connection manager the jobs drive.
type Lifecycle interface {
	GetByID(ctx context.Context, id string) (*connection.Connection, error)
	ListActive(ctx context.Context, limit int) ([]*connection.Connection, error)
	ListDueForRetry(ctx context.Context, limit int) ([]*connection.Connection, error)
	Activate(ctx context.Context, tenantID, id, actor string) (*connection.Connection, error)
	MarkFailed(ctx context.Context, c *connection.Connection, actor string, cause error) (*connection.Connection, error)
}

type Ingester interface {
	RunIngestion(ctx context.Context, tenantID, connectionID, actor string) (*ingestion.Result, error)
}

// IngestionJob pulls new statement lines for one ACTIVE connection. A
// provider fault moves the connection to ERROR, which schedules its retry.
type IngestionJob struct {
	connectionID string
	ingester     Ingester
	lifecycle    Lifecycle
}

func NewIngestionJob(connectionID string, ingester Ingester, lifecycle Lifecycle) *IngestionJob {
	return &IngestionJob{
		connectionID: connectionID,
		ingester:     ingester,
		lifecycle:    lifecycle,
	}
}

func (j *IngestionJob) Execute(ctx context.Context) error {
	log := logger.FromContext(ctx)

	res, err := j.ingester.RunIngestion(ctx, "", j.connectionID, audit.ActorScheduler)
	if err == nil {
		log.Info().
			Int("imported", res.Imported).
			Int("duplicates_skipped", res.DuplicatesSkipped).
			Int("matches_created", res.MatchesCreated).
			Msg("scheduled ingestion finished")
		return nil
	}

	var fault *ingestion.ProviderFault
	switch {
	case errors.Is(err, ingestion.ErrRunInProgress), errors.Is(err, ingestion.ErrConnectionNotActive):
		// Another run holds the connection, or its status moved since listing.
		log.Debug().Err(err).Msg("scheduled ingestion skipped")
		return nil
	case errors.As(err, &fault):
		return j.markFailed(ctx, fault)
	default:
		return fmt.Errorf("ingestion failed: %w", err)
	}
}

func (j *IngestionJob) markFailed(ctx context.Context, fault *ingestion.ProviderFault) error {
	c, err := j.lifecycle.GetByID(ctx, j.connectionID)
	if err != nil {
		return fmt.Errorf("failed to reload connection after provider fault: %w", err)
	}
	if c.Status != connection.StatusActive {
		return nil
	}

	updated, err := j.lifecycle.MarkFailed(ctx, c, audit.ActorScheduler, fault.Err)
	if err != nil {
		if errors.Is(err, connection.ErrStaleState) {
			return nil
		}
		return fmt.Errorf("failed to mark connection failed: %w", err)
	}

	ev := logger.FromContext(ctx).Warn().
		Str("error_code", string(updated.LastErrorCode)).
		Int("consecutive_errors", updated.ConsecutiveErrors)
	if updated.NextRetryAt != nil {
		ev = ev.Time("next_retry_at", *updated.NextRetryAt)
	}
	ev.Msg("connection moved to ERROR after provider fault")
	return nil
}

func (j *IngestionJob) ConnectionID() string { return j.connectionID }

func (j *IngestionJob) Description() string {
	return fmt.Sprintf("Ingestion for connection %s", j.connectionID)
}

// RetryJob re-verifies an ERROR connection whose backoff window has opened.
type RetryJob struct {
	connectionID string
	lifecycle    Lifecycle
}

func NewRetryJob(connectionID string, lifecycle Lifecycle) *RetryJob {
	return &RetryJob{connectionID: connectionID, lifecycle: lifecycle}
}

func (j *RetryJob) Execute(ctx context.Context) error {
	c, err := j.lifecycle.Activate(ctx, "", j.connectionID, audit.ActorScheduler)
	if err != nil {
		if errors.Is(err, connection.ErrStaleState) || errors.Is(err, connection.ErrIllegalTransition) {
			// Someone else moved the connection first.
			logger.FromContext(ctx).Debug().Err(err).Msg("retry skipped")
			return nil
		}
		return fmt.Errorf("retry failed: %w", err)
	}

	logger.FromContext(ctx).Info().
		Str("status", string(c.Status)).
		Int("consecutive_errors", c.ConsecutiveErrors).
		Msg("connection retried")
	return nil
}

func (j *RetryJob) ConnectionID() string { return j.connectionID }

func (j *RetryJob) Description() string {
	return fmt.Sprintf("Retry for connection %s", j.connectionID)
}
