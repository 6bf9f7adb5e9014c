package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/connection"
	"bankrecon/internal/domain/matching"
	"bankrecon/internal/domain/transaction"
	"bankrecon/internal/shared/clock"
	"bankrecon/internal/shared/logger"
)

const (
	DefaultWorkers  = 4
	DefaultMaxPages = 50
)

var (
	ingestionTracer = otel.Tracer("bankrecon/ingestion")
	ingestionMeter  = otel.Meter("bankrecon/ingestion")
	recordsTotal, _ = ingestionMeter.Int64Counter("ingestion.records.total", metric.WithDescription("Raw records by outcome"))
	runsTotal, _    = ingestionMeter.Int64Counter("ingestion.runs.total", metric.WithDescription("Ingestion runs by outcome"))
	runDuration, _  = ingestionMeter.Float64Histogram("ingestion.run.duration", metric.WithUnit("s"))
)

// Options bounds a pipeline.
type Options struct {
	// Workers caps parallel normalisation and fingerprinting.
	Workers int
	// MaxPages caps provider pages requested per run.
	MaxPages int
}

// Result counts what one batch or run did.
type Result struct {
	Imported          int      `json:"imported"`
	DuplicatesSkipped int      `json:"duplicatesSkipped"`
	Rejected          int      `json:"rejected"`
	MatchesCreated    int      `json:"matchesCreated"`
	Pages             int      `json:"pages,omitempty"`
	Cancelled         bool     `json:"cancelled,omitempty"`
	Errors            []string `json:"errors"`
}

func (r *Result) add(o *Result) {
	r.Imported += o.Imported
	r.DuplicatesSkipped += o.DuplicatesSkipped
	r.Rejected += o.Rejected
	r.MatchesCreated += o.MatchesCreated
	r.Errors = append(r.Errors, o.Errors...)
}

func newResult() *Result {
	return &Result{Errors: []string{}}
}

// Pipeline imports raw statement lines idempotently and hands every new
// transaction to the matcher inside the same unit of work.
type Pipeline struct {
	connections Connections
	provider    Provider
	uow         UnitOfWork
	matcher     Matcher
	guard       RunGuard
	audit       *audit.Service
	normalizer  *transaction.Normalizer
	clock       clock.Clock
	opts        Options
}

func NewPipeline(
	connections Connections,
	provider Provider,
	uow UnitOfWork,
	matcher Matcher,
	guard RunGuard,
	auditService *audit.Service,
	normalizer *transaction.Normalizer,
	clk clock.Clock,
	opts Options,
) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	return &Pipeline{
		connections: connections,
		provider:    provider,
		uow:         uow,
		matcher:     matcher,
		guard:       guard,
		audit:       auditService,
		normalizer:  normalizer,
		clock:       clk,
		opts:        opts,
	}
}

// prepared is a record after the parallel phase.
type prepared struct {
	norm        transaction.Normalized
	fingerprint string
	err         error
}

// Ingest imports one batch for an ACTIVE connection.
func (p *Pipeline) Ingest(ctx context.Context, c *connection.Connection, batch []transaction.RawRecord, actor string) (*Result, error) {
	if c.Status != connection.StatusActive {
		return nil, &NotActiveError{ConnectionID: c.ID, Status: c.Status}
	}

	items := p.prepare(c, batch)

	// A fetched batch is committed in full even if ctx is cancelled meanwhile.
	commitCtx := context.WithoutCancel(ctx)
	res := newResult()
	seen := make(map[string]struct{}, len(items))

	for i, it := range items {
		if it.err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, fmt.Sprintf("record %d: %v", i, it.err))
			recordsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "rejected")))
			continue
		}
		if _, dup := seen[it.fingerprint]; dup {
			res.DuplicatesSkipped++
			recordsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "duplicate")))
			continue
		}
		seen[it.fingerprint] = struct{}{}

		inserted, matches, err := p.commit(commitCtx, c, it, actor)
		if err != nil {
			return res, fmt.Errorf("failed to commit record %d: %w", i, err)
		}
		if !inserted {
			res.DuplicatesSkipped++
			recordsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "duplicate")))
			continue
		}
		res.Imported++
		res.MatchesCreated += matches
		recordsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "imported")))
	}

	return res, nil
}

// prepare normalises and fingerprints the batch in parallel. Per-record
// failures are kept on the item.
func (p *Pipeline) prepare(c *connection.Connection, batch []transaction.RawRecord) []prepared {
	items := make([]prepared, len(batch))
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)

	for i := range batch {
		g.Go(func() error {
			norm, err := p.normalizer.Normalize(batch[i])
			if err != nil {
				items[i] = prepared{err: err}
				return nil
			}
			items[i] = prepared{norm: norm, fingerprint: transaction.Fingerprint(c.ID, norm)}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// commit is the per-record unit of work: insert-if-absent, evaluate,
// store matches and their decision audit entries.
func (p *Pipeline) commit(ctx context.Context, c *connection.Connection, it prepared, actor string) (bool, int, error) {
	bt := &transaction.BankTransaction{
		ID:           uuid.NewString(),
		ConnectionID: c.ID,
		TenantID:     c.TenantID,
		ProviderID:   it.norm.ProviderID,
		Amount:       it.norm.Amount,
		Currency:     it.norm.Currency,
		Description:  it.norm.Description,
		ValueDate:    it.norm.ValueDate,
		Reference:    it.norm.Reference,
		Fingerprint:  it.fingerprint,
		CreatedAt:    p.clock.Now(),
	}

	var inserted bool
	var created int
	err := p.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		ok, err := tx.InsertTransaction(ctx, bt)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		matches, err := p.matcher.Evaluate(ctx, bt)
		if err != nil {
			return fmt.Errorf("failed to evaluate matches: %w", err)
		}
		if len(matches) > 0 {
			if err := tx.InsertMatches(ctx, matches); err != nil {
				return err
			}
			for _, e := range matching.DecisionEntries(p.clock, bt, matches, actor) {
				if err := tx.AppendAudit(ctx, e); err != nil {
					return err
				}
			}
		}
		inserted, created = true, len(matches)
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return inserted, created, nil
}

// RunIngestion pulls every available page for a connection and ingests it.
// tenantID, when set, must own the connection.
func (p *Pipeline) RunIngestion(ctx context.Context, tenantID, connectionID, actor string) (*Result, error) {
	ctx, span := ingestionTracer.Start(ctx, "ingestion.run",
		trace.WithAttributes(attribute.String("connection.id", connectionID)))
	defer span.End()
	start := p.clock.Now()

	c, release, err := p.begin(ctx, tenantID, connectionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()

	log := logger.FromContext(ctx).With().Str("connection_id", c.ID).Logger()

	creds, err := p.connections.OpenCredentials(c)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res := newResult()
	cursor := ""
	for res.Pages < p.opts.MaxPages {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		page, err := p.provider.FetchPage(ctx, c, creds, cursor)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				res.Cancelled = true
				break
			}
			fault := &ProviderFault{
				ConnectionID: c.ID,
				Code:         connection.ClassifyError(err),
				RetryAfter:   p.connections.RetryAfter(c),
				Err:          err,
			}
			span.RecordError(fault)
			span.SetStatus(codes.Error, "provider fault")
			runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "fault")))
			log.Warn().Err(err).Str("error_code", string(fault.Code)).Int("pages", res.Pages).Msg("provider fault during ingestion")
			p.recordRun(ctx, c, actor, "provider", res, fault)
			return res, fault
		}
		res.Pages++

		pageRes, err := p.Ingest(ctx, c, page.Records, actor)
		if pageRes != nil {
			res.add(pageRes)
		}
		if err != nil {
			span.RecordError(err)
			runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
			p.recordRun(ctx, c, actor, "provider", res, err)
			return res, err
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if err := p.connections.RecordSync(context.WithoutCancel(ctx), c.ID); err != nil {
		log.Error().Err(err).Msg("failed to record sync time")
	}
	p.recordRun(ctx, c, actor, "provider", res, nil)

	outcome := "completed"
	if res.Cancelled {
		outcome = "cancelled"
	}
	runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	runDuration.Record(ctx, p.clock.Now().Sub(start).Seconds())
	span.SetAttributes(
		attribute.Int("ingestion.imported", res.Imported),
		attribute.Int("ingestion.duplicates", res.DuplicatesSkipped),
		attribute.Int("ingestion.pages", res.Pages),
	)

	log.Info().
		Int("imported", res.Imported).
		Int("duplicates_skipped", res.DuplicatesSkipped).
		Int("rejected", res.Rejected).
		Int("matches_created", res.MatchesCreated).
		Int("pages", res.Pages).
		Bool("cancelled", res.Cancelled).
		Msg("ingestion run finished")

	return res, nil
}

// IngestBatch imports a caller-supplied batch (manual upload or test run)
// under the same guard as provider pulls.
func (p *Pipeline) IngestBatch(ctx context.Context, tenantID, connectionID string, batch []transaction.RawRecord, actor string) (*Result, error) {
	c, release, err := p.begin(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := p.Ingest(ctx, c, batch, actor)
	if err != nil {
		if res != nil {
			p.recordRun(ctx, c, actor, "batch", res, err)
		}
		return res, err
	}

	if err := p.connections.RecordSync(context.WithoutCancel(ctx), c.ID); err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("connection_id", c.ID).Msg("failed to record sync time")
	}
	p.recordRun(ctx, c, actor, "batch", res, nil)
	runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "batch")))
	return res, nil
}

// begin loads the connection, checks it is ACTIVE and takes the run guard.
func (p *Pipeline) begin(ctx context.Context, tenantID, connectionID string) (*connection.Connection, func(), error) {
	c, err := p.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}
	if tenantID != "" && c.TenantID != tenantID {
		return nil, nil, connection.ErrConnectionNotFound
	}
	if c.Status != connection.StatusActive {
		return nil, nil, &NotActiveError{ConnectionID: c.ID, Status: c.Status}
	}

	release, ok, err := p.guard.TryAcquire(ctx, c.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire run guard: %w", err)
	}
	if !ok {
		runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "rejected_in_progress")))
		return nil, nil, ErrRunInProgress
	}
	return c, release, nil
}

func (p *Pipeline) recordRun(ctx context.Context, c *connection.Connection, actor, source string, res *Result, runErr error) {
	payload := map[string]any{
		"source":            source,
		"imported":          res.Imported,
		"duplicatesSkipped": res.DuplicatesSkipped,
		"rejected":          res.Rejected,
		"matchesCreated":    res.MatchesCreated,
		"pages":             res.Pages,
		"cancelled":         res.Cancelled,
	}
	if runErr != nil {
		payload["error"] = runErr.Error()
		var fault *ProviderFault
		if errors.As(runErr, &fault) {
			payload["errorCode"] = string(fault.Code)
		}
	}
	if _, err := p.audit.Record(context.WithoutCancel(ctx), c.TenantID, c.ID, actor, audit.ActionIngestionRun, payload); err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("connection_id", c.ID).Msg("failed to audit ingestion run")
	}
}
