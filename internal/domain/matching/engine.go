package matching

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/transaction"
	"bankrecon/internal/shared/clock"
	"bankrecon/internal/shared/logger"
)

var (
	engineMeter     = otel.Meter("bankrecon/matching")
	matchesTotal, _ = engineMeter.Int64Counter("matching.matches.total", metric.WithDescription("Match rows proposed by type and bucket"))
)

// Engine evaluates a transaction against tenant rules and open records.
// It never writes.
type Engine struct {
	rules    RuleRepository
	records  RecordSource
	cfg      Config
	clock    clock.Clock
	patterns *patternCache
}

func NewEngine(rules RuleRepository, records RecordSource, cfg Config, clk clock.Clock) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		rules:    rules,
		records:  records,
		cfg:      cfg,
		clock:    clk,
		patterns: &patternCache{},
	}, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Evaluate proposes matches for tx under a fresh evaluation ID: at most one
// RULE match followed by up to TopN SYSTEMATIC candidates, best first.
func (e *Engine) Evaluate(ctx context.Context, tx *transaction.BankTransaction) ([]*PaymentMatch, error) {
	rules, err := e.rules.ListActive(ctx, tx.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	records, err := e.records.ListOpen(ctx, tx.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open records: %w", err)
	}
	sortRules(rules)

	return e.evaluate(ctx, tx, rules, records), nil
}

func (e *Engine) evaluate(ctx context.Context, tx *transaction.BankTransaction, rules []*Rule, records []*OpenRecord) []*PaymentMatch {
	evalID := uuid.NewString()
	now := e.clock.Now()
	sc := scorer{e.cfg}
	var out []*PaymentMatch

	hit, ruleErrs := e.patterns.applyRules(tx, rules, records)
	for _, err := range ruleErrs {
		logger.FromContext(ctx).Warn().Err(err).Str("transaction_id", tx.ID).Msg("skipping matching rule")
	}

	var linked string
	if hit != nil {
		linked = hit.record.ID
		_, exp := sc.score(tx, hit.record)
		exp.RuleName = hit.rule.Name
		exp.RulePattern = hit.rule.Pattern
		exp.RuleKey = hit.key
		out = append(out, &PaymentMatch{
			ID:            uuid.NewString(),
			TenantID:      tx.TenantID,
			TransactionID: tx.ID,
			RecordID:      hit.record.ID,
			RecordKind:    hit.record.Kind,
			MatchType:     MatchTypeRule,
			Score:         1.0,
			Bucket:        BucketHigh,
			RuleID:        hit.rule.ID,
			Explanation:   exp,
			EvaluationID:  evalID,
			CreatedAt:     now,
		})
	}

	var candidates []*PaymentMatch
	for _, rec := range records {
		if rec.ID == linked {
			continue
		}
		score, exp := sc.score(tx, rec)
		bucket, ok := e.cfg.BucketFor(score)
		if !ok {
			continue
		}
		candidates = append(candidates, &PaymentMatch{
			ID:            uuid.NewString(),
			TenantID:      tx.TenantID,
			TransactionID: tx.ID,
			RecordID:      rec.ID,
			RecordKind:    rec.Kind,
			MatchType:     MatchTypeSystematic,
			Score:         score,
			Bucket:        bucket,
			Explanation:   exp,
			EvaluationID:  evalID,
			CreatedAt:     now,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].RecordID < candidates[j].RecordID
	})
	if len(candidates) > e.cfg.TopN {
		candidates = candidates[:e.cfg.TopN]
	}
	out = append(out, candidates...)

	for _, m := range out {
		matchesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(m.MatchType)),
			attribute.String("bucket", string(m.Bucket)),
		))
	}
	return out
}

// DecisionEntries builds one MATCH_DECISION audit entry per match.
func DecisionEntries(clk clock.Clock, tx *transaction.BankTransaction, matches []*PaymentMatch, actor string) []*audit.Entry {
	entries := make([]*audit.Entry, 0, len(matches))
	for _, m := range matches {
		payload := map[string]any{
			"matchId":       m.ID,
			"transactionId": m.TransactionID,
			"recordId":      m.RecordID,
			"matchType":     string(m.MatchType),
			"score":         m.Score,
			"bucket":        string(m.Bucket),
			"evaluationId":  m.EvaluationID,
		}
		if m.RuleID != "" {
			payload["ruleId"] = m.RuleID
		}
		entries = append(entries, audit.NewEntry(clk, tx.TenantID, tx.ConnectionID, actor, audit.ActionMatchDecision, payload))
	}
	return entries
}
