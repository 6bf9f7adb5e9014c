package matching

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/transaction"
	"bankrecon/internal/shared/clock"
	"bankrecon/internal/shared/logger"
)

// LearnedRulePriority ranks learned rules after hand-written ones.
const LearnedRulePriority = 1000

// Service exposes rule management, re-evaluation and reporting.
type Service struct {
	engine       *Engine
	rules        RuleRepository
	matches      MatchRepository
	writer       EvaluationWriter
	transactions transaction.Repository
	audit        *audit.Service
	clock        clock.Clock
	validate     *validator.Validate
}

func NewService(
	engine *Engine,
	rules RuleRepository,
	matches MatchRepository,
	writer EvaluationWriter,
	transactions transaction.Repository,
	auditService *audit.Service,
	clk clock.Clock,
) *Service {
	return &Service{
		engine:       engine,
		rules:        rules,
		matches:      matches,
		writer:       writer,
		transactions: transactions,
		audit:        auditService,
		clock:        clk,
		validate:     validator.New(),
	}
}

// Reevaluate runs the engine again for a stored transaction and appends the
// result as a new evaluation. Earlier rows are untouched.
func (s *Service) Reevaluate(ctx context.Context, tenantID, transactionID, actor string) ([]*PaymentMatch, error) {
	tx, err := s.transactions.GetByID(ctx, tenantID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if tx == nil {
		return nil, transaction.ErrTransactionNotFound
	}

	matches, err := s.engine.Evaluate(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return matches, nil
	}

	if err := s.writer.SaveEvaluation(ctx, matches, DecisionEntries(s.clock, tx, matches, actor)); err != nil {
		return nil, fmt.Errorf("failed to save evaluation: %w", err)
	}

	logger.FromContext(ctx).Info().
		Str("transaction_id", tx.ID).
		Str("evaluation_id", matches[0].EvaluationID).
		Int("matches", len(matches)).
		Msg("transaction re-evaluated")
	return matches, nil
}

// ListMatches returns every match row recorded for a transaction, across evaluations.
func (s *Service) ListMatches(ctx context.Context, tenantID, transactionID string) ([]*PaymentMatch, error) {
	tx, err := s.transactions.GetByID(ctx, tenantID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if tx == nil {
		return nil, transaction.ErrTransactionNotFound
	}
	matches, err := s.matches.ListByTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	if matches == nil {
		matches = []*PaymentMatch{}
	}
	return matches, nil
}

// CreateRule validates and stores a tenant rule.
func (s *Service) CreateRule(ctx context.Context, tenantID, actor string, params CreateRuleParams) (*Rule, error) {
	if err := s.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if _, err := s.engine.patterns.compile(params.Pattern); err != nil {
		return nil, err
	}

	r := &Rule{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		Name:            strings.TrimSpace(params.Name),
		Pattern:         params.Pattern,
		RecordSeries:    strings.TrimSpace(params.RecordSeries),
		CounterpartyRef: strings.TrimSpace(params.CounterpartyRef),
		RecordKind:      params.RecordKind,
		Priority:        params.Priority,
		Active:          true,
		CreatedAt:       s.clock.Now(),
	}
	return r, s.storeRule(ctx, r, actor, audit.ActionRuleCreated)
}

// LearnRule turns a manual decision into a literal rule pinned to the chosen
// record reference, built from the first three words of the description.
func (s *Service) LearnRule(ctx context.Context, tenantID, actor string, params LearnRuleParams) (*Rule, error) {
	if err := s.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	pattern := learnedPattern(params.Description)
	if pattern == "" {
		return nil, fmt.Errorf("%w: description has no words", ErrInvalidRule)
	}

	r := &Rule{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		Name:            "learned: " + strings.Join(strings.Fields(strings.ToUpper(params.Description)), " "),
		Pattern:         pattern,
		CounterpartyRef: strings.TrimSpace(params.CounterpartyRef),
		RecordKind:      params.RecordKind,
		Priority:        LearnedRulePriority,
		Active:          true,
		Learned:         true,
		CreatedAt:       s.clock.Now(),
	}
	if name := []rune(r.Name); len(name) > maxRuleNameRunes {
		r.Name = string(name[:maxRuleNameRunes])
	}
	return r, s.storeRule(ctx, r, actor, audit.ActionRuleLearned)
}

// maxRuleNameRunes matches the max=200 tag on Rule.Name.
const maxRuleNameRunes = 200

func (s *Service) storeRule(ctx context.Context, r *Rule, actor string, action audit.Action) error {
	if err := s.rules.Create(ctx, r); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	if _, err := s.audit.Record(ctx, r.TenantID, "", actor, action, map[string]any{
		"ruleId":          r.ID,
		"name":            r.Name,
		"pattern":         r.Pattern,
		"recordSeries":    r.RecordSeries,
		"counterpartyRef": r.CounterpartyRef,
		"priority":        r.Priority,
	}); err != nil {
		return err
	}
	logger.FromContext(ctx).Info().Str("rule_id", r.ID).Str("action", string(action)).Msg("matching rule stored")
	return nil
}

func (s *Service) ListRules(ctx context.Context, tenantID string) ([]*Rule, error) {
	rules, err := s.rules.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	if rules == nil {
		rules = []*Rule{}
	}
	return rules, nil
}

// DeactivateRule retires a rule. Rules are never deleted so past RULE
// matches keep a resolvable RuleID.
func (s *Service) DeactivateRule(ctx context.Context, tenantID, ruleID, actor string) error {
	r, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("failed to get rule: %w", err)
	}
	if r == nil || r.TenantID != tenantID {
		return ErrRuleNotFound
	}
	if !r.Active {
		return nil
	}
	if err := s.rules.Deactivate(ctx, ruleID); err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}
	_, err = s.audit.Record(ctx, tenantID, "", actor, audit.ActionRuleDeactivated, map[string]any{"ruleId": ruleID})
	return err
}

// Summary reports the confidence distribution of matches created since since.
func (s *Service) Summary(ctx context.Context, tenantID string, since time.Time) (*Summary, error) {
	counts, err := s.matches.CountByBucket(ctx, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count matches: %w", err)
	}
	sum := &Summary{
		Since:  since,
		High:   counts[BucketHigh],
		Medium: counts[BucketMedium],
		Low:    counts[BucketLow],
	}
	sum.Total = sum.High + sum.Medium + sum.Low
	if sum.Total > 0 {
		sum.HighShare = round4(float64(sum.High) / float64(sum.Total))
	}
	return sum, nil
}
