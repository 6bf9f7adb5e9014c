package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bankrecon/internal/domain/matching"
)

const ruleColumns = `
	id, tenant_id, name, pattern, record_series, counterparty_ref, record_kind,
	priority, active, learned, created_at`

type RuleRepository struct {
	db *DB
}

func NewRuleRepository(db *DB) *RuleRepository {
	return &RuleRepository{db: db}
}

func (r *RuleRepository) Create(ctx context.Context, rule *matching.Rule) error {
	query := `
		INSERT INTO matching_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.TenantID, rule.Name, rule.Pattern, rule.RecordSeries, rule.CounterpartyRef,
		string(rule.RecordKind), rule.Priority, rule.Active, rule.Learned, rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*matching.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM matching_rules WHERE id = $1`
	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (r *RuleRepository) ListByTenant(ctx context.Context, tenantID string) ([]*matching.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM matching_rules
		WHERE tenant_id = $1
		ORDER BY priority, id`
	return r.list(ctx, query, tenantID)
}

func (r *RuleRepository) ListActive(ctx context.Context, tenantID string) ([]*matching.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM matching_rules
		WHERE tenant_id = $1 AND active
		ORDER BY priority, id`
	return r.list(ctx, query, tenantID)
}

func (r *RuleRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE matching_rules SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}
	if n == 0 {
		return matching.ErrRuleNotFound
	}
	return nil
}

func (r *RuleRepository) list(ctx context.Context, query string, args ...any) ([]*matching.Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*matching.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

func scanRule(s scanner) (*matching.Rule, error) {
	var rule matching.Rule
	var kind string
	err := s.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Pattern, &rule.RecordSeries, &rule.CounterpartyRef,
		&kind, &rule.Priority, &rule.Active, &rule.Learned, &rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.RecordKind = matching.RecordKind(kind)
	return &rule, nil
}
