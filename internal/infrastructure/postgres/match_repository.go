package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/matching"
)

type MatchRepository struct {
	db *DB
}

func NewMatchRepository(db *DB) *MatchRepository {
	return &MatchRepository{db: db}
}

func (r *MatchRepository) ListByTransaction(ctx context.Context, tenantID, transactionID string) ([]*matching.PaymentMatch, error) {
	query := `
		SELECT id, tenant_id, transaction_id, record_id, record_kind, match_type, score, bucket,
		       COALESCE(rule_id::text, ''), explanation, evaluation_id, created_at
		FROM payment_matches
		WHERE tenant_id = $1 AND transaction_id = $2
		ORDER BY created_at DESC, score DESC, record_id
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []*matching.PaymentMatch
	for rows.Next() {
		var m matching.PaymentMatch
		var kind, matchType, bucket string
		var explanation []byte
		err := rows.Scan(
			&m.ID, &m.TenantID, &m.TransactionID, &m.RecordID, &kind, &matchType, &m.Score, &bucket,
			&m.RuleID, &explanation, &m.EvaluationID, &m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.RecordKind = matching.RecordKind(kind)
		m.MatchType = matching.MatchType(matchType)
		m.Bucket = matching.Bucket(bucket)
		if err := json.Unmarshal(explanation, &m.Explanation); err != nil {
			return nil, fmt.Errorf("failed to decode match explanation: %w", err)
		}
		matches = append(matches, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}
	return matches, nil
}

func (r *MatchRepository) CountByBucket(ctx context.Context, tenantID string, since time.Time) (map[matching.Bucket]int, error) {
	query := `
		SELECT bucket, COUNT(*)
		FROM payment_matches
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY bucket
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count matches: %w", err)
	}
	defer rows.Close()

	counts := map[matching.Bucket]int{}
	for rows.Next() {
		var bucket string
		var n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, fmt.Errorf("failed to scan match count: %w", err)
		}
		counts[matching.Bucket(bucket)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match counts: %w", err)
	}
	return counts, nil
}

// SaveEvaluation stores a re-evaluation's rows and their audit entries together.
func (r *MatchRepository) SaveEvaluation(ctx context.Context, matches []*matching.PaymentMatch, entries []*audit.Entry) error {
	err := r.db.WithTx(ctx, func(tx *Tx) error {
		if err := insertMatches(ctx, tx, matches); err != nil {
			return err
		}
		for _, e := range entries {
			if err := appendAudit(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save evaluation: %w", err)
	}
	return nil
}

// insertMatches writes all rows in one multi-value INSERT.
func insertMatches(ctx context.Context, q querier, matches []*matching.PaymentMatch) error {
	if len(matches) == 0 {
		return nil
	}

	const cols = 12
	values := make([]string, 0, len(matches))
	args := make([]any, 0, len(matches)*cols)
	for i, m := range matches {
		explanation, err := json.Marshal(m.Explanation)
		if err != nil {
			return fmt.Errorf("failed to encode match explanation: %w", err)
		}
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", i*cols+j+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			m.ID, m.TenantID, m.TransactionID, m.RecordID, string(m.RecordKind), string(m.MatchType),
			m.Score, string(m.Bucket), sql.NullString{String: m.RuleID, Valid: m.RuleID != ""},
			explanation, m.EvaluationID, m.CreatedAt,
		)
	}

	query := `
		INSERT INTO payment_matches (
			id, tenant_id, transaction_id, record_id, record_kind, match_type, score, bucket,
			rule_id, explanation, evaluation_id, created_at
		)
		VALUES ` + strings.Join(values, ", ")

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert matches: %w", err)
	}
	return nil
}
