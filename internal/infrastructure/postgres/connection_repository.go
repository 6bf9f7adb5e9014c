package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/connection"
	"bankrecon/internal/domain/credential"
)

const connectionColumns = `
	id, tenant_id, institution_id, account_id, integration_method, credentials, status,
	consecutive_errors, last_sync_at, last_error_code, last_error_message, last_error_at,
	next_retry_at, disabled_at, version, created_at, updated_at`

type ConnectionRepository struct {
	db *DB
}

func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

func (r *ConnectionRepository) Create(ctx context.Context, c *connection.Connection, entry *audit.Entry) error {
	creds, err := json.Marshal(c.Credentials)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	err = r.db.WithTx(ctx, func(tx *Tx) error {
		query := `
			INSERT INTO bank_connections (
				id, tenant_id, institution_id, account_id, integration_method, credentials,
				status, consecutive_errors, version, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		if _, err := tx.ExecContext(ctx, query,
			c.ID, c.TenantID, c.InstitutionID, c.AccountID, string(c.IntegrationMethod), creds,
			string(c.Status), c.ConsecutiveErrors, c.Version, c.CreatedAt, c.UpdatedAt,
		); err != nil {
			return err
		}
		return appendAudit(ctx, tx, entry)
	})
	if isUniqueViolation(err, "bank_connections_tenant_account_key") {
		return connection.ErrConnectionExists
	}
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM bank_connections WHERE id = $1`

	c, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return c, nil
}

func (r *ConnectionRepository) ListByTenant(ctx context.Context, tenantID string) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id`
	return r.list(ctx, query, tenantID)
}

func (r *ConnectionRepository) ListByStatus(ctx context.Context, status connection.Status, limit int) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE status = $1
		ORDER BY last_sync_at ASC NULLS FIRST, id
		LIMIT $2`
	return r.list(ctx, query, string(status), limit)
}

func (r *ConnectionRepository) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE status = 'ERROR' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at, id
		LIMIT $2`
	return r.list(ctx, query, now, limit)
}

func (r *ConnectionRepository) CompareAndSwap(ctx context.Context, next *connection.Connection, expectedStatus connection.Status, expectedVersion int64, entry *audit.Entry) (bool, error) {
	swapped := false
	err := r.db.WithTx(ctx, func(tx *Tx) error {
		query := `
			UPDATE bank_connections SET
				status = $1,
				consecutive_errors = $2,
				last_error_code = $3,
				last_error_message = $4,
				last_error_at = $5,
				next_retry_at = $6,
				disabled_at = $7,
				version = $8,
				updated_at = $9
			WHERE id = $10 AND status = $11 AND version = $12
		`
		res, err := tx.ExecContext(ctx, query,
			string(next.Status), next.ConsecutiveErrors,
			nullString(string(next.LastErrorCode)), nullString(next.LastErrorMessage), next.LastErrorAt,
			next.NextRetryAt, next.DisabledAt, next.Version, next.UpdatedAt,
			next.ID, string(expectedStatus), expectedVersion,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		swapped = true
		return appendAudit(ctx, tx, entry)
	})
	if err != nil {
		return false, fmt.Errorf("failed to update connection status: %w", err)
	}
	return swapped, nil
}

func (r *ConnectionRepository) TouchSync(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE bank_connections SET last_sync_at = $1 WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to record sync: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record sync: %w", err)
	}
	if n == 0 {
		return connection.ErrConnectionNotFound
	}
	return nil
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...any) ([]*connection.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*connection.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(s scanner) (*connection.Connection, error) {
	var c connection.Connection
	var method, status string
	var creds []byte
	var errCode, errMsg sql.NullString
	var lastSync, lastErrAt, nextRetry, disabledAt sql.NullTime

	err := s.Scan(
		&c.ID, &c.TenantID, &c.InstitutionID, &c.AccountID, &method, &creds, &status,
		&c.ConsecutiveErrors, &lastSync, &errCode, &errMsg, &lastErrAt,
		&nextRetry, &disabledAt, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.IntegrationMethod = credential.IntegrationMethod(method)
	c.Status = connection.Status(status)
	c.LastErrorCode = connection.ErrorCode(errCode.String)
	c.LastErrorMessage = errMsg.String
	c.LastSyncAt = timePtr(lastSync)
	c.LastErrorAt = timePtr(lastErrAt)
	c.NextRetryAt = timePtr(nextRetry)
	c.DisabledAt = timePtr(disabledAt)

	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &c.Credentials); err != nil {
			return nil, fmt.Errorf("failed to decode credentials: %w", err)
		}
	}
	if c.Credentials.Fields == nil {
		c.Credentials.Fields = map[string]string{}
	}
	return &c, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
