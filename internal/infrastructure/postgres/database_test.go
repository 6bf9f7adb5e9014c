package postgres

import (
	"errors"
	"testing"

	"github.com/lib/pq"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"placeholders kept", "SELECT * FROM t WHERE id = $1 AND v = $12", "SELECT * FROM t WHERE id = $1 AND v = $12"},
		{"string literal", "SELECT * FROM t WHERE status = 'ERROR'", "SELECT * FROM t WHERE status = '?'"},
		{"escaped quote", "SELECT 'it''s' FROM t", "SELECT '?' FROM t"},
		{"numeric literal", "SELECT * FROM t LIMIT 50", "SELECT * FROM t LIMIT ?"},
		{"identifier digits", "SELECT col1 FROM t2", "SELECT col1 FROM t2"},
		{"whitespace collapsed", "SELECT\n\t  id\n FROM t", "SELECT id FROM t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeQuery(tt.query); got != tt.want {
				t.Errorf("sanitizeQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractSQLVerb(t *testing.T) {
	tests := map[string]string{
		"select 1":                   "SELECT",
		"\n\t\tINSERT INTO t VALUES": "INSERT",
		"UPDATE\nt SET a = 1":        "UPDATE",
		"COMMIT":                     "COMMIT",
	}
	for q, want := range tests {
		if got := extractSQLVerb(q); got != want {
			t.Errorf("extractSQLVerb(%q) = %q, want %q", q, got, want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pq.Error{Code: "23505", Constraint: "bank_connections_tenant_account_key"}

	if !isUniqueViolation(err, "") {
		t.Error("expected any-constraint match")
	}
	if !isUniqueViolation(err, "bank_connections_tenant_account_key") {
		t.Error("expected named-constraint match")
	}
	if isUniqueViolation(err, "other_key") {
		t.Error("unexpected match on other constraint")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}, "") {
		t.Error("foreign key violation reported as unique")
	}
	if isUniqueViolation(errors.New("boom"), "") {
		t.Error("plain error reported as unique")
	}
}
