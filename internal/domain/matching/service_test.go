package matching

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/transaction"
	"bankrecon/internal/shared/clock"
)

type memRules struct {
	rules map[string]*Rule
}

func newMemRules(rules ...*Rule) *memRules {
	m := &memRules{rules: map[string]*Rule{}}
	for _, r := range rules {
		m.rules[r.ID] = r
	}
	return m
}

func (m *memRules) Create(ctx context.Context, r *Rule) error {
	m.rules[r.ID] = r
	return nil
}
func (m *memRules) GetByID(ctx context.Context, id string) (*Rule, error) {
	return m.rules[id], nil
}
func (m *memRules) ListByTenant(ctx context.Context, tenantID string) ([]*Rule, error) {
	var out []*Rule
	for _, r := range m.rules {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (m *memRules) ListActive(ctx context.Context, tenantID string) ([]*Rule, error) {
	var out []*Rule
	for _, r := range m.rules {
		if r.TenantID == tenantID && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}
func (m *memRules) Deactivate(ctx context.Context, id string) error {
	m.rules[id].Active = false
	return nil
}

type memMatches struct {
	rows    []*PaymentMatch
	entries []*audit.Entry
	saveErr error
}

func (m *memMatches) ListByTransaction(ctx context.Context, tenantID, transactionID string) ([]*PaymentMatch, error) {
	var out []*PaymentMatch
	for _, r := range m.rows {
		if r.TenantID == tenantID && r.TransactionID == transactionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memMatches) CountByBucket(ctx context.Context, tenantID string, since time.Time) (map[Bucket]int, error) {
	out := map[Bucket]int{}
	for _, r := range m.rows {
		if r.TenantID == tenantID && !r.CreatedAt.Before(since) {
			out[r.Bucket]++
		}
	}
	return out, nil
}

func (m *memMatches) SaveEvaluation(ctx context.Context, matches []*PaymentMatch, entries []*audit.Entry) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.rows = append(m.rows, matches...)
	m.entries = append(m.entries, entries...)
	return nil
}

type memTransactions map[string]*transaction.BankTransaction

func (m memTransactions) GetByID(ctx context.Context, tenantID, id string) (*transaction.BankTransaction, error) {
	tx, ok := m[id]
	if !ok || tx.TenantID != tenantID {
		return nil, nil
	}
	return tx, nil
}
func (m memTransactions) ListByConnection(ctx context.Context, connectionID string, limit, offset int) ([]*transaction.BankTransaction, error) {
	return nil, nil
}
func (m memTransactions) CountByConnection(ctx context.Context, connectionID string) (int64, error) {
	return 0, nil
}

type memAudit struct {
	entries []*audit.Entry
}

func (m *memAudit) Append(ctx context.Context, e *audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}
func (m *memAudit) List(ctx context.Context, f audit.Filter) ([]*audit.Entry, error) {
	return m.entries, nil
}

type serviceFixture struct {
	svc     *Service
	rules   *memRules
	matches *memMatches
	audit   *memAudit
	clock   *clock.FakeClock
}

func newServiceFixture(t *testing.T, records ...*OpenRecord) *serviceFixture {
	t.Helper()
	clk := clock.Fake(evalTime)
	rules := newMemRules()
	matches := &memMatches{}
	auditRepo := &memAudit{}
	engine, err := NewEngine(rules, staticRecords(records), DefaultConfig(), clk)
	require.NoError(t, err)

	txs := memTransactions{"tx-1": bankTx("650.00", "2026-01-15", "INV-1042", "EFT ACME LTD")}
	svc := NewService(engine, rules, matches, matches, txs, audit.NewService(auditRepo, clk), clk)
	return &serviceFixture{svc: svc, rules: rules, matches: matches, audit: auditRepo, clock: clk}
}

func TestReevaluate_AppendsNewEvaluation(t *testing.T) {
	f := newServiceFixture(t, record("rec-1042", "650.00", "TRY", "2026-01-15", "INV-1042"))
	ctx := context.Background()

	first, err := f.svc.Reevaluate(ctx, "tenant-1", "tx-1", "user-1")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, MatchTypeSystematic, first[0].MatchType)

	_, err = f.svc.CreateRule(ctx, "tenant-1", "user-1", CreateRuleParams{Name: "inv", Pattern: `(INV-\d+)`, RecordSeries: "INV-"})
	require.NoError(t, err)

	second, err := f.svc.Reevaluate(ctx, "tenant-1", "tx-1", "user-1")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, MatchTypeRule, second[0].MatchType)
	assert.NotEqual(t, first[0].EvaluationID, second[0].EvaluationID)

	all, err := f.svc.ListMatches(ctx, "tenant-1", "tx-1")
	require.NoError(t, err)
	assert.Len(t, all, 2, "earlier rows are kept")
	assert.Len(t, f.matches.entries, 2)
	assert.Equal(t, audit.ActionMatchDecision, f.matches.entries[1].Action)
}

func TestReevaluate_NotFoundAndOtherTenant(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Reevaluate(context.Background(), "tenant-1", "missing", "u")
	assert.ErrorIs(t, err, transaction.ErrTransactionNotFound)

	_, err = f.svc.Reevaluate(context.Background(), "tenant-2", "tx-1", "u")
	assert.ErrorIs(t, err, transaction.ErrTransactionNotFound)
}

func TestReevaluate_SaveFailure(t *testing.T) {
	f := newServiceFixture(t, record("rec-1042", "650.00", "TRY", "2026-01-15", "INV-1042"))
	f.matches.saveErr = errors.New("tx aborted")

	_, err := f.svc.Reevaluate(context.Background(), "tenant-1", "tx-1", "u")
	require.Error(t, err)
	assert.Empty(t, f.matches.rows)
}

func TestCreateRule_Validation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRule(ctx, "tenant-1", "u", CreateRuleParams{Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = f.svc.CreateRule(ctx, "tenant-1", "u", CreateRuleParams{Name: "x", Pattern: "("})
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = f.svc.CreateRule(ctx, "tenant-1", "u", CreateRuleParams{Name: "x", Pattern: "A", RecordKind: "BOGUS"})
	assert.ErrorIs(t, err, ErrInvalidRule)

	r, err := f.svc.CreateRule(ctx, "tenant-1", "u", CreateRuleParams{Name: " x ", Pattern: "A", Priority: 3})
	require.NoError(t, err)
	assert.Equal(t, "x", r.Name)
	assert.True(t, r.Active)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, audit.ActionRuleCreated, f.audit.entries[0].Action)
}

func TestLearnRule(t *testing.T) {
	f := newServiceFixture(t, record("cust-acme", "650.00", "TRY", "2026-03-01", "CUST-ACME"))
	ctx := context.Background()

	r, err := f.svc.LearnRule(ctx, "tenant-1", "user-1", LearnRuleParams{
		Description:     "eft acme ltd. monthly fee",
		CounterpartyRef: "CUST-ACME",
	})
	require.NoError(t, err)

	assert.Equal(t, `(?i)EFT ACME LTD\.`, r.Pattern)
	assert.True(t, r.Learned)
	assert.Equal(t, LearnedRulePriority, r.Priority)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, audit.ActionRuleLearned, f.audit.entries[0].Action)

	_, err = f.svc.LearnRule(ctx, "tenant-1", "user-1", LearnRuleParams{Description: "   ", CounterpartyRef: "X"})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestLearnRule_LongNameKeepsWholeCharacters(t *testing.T) {
	f := newServiceFixture(t)

	r, err := f.svc.LearnRule(context.Background(), "tenant-1", "user-1", LearnRuleParams{
		Description:     "abc" + strings.Repeat(" ş", 120),
		CounterpartyRef: "CUST-TR",
	})
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(r.Name), "name %q", r.Name)
	assert.Equal(t, maxRuleNameRunes, utf8.RuneCountInString(r.Name))
	assert.True(t, strings.HasSuffix(r.Name, "Ş"))
}

func TestDeactivateRule(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	r, err := f.svc.CreateRule(ctx, "tenant-1", "u", CreateRuleParams{Name: "x", Pattern: "A"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeactivateRule(ctx, "tenant-2", r.ID, "u"), ErrRuleNotFound)
	require.NoError(t, f.svc.DeactivateRule(ctx, "tenant-1", r.ID, "u"))
	require.NoError(t, f.svc.DeactivateRule(ctx, "tenant-1", r.ID, "u"))

	assert.False(t, f.rules.rules[r.ID].Active)
	assert.Len(t, f.audit.entries, 2, "second deactivation is a no-op")
}

func TestSummary(t *testing.T) {
	f := newServiceFixture(t)
	since := evalTime.Add(-time.Hour)
	f.matches.rows = []*PaymentMatch{
		{TenantID: "tenant-1", Bucket: BucketHigh, CreatedAt: evalTime},
		{TenantID: "tenant-1", Bucket: BucketHigh, CreatedAt: evalTime},
		{TenantID: "tenant-1", Bucket: BucketHigh, CreatedAt: evalTime},
		{TenantID: "tenant-1", Bucket: BucketMedium, CreatedAt: evalTime},
		{TenantID: "tenant-1", Bucket: BucketLow, CreatedAt: evalTime.Add(-2 * time.Hour)},
		{TenantID: "tenant-2", Bucket: BucketLow, CreatedAt: evalTime},
	}

	s, err := f.svc.Summary(context.Background(), "tenant-1", since)
	require.NoError(t, err)
	assert.Equal(t, 3, s.High)
	assert.Equal(t, 1, s.Medium)
	assert.Equal(t, 0, s.Low)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 0.75, s.HighShare)
}
