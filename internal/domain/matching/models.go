package matching

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrRuleNotFound  = errors.New("matching rule not found")
	ErrInvalidRule   = errors.New("invalid matching rule")
	ErrInvalidConfig = errors.New("invalid matching configuration")
)

type MatchType string

const (
	MatchTypeRule       MatchType = "RULE"
	MatchTypeSystematic MatchType = "SYSTEMATIC"
)

// Bucket is the confidence band of a match.
type Bucket string

const (
	BucketHigh   Bucket = "HIGH"
	BucketMedium Bucket = "MEDIUM"
	BucketLow    Bucket = "LOW"
)

// RecordKind classifies internal financial records.
type RecordKind string

const (
	RecordInvoice RecordKind = "INVOICE"
	RecordPayment RecordKind = "PAYMENT"
	RecordLedger  RecordKind = "LEDGER"
)

func (k RecordKind) Valid() bool {
	switch k {
	case RecordInvoice, RecordPayment, RecordLedger:
		return true
	}
	return false
}

// OpenRecord is an internal receivable/payable still awaiting settlement.
// Matching only ever reads these.
type OpenRecord struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	Kind            RecordKind      `json:"kind"`
	ExpectedAmount  decimal.Decimal `json:"expectedAmount"`
	Currency        string          `json:"currency"`
	ExpectedDate    time.Time       `json:"expectedDate"`
	CounterpartyRef string          `json:"counterpartyRef"`
}

// Rule is a deterministic tenant rule: "a transaction whose text matches
// Pattern settles the record identified by the captured key".
type Rule struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	// Pattern is an RE2 expression run over "REFERENCE DESCRIPTION".
	Pattern string `json:"pattern"`
	// RecordSeries, when set, is a prefix the target record reference must carry.
	RecordSeries string `json:"recordSeries,omitempty"`
	// CounterpartyRef pins the target record instead of taking it from the match.
	CounterpartyRef string     `json:"counterpartyRef,omitempty"`
	RecordKind      RecordKind `json:"recordKind,omitempty"`
	Priority        int        `json:"priority"`
	Active          bool       `json:"active"`
	Learned         bool       `json:"learned"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// CreateRuleParams carries a new rule definition.
type CreateRuleParams struct {
	Name            string     `json:"name" validate:"required,max=200"`
	Pattern         string     `json:"pattern" validate:"required,max=500"`
	RecordSeries    string     `json:"recordSeries" validate:"max=50"`
	CounterpartyRef string     `json:"counterpartyRef" validate:"max=100"`
	RecordKind      RecordKind `json:"recordKind" validate:"omitempty,oneof=INVOICE PAYMENT LEDGER"`
	Priority        int        `json:"priority" validate:"gte=0"`
}

// LearnRuleParams records a manual decision so future look-alike
// transactions resolve by rule.
type LearnRuleParams struct {
	Description     string     `json:"description" validate:"required"`
	CounterpartyRef string     `json:"counterpartyRef" validate:"required"`
	RecordKind      RecordKind `json:"recordKind" validate:"omitempty,oneof=INVOICE PAYMENT LEDGER"`
}

// Explanation records why a match scored what it did.
type Explanation struct {
	AmountScore float64 `json:"amountScore"`
	DateScore   float64 `json:"dateScore"`
	TextScore   float64 `json:"textScore"`
	Weights     Weights `json:"weights"`
	RuleName    string  `json:"ruleName,omitempty"`
	RulePattern string  `json:"rulePattern,omitempty"`
	RuleKey     string  `json:"ruleKey,omitempty"`
}

type Weights struct {
	Amount float64 `json:"amount"`
	Date   float64 `json:"date"`
	Text   float64 `json:"text"`
}

// PaymentMatch is one proposed pairing. Rows are append-only; a new
// evaluation adds rows under a new EvaluationID.
type PaymentMatch struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenantId"`
	TransactionID string      `json:"transactionId"`
	RecordID      string      `json:"recordId"`
	RecordKind    RecordKind  `json:"recordKind"`
	MatchType     MatchType   `json:"matchType"`
	Score         float64     `json:"score"`
	Bucket        Bucket      `json:"bucket"`
	RuleID        string      `json:"ruleId,omitempty"`
	Explanation   Explanation `json:"explanation"`
	EvaluationID  string      `json:"evaluationId"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// Summary is the confidence distribution of matches created since a point in time.
type Summary struct {
	Since     time.Time `json:"since"`
	High      int       `json:"high"`
	Medium    int       `json:"medium"`
	Low       int       `json:"low"`
	Total     int       `json:"total"`
	HighShare float64   `json:"highShare"`
}
