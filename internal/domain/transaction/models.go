package transaction

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidCurrency     = errors.New("invalid currency")
	ErrInvalidDate         = errors.New("invalid value date")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Direction is the optional debit/credit marker some providers send instead
// of a signed amount.
type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// RawRecord is one statement line as received from a provider or upload.
// Every field is untrusted text.
type RawRecord struct {
	ProviderID  string    `json:"id,omitempty"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency,omitempty"`
	Description string    `json:"description"`
	ValueDate   string    `json:"valueDate"`
	Reference   string    `json:"reference,omitempty"`
	Direction   Direction `json:"direction,omitempty"`
}

// Normalized is a RawRecord after parsing and canonicalisation.
type Normalized struct {
	ProviderID  string
	Amount      decimal.Decimal
	Currency    string
	Description string
	ValueDate   time.Time
	Reference   string
}

// BankTransaction is an imported statement line. Rows are immutable and
// unique per (ConnectionID, Fingerprint).
type BankTransaction struct {
	ID           string          `json:"id"`
	ConnectionID string          `json:"connectionId"`
	TenantID     string          `json:"tenantId"`
	ProviderID   string          `json:"providerId,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Description  string          `json:"description"`
	ValueDate    time.Time       `json:"valueDate"`
	Reference    string          `json:"reference,omitempty"`
	Fingerprint  string          `json:"fingerprint"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// SearchText is the text matched against rules and record references.
func (t *BankTransaction) SearchText() string {
	if t.Reference == "" {
		return t.Description
	}
	return t.Reference + " " + t.Description
}
