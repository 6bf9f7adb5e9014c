package matching

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"bankrecon/internal/domain/transaction"
)

// nearMissCeiling caps the amount credit of an inexact amount so an exact
// match always outranks one inside the tolerance band.
const nearMissCeiling = 0.9

type scorer struct {
	cfg Config
}

// score is the weighted systematic score of tx against rec, rounded to 4 places.
func (s scorer) score(tx *transaction.BankTransaction, rec *OpenRecord) (float64, Explanation) {
	exp := Explanation{
		AmountScore: round4(s.amountScore(tx.Amount, tx.Currency, rec)),
		DateScore:   round4(s.dateScore(tx.ValueDate, rec.ExpectedDate)),
		TextScore:   round4(textSimilarity(tx.SearchText(), rec.CounterpartyRef)),
		Weights:     s.cfg.weights(),
	}
	total := s.cfg.AmountWeight*exp.AmountScore + s.cfg.DateWeight*exp.DateScore + s.cfg.TextWeight*exp.TextScore
	return round4(math.Min(total, 1)), exp
}

func (s scorer) amountScore(amount decimal.Decimal, currency string, rec *OpenRecord) float64 {
	if currency != rec.Currency {
		return 0
	}
	want := rec.ExpectedAmount.Abs()
	diff := amount.Abs().Sub(want).Abs()
	if diff.IsZero() {
		return 1
	}
	tol := want.Mul(decimal.NewFromFloat(s.cfg.AmountTolerance))
	if tol.IsZero() || diff.GreaterThan(tol) {
		return 0
	}
	ratio, _ := diff.Div(tol).Float64()
	return nearMissCeiling * (1 - ratio)
}

func (s scorer) dateScore(valueDate, expected time.Time) float64 {
	if expected.IsZero() {
		return 0
	}
	gap := valueDate.Sub(expected)
	if gap < 0 {
		gap = -gap
	}
	if gap > s.cfg.DateWindow {
		return 0
	}
	return math.Pow(0.5, float64(gap)/float64(s.cfg.DateHalfLife))
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
