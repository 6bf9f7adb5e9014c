package transaction

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// currencyAliases maps local spellings to ISO 4217 codes.
var currencyAliases = map[string]string{
	"TL":  "TRY",
	"YTL": "TRY",
	"₺":   "TRY",
	"$":   "USD",
	"€":   "EUR",
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02.01.2006",
	"02/01/2006",
}

// Normalizer canonicalises raw statement lines.
type Normalizer struct {
	// DefaultCurrency applies when a record carries none.
	DefaultCurrency string
}

func NewNormalizer(defaultCurrency string) *Normalizer {
	return &Normalizer{DefaultCurrency: strings.ToUpper(strings.TrimSpace(defaultCurrency))}
}

// Normalize parses and canonicalises one raw record. It is pure.
func (n *Normalizer) Normalize(raw RawRecord) (Normalized, error) {
	amount, err := ParseAmount(raw.Amount)
	if err != nil {
		return Normalized{}, err
	}
	switch Direction(strings.ToUpper(strings.TrimSpace(string(raw.Direction)))) {
	case DirectionDebit:
		amount = amount.Abs().Neg()
	case DirectionCredit:
		amount = amount.Abs()
	case "":
	default:
		return Normalized{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidAmount, raw.Direction)
	}

	currency, err := n.currency(raw.Currency)
	if err != nil {
		return Normalized{}, err
	}

	date, err := ParseValueDate(raw.ValueDate)
	if err != nil {
		return Normalized{}, err
	}

	return Normalized{
		ProviderID:  strings.TrimSpace(raw.ProviderID),
		Amount:      amount,
		Currency:    currency,
		Description: CollapseWhitespace(raw.Description),
		ValueDate:   date,
		Reference:   strings.ToUpper(strings.TrimSpace(raw.Reference)),
	}, nil
}

func (n *Normalizer) currency(s string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(s))
	if c == "" {
		c = n.DefaultCurrency
	}
	if alias, ok := currencyAliases[c]; ok {
		c = alias
	}
	if len(c) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
		}
	}
	return c, nil
}

// Amounts are stored as NUMERIC(18,2).
const (
	maxIntegerDigits  = 16
	maxFractionDigits = 2
)

// ParseAmount accepts both "1.234,56" and "1,234.56" styles. When both
// separators appear the last one is the decimal mark; a single lone
// separator is always the decimal mark. Exponents, more than two
// fractional digits and values that overflow the column are rejected
// rather than rounded, so "1.234" is an error and not 1.23.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '\'' {
			return -1
		}
		return r
	}, s)
	if clean == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	negative := false
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		negative = true
		clean = clean[1 : len(clean)-1]
	}
	switch {
	case strings.HasPrefix(clean, "-") && !negative:
		negative = true
		clean = clean[1:]
	case strings.HasPrefix(clean, "+") && !negative:
		clean = clean[1:]
	}

	lastDot := strings.LastIndex(clean, ".")
	lastComma := strings.LastIndex(clean, ",")
	dots := strings.Count(clean, ".")
	commas := strings.Count(clean, ",")

	switch {
	case dots > 0 && commas > 0:
		if lastComma > lastDot {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case commas == 1:
		clean = strings.Replace(clean, ",", ".", 1)
	case commas > 1:
		clean = strings.ReplaceAll(clean, ",", "")
	case dots > 1:
		clean = strings.ReplaceAll(clean, ".", "")
	}

	whole, frac, hasFrac := strings.Cut(clean, ".")
	if !isDigits(whole) || (hasFrac && !isDigits(frac)) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if len(frac) > maxFractionDigits {
		return decimal.Decimal{}, fmt.Errorf("%w: more than %d decimal places in %q", ErrInvalidAmount, maxFractionDigits, s)
	}
	if len(strings.TrimLeft(whole, "0")) > maxIntegerDigits {
		return decimal.Decimal{}, fmt.Errorf("%w: %q is out of range", ErrInvalidAmount, s)
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseValueDate parses the supported layouts and truncates to the UTC
// calendar date.
func ParseValueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		// Offsets are kept: the date is the one the bank booked, not the UTC instant.
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
