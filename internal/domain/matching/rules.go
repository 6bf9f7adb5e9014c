package matching

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"bankrecon/internal/domain/transaction"
)

// patternCache holds compiled rule expressions keyed by source text.
type patternCache struct {
	m sync.Map // map[string]*regexp.Regexp
}

func (c *patternCache) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.m.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidRule, pattern, err)
	}
	c.m.Store(pattern, re)
	return re, nil
}

// ruleHit is the outcome of the first rule that resolved to a single record.
type ruleHit struct {
	rule   *Rule
	key    string
	record *OpenRecord
}

func sortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// applyRules walks rules in (priority, id) order and returns the first one
// whose pattern matches and whose target resolves to exactly one record.
// Rules with a bad pattern are skipped and reported.
func (c *patternCache) applyRules(tx *transaction.BankTransaction, rules []*Rule, records []*OpenRecord) (*ruleHit, []error) {
	var errs []error
	text := tx.SearchText()

	for _, r := range rules {
		if !r.Active {
			continue
		}
		re, err := c.compile(r.Pattern)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		key := m[0]
		if len(m) > 1 && m[1] != "" {
			key = m[1]
		}

		targets := ruleTargets(r, key, tx, records)
		if len(targets) == 1 {
			return &ruleHit{rule: r, key: key, record: targets[0]}, errs
		}
	}
	return nil, errs
}

func ruleTargets(r *Rule, key string, tx *transaction.BankTransaction, records []*OpenRecord) []*OpenRecord {
	var out []*OpenRecord
	for _, rec := range records {
		if r.RecordKind != "" && rec.Kind != r.RecordKind {
			continue
		}
		if r.CounterpartyRef != "" {
			if strings.EqualFold(rec.CounterpartyRef, r.CounterpartyRef) &&
				rec.Currency == tx.Currency &&
				rec.ExpectedAmount.Abs().Equal(tx.Amount.Abs()) {
				out = append(out, rec)
			}
			continue
		}
		if !strings.EqualFold(rec.CounterpartyRef, key) {
			continue
		}
		if r.RecordSeries != "" && !strings.HasPrefix(strings.ToUpper(rec.CounterpartyRef), strings.ToUpper(r.RecordSeries)) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// learnedPattern builds a case-insensitive literal pattern from the first
// three words of a description.
func learnedPattern(description string) string {
	words := strings.Fields(strings.ToUpper(description))
	if len(words) > 3 {
		words = words[:3]
	}
	if len(words) == 0 {
		return ""
	}
	return "(?i)" + regexp.QuoteMeta(strings.Join(words, " "))
}
