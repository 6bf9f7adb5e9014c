package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNormalize(t *testing.T, raw RawRecord) Normalized {
	t.Helper()
	n, err := NewNormalizer("TRY").Normalize(raw)
	require.NoError(t, err)
	return n
}

func TestFingerprint_StableAcrossRuns(t *testing.T) {
	raw := RawRecord{Amount: "650.00", Currency: "TRY", Description: "EFT ACME", ValueDate: "2026-01-15", Reference: "INV-1042"}

	a := Fingerprint("conn-1", mustNormalize(t, raw))
	b := Fingerprint("conn-1", mustNormalize(t, raw))

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_EquivalentSpellingsCollide(t *testing.T) {
	a := mustNormalize(t, RawRecord{Amount: "1.234,50", Currency: "TL", Description: "acme  payment", ValueDate: "15.01.2026"})
	b := mustNormalize(t, RawRecord{Amount: "1234.5", Currency: "TRY", Description: "ACME payment", ValueDate: "2026-01-15"})

	assert.Equal(t, Fingerprint("conn-1", a), Fingerprint("conn-1", b))
}

func TestFingerprint_ReferenceTakesPrecedence(t *testing.T) {
	a := mustNormalize(t, RawRecord{Amount: "650", Description: "EFT ACME", ValueDate: "2026-01-15", Reference: "INV-1042"})
	b := mustNormalize(t, RawRecord{Amount: "650", Description: "EFT ACME LTD (rewritten)", ValueDate: "2026-01-15", Reference: "inv-1042"})

	assert.Equal(t, Fingerprint("conn-1", a), Fingerprint("conn-1", b))
}

func TestFingerprint_DistinctTransactionsDiffer(t *testing.T) {
	base := RawRecord{Amount: "650", Description: "EFT ACME", ValueDate: "2026-01-15", Reference: "INV-1042"}
	fp := Fingerprint("conn-1", mustNormalize(t, base))

	variants := map[string]RawRecord{
		"reference":   {Amount: "650", Description: "EFT ACME", ValueDate: "2026-01-15", Reference: "INV-1043"},
		"amount":      {Amount: "650.01", Description: "EFT ACME", ValueDate: "2026-01-15", Reference: "INV-1042"},
		"sign":        {Amount: "-650", Description: "EFT ACME", ValueDate: "2026-01-15", Reference: "INV-1042"},
		"date":        {Amount: "650", Description: "EFT ACME", ValueDate: "2026-01-16", Reference: "INV-1042"},
		"currency":    {Amount: "650", Currency: "USD", Description: "EFT ACME", ValueDate: "2026-01-15", Reference: "INV-1042"},
		"no ref desc": {Amount: "650", Description: "EFT ACME", ValueDate: "2026-01-15"},
	}
	for name, raw := range variants {
		t.Run(name, func(t *testing.T) {
			assert.NotEqual(t, fp, Fingerprint("conn-1", mustNormalize(t, raw)))
		})
	}

	assert.NotEqual(t, fp, Fingerprint("conn-2", mustNormalize(t, base)), "connection is part of the identity")
}

func TestFingerprint_SameAmountAndDateDifferentDescriptions(t *testing.T) {
	a := mustNormalize(t, RawRecord{Amount: "100", Description: "COFFEE", ValueDate: "2026-01-15"})
	b := mustNormalize(t, RawRecord{Amount: "100", Description: "TAXI", ValueDate: "2026-01-15"})

	assert.NotEqual(t, Fingerprint("conn-1", a), Fingerprint("conn-1", b))
}
