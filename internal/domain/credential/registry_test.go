package credential

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoFieldPolicy = `
institutions:
  - id: testbank
    displayName: Test Bank
    integrationMethod: PULL_HTTP
    fields:
      - { key: A, label: Field A, type: text, required: true, accountKey: true }
      - { key: B, label: Field B, type: password, required: true }
`

func loadTwoField(t *testing.T) *Registry {
	t.Helper()
	reg, err := LoadRegistry(strings.NewReader(twoFieldPolicy))
	require.NoError(t, err)
	return reg
}

func TestValidate_ReportsMissingField(t *testing.T) {
	reg := loadTwoField(t)

	err := reg.Validate("TESTBANK", map[string]string{"A": "x"})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
	assert.Equal(t, []string{"B"}, verr.MissingFields)
	assert.Empty(t, verr.InvalidFields)
}

func TestValidate_AllPresent(t *testing.T) {
	reg := loadTwoField(t)

	err := reg.Validate("testbank", map[string]string{"A": "x", "B": "y"})

	assert.NoError(t, err)
}

func TestValidate_ReportsAllMissingInPolicyOrder(t *testing.T) {
	reg := loadTwoField(t)

	err := reg.Validate("TESTBANK", map[string]string{"A": "   "})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"A", "B"}, verr.MissingFields)
}

func TestValidate_UnknownInstitution(t *testing.T) {
	reg := loadTwoField(t)

	err := reg.Validate("NOPE", map[string]string{})

	assert.ErrorIs(t, err, ErrUnknownInstitution)
}

func TestDefaultRegistry_KuveytTurkAcceptsCustomerNoOnly(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	assert.NoError(t, reg.Validate("KUVEYT_TURK", map[string]string{"customerNo": "123456"}))
}

func TestDefaultRegistry_AkbankRejectsMissingServiceCredentials(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	err = reg.Validate("AKBANK", map[string]string{"customerNo": "123456"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.MissingFields, "serviceUsername")
	assert.Contains(t, verr.MissingFields, "servicePassword")
	assert.NotContains(t, verr.MissingFields, "customerNo")
}

func TestDefaultRegistry_DefaultedFieldsMayBeOmitted(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	akbank := map[string]string{
		"customerNo":      "123456",
		"branchCode":      "0042",
		"iban":            "TR330006100519786457841326",
		"serviceUsername": "svc",
		"servicePassword": "secret",
	}
	require.NoError(t, reg.Validate("AKBANK", akbank))

	p, err := reg.Get("AKBANK")
	require.NoError(t, err)
	b, err := Seal(p, akbank, prefixVault{})
	require.NoError(t, err)
	assert.Equal(t, "XML", b.Fields["statementFormat"])
	assert.Equal(t, "HOURLY", b.Fields["syncFrequency"])
	assert.Equal(t, "30", b.Fields["historyDays"])

	assert.NoError(t, reg.Validate("GARANTI", map[string]string{
		"customerNo":   "1",
		"iban":         "TR330006100519786457841326",
		"sftpHost":     "sftp.garanti.example",
		"sftpUsername": "u",
		"sftpPassword": "p",
	}))

	for _, p := range reg.List() {
		for _, f := range p.Fields {
			assert.False(t, f.Required && f.Default != "", "%s.%s", p.InstitutionID, f.Key)
		}
	}
}

func TestDefaultRegistry_MalformedValues(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	err = reg.Validate("AKBANK", map[string]string{
		"customerNo":      "123456",
		"branchCode":      "12a",
		"iban":            "TR330006100519786457841326",
		"serviceUsername": "svc",
		"servicePassword": "secret",
		"statementFormat": "PDF",
		"syncFrequency":   "HOURLY",
		"historyDays":     "900",
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, verr.MissingFields)
	assert.Contains(t, verr.InvalidFields, "branchCode")
	assert.Contains(t, verr.InvalidFields, "statementFormat")
	assert.Contains(t, verr.InvalidFields, "historyDays")
	assert.NotContains(t, verr.InvalidFields, "iban")
}

func TestDefaultRegistry_PasswordFieldsAreSecret(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	for _, p := range reg.List() {
		for _, f := range p.Fields {
			if f.Type == FieldPassword {
				assert.True(t, f.Secret, "%s.%s should be secret", p.InstitutionID, f.Key)
			}
		}
	}
}

func TestLoadRegistry_RejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "duplicate institution",
			doc: `
institutions:
  - { id: X, integrationMethod: PULL_HTTP, fields: [] }
  - { id: x, integrationMethod: PULL_HTTP, fields: [] }
`,
		},
		{
			name: "unknown integration method",
			doc: `
institutions:
  - { id: X, integrationMethod: CARRIER_PIGEON, fields: [] }
`,
		},
		{
			name: "select without options",
			doc: `
institutions:
  - id: X
    integrationMethod: PULL_HTTP
    fields:
      - { key: fmt, type: select, required: true }
`,
		},
		{
			name: "duplicate field",
			doc: `
institutions:
  - id: X
    integrationMethod: PULL_HTTP
    fields:
      - { key: a }
      - { key: a }
`,
		},
		{
			name: "required field with default",
			doc: `
institutions:
  - id: X
    integrationMethod: PULL_HTTP
    fields:
      - { key: fmt, type: select, required: true, options: [CSV], default: CSV }
`,
		},
		{
			name: "default outside options",
			doc: `
institutions:
  - id: X
    integrationMethod: PULL_HTTP
    fields:
      - { key: fmt, type: select, options: [CSV], default: PDF }
`,
		},
		{
			name: "unknown yaml key",
			doc: `
institutions:
  - { id: X, integrationMethod: PULL_HTTP, colour: blue }
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRegistry(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestPolicy_AccountID(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	kt, err := reg.Get("KUVEYT_TURK")
	require.NoError(t, err)
	assert.Equal(t, "123456", kt.AccountID(map[string]string{"customerNo": " 123456 "}))

	ak, err := reg.Get("akbank")
	require.NoError(t, err)
	assert.Equal(t, "TR330006100519786457841326", ak.AccountID(map[string]string{
		"customerNo": "1",
		"iban":       "tr33 0006 1005 1978 6457 8413 26",
	}))
}
