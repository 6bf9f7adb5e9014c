package credential

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownInstitution = errors.New("unknown institution")
	ErrInvalidPolicy      = errors.New("invalid credential policy")
)

// IntegrationMethod is how statements reach us from an institution.
type IntegrationMethod string

const (
	ManualUpload IntegrationMethod = "MANUAL_UPLOAD"
	PullHTTP     IntegrationMethod = "PULL_HTTP"
	SFTPPull     IntegrationMethod = "SFTP_PULL"
	EmailImport  IntegrationMethod = "EMAIL_IMPORT"
)

func (m IntegrationMethod) Valid() bool {
	switch m {
	case ManualUpload, PullHTTP, SFTPPull, EmailImport:
		return true
	}
	return false
}

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldPassword FieldType = "password"
	FieldSelect   FieldType = "select"
	FieldNumber   FieldType = "number"
)

// Field describes one onboarding input of an institution.
type Field struct {
	Key      string    `yaml:"key" json:"key"`
	Label    string    `yaml:"label" json:"label"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required"`
	// Secret fields are sealed by the vault before persistence.
	Secret bool `yaml:"secret" json:"secret"`
	// AccountKey fields identify the bank account; the first non-empty one wins.
	AccountKey bool     `yaml:"accountKey" json:"accountKey"`
	Options    []string `yaml:"options,omitempty" json:"options,omitempty"`
	// Validate is a go-playground/validator tag applied to the submitted value.
	Validate string `yaml:"validate,omitempty" json:"-"`
	Default  string `yaml:"default,omitempty" json:"default,omitempty"`
}

// Policy is the immutable credential contract for one institution.
type Policy struct {
	InstitutionID     string            `yaml:"id" json:"institutionId"`
	DisplayName       string            `yaml:"displayName" json:"displayName"`
	IntegrationMethod IntegrationMethod `yaml:"integrationMethod" json:"integrationMethod"`
	Formats           []string          `yaml:"formats" json:"formats"`
	Fields            []Field           `yaml:"fields" json:"fields"`
}

func (p *Policy) Field(key string) (Field, bool) {
	for _, f := range p.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// SecretKeys lists the keys the policy marks secret, sorted.
func (p *Policy) SecretKeys() []string {
	var keys []string
	for _, f := range p.Fields {
		if f.Secret {
			keys = append(keys, f.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// AccountID returns the account identifier carried by the submitted fields.
func (p *Policy) AccountID(fields map[string]string) string {
	for _, f := range p.Fields {
		if !f.AccountKey {
			continue
		}
		if v := strings.TrimSpace(fields[f.Key]); v != "" {
			return strings.ToUpper(strings.ReplaceAll(v, " ", ""))
		}
	}
	return ""
}

// ValidationError reports every missing or malformed field of a submission.
type ValidationError struct {
	InstitutionID string            `json:"institutionId"`
	MissingFields []string          `json:"missingFields"`
	InvalidFields map[string]string `json:"invalidFields,omitempty"`
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.MissingFields, ", "))
	}
	if len(e.InvalidFields) > 0 {
		keys := make([]string, 0, len(e.InvalidFields))
		for k := range e.InvalidFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		invalid := make([]string, 0, len(keys))
		for _, k := range keys {
			invalid = append(invalid, fmt.Sprintf("%s (%s)", k, e.InvalidFields[k]))
		}
		parts = append(parts, "invalid fields: "+strings.Join(invalid, ", "))
	}
	return fmt.Sprintf("credential validation failed for %s: %s", e.InstitutionID, strings.Join(parts, "; "))
}
