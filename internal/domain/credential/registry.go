package credential

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed policies.yaml
var defaultPolicies []byte

type document struct {
	Institutions []Policy `yaml:"institutions"`
}

// Registry holds the credential policies loaded at startup. It is read-only
// after construction and safe for concurrent use.
type Registry struct {
	policies map[string]*Policy
	order    []string
	validate *validator.Validate
}

// DefaultRegistry loads the policies compiled into the binary.
func DefaultRegistry() (*Registry, error) {
	return LoadRegistry(bytes.NewReader(defaultPolicies))
}

// LoadRegistryFile loads policies from a YAML file on disk.
func LoadRegistryFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()
	return LoadRegistry(f)
}

// LoadRegistry decodes and checks a policy document.
func LoadRegistry(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy document: %w", err)
	}

	reg := &Registry{
		policies: make(map[string]*Policy, len(doc.Institutions)),
		validate: validator.New(),
	}

	for i := range doc.Institutions {
		p := doc.Institutions[i]
		p.InstitutionID = strings.ToUpper(strings.TrimSpace(p.InstitutionID))
		if err := checkPolicy(&p); err != nil {
			return nil, err
		}
		for _, f := range p.Fields {
			if f.Default == "" {
				continue
			}
			if reason := reg.checkValue(f, f.Default); reason != "" {
				return nil, fmt.Errorf("%w: %s.%s default %s", ErrInvalidPolicy, p.InstitutionID, f.Key, reason)
			}
		}
		if _, dup := reg.policies[p.InstitutionID]; dup {
			return nil, fmt.Errorf("%w: duplicate institution %s", ErrInvalidPolicy, p.InstitutionID)
		}
		reg.policies[p.InstitutionID] = &p
		reg.order = append(reg.order, p.InstitutionID)
	}

	return reg, nil
}

func checkPolicy(p *Policy) error {
	if p.InstitutionID == "" {
		return fmt.Errorf("%w: institution id is required", ErrInvalidPolicy)
	}
	if !p.IntegrationMethod.Valid() {
		return fmt.Errorf("%w: %s has unknown integration method %q", ErrInvalidPolicy, p.InstitutionID, p.IntegrationMethod)
	}

	seen := make(map[string]bool, len(p.Fields))
	for i := range p.Fields {
		f := &p.Fields[i]
		if f.Key == "" {
			return fmt.Errorf("%w: %s has a field without key", ErrInvalidPolicy, p.InstitutionID)
		}
		if seen[f.Key] {
			return fmt.Errorf("%w: %s declares field %s twice", ErrInvalidPolicy, p.InstitutionID, f.Key)
		}
		seen[f.Key] = true

		switch f.Type {
		case "":
			f.Type = FieldText
		case FieldText, FieldNumber:
		case FieldPassword:
			f.Secret = true
		case FieldSelect:
			if len(f.Options) == 0 {
				return fmt.Errorf("%w: %s.%s is a select without options", ErrInvalidPolicy, p.InstitutionID, f.Key)
			}
		default:
			return fmt.Errorf("%w: %s.%s has unknown type %q", ErrInvalidPolicy, p.InstitutionID, f.Key, f.Type)
		}

		// Validate runs before Seal fills defaults, so a required field
		// with a default could never fall back to it.
		if f.Required && f.Default != "" {
			return fmt.Errorf("%w: %s.%s is required and has a default", ErrInvalidPolicy, p.InstitutionID, f.Key)
		}
	}
	return nil
}

// Get returns the policy for an institution. The result must not be modified.
func (r *Registry) Get(institutionID string) (*Policy, error) {
	p, ok := r.policies[strings.ToUpper(strings.TrimSpace(institutionID))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstitution, institutionID)
	}
	return p, nil
}

// List returns all policies in document order.
func (r *Registry) List() []*Policy {
	out := make([]*Policy, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.policies[id])
	}
	return out
}

// Validate checks a submission against the institution's policy. It returns
// nil when the submission is acceptable, otherwise a *ValidationError naming
// every missing required field in policy order and every malformed value.
func (r *Registry) Validate(institutionID string, fields map[string]string) error {
	p, err := r.Get(institutionID)
	if err != nil {
		return err
	}

	verr := &ValidationError{InstitutionID: p.InstitutionID, MissingFields: []string{}}
	for _, f := range p.Fields {
		value := strings.TrimSpace(fields[f.Key])
		if value == "" {
			if f.Required {
				verr.MissingFields = append(verr.MissingFields, f.Key)
			}
			continue
		}
		if reason := r.checkValue(f, value); reason != "" {
			if verr.InvalidFields == nil {
				verr.InvalidFields = make(map[string]string)
			}
			verr.InvalidFields[f.Key] = reason
		}
	}

	if len(verr.MissingFields) == 0 && len(verr.InvalidFields) == 0 {
		return nil
	}
	return verr
}

func (r *Registry) checkValue(f Field, value string) string {
	switch f.Type {
	case FieldSelect:
		for _, opt := range f.Options {
			if value == opt {
				return ""
			}
		}
		return "must be one of " + strings.Join(f.Options, ", ")
	case FieldNumber:
		n, err := strconv.Atoi(value)
		if err != nil {
			return "must be a whole number"
		}
		if f.Validate != "" {
			if err := r.validate.Var(n, f.Validate); err != nil {
				return describe(err, f.Validate)
			}
		}
		return ""
	}

	if f.Validate != "" {
		if err := r.validate.Var(value, f.Validate); err != nil {
			return describe(err, f.Validate)
		}
	}
	return ""
}

func describe(err error, tag string) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
		return "failed " + fe.Tag()
	}
	return "failed " + tag
}
