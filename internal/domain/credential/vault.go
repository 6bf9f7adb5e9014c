package credential

import (
	"fmt"
	"sort"
	"strings"
)

// Vault encrypts credential values at rest.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

const redacted = "********"

// Bundle is the persisted form of a credential submission. Values listed in
// Sealed are vault ciphertext; the rest are stored in clear.
type Bundle struct {
	Fields map[string]string `json:"fields"`
	Sealed []string          `json:"sealed,omitempty"`
}

func (b Bundle) isSealed(key string) bool {
	i := sort.SearchStrings(b.Sealed, key)
	return i < len(b.Sealed) && b.Sealed[i] == key
}

// Redacted returns the bundle values with sealed fields masked.
func (b Bundle) Redacted() map[string]string {
	out := make(map[string]string, len(b.Fields))
	for k, v := range b.Fields {
		if b.isSealed(k) {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}

// Seal keeps the fields the policy knows about, applies defaults to blank
// optional ones, and encrypts every field the policy marks secret. Unknown
// keys are dropped.
func Seal(p *Policy, fields map[string]string, v Vault) (Bundle, error) {
	b := Bundle{Fields: make(map[string]string, len(p.Fields))}

	for _, f := range p.Fields {
		value := strings.TrimSpace(fields[f.Key])
		if value == "" {
			value = f.Default
		}
		if value == "" {
			continue
		}
		if f.Secret {
			enc, err := v.Encrypt(value)
			if err != nil {
				return Bundle{}, fmt.Errorf("failed to seal field %s: %w", f.Key, err)
			}
			b.Fields[f.Key] = enc
			b.Sealed = append(b.Sealed, f.Key)
			continue
		}
		b.Fields[f.Key] = value
	}

	sort.Strings(b.Sealed)
	return b, nil
}

// Open returns the plaintext fields of a sealed bundle.
func Open(b Bundle, v Vault) (map[string]string, error) {
	out := make(map[string]string, len(b.Fields))
	for k, value := range b.Fields {
		if !b.isSealed(k) {
			out[k] = value
			continue
		}
		plain, err := v.Decrypt(value)
		if err != nil {
			return nil, fmt.Errorf("failed to open field %s: %w", k, err)
		}
		out[k] = plain
	}
	return out, nil
}
