package crypto

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// AgeVault seals credential values to an X25519 age identity. Values are
// encrypted to the identity's own recipient plus any extra recipients, so a
// key-escrow holder can also open them.
type AgeVault struct {
	identity   *age.X25519Identity
	recipients []age.Recipient
}

// NewAgeVault parses an AGE-SECRET-KEY-1... identity and optional age1...
// recipient keys.
func NewAgeVault(identity string, extraRecipients ...string) (*AgeVault, error) {
	id, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}

	recipients := []age.Recipient{id.Recipient()}
	for _, key := range extraRecipients {
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, r)
	}

	return &AgeVault{identity: id, recipients: recipients}, nil
}

// GenerateAgeIdentity returns a fresh identity string, for bootstrapping.
func GenerateAgeIdentity() (string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating age identity: %w", err)
	}
	return id.String(), nil
}

func (v *AgeVault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, v.recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (v *AgeVault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding base64 ciphertext: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(raw), v.identity)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}

	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return string(plain), nil
}
