package transaction

import (
	"encoding/hex"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// fingerprintKey domain-separates fingerprints from any other BLAKE3 use.
// Changing it invalidates every stored fingerprint.
var fingerprintKey = []byte("bankrecon:bank-transaction:v1:fp")

var fingerprintEncoder = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

type fingerprintInput struct {
	Connection    string `cbor:"1,keyasint"`
	Amount        string `cbor:"2,keyasint"`
	Currency      string `cbor:"3,keyasint"`
	ValueDate     string `cbor:"4,keyasint"`
	Discriminator string `cbor:"5,keyasint"`
}

// Fingerprint is the deterministic identity of a normalised record within a
// connection. The provider reference wins over the description when present,
// so a provider that rewrites descriptions does not create duplicates.
func Fingerprint(connectionID string, n Normalized) string {
	disc := "desc:" + strings.ToUpper(n.Description)
	if n.Reference != "" {
		disc = "ref:" + n.Reference
	}

	payload, err := fingerprintEncoder.Marshal(fingerprintInput{
		Connection:    connectionID,
		Amount:        n.Amount.StringFixed(2),
		Currency:      n.Currency,
		ValueDate:     n.ValueDate.Format("2006-01-02"),
		Discriminator: disc,
	})
	if err != nil {
		// Only strings are encoded; this cannot fail.
		panic(err)
	}

	h, err := blake3.NewKeyed(fingerprintKey)
	if err != nil {
		panic(err)
	}
	_, _ = h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
