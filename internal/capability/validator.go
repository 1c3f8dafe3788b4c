package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
)

// Validator signs and verifies capability records with a keyed MAC. It
// performs no I/O; both operations are pure functions of the record and
// the signing key.
type Validator struct {
	signingKey []byte
}

// NewValidator creates a Validator for the given signing key.
func NewValidator(signingKey []byte) (*Validator, error) {
	if len(signingKey) < 32 {
		return nil, fmt.Errorf("signing key must be at least 32 bytes, got %d", len(signingKey))
	}
	return &Validator{signingKey: signingKey}, nil
}

// Sign computes the HMAC-SHA256 signature over the record's canonical
// encoding.
func (v *Validator) Sign(c *Capability) []byte {
	mac := hmac.New(sha256.New, v.signingKey)
	mac.Write(c.canonicalBytes())
	return mac.Sum(nil)
}

// Verify recomputes the signature and compares it in constant time.
// A short-circuiting byte comparison would leak how many signature bytes
// match, so subtle.ConstantTimeCompare is mandatory here.
func (v *Validator) Verify(c *Capability) bool {
	expected := v.Sign(c)
	if len(c.Signature) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(c.Signature, expected) == 1
}
