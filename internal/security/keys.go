package security

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
)

// Domain-separation labels. Changing a label rotates the derived key, so
// they are versioned.
const (
	signingKeyLabel    = "arca/signing/v1"
	encryptionKeyLabel = "arca/encryption/v1"
)

// appSalt binds derived keys to this application. It is not a secret; the
// machine seed carries the entropy.
var appSalt = []byte("arca-gate-keyring-2025")

// KeySet holds the two independent keys every component derives from the
// machine seed. Compromise of one does not yield the other.
type KeySet struct {
	SigningKey    []byte // keyed-MAC signatures over capability records
	EncryptionKey []byte // AES-256-GCM for files at rest
}

// DeriveKeys stretches the machine-specific seed with scrypt, then expands
// it into a signing key and an encryption key via HKDF-SHA256 under
// distinct labels. The seed never leaves the machine and the derivation is
// deterministic, so the same machine always reaches the same keys.
func DeriveKeys(machineSeed []byte) (*KeySet, error) {
	if len(machineSeed) == 0 {
		return nil, fmt.Errorf("machine seed cannot be empty")
	}

	// scrypt parameters per OWASP minimums; the result feeds HKDF, not a
	// password verifier, so N=32768 is ample for a one-time startup cost.
	master, err := scrypt.Key(machineSeed, appSalt, 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("key stretching failed: %w", err)
	}

	signingKey, err := expandKey(master, signingKeyLabel)
	if err != nil {
		return nil, fmt.Errorf("deriving signing key: %w", err)
	}
	encryptionKey, err := expandKey(master, encryptionKeyLabel)
	if err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}

	// The intermediate master key is not needed past this point.
	for i := range master {
		master[i] = 0
	}

	return &KeySet{
		SigningKey:    signingKey,
		EncryptionKey: encryptionKey,
	}, nil
}

// DeriveKeysFromFingerprint derives the key set from the machine
// fingerprint produced by FingerprintManager.
func DeriveKeysFromFingerprint(fm *FingerprintManager) (*KeySet, error) {
	id, err := fm.FingerprintID()
	if err != nil {
		return nil, fmt.Errorf("fingerprinting machine: %w", err)
	}
	return DeriveKeys([]byte(id))
}

// expandKey derives a 32-byte key from the master key under the given
// domain-separation label using HKDF-SHA256.
func expandKey(master []byte, label string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, master, appSalt, []byte(label))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
