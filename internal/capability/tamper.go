package capability

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"os"

	apperrors "arcacli/internal/errors"
	"arcacli/internal/security"
)

// TamperDetector keeps a keyed MAC over the capability store file in a
// separate integrity file. The check is independent of the store's own
// AEAD tag: a wholesale file substitution carries a valid-looking sealed
// blob of its own, but it cannot reproduce the recorded MAC without the
// integrity key.
type TamperDetector struct {
	storePath     string
	integrityPath string
	integrityKey  []byte
}

// NewTamperDetector creates a detector for the given store/integrity file
// pair.
func NewTamperDetector(storePath, integrityPath string, integrityKey []byte) *TamperDetector {
	return &TamperDetector{
		storePath:     storePath,
		integrityPath: integrityPath,
		integrityKey:  integrityKey,
	}
}

// ComputeIntegrity returns the MAC over the store file's current bytes.
// A missing store file yields the MAC of the empty input, so integrity
// tracking works from first startup.
func (t *TamperDetector) ComputeIntegrity() ([]byte, error) {
	data, err := os.ReadFile(t.storePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: reading store for integrity: %v", apperrors.ErrStoreIO, err)
	}
	mac := hmac.New(sha256.New, t.integrityKey)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// Record computes and atomically persists the integrity MAC. Called after
// every legitimate store write.
func (t *TamperDetector) Record(ctx context.Context) error {
	tag, err := t.ComputeIntegrity()
	if err != nil {
		return err
	}
	if err := security.WriteFileAtomic(ctx, t.integrityPath, tag, 0o600); err != nil {
		return fmt.Errorf("%w: writing integrity record: %v", apperrors.ErrStoreIO, err)
	}
	return nil
}

// Verify recomputes the MAC and compares it against the stored record in
// constant time. A missing integrity record counts as a mismatch when the
// store file exists: a tamperer deleting the record must not unlock the
// store.
func (t *TamperDetector) Verify(_ context.Context) (bool, error) {
	expected, err := os.ReadFile(t.integrityPath)
	if err != nil {
		if os.IsNotExist(err) {
			if _, statErr := os.Stat(t.storePath); os.IsNotExist(statErr) {
				// Neither file exists yet: nothing to protect.
				return true, nil
			}
			return false, nil
		}
		return false, fmt.Errorf("%w: reading integrity record: %v", apperrors.ErrStoreIO, err)
	}

	actual, err := t.ComputeIntegrity()
	if err != nil {
		return false, err
	}
	if len(expected) != len(actual) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(expected, actual) == 1, nil
}
