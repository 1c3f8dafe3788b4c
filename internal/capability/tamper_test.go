package capability

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDetector(t *testing.T) (*TamperDetector, *Store) {
	t.Helper()
	dir := t.TempDir()
	storePath := filepath.Join(dir, "capabilities.bin")
	integrityPath := filepath.Join(dir, "capabilities.sig")
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(0x80 + i)
	}
	return NewTamperDetector(storePath, integrityPath, key), NewStore(storePath, testEncryptionKey())
}

func TestTamperDetectorFreshMachine(t *testing.T) {
	detector, _ := testDetector(t)
	ok, err := detector.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "nothing to protect before first write")
}

func TestTamperDetectorRecordVerify(t *testing.T) {
	detector, store := testDetector(t)
	ctx := context.Background()

	cap := NewIssuer(testValidator(t)).Issue("save.modify", "current_game", 0)
	require.NoError(t, store.Save(ctx, []Capability{cap}))
	require.NoError(t, detector.Record(ctx))

	ok, err := detector.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTamperDetectorStoreModified(t *testing.T) {
	detector, store := testDetector(t)
	ctx := context.Background()

	cap := NewIssuer(testValidator(t)).Issue("save.modify", "current_game", 0)
	require.NoError(t, store.Save(ctx, []Capability{cap}))
	require.NoError(t, detector.Record(ctx))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	raw[0] ^= 0x01
	require.NoError(t, os.WriteFile(store.Path(), raw, 0o600))

	ok, err := detector.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTamperDetectorWholesaleSubstitution(t *testing.T) {
	detector, store := testDetector(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, []Capability{
		NewIssuer(testValidator(t)).Issue("save.modify", "current_game", 0),
	}))
	require.NoError(t, detector.Record(ctx))

	// A substituted file that is itself a valid sealed blob must still
	// fail the independent integrity check.
	otherDir := t.TempDir()
	other := NewStore(filepath.Join(otherDir, "capabilities.bin"), testEncryptionKey())
	require.NoError(t, other.Save(ctx, []Capability{
		NewIssuer(testValidator(t)).Issue("optimizer.apply", "current_game", 0),
	}))
	substitute, err := os.ReadFile(other.Path())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), substitute, 0o600))

	ok, err := detector.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTamperDetectorDeletedIntegrityRecord(t *testing.T) {
	detector, store := testDetector(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, []Capability{
		NewIssuer(testValidator(t)).Issue("save.modify", "current_game", 0),
	}))
	require.NoError(t, detector.Record(ctx))
	require.NoError(t, os.Remove(detector.integrityPath))

	ok, err := detector.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "deleting the record must not unlock the store")
}

func TestTamperDetectorReRecordAfterLegitWrite(t *testing.T) {
	detector, store := testDetector(t)
	ctx := context.Background()
	issuer := NewIssuer(testValidator(t))

	require.NoError(t, store.Save(ctx, []Capability{issuer.Issue("save.modify", "current_game", 0)}))
	require.NoError(t, detector.Record(ctx))

	require.NoError(t, store.Save(ctx, []Capability{
		issuer.Issue("save.modify", "current_game", 0),
		issuer.Issue("export.csv", "current_game", 0),
	}))

	ok, err := detector.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "write without re-record looks like tampering")

	require.NoError(t, detector.Record(ctx))
	ok, err = detector.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
