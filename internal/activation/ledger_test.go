package activation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "arcacli/internal/errors"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	return NewLedger(filepath.Join(t.TempDir(), "redeemed.json"))
}

func TestLedgerEmpty(t *testing.T) {
	l := testLedger(t)

	used, err := l.Contains("deadbeef")
	require.NoError(t, err)
	assert.False(t, used)

	size, err := l.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestLedgerAddContains(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Add(ctx, "hash-one"))
	require.NoError(t, l.Add(ctx, "hash-two"))

	for _, hash := range []string{"hash-one", "hash-two"} {
		used, err := l.Contains(hash)
		require.NoError(t, err)
		assert.True(t, used, hash)
	}

	used, err := l.Contains("hash-three")
	require.NoError(t, err)
	assert.False(t, used)

	size, err := l.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestLedgerAddRejectsDuplicate(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Add(ctx, "hash-one"))
	err := l.Add(ctx, "hash-one")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyRedeemed)

	size, err := l.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestLedgerReset(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Add(ctx, "hash-one"))
	require.NoError(t, l.Reset(ctx))

	used, err := l.Contains("hash-one")
	require.NoError(t, err)
	assert.False(t, used)

	size, err := l.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestLedgerPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redeemed.json")
	ctx := context.Background()

	first := NewLedger(path)
	require.NoError(t, first.Add(ctx, "hash-one"))

	second := NewLedger(path)
	used, err := second.Contains("hash-one")
	require.NoError(t, err)
	assert.True(t, used)
}

func TestLedgerFileHoldsHashesOnly(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	codec := testCodec(t)
	code, err := codec.Generate(BundlePro)
	require.NoError(t, err)
	hash, err := Fingerprint(code)
	require.NoError(t, err)
	require.NoError(t, l.Add(ctx, hash))

	raw, err := os.ReadFile(l.path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), code)
	assert.Contains(t, string(raw), hash)
}
