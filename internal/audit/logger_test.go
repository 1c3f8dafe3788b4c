package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *Logger {
	t.Helper()
	return NewLogger(filepath.Join(t.TempDir(), "audit.log"))
}

func TestAppendReadAllOrder(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := NewEntry("entitlement.granted", fmt.Sprintf("grant %d", i), OutcomeSuccess)
		require.NoError(t, l.Append(ctx, entry))
	}

	entries, err := l.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, entry := range entries {
		assert.Equal(t, fmt.Sprintf("grant %d", i), entry.Detail)
		assert.NotEmpty(t, entry.ID)
		assert.False(t, entry.Timestamp.IsZero())
	}
}

func TestReadAllMissingFile(t *testing.T) {
	l := testLogger(t)
	entries, err := l.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	count, err := l.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReadAllSkipsTornTail(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, NewEntry("entitlement.check", "ok", OutcomeSuccess)))
	require.NoError(t, l.Append(ctx, NewEntry("entitlement.check", "denied", OutcomeDenied)))

	// Simulate a crash mid-append: a partial JSON line at the tail.
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"torn","timestamp":`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := l.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, OutcomeDenied, entries[1].Outcome)
}

func TestReadAllSkipsCorruptMiddleLine(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, NewEntry("activation.redeemed", "bundle pro", OutcomeSuccess)))

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("not json at all\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, l.Append(ctx, NewEntry("activation.redeemed", "bundle optimizer", OutcomeSuccess)))

	entries, err := l.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bundle pro", entries[0].Detail)
	assert.Equal(t, "bundle optimizer", entries[1].Detail)
}

func TestCount(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(ctx, NewEntry("admin.token_issued", "", OutcomeSuccess)))
	}
	count, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPurgeLeavesPurgeEntry(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, l.Append(ctx, NewEntry("entitlement.check", "ok", OutcomeSuccess)))
	}
	require.NoError(t, l.Purge(ctx, "operator reset"))

	entries, err := l.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "audit.purge", entries[0].Action)
	assert.Equal(t, "operator reset", entries[0].Detail)
	assert.Equal(t, OutcomeSuccess, entries[0].Outcome)
}

func TestConcurrentAppends(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	const writers = 8
	done := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			done <- l.Append(ctx, NewEntry("entitlement.check", fmt.Sprintf("writer %d", n), OutcomeSuccess))
		}(i)
	}
	for i := 0; i < writers; i++ {
		require.NoError(t, <-done)
	}

	entries, err := l.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, writers)
}
