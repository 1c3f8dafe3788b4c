package entitlement

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcacli/internal/audit"
	"arcacli/internal/capability"
	apperrors "arcacli/internal/errors"
)

type serviceFixture struct {
	service *Service
	store   *capability.Store
	tamper  *capability.TamperDetector
	clock   *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newServiceFixture(t *testing.T, opts Options) *serviceFixture {
	t.Helper()
	dir := t.TempDir()

	signingKey := make([]byte, 32)
	encryptionKey := make([]byte, 32)
	integrityKey := make([]byte, 32)
	for i := 0; i < 32; i++ {
		signingKey[i] = byte(i)
		encryptionKey[i] = byte(0x40 + i)
		integrityKey[i] = byte(0x80 + i)
	}

	validator, err := capability.NewValidator(signingKey)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	issuer := capability.NewIssuerWithClock(validator, clock.Now)
	store := capability.NewStore(filepath.Join(dir, "capabilities.bin"), encryptionKey)
	tamper := capability.NewTamperDetector(store.Path(), filepath.Join(dir, "capabilities.sig"), integrityKey)
	auditor := audit.NewLogger(filepath.Join(dir, "audit.log"))

	svc := NewService(validator, issuer, store, tamper, auditor, opts)
	svc.now = clock.Now
	return &serviceFixture{service: svc, store: store, tamper: tamper, clock: clock}
}

func TestGrantThenCheck(t *testing.T) {
	f := newServiceFixture(t, Options{})
	ctx := context.Background()

	granted, err := f.service.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)
	require.NotNil(t, granted)

	record, err := f.service.Check(ctx, "save.modify", "current_game")
	require.NoError(t, err)
	assert.Equal(t, "save.modify", record.Action)
	assert.Equal(t, "current_game", record.Scope)
}

func TestCheckDeniesUnknownAction(t *testing.T) {
	f := newServiceFixture(t, Options{})
	_, err := f.service.Check(context.Background(), "optimizer.run", "current_game")
	assert.ErrorIs(t, err, apperrors.ErrNotEntitled)
}

func TestCheckDeniesWrongScope(t *testing.T) {
	f := newServiceFixture(t, Options{})
	ctx := context.Background()

	_, err := f.service.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)

	_, err = f.service.Check(ctx, "save.modify", "other_game")
	assert.ErrorIs(t, err, apperrors.ErrNotEntitled)
}

func TestLazyExpiry(t *testing.T) {
	f := newServiceFixture(t, Options{})
	ctx := context.Background()

	_, err := f.service.Grant(ctx, "optimizer.run", "current_game", time.Hour)
	require.NoError(t, err)

	_, err = f.service.Check(ctx, "optimizer.run", "current_game")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.service.Check(ctx, "optimizer.run", "current_game")
	assert.ErrorIs(t, err, apperrors.ErrNotEntitled)
}

func TestGrantIsIdempotentWhileValid(t *testing.T) {
	f := newServiceFixture(t, Options{})
	ctx := context.Background()

	first, err := f.service.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)
	second, err := f.service.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)
	assert.Equal(t, first.Signature, second.Signature)

	size, err := f.service.StoreSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestRevokeIsIdempotent(t *testing.T) {
	f := newServiceFixture(t, Options{})
	ctx := context.Background()

	_, err := f.service.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)

	require.NoError(t, f.service.Revoke(ctx, "save.modify", "current_game"))
	_, err = f.service.Check(ctx, "save.modify", "current_game")
	assert.ErrorIs(t, err, apperrors.ErrNotEntitled)

	// Revoking what is already gone still succeeds.
	require.NoError(t, f.service.Revoke(ctx, "save.modify", "current_game"))
}

func TestPurgeExpired(t *testing.T) {
	f := newServiceFixture(t, Options{})
	ctx := context.Background()

	_, err := f.service.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)
	_, err = f.service.Grant(ctx, "export.csv", "current_game", time.Minute)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	removed, err := f.service.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	size, err := f.service.StoreSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestTamperedStoreIsHardFailure(t *testing.T) {
	f := newServiceFixture(t, Options{})
	ctx := context.Background()

	_, err := f.service.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)

	raw, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	require.NoError(t, os.WriteFile(f.store.Path(), raw, 0o600))

	_, err = f.service.Check(ctx, "save.modify", "current_game")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTamperDetected)
	assert.NotErrorIs(t, err, apperrors.ErrNotEntitled)

	// Once tampered, granting is refused too.
	_, err = f.service.Grant(ctx, "export.csv", "current_game", 0)
	assert.ErrorIs(t, err, apperrors.ErrTamperDetected)
}

func TestCheckCacheServesRepeatHits(t *testing.T) {
	f := newServiceFixture(t, Options{CacheTTL: time.Minute})
	ctx := context.Background()

	_, err := f.service.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)
	_, err = f.service.Check(ctx, "save.modify", "current_game")
	require.NoError(t, err)

	// Empty the store behind the service's back, keeping integrity in
	// sync; a fresh cache entry still answers.
	require.NoError(t, f.store.Mutate(ctx, func([]capability.Capability) ([]capability.Capability, bool, error) {
		return nil, true, nil
	}))
	require.NoError(t, f.tamper.Record(ctx))
	record, err := f.service.Check(ctx, "save.modify", "current_game")
	require.NoError(t, err)
	assert.Equal(t, "save.modify", record.Action)
}

func TestTamperFailsCachedChecks(t *testing.T) {
	f := newServiceFixture(t, Options{CacheTTL: 30 * time.Second})
	ctx := context.Background()

	_, err := f.service.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)
	_, err = f.service.Check(ctx, "save.modify", "current_game")
	require.NoError(t, err)

	raw, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	require.NoError(t, os.WriteFile(f.store.Path(), raw, 0o600))

	// The cached positive from a second ago must not outlive the store's
	// integrity.
	_, err = f.service.Check(ctx, "save.modify", "current_game")
	assert.ErrorIs(t, err, apperrors.ErrTamperDetected)
}

func TestCacheInvalidatedOnRevoke(t *testing.T) {
	f := newServiceFixture(t, Options{CacheTTL: time.Minute})
	ctx := context.Background()

	_, err := f.service.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)
	_, err = f.service.Check(ctx, "save.modify", "current_game")
	require.NoError(t, err)

	require.NoError(t, f.service.Revoke(ctx, "save.modify", "current_game"))
	_, err = f.service.Check(ctx, "save.modify", "current_game")
	assert.ErrorIs(t, err, apperrors.ErrNotEntitled)
}

func TestObserversNotifiedOnGrant(t *testing.T) {
	f := newServiceFixture(t, Options{})
	ctx := context.Background()

	var events []GrantEvent
	f.service.Subscribe(ObserverFunc(func(_ context.Context, event GrantEvent) {
		events = append(events, event)
	}))

	_, created, err := f.service.GrantFrom(ctx, "save.modify", "current_game", 0, "activation")
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, events, 1)
	assert.Equal(t, "save.modify", events[0].Capability.Action)
	assert.Equal(t, "activation", events[0].Source)

	// A repeat grant returns the existing record, reports nothing new,
	// and fires no event.
	_, created, err = f.service.GrantFrom(ctx, "save.modify", "current_game", 0, "activation")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, events, 1)
}

func TestCapabilitiesSnapshot(t *testing.T) {
	f := newServiceFixture(t, Options{})
	ctx := context.Background()

	_, err := f.service.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)
	_, err = f.service.Grant(ctx, "milestones.track", "current_game", 0)
	require.NoError(t, err)

	caps, err := f.service.Capabilities(ctx)
	require.NoError(t, err)
	assert.Len(t, caps, 2)
}

func TestIntegrityOK(t *testing.T) {
	f := newServiceFixture(t, Options{})
	ctx := context.Background()

	ok, err := f.service.IntegrityOK(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.service.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)

	ok, err = f.service.IntegrityOK(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
