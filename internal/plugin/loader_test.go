package plugin

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcacli/internal/capability"
	apperrors "arcacli/internal/errors"
)

// fakeGate grants exactly the action@scope pairs in its set.
type fakeGate struct {
	entitled map[string]bool
	err      error
}

func (g *fakeGate) Check(_ context.Context, action, scope string) (*capability.Capability, error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.entitled[action+"@"+scope] {
		return &capability.Capability{Action: action, Scope: scope}, nil
	}
	return nil, fmt.Errorf("%w: %s@%s", apperrors.ErrNotEntitled, action, scope)
}

type fakeFeature struct {
	name string
}

func (f *fakeFeature) Name() string { return f.name }

func factoryFor(name string, constructed *[]string) Factory {
	return func(context.Context) (Feature, error) {
		*constructed = append(*constructed, name)
		return &fakeFeature{name: name}, nil
	}
}

func TestRegisterValidation(t *testing.T) {
	loader := NewLoader(&fakeGate{})

	tests := []struct {
		name     string
		plugin   string
		action   string
		factory  Factory
		errMatch error
	}{
		{name: "missing name", plugin: "", action: "save.modify", factory: factoryFor("x", &[]string{}), errMatch: apperrors.ErrValidationFailure},
		{name: "missing action", plugin: "x", action: "", factory: factoryFor("x", &[]string{}), errMatch: apperrors.ErrValidationFailure},
		{name: "nil factory", plugin: "x", action: "save.modify", factory: nil, errMatch: apperrors.ErrValidationFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loader.Register(tt.plugin, tt.action, "current_game", tt.factory)
			assert.ErrorIs(t, err, tt.errMatch)
		})
	}

	require.NoError(t, loader.Register("editor", "save.modify", "current_game", factoryFor("editor", &[]string{})))
	err := loader.Register("editor", "save.modify", "current_game", factoryFor("editor", &[]string{}))
	assert.ErrorIs(t, err, apperrors.ErrValidationFailure)
}

func TestLoadConstructsOnlyEntitled(t *testing.T) {
	gate := &fakeGate{entitled: map[string]bool{"save.modify@current_game": true}}
	loader := NewLoader(gate)
	ctx := context.Background()

	var constructed []string
	require.NoError(t, loader.Register("editor", "save.modify", "current_game", factoryFor("editor", &constructed)))
	require.NoError(t, loader.Register("optimizer", "optimizer.run", "current_game", factoryFor("optimizer", &constructed)))

	require.NoError(t, loader.Load(ctx))

	// The unentitled factory never ran; the feature is not observable.
	assert.Equal(t, []string{"editor"}, constructed)

	loaded := loader.Loaded()
	require.Len(t, loaded, 1)
	assert.Equal(t, "editor", loaded[0].Name())

	_, ok := loader.Get("editor")
	assert.True(t, ok)
	_, ok = loader.Get("optimizer")
	assert.False(t, ok, "registered but unentitled reads as unknown")
	_, ok = loader.Get("never-registered")
	assert.False(t, ok)
}

func TestHasCapability(t *testing.T) {
	gate := &fakeGate{entitled: map[string]bool{"save.modify@current_game": true}}
	loader := NewLoader(gate)
	ctx := context.Background()

	assert.True(t, loader.HasCapability(ctx, "save.modify", "current_game"))
	assert.False(t, loader.HasCapability(ctx, "optimizer.run", "current_game"))

	// Non-denial failures also gate the feature off.
	gate.err = fmt.Errorf("%w: integrity mismatch", apperrors.ErrTamperDetected)
	assert.False(t, loader.HasCapability(ctx, "save.modify", "current_game"))
}

func TestLoadFactoryErrorFailsLoad(t *testing.T) {
	gate := &fakeGate{entitled: map[string]bool{"save.modify@current_game": true}}
	loader := NewLoader(gate)

	boom := errors.New("feature init failed")
	require.NoError(t, loader.Register("editor", "save.modify", "current_game", func(context.Context) (Feature, error) {
		return nil, boom
	}))

	err := loader.Load(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, loader.Loaded())
}

func TestReloadPicksUpNewGrants(t *testing.T) {
	gate := &fakeGate{entitled: map[string]bool{}}
	loader := NewLoader(gate)
	ctx := context.Background()

	var constructed []string
	require.NoError(t, loader.Register("optimizer", "optimizer.run", "current_game", factoryFor("optimizer", &constructed)))

	require.NoError(t, loader.Load(ctx))
	assert.Empty(t, loader.Loaded())

	gate.entitled["optimizer.run@current_game"] = true
	require.NoError(t, loader.Reload(ctx))

	loaded := loader.Loaded()
	require.Len(t, loaded, 1)
	assert.Equal(t, "optimizer", loaded[0].Name())
}

func TestReloadDropsRevokedFeatures(t *testing.T) {
	gate := &fakeGate{entitled: map[string]bool{"optimizer.run@current_game": true}}
	loader := NewLoader(gate)
	ctx := context.Background()

	var constructed []string
	require.NoError(t, loader.Register("optimizer", "optimizer.run", "current_game", factoryFor("optimizer", &constructed)))
	require.NoError(t, loader.Load(ctx))
	require.Len(t, loader.Loaded(), 1)

	delete(gate.entitled, "optimizer.run@current_game")
	require.NoError(t, loader.Reload(ctx))
	assert.Empty(t, loader.Loaded())
}
