// Package plugin gates feature modules behind entitlement checks. A
// feature that the current machine is not entitled to is never
// constructed and never listed, so its existence is not observable from
// the outside.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"arcacli/internal/capability"
	apperrors "arcacli/internal/errors"
	"arcacli/internal/infrastructure"
)

// Feature is a premium module constructed only after its capability
// check passes.
type Feature interface {
	// Name identifies the feature in logs and in the loaded-feature list.
	Name() string
}

// Factory builds a feature instance. It runs only when the gate grants
// the feature's action, so construction may assume entitlement.
type Factory func(ctx context.Context) (Feature, error)

// Gate is the single entitlement question the loader asks.
type Gate interface {
	Check(ctx context.Context, action, scope string) (*capability.Capability, error)
}

// registration ties a factory to the capability that unlocks it.
type registration struct {
	action  string
	scope   string
	factory Factory
}

// Loader is the chokepoint feature modules must pass before they exist.
// Callers register factories up front; Load constructs only the entitled
// subset and the rest stay invisible.
type Loader struct {
	gate   Gate
	logger *slog.Logger

	mu            sync.Mutex
	registrations map[string]registration
	loaded        map[string]Feature
}

// NewLoader creates a loader backed by the given entitlement gate.
func NewLoader(gate Gate) *Loader {
	return &Loader{
		gate:          gate,
		logger:        infrastructure.WithComponent(infrastructure.GetLogger(), "plugin"),
		registrations: make(map[string]registration),
		loaded:        make(map[string]Feature),
	}
}

// Register records a feature factory under its gating capability.
// Registration is cheap and unconditional; the entitlement check happens
// at Load time.
func (l *Loader) Register(name, action, scope string, factory Factory) error {
	if name == "" || action == "" || factory == nil {
		return fmt.Errorf("%w: plugin registration requires a name, an action, and a factory", apperrors.ErrValidationFailure)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.registrations[name]; exists {
		return fmt.Errorf("%w: plugin %q already registered", apperrors.ErrValidationFailure, name)
	}
	l.registrations[name] = registration{action: action, scope: scope, factory: factory}
	return nil
}

// HasCapability is the pass-through query feature code uses before
// constructing anything user visible. It collapses every failure mode
// to false.
func (l *Loader) HasCapability(ctx context.Context, action, scope string) bool {
	_, err := l.gate.Check(ctx, action, scope)
	if err == nil {
		return true
	}
	if !errors.Is(err, apperrors.ErrNotEntitled) {
		l.logger.WarnContext(ctx, "capability check failed, gating feature off",
			slog.String("action", action),
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)
	}
	return false
}

// Load constructs every registered feature whose capability check passes.
// Unentitled registrations are skipped silently. A factory error fails
// the load; a half-initialized premium surface is worse than none.
func (l *Loader) Load(ctx context.Context) error {
	l.mu.Lock()
	pending := make(map[string]registration, len(l.registrations))
	for name, reg := range l.registrations {
		if _, done := l.loaded[name]; !done {
			pending[name] = reg
		}
	}
	l.mu.Unlock()

	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		reg := pending[name]
		if !l.HasCapability(ctx, reg.action, reg.scope) {
			continue
		}
		feature, err := reg.factory(ctx)
		if err != nil {
			return fmt.Errorf("constructing feature %q: %w", name, err)
		}
		l.mu.Lock()
		l.loaded[name] = feature
		l.mu.Unlock()
		l.logger.InfoContext(ctx, "feature loaded", slog.String("feature", name))
	}
	return nil
}

// Loaded lists the constructed features in name order. Unentitled
// features never appear here.
func (l *Loader) Loaded() []Feature {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.loaded))
	for name := range l.loaded {
		names = append(names, name)
	}
	sort.Strings(names)

	features := make([]Feature, 0, len(names))
	for _, name := range names {
		features = append(features, l.loaded[name])
	}
	return features
}

// Get returns a loaded feature by name. The second return is false both
// for unknown names and for registered-but-unentitled features; callers
// cannot distinguish the two.
func (l *Loader) Get(name string) (Feature, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	feature, ok := l.loaded[name]
	return feature, ok
}

// Reload drops constructed features and loads again against the current
// entitlement state. Called after grants or revocations change what the
// machine is entitled to.
func (l *Loader) Reload(ctx context.Context) error {
	l.mu.Lock()
	l.loaded = make(map[string]Feature)
	l.mu.Unlock()
	return l.Load(ctx)
}
