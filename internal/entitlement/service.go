// Package entitlement implements the single authorization chokepoint of
// the engine: every "is action X granted for scope Y" decision flows
// through Service. No other component may answer that question.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"arcacli/internal/audit"
	"arcacli/internal/capability"
	apperrors "arcacli/internal/errors"
	"arcacli/internal/infrastructure"
)

// GrantEvent describes a successful grant for observers.
type GrantEvent struct {
	Capability capability.Capability
	Source     string // "grant", "activation", "admin"
}

// Observer receives grant notifications. Consumers subscribe explicitly;
// the engine never reaches into UI wiring.
type Observer interface {
	CapabilityGranted(ctx context.Context, event GrantEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, event GrantEvent)

// CapabilityGranted calls the wrapped function.
func (f ObserverFunc) CapabilityGranted(ctx context.Context, event GrantEvent) {
	f(ctx, event)
}

// Service orchestrates validator, issuer, store, and tamper detector to
// answer entitlement questions and apply new grants.
type Service struct {
	validator *capability.Validator
	issuer    *capability.Issuer
	store     *capability.Store
	tamper    *capability.TamperDetector
	auditor   *audit.Logger
	cache     *checkCache
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time

	observerMu sync.RWMutex
	observers  []Observer
}

// Options configures optional service behavior.
type Options struct {
	CacheTTL time.Duration
	Metrics  *Metrics
}

// NewService wires the entitlement chokepoint from its explicit
// dependencies.
func NewService(
	validator *capability.Validator,
	issuer *capability.Issuer,
	store *capability.Store,
	tamper *capability.TamperDetector,
	auditor *audit.Logger,
	opts Options,
) *Service {
	return &Service{
		validator: validator,
		issuer:    issuer,
		store:     store,
		tamper:    tamper,
		auditor:   auditor,
		cache:     newCheckCache(opts.CacheTTL),
		metrics:   opts.Metrics,
		logger:    infrastructure.WithComponent(infrastructure.GetLogger(), "entitlement"),
		now:       time.Now,
	}
}

// Subscribe registers an observer for grant events.
func (s *Service) Subscribe(o Observer) {
	s.observerMu.Lock()
	s.observers = append(s.observers, o)
	s.observerMu.Unlock()
}

func (s *Service) notifyGranted(ctx context.Context, event GrantEvent) {
	s.observerMu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.observerMu.RUnlock()
	for _, o := range observers {
		o.CapabilityGranted(ctx, event)
	}
}

// Check loads the store, verifies integrity and signatures, and returns
// the capability matching action/scope if one is valid and unexpired.
// Failure modes: ErrTamperDetected (hard failure, audited, never demoted
// to a plain denial) and ErrNotEntitled. Integrity is verified before the
// cache is consulted, so a tampered store fails the very next check
// instead of riding out a cached positive.
func (s *Service) Check(ctx context.Context, action, scope string) (*capability.Capability, error) {
	start := s.now()
	ok, err := s.tamper.Verify(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.failTamper(ctx, "entitlement.check", fmt.Sprintf("integrity mismatch checking %s@%s", action, scope))
	}

	if cached, ok := s.cache.get(action, scope); ok {
		s.metrics.recordCacheHit(ctx, true)
		s.metrics.recordCheck(ctx, action, scope, true, float64(time.Since(start).Milliseconds()))
		return cached, nil
	}
	s.metrics.recordCacheHit(ctx, false)

	record, err := s.check(ctx, action, scope)
	granted := err == nil
	s.metrics.recordCheck(ctx, action, scope, granted, float64(time.Since(start).Milliseconds()))
	return record, err
}

// check runs the uncached path. Integrity was already verified by Check.
func (s *Service) check(ctx context.Context, action, scope string) (*capability.Capability, error) {
	caps, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrTamperDetected) {
			return nil, s.failTamper(ctx, "entitlement.check", "store failed authenticated decryption")
		}
		return nil, err
	}

	now := s.now()
	for i := range caps {
		c := caps[i]
		if !c.Matches(action, scope) {
			continue
		}
		if !s.validator.Verify(&c) {
			// A single bad record is skipped and logged, not fatal to the
			// whole check; the tamper detector covers file-level attacks.
			s.logger.WarnContext(ctx, "skipping capability with invalid signature",
				slog.String("action", c.Action),
				slog.String("scope", c.Scope),
			)
			continue
		}
		if c.IsExpired(now) {
			continue
		}
		s.cache.set(action, scope, c)
		return &c, nil
	}

	s.audit(ctx, "entitlement.check", fmt.Sprintf("%s@%s", action, scope), audit.OutcomeDenied)
	return nil, fmt.Errorf("%w: %s@%s", apperrors.ErrNotEntitled, action, scope)
}

// Grant issues a capability and persists it. Granting an action/scope that
// already has a valid unexpired capability is a no-op returning the
// existing record, so repeated redemptions cannot pile up duplicates.
func (s *Service) Grant(ctx context.Context, action, scope string, ttl time.Duration) (*capability.Capability, error) {
	granted, _, err := s.grant(ctx, action, scope, ttl, "grant")
	return granted, err
}

// GrantFrom is Grant with an event source label for observers (e.g.
// "activation" when called by code redemption). The second return value
// reports whether a new record was created, so callers undoing a partial
// batch can leave capabilities the user already held alone.
func (s *Service) GrantFrom(ctx context.Context, action, scope string, ttl time.Duration, source string) (*capability.Capability, bool, error) {
	return s.grant(ctx, action, scope, ttl, source)
}

func (s *Service) grant(ctx context.Context, action, scope string, ttl time.Duration, source string) (*capability.Capability, bool, error) {
	ok, err := s.tamper.Verify(ctx)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, s.failTamper(ctx, "entitlement.grant", fmt.Sprintf("integrity mismatch granting %s@%s", action, scope))
	}

	var granted capability.Capability
	var existing bool
	err = s.store.Mutate(ctx, func(caps []capability.Capability) ([]capability.Capability, bool, error) {
		now := s.now()
		for i := range caps {
			c := caps[i]
			if c.Matches(action, scope) && s.validator.Verify(&c) && !c.IsExpired(now) {
				granted = c
				existing = true
				return caps, false, nil
			}
		}
		granted = s.issuer.Issue(action, scope, ttl)
		return append(caps, granted), true, nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrTamperDetected) {
			return nil, false, s.failTamper(ctx, "entitlement.grant", "store failed authenticated decryption")
		}
		return nil, false, err
	}

	if !existing {
		if err := s.tamper.Record(ctx); err != nil {
			return nil, false, err
		}
		s.cache.invalidateAll()
		s.audit(ctx, "entitlement.grant", granted.String(), audit.OutcomeSuccess)
		s.metrics.recordGrant(ctx, action, scope)
		s.notifyGranted(ctx, GrantEvent{Capability: granted, Source: source})
	}
	return &granted, !existing, nil
}

// Revoke removes every capability matching action/scope. Revoking a grant
// that does not exist succeeds; revocation always succeeds locally.
func (s *Service) Revoke(ctx context.Context, action, scope string) error {
	removed := 0
	err := s.store.Mutate(ctx, func(caps []capability.Capability) ([]capability.Capability, bool, error) {
		kept := caps[:0:0]
		for _, c := range caps {
			if c.Matches(action, scope) {
				removed++
				continue
			}
			kept = append(kept, c)
		}
		return kept, removed > 0, nil
	})
	if err != nil {
		return err
	}
	if removed > 0 {
		if err := s.tamper.Record(ctx); err != nil {
			return err
		}
		s.cache.invalidateAll()
	}
	s.audit(ctx, "entitlement.revoke", fmt.Sprintf("%s@%s removed=%d", action, scope, removed), audit.OutcomeSuccess)
	return nil
}

// PurgeExpired removes capabilities whose expiry has passed and returns
// the count removed.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	count, err := s.store.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		if err := s.tamper.Record(ctx); err != nil {
			return count, err
		}
		s.cache.invalidateAll()
		s.audit(ctx, "entitlement.purge", fmt.Sprintf("removed %d expired capabilities", count), audit.OutcomeSuccess)
	}
	s.metrics.recordPurged(ctx, count)
	return count, nil
}

// StoreSize returns the number of persisted capabilities. Diagnostics
// only; it bypasses no verification because it grants nothing.
func (s *Service) StoreSize(ctx context.Context) (int, error) {
	caps, err := s.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	return len(caps), nil
}

// Capabilities returns a snapshot of the valid persisted capabilities.
// Records failing signature verification are skipped, matching Check.
func (s *Service) Capabilities(ctx context.Context) ([]capability.Capability, error) {
	caps, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	valid := make([]capability.Capability, 0, len(caps))
	for _, record := range caps {
		if s.validator.Verify(&record) {
			valid = append(valid, record)
		}
	}
	return valid, nil
}

// IntegrityOK exposes the tamper check for the diagnostics surface.
func (s *Service) IntegrityOK(ctx context.Context) (bool, error) {
	return s.tamper.Verify(ctx)
}

// failTamper audits and logs a tamper detection, then returns the hard
// failure. Tamper is never silently swallowed.
func (s *Service) failTamper(ctx context.Context, action, detail string) error {
	s.cache.invalidateAll()
	s.audit(ctx, action, detail, audit.OutcomeTamperDetected)
	s.metrics.recordTamper(ctx)
	s.logger.ErrorContext(ctx, "tamper detected",
		slog.String("action", action),
		slog.String("detail", detail),
	)
	return fmt.Errorf("%w: %s", apperrors.ErrTamperDetected, detail)
}

func (s *Service) audit(ctx context.Context, action, detail string, outcome audit.Outcome) {
	if err := s.auditor.Append(ctx, audit.NewEntry(action, detail, outcome)); err != nil {
		// Audit failures must not break the authorization flow, but they
		// are loud in the application log.
		s.logger.ErrorContext(ctx, "failed to write audit entry",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
