package activation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"arcacli/internal/audit"
	"arcacli/internal/capability"
	apperrors "arcacli/internal/errors"
	"arcacli/internal/infrastructure"
)

// Granter is the slice of the entitlement service redemption needs. The
// activation service never answers entitlement questions itself.
type Granter interface {
	GrantFrom(ctx context.Context, action, scope string, ttl time.Duration, source string) (*capability.Capability, bool, error)
	Revoke(ctx context.Context, action, scope string) error
}

// Service generates and redeems one-time activation codes.
type Service struct {
	codec    *Codec
	ledger   *Ledger
	granter  Granter
	auditor  *audit.Logger
	attempts *attemptTracker
	logger   *slog.Logger

	// redeemMu serializes whole redemptions so two concurrent calls with
	// the same code cannot both pass the ledger check.
	redeemMu sync.Mutex
}

// Config bounds the failed-attempt tracker.
type Config struct {
	MaxAttempts   int
	AttemptWindow time.Duration
	BlockDuration time.Duration
}

// NewService wires the activation code service.
func NewService(codec *Codec, ledger *Ledger, granter Granter, auditor *audit.Logger, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = 15 * time.Minute
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 30 * time.Minute
	}
	return &Service{
		codec:    codec,
		ledger:   ledger,
		granter:  granter,
		auditor:  auditor,
		attempts: newAttemptTracker(cfg.MaxAttempts, cfg.AttemptWindow, cfg.BlockDuration),
		logger:   infrastructure.WithComponent(infrastructure.GetLogger(), "activation"),
	}
}

// GenerateCode produces a new code for the bundle. Admin-only; exposure
// is gated at the transport layer.
func (s *Service) GenerateCode(ctx context.Context, bundle Bundle) (string, error) {
	code, err := s.codec.Generate(bundle)
	if err != nil {
		return "", err
	}
	s.audit(ctx, "activation.generate", fmt.Sprintf("bundle=%s", bundle), audit.OutcomeSuccess)
	return code, nil
}

// Result describes a successful redemption.
type Result struct {
	Bundle  Bundle
	Granted []*capability.Capability
}

// Redeem validates the code, checks the ledger, grants the bundle's
// actions for the scope all-or-nothing, marks the code consumed, and
// audits the outcome. A code whose grants partially fail is rolled back
// and stays redeemable.
func (s *Service) Redeem(ctx context.Context, code, scope string) (*Result, error) {
	s.redeemMu.Lock()
	defer s.redeemMu.Unlock()

	if s.attempts.isBlocked(scope) {
		s.audit(ctx, "activation.redeem", fmt.Sprintf("scope=%s blocked", scope), audit.OutcomeDenied)
		return nil, fmt.Errorf("%w: redemption temporarily blocked for scope %s", apperrors.ErrRateLimited, scope)
	}

	bundle, err := s.codec.Parse(code)
	if err != nil {
		s.attempts.record(scope, false)
		s.audit(ctx, "activation.redeem", fmt.Sprintf("scope=%s invalid code", scope), audit.OutcomeDenied)
		return nil, err
	}

	hash, err := Fingerprint(code)
	if err != nil {
		return nil, err
	}

	used, err := s.ledger.Contains(hash)
	if err != nil {
		return nil, err
	}
	if used {
		s.attempts.record(scope, false)
		s.audit(ctx, "activation.redeem", fmt.Sprintf("bundle=%s scope=%s reuse", bundle, scope), audit.OutcomeDenied)
		return nil, fmt.Errorf("%w: code was consumed before", apperrors.ErrAlreadyRedeemed)
	}

	actions, err := bundle.Actions()
	if err != nil {
		return nil, err
	}

	granted := make([]*capability.Capability, 0, len(actions))
	createdActions := make([]string, 0, len(actions))
	for _, action := range actions {
		record, created, err := s.granter.GrantFrom(ctx, action, scope, 0, "activation")
		if err != nil {
			s.rollback(ctx, createdActions, scope)
			s.audit(ctx, "activation.redeem", fmt.Sprintf("bundle=%s scope=%s grant failed: %v", bundle, scope, err), audit.OutcomeDenied)
			return nil, fmt.Errorf("redeeming bundle %s: %w", bundle, err)
		}
		granted = append(granted, record)
		// Only records this redemption created are undone on failure;
		// capabilities the user held beforehand stay.
		if created {
			createdActions = append(createdActions, action)
		}
	}

	if err := s.ledger.Add(ctx, hash); err != nil {
		s.rollback(ctx, createdActions, scope)
		return nil, fmt.Errorf("marking code consumed: %w", err)
	}

	s.attempts.record(scope, true)
	s.audit(ctx, "activation.redeem", fmt.Sprintf("bundle=%s scope=%s actions=%d", bundle, scope, len(actions)), audit.OutcomeSuccess)
	s.logger.InfoContext(ctx, "activation code redeemed",
		slog.String("bundle", string(bundle)),
		slog.String("scope", scope),
		slog.Int("actions", len(actions)),
	)
	return &Result{Bundle: bundle, Granted: granted}, nil
}

// ResetLedger clears the consumed-code set. Admin-only.
func (s *Service) ResetLedger(ctx context.Context) error {
	if err := s.ledger.Reset(ctx); err != nil {
		return err
	}
	s.audit(ctx, "activation.ledger_reset", "redeemed-code ledger cleared by admin", audit.OutcomeSuccess)
	return nil
}

// LedgerSize returns the number of consumed codes, for diagnostics.
func (s *Service) LedgerSize() (int, error) {
	return s.ledger.Size()
}

// rollback revokes grants applied before a redemption failure. Best
// effort: revocation errors are logged, not returned, because the
// original failure matters more to the caller.
func (s *Service) rollback(ctx context.Context, actions []string, scope string) {
	for _, action := range actions {
		if err := s.granter.Revoke(ctx, action, scope); err != nil {
			s.logger.ErrorContext(ctx, "failed to roll back grant",
				slog.String("action", action),
				slog.String("scope", scope),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Service) audit(ctx context.Context, action, detail string, outcome audit.Outcome) {
	if err := s.auditor.Append(ctx, audit.NewEntry(action, detail, outcome)); err != nil {
		s.logger.ErrorContext(ctx, "failed to write audit entry",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
