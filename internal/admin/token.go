// Package admin implements machine-bound admin tokens, the break-glass
// emergency path, the admin capability policy, and the diagnostics
// surface.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"arcacli/internal/audit"
	apperrors "arcacli/internal/errors"
	"arcacli/internal/infrastructure"
	"arcacli/internal/security"
)

// Method records how an admin token was obtained.
type Method string

const (
	MethodEnvOverride Method = "env_override"
	MethodIssuedToken Method = "issued_token"
	MethodBreakGlass  Method = "break_glass"
)

// Token issuance ceilings. Break-glass tokens are further capped
// regardless of the general ceiling.
const (
	MaxTokenTTL     = 30 * 24 * time.Hour
	BreakGlassTTL   = 4 * time.Hour
	DefaultTokenTTL = 7 * 24 * time.Hour
)

// Token is a machine-bound, time-limited admin credential. Exclusively
// owned by TokenService; persisted encrypted.
type Token struct {
	ID                 string    `json:"id"`
	MachineFingerprint string    `json:"machine_fingerprint"`
	Scope              string    `json:"scope"`
	IssuedAt           time.Time `json:"issued_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	Method             Method    `json:"method"`
}

// IsExpired reports whether the expiry date has passed. Expiry is never
// extended by skew tolerance; the comparison is strict UTC.
func (t *Token) IsExpired(now time.Time) bool {
	return now.UTC().After(t.ExpiresAt.UTC())
}

// CoversScope reports whether the token applies to the given scope.
// A token issued for "*" covers every scope.
func (t *Token) CoversScope(scope string) bool {
	return t.Scope == "*" || t.Scope == scope
}

// TokenService issues, validates, and revokes admin tokens. All
// load-mutate-save sequences hold the service lock; writes are atomic
// renames.
type TokenService struct {
	path          string
	encryptionKey []byte
	signingKey    []byte
	fingerprints  *security.FingerprintManager
	auditor       *audit.Logger
	logger        *slog.Logger
	mu            sync.Mutex
	now           func() time.Time
}

// NewTokenService creates the admin token service.
func NewTokenService(path string, keys *security.KeySet, fingerprints *security.FingerprintManager, auditor *audit.Logger) *TokenService {
	return &TokenService{
		path:          path,
		encryptionKey: keys.EncryptionKey,
		signingKey:    keys.SigningKey,
		fingerprints:  fingerprints,
		auditor:       auditor,
		logger:        infrastructure.WithComponent(infrastructure.GetLogger(), "admin"),
		now:           time.Now,
	}
}

// CreateToken issues a token for the given method and scope, bound to the
// current machine, and persists it encrypted. The TTL is clamped to the
// 30-day ceiling; break-glass tokens are clamped to 4 hours no matter
// what was requested.
func (s *TokenService) CreateToken(ctx context.Context, method Method, scope string, ttl time.Duration) (*Token, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if ttl > MaxTokenTTL {
		ttl = MaxTokenTTL
	}
	if method == MethodBreakGlass {
		ttl = BreakGlassTTL
	}

	fingerprint, err := s.fingerprints.FingerprintID()
	if err != nil {
		return nil, fmt.Errorf("fingerprinting machine: %w", err)
	}

	now := s.now().UTC()
	token := &Token{
		ID:                 uuid.New().String(),
		MachineFingerprint: fingerprint,
		Scope:              scope,
		IssuedAt:           now,
		ExpiresAt:          now.Add(ttl),
		Method:             method,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(ctx, token); err != nil {
		return nil, err
	}

	s.audit(ctx, "admin.token_issued",
		fmt.Sprintf("method=%s scope=%s expires=%s", method, scope, token.ExpiresAt.Format(time.RFC3339)),
		audit.OutcomeSuccess)
	return token, nil
}

// CurrentToken loads the persisted token without validity checks. Returns
// nil when none exists.
func (s *TokenService) CurrentToken(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// ValidToken loads the persisted token and checks machine binding, scope,
// and expiry. Failure modes: nil token (none persisted),
// ErrValidationFailure (wrong machine), ErrExpiredToken.
func (s *TokenService) ValidToken(ctx context.Context, scope string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, nil
	}

	fingerprint, err := s.fingerprints.FingerprintID()
	if err != nil {
		return nil, fmt.Errorf("fingerprinting machine: %w", err)
	}
	if token.MachineFingerprint != fingerprint {
		s.audit(ctx, "admin.token_check", "machine fingerprint mismatch", audit.OutcomeDenied)
		return nil, fmt.Errorf("%w: token bound to a different machine", apperrors.ErrValidationFailure)
	}
	if token.IsExpired(s.now()) {
		return nil, fmt.Errorf("%w: expired %s", apperrors.ErrExpiredToken, token.ExpiresAt.Format(time.RFC3339))
	}
	if !token.CoversScope(scope) {
		return nil, nil
	}
	return token, nil
}

// Revoke deletes the persisted token. Revocation always succeeds locally,
// even when no token file exists.
func (s *TokenService) Revoke(ctx context.Context, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing admin token: %v", apperrors.ErrStoreIO, err)
	}
	s.audit(ctx, "admin.token_revoked", fmt.Sprintf("scope=%s", scope), audit.OutcomeSuccess)
	s.logger.InfoContext(ctx, "admin token revoked", slog.String("scope", scope))
	return nil
}

func (s *TokenService) loadLocked(_ context.Context) (*Token, error) {
	blob, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading admin token: %v", apperrors.ErrStoreIO, err)
	}

	plaintext, err := security.Open(blob, s.encryptionKey)
	if err != nil {
		if errors.Is(err, security.ErrSealOpen) {
			// An unreadable token is treated as absent: the admin path
			// fails closed rather than erroring the caller.
			s.logger.Warn("admin token failed authenticated decryption, treating as absent")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: decrypting admin token: %v", apperrors.ErrStoreIO, err)
	}

	var token Token
	if err := json.Unmarshal(plaintext, &token); err != nil {
		s.logger.Warn("admin token payload is not decodable, treating as absent")
		return nil, nil
	}
	return &token, nil
}

func (s *TokenService) saveLocked(ctx context.Context, token *Token) error {
	plaintext, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding admin token: %w", err)
	}
	blob, err := security.Seal(plaintext, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("encrypting admin token: %w", err)
	}
	if err := security.WriteFileAtomic(ctx, s.path, blob, 0o600); err != nil {
		return fmt.Errorf("%w: writing admin token: %v", apperrors.ErrStoreIO, err)
	}
	return nil
}

func (s *TokenService) audit(ctx context.Context, action, detail string, outcome audit.Outcome) {
	if err := s.auditor.Append(ctx, audit.NewEntry(action, detail, outcome)); err != nil {
		s.logger.ErrorContext(ctx, "failed to write audit entry",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
