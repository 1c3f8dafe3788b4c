package admin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"arcacli/internal/audit"
	apperrors "arcacli/internal/errors"
)

// Break-glass challenges are HMACs of the machine fingerprint and a
// coarse time bucket. A challenge is valid for its own bucket and the
// one before it, so a response obtained near a bucket boundary still
// works.
const (
	breakGlassBucket       = 10 * time.Minute
	breakGlassChallengeCtx = "arca-breakglass-challenge|v1"
	breakGlassResponseCtx  = "arca-breakglass-response|v1"
	breakGlassGroupLen     = 4
	breakGlassGroups       = 3
)

// BreakGlass runs the offline emergency admin path. The operator reads
// the challenge to support, support computes the response from the shared
// derivation, and activation yields a 4-hour token. Each challenge
// activates at most once.
type BreakGlass struct {
	tokens *TokenService
	logger *slog.Logger

	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

// NewBreakGlass creates the break-glass flow on top of the token service.
func NewBreakGlass(tokens *TokenService) *BreakGlass {
	return &BreakGlass{
		tokens: tokens,
		logger: tokens.logger,
		used:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// GenerateChallenge produces the challenge code for the current machine
// and time bucket, formatted for reading over the phone.
func (b *BreakGlass) GenerateChallenge(ctx context.Context) (string, error) {
	fingerprint, err := b.tokens.fingerprints.FingerprintID()
	if err != nil {
		return "", fmt.Errorf("fingerprinting machine: %w", err)
	}
	bucket := b.now().UTC().Truncate(breakGlassBucket).Unix()
	challenge := b.challengeFor(fingerprint, bucket)
	b.tokens.audit(ctx, "admin.breakglass_challenge", "challenge generated", audit.OutcomeSuccess)
	return challenge, nil
}

// ResponseFor derives the expected response for a challenge. Exposed so
// the vendor-side tooling and the tests share one derivation.
func (b *BreakGlass) ResponseFor(challenge string) string {
	mac := hmac.New(sha256.New, b.tokens.signingKey)
	mac.Write([]byte(breakGlassResponseCtx))
	mac.Write([]byte("|"))
	mac.Write([]byte(normalizeChallenge(challenge)))
	return formatGroups(mac.Sum(nil))
}

// Activate validates the challenge/response pair and issues a break-glass
// token capped at four hours. The challenge must belong to the current or
// previous time bucket and must not have been used before. When a break-glass
// token is already active the existing token is returned unchanged.
func (b *BreakGlass) Activate(ctx context.Context, challenge, response string) (*Token, error) {
	fingerprint, err := b.tokens.fingerprints.FingerprintID()
	if err != nil {
		return nil, fmt.Errorf("fingerprinting machine: %w", err)
	}

	normalized := normalizeChallenge(challenge)
	now := b.now().UTC()
	bucket := now.Truncate(breakGlassBucket).Unix()

	valid := false
	for _, candidate := range []int64{bucket, bucket - int64(breakGlassBucket/time.Second)} {
		if hmac.Equal([]byte(normalized), []byte(normalizeChallenge(b.challengeFor(fingerprint, candidate)))) {
			valid = true
			break
		}
	}
	if !valid {
		b.tokens.audit(ctx, "admin.breakglass_activate", "challenge outside validity window", audit.OutcomeDenied)
		return nil, fmt.Errorf("%w: challenge is not valid for this machine and time window", apperrors.ErrChallengeInvalid)
	}

	expected := b.ResponseFor(normalized)
	if !hmac.Equal([]byte(normalizeChallenge(response)), []byte(normalizeChallenge(expected))) {
		b.tokens.audit(ctx, "admin.breakglass_activate", "response mismatch", audit.OutcomeDenied)
		return nil, fmt.Errorf("%w: response does not match challenge", apperrors.ErrChallengeInvalid)
	}

	b.mu.Lock()
	if _, seen := b.used[normalized]; seen {
		b.mu.Unlock()
		b.tokens.audit(ctx, "admin.breakglass_activate", "challenge already used", audit.OutcomeDenied)
		return nil, fmt.Errorf("%w: challenge already used", apperrors.ErrChallengeInvalid)
	}
	b.used[normalized] = now
	b.pruneUsedLocked(now)
	b.mu.Unlock()

	if existing, err := b.tokens.ValidToken(ctx, "*"); err == nil && existing != nil && existing.Method == MethodBreakGlass {
		b.logger.InfoContext(ctx, "break-glass token already active, not extending")
		return existing, nil
	}

	token, err := b.tokens.CreateToken(ctx, MethodBreakGlass, "*", BreakGlassTTL)
	if err != nil {
		return nil, err
	}
	b.tokens.audit(ctx, "admin.breakglass_activate",
		fmt.Sprintf("token issued, expires=%s", token.ExpiresAt.Format(time.RFC3339)),
		audit.OutcomeSuccess)
	return token, nil
}

func (b *BreakGlass) challengeFor(fingerprint string, bucket int64) string {
	mac := hmac.New(sha256.New, b.tokens.signingKey)
	mac.Write([]byte(breakGlassChallengeCtx))
	mac.Write([]byte("|"))
	mac.Write([]byte(fingerprint))
	mac.Write([]byte("|"))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(bucket))
	mac.Write(buf[:])
	return formatGroups(mac.Sum(nil))
}

// pruneUsedLocked drops used-challenge records older than two buckets;
// those challenges can no longer validate anyway.
func (b *BreakGlass) pruneUsedLocked(now time.Time) {
	cutoff := now.Add(-2 * breakGlassBucket)
	for challenge, usedAt := range b.used {
		if usedAt.Before(cutoff) {
			delete(b.used, challenge)
		}
	}
}

// formatGroups renders the first bytes of a digest as hyphenated groups
// over the activation-code charset, e.g. "7XKM-Q4RV-29TB".
func formatGroups(digest []byte) string {
	const charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	total := breakGlassGroupLen * breakGlassGroups
	chars := make([]byte, 0, total)
	for i := 0; len(chars) < total && i < len(digest); i++ {
		chars = append(chars, charset[int(digest[i])%len(charset)])
	}
	groups := make([]string, 0, breakGlassGroups)
	for i := 0; i < len(chars); i += breakGlassGroupLen {
		groups = append(groups, string(chars[i:i+breakGlassGroupLen]))
	}
	return strings.Join(groups, "-")
}

// normalizeChallenge tolerates the ways a challenge gets retyped from a
// phone call: case, hyphens, and spaces between groups.
func normalizeChallenge(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}
