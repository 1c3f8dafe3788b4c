package admin

import (
	"context"
	"strings"
	"time"

	"arcacli/internal/audit"
	"arcacli/internal/security"
)

// EngineStatus is the slice of the entitlement engine diagnostics needs.
type EngineStatus interface {
	IntegrityOK(ctx context.Context) (bool, error)
	StoreSize(ctx context.Context) (int, error)
}

// AuditReader is the slice of the audit logger diagnostics needs.
type AuditReader interface {
	ReadAll(ctx context.Context) ([]audit.Entry, error)
	Count(ctx context.Context) (int, error)
}

// Diagnostics is a support-facing snapshot of the engine state. It never
// carries key material, signatures, or raw activation codes.
type Diagnostics struct {
	MachineFingerprint string     `json:"machine_fingerprint"`
	GeneratedAt        time.Time  `json:"generated_at"`
	TokenPresent       bool       `json:"token_present"`
	TokenValid         bool       `json:"token_valid"`
	TokenScope         string     `json:"token_scope,omitempty"`
	TokenMethod        Method     `json:"token_method,omitempty"`
	TokenExpiresAt     *time.Time `json:"token_expires_at,omitempty"`
	StoreIntegrityOK   bool       `json:"store_integrity_ok"`
	StoreSize          int        `json:"store_size"`
	AuditEntries       int        `json:"audit_entries"`
	LastAdminAction    *time.Time `json:"last_admin_action,omitempty"`
}

// DiagnosticsService aggregates state from the token service, the engine,
// and the audit log into one report.
type DiagnosticsService struct {
	tokens       *TokenService
	fingerprints *security.FingerprintManager
	engine       EngineStatus
	auditLog     AuditReader
	now          func() time.Time
}

// NewDiagnosticsService wires the diagnostics report sources together.
func NewDiagnosticsService(tokens *TokenService, fingerprints *security.FingerprintManager, engine EngineStatus, auditLog AuditReader) *DiagnosticsService {
	return &DiagnosticsService{
		tokens:       tokens,
		fingerprints: fingerprints,
		engine:       engine,
		auditLog:     auditLog,
		now:          time.Now,
	}
}

// Report builds the diagnostics snapshot. Individual source failures
// degrade the report rather than failing it; support tooling prefers a
// partial picture over none.
func (d *DiagnosticsService) Report(ctx context.Context) (*Diagnostics, error) {
	report := &Diagnostics{
		GeneratedAt: d.now().UTC(),
	}

	if fingerprint, err := d.fingerprints.FingerprintID(); err == nil {
		report.MachineFingerprint = fingerprint
	}

	if token, err := d.tokens.CurrentToken(ctx); err == nil && token != nil {
		report.TokenPresent = true
		report.TokenScope = token.Scope
		report.TokenMethod = token.Method
		expires := token.ExpiresAt.UTC()
		report.TokenExpiresAt = &expires
		report.TokenValid = !token.IsExpired(d.now()) && token.MachineFingerprint == report.MachineFingerprint
	}

	if ok, err := d.engine.IntegrityOK(ctx); err == nil {
		report.StoreIntegrityOK = ok
	}
	if size, err := d.engine.StoreSize(ctx); err == nil {
		report.StoreSize = size
	}

	if count, err := d.auditLog.Count(ctx); err == nil {
		report.AuditEntries = count
	}
	if entries, err := d.auditLog.ReadAll(ctx); err == nil {
		for i := len(entries) - 1; i >= 0; i-- {
			if strings.HasPrefix(entries[i].Action, "admin.") {
				ts := entries[i].Timestamp.UTC()
				report.LastAdminAction = &ts
				break
			}
		}
	}

	return report, nil
}
