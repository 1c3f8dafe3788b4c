package admin

import (
	"context"
	"log/slog"
	"os"

	"arcacli/internal/audit"
	"arcacli/internal/infrastructure"
)

// EnvOverrideVar grants blanket admin rights when set in a non-production
// build. Production builds ignore it entirely.
const EnvOverrideVar = "ARCA_ADMIN_OVERRIDE"

// Provider is the single policy point for answering "does this machine
// currently have admin rights". Every caller goes through it; nothing
// else inspects tokens or the environment.
type Provider struct {
	tokens     *TokenService
	production bool
	getenv     func(string) string
	logger     *slog.Logger
}

// NewProvider creates the admin capability provider. The production flag
// comes from configuration, injected here rather than read from build
// tags, so tests can exercise both behaviors.
func NewProvider(tokens *TokenService, production bool) *Provider {
	return &Provider{
		tokens:     tokens,
		production: production,
		getenv:     os.Getenv,
		logger:     infrastructure.WithComponent(infrastructure.GetLogger(), "admin"),
	}
}

// HasAdminOverride reports whether admin rights are active for the given
// scope. Non-production builds honor the environment override first; all
// builds then fall back to a valid machine-bound token. Any failure along
// the way reads as "no" rather than an error.
func (p *Provider) HasAdminOverride(ctx context.Context, scope string) bool {
	if !p.production && p.getenv(EnvOverrideVar) != "" {
		return true
	}

	token, err := p.tokens.ValidToken(ctx, scope)
	if err != nil {
		p.logger.WarnContext(ctx, "admin token check failed, denying override",
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)
		return false
	}
	return token != nil
}

// RevokeAdmin removes the persisted admin token. The environment override
// is outside its reach; only unsetting the variable clears that path.
func (p *Provider) RevokeAdmin(ctx context.Context, scope string) error {
	return p.tokens.Revoke(ctx, scope)
}

// TryInjectAdminCapabilities materializes an env-override token when the
// override variable is set in a non-production build and no valid token
// exists yet, so diagnostics report the override like any other grant.
// Best effort: it never returns an error and never blocks startup.
func (p *Provider) TryInjectAdminCapabilities(ctx context.Context) {
	if p.production || p.getenv(EnvOverrideVar) == "" {
		return
	}

	existing, err := p.tokens.ValidToken(ctx, "*")
	if err == nil && existing != nil {
		return
	}

	if _, err := p.tokens.CreateToken(ctx, MethodEnvOverride, "*", DefaultTokenTTL); err != nil {
		p.logger.WarnContext(ctx, "could not materialize env-override token",
			slog.String("error", err.Error()),
		)
		return
	}
	p.tokens.audit(ctx, "admin.env_override", "environment override active", audit.OutcomeSuccess)
}
