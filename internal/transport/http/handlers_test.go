package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcacli/internal/activation"
	"arcacli/internal/admin"
	"arcacli/internal/audit"
	"arcacli/internal/capability"
	"arcacli/internal/entitlement"
	"arcacli/internal/middleware"
	"arcacli/internal/security"
	"arcacli/pkg/contracts/domain"
)

// testEngine wires the full service stack against a temp directory, the
// same way the application composition root does.
type testEngine struct {
	router      chi.Router
	entitlement *entitlement.Service
	activation  *activation.Service
	tokens      *admin.TokenService
	breakGlass  *admin.BreakGlass
}

func newTestEngine(t *testing.T, production bool) *testEngine {
	t.Helper()
	dir := t.TempDir()
	logger := slog.Default()

	keys, err := security.DeriveKeys([]byte("transport-test-seed"))
	require.NoError(t, err)
	fingerprints := security.NewFingerprintManager()

	auditor := audit.NewLogger(filepath.Join(dir, "audit.log"))
	validator, err := capability.NewValidator(keys.SigningKey)
	require.NoError(t, err)
	issuer := capability.NewIssuer(validator)
	store := capability.NewStore(filepath.Join(dir, "capabilities.dat"), keys.EncryptionKey)
	tamper := capability.NewTamperDetector(store.Path(), filepath.Join(dir, "integrity.dat"), keys.SigningKey)

	engine := entitlement.NewService(validator, issuer, store, tamper, auditor, entitlement.Options{})

	codec, err := activation.NewCodec(keys.SigningKey)
	require.NoError(t, err)
	ledger := activation.NewLedger(filepath.Join(dir, "redeemed.json"))
	activationSvc := activation.NewService(codec, ledger, engine, auditor, activation.Config{})

	tokens := admin.NewTokenService(filepath.Join(dir, "admin.token"), keys, fingerprints, auditor)
	provider := admin.NewProvider(tokens, production)
	breakGlass := admin.NewBreakGlass(tokens)
	diagnostics := admin.NewDiagnosticsService(tokens, fingerprints, engine, auditor)

	reqValidator := middleware.NewRequestValidator(logger)
	entitlementHandler := NewEntitlementHandler(engine, reqValidator, logger)
	activationHandler := NewActivationHandler(activationSvc, reqValidator, logger)
	adminHandler := NewAdminHandler(tokens, provider, breakGlass, diagnostics, reqValidator, logger)
	auditHandler := NewAuditHandler(auditor, reqValidator, logger)
	healthHandler := NewHealthHandler(engine, logger)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Mount("/health", healthHandler.Routes())
		r.Mount("/entitlement", entitlementHandler.Routes())
		r.Mount("/activation", activationHandler.Routes())
		r.Mount("/admin", adminHandler.Routes())
		r.Group(func(r chi.Router) {
			r.Use(adminHandler.RequireAdmin)
			r.Mount("/admin/gated", adminHandler.GatedRoutes())
			r.Mount("/admin/gated/activation", activationHandler.AdminRoutes())
			r.Mount("/admin/gated/audit", auditHandler.Routes())
		})
	})

	return &testEngine{
		router:      router,
		entitlement: engine,
		activation:  activationSvc,
		tokens:      tokens,
		breakGlass:  breakGlass,
	}
}

func (e *testEngine) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:50000"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestCheckNotEntitled(t *testing.T) {
	e := newTestEngine(t, true)

	rec := e.do(t, http.MethodPost, "/api/entitlement/check",
		domain.EntitlementCheckRequest{Action: "save.modify", Scope: "current_game"})

	require.Equal(t, http.StatusOK, rec.Code, "a missing grant is an answer, not an error")
	var resp domain.EntitlementCheckResponse
	decodeInto(t, rec, &resp)
	assert.False(t, resp.Entitled)
	assert.Nil(t, resp.Capability)
}

func TestCheckEntitled(t *testing.T) {
	e := newTestEngine(t, true)
	_, err := e.entitlement.Grant(context.Background(), "save.modify", "current_game", 0)
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/api/entitlement/check",
		domain.EntitlementCheckRequest{Action: "save.modify", Scope: "current_game"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.EntitlementCheckResponse
	decodeInto(t, rec, &resp)
	assert.True(t, resp.Entitled)
	require.NotNil(t, resp.Capability)
	assert.Equal(t, "save.modify", resp.Capability.Action)
}

func TestCheckRejectsBadPayload(t *testing.T) {
	e := newTestEngine(t, true)

	rec := e.do(t, http.MethodPost, "/api/entitlement/check",
		domain.EntitlementCheckRequest{Action: "NOT AN ACTION"})

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestRedeemFlow(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	code, err := e.activation.GenerateCode(ctx, activation.BundleOptimizer)
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/api/activation/redeem",
		domain.RedeemRequest{Code: code, Scope: "current_game"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.RedeemResponse
	decodeInto(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "optimizer", resp.Bundle)
	assert.Len(t, resp.Granted, 2)

	// The grants are immediately visible to the check endpoint.
	check := e.do(t, http.MethodPost, "/api/entitlement/check",
		domain.EntitlementCheckRequest{Action: "optimizer.run", Scope: "current_game"})
	var checkResp domain.EntitlementCheckResponse
	decodeInto(t, check, &checkResp)
	assert.True(t, checkResp.Entitled)

	// Second redemption of the same code conflicts.
	rec = e.do(t, http.MethodPost, "/api/activation/redeem",
		domain.RedeemRequest{Code: code, Scope: "current_game"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRedeemGarbageCode(t *testing.T) {
	e := newTestEngine(t, true)

	rec := e.do(t, http.MethodPost, "/api/activation/redeem",
		domain.RedeemRequest{Code: "ARCA-2222-3333-4444", Scope: "current_game"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestAdminGateBlocksWithoutOverride(t *testing.T) {
	e := newTestEngine(t, true)

	paths := []struct {
		method string
		path   string
		body   any
	}{
		{method: http.MethodPost, path: "/api/admin/gated/token", body: domain.AdminTokenRequest{Scope: "*"}},
		{method: http.MethodGet, path: "/api/admin/gated/diagnostics"},
		{method: http.MethodPost, path: "/api/admin/gated/activation/generate", body: domain.GenerateCodeRequest{Bundle: "pro"}},
		{method: http.MethodGet, path: "/api/admin/gated/audit"},
	}
	for _, tt := range paths {
		rec := e.do(t, tt.method, tt.path, tt.body)
		assert.Equal(t, http.StatusForbidden, rec.Code, tt.path)
	}
}

func TestAdminGateOpensWithToken(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	_, err := e.tokens.CreateToken(ctx, admin.MethodIssuedToken, "*", time.Hour)
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/api/admin/gated/diagnostics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/admin/gated/activation/generate",
		domain.GenerateCodeRequest{Bundle: "pro"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.GenerateCodeResponse
	decodeInto(t, rec, &resp)
	assert.Contains(t, resp.Code, "ARCA-")
}

func TestAdminStatusUngated(t *testing.T) {
	e := newTestEngine(t, true)

	rec := e.do(t, http.MethodGet, "/api/admin/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.AdminStatusResponse
	decodeInto(t, rec, &resp)
	assert.False(t, resp.Active)
}

func TestBreakGlassBootstrap(t *testing.T) {
	e := newTestEngine(t, true)

	rec := e.do(t, http.MethodGet, "/api/admin/breakglass/challenge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var challengeResp domain.BreakGlassChallengeResponse
	decodeInto(t, rec, &challengeResp)
	require.NotEmpty(t, challengeResp.Challenge)

	response := e.breakGlass.ResponseFor(challengeResp.Challenge)
	rec = e.do(t, http.MethodPost, "/api/admin/breakglass/activate",
		domain.BreakGlassActivateRequest{Challenge: challengeResp.Challenge, Response: response})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// The break-glass token opens the gated surface.
	rec = e.do(t, http.MethodGet, "/api/admin/gated/diagnostics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBreakGlassWrongResponse(t *testing.T) {
	e := newTestEngine(t, true)

	rec := e.do(t, http.MethodGet, "/api/admin/breakglass/challenge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var challengeResp domain.BreakGlassChallengeResponse
	decodeInto(t, rec, &challengeResp)

	rec = e.do(t, http.MethodPost, "/api/admin/breakglass/activate",
		domain.BreakGlassActivateRequest{Challenge: challengeResp.Challenge, Response: "AAAA-BBBB-CCCC"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenIssuanceOverGatedEndpoint(t *testing.T) {
	e := newTestEngine(t, false)
	t.Setenv(admin.EnvOverrideVar, "1")

	rec := e.do(t, http.MethodPost, "/api/admin/gated/token",
		domain.AdminTokenRequest{Scope: "current_game", TTLSeconds: 3600})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view domain.AdminTokenView
	decodeInto(t, rec, &view)
	assert.Equal(t, "current_game", view.Scope)
	assert.Equal(t, string(admin.MethodIssuedToken), view.Method)
	assert.Equal(t, time.Hour, view.ExpiresAt.Sub(view.IssuedAt))
}

func TestAuditEndpointListsEntries(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	_, err := e.tokens.CreateToken(ctx, admin.MethodIssuedToken, "*", time.Hour)
	require.NoError(t, err)
	_, err = e.entitlement.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/api/admin/gated/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.AuditLogResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, len(resp.Entries), resp.Count)
	require.NotEmpty(t, resp.Entries)

	actions := make([]string, 0, len(resp.Entries))
	for _, entry := range resp.Entries {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "admin.token_issued")
	assert.Contains(t, actions, "entitlement.grant")
}

func TestAuditPurgeEndpoint(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	_, err := e.tokens.CreateToken(ctx, admin.MethodIssuedToken, "*", time.Hour)
	require.NoError(t, err)
	_, err = e.entitlement.Grant(ctx, "save.modify", "current_game", 0)
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/api/admin/gated/audit/purge", domain.AuditPurgeRequest{
		Reason: "support case 4417",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The trail now holds only the purge record itself.
	rec = e.do(t, http.MethodGet, "/api/admin/gated/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.AuditLogResponse
	decodeInto(t, rec, &resp)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "audit.purge", resp.Entries[0].Action)
	assert.Equal(t, "support case 4417", resp.Entries[0].Detail)

	// A missing reason is rejected before anything is truncated.
	rec = e.do(t, http.MethodPost, "/api/admin/gated/audit/purge", domain.AuditPurgeRequest{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestEngine(t, true)

	rec := e.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.IntegrityOK)
	assert.NotEmpty(t, resp.Version)
}
