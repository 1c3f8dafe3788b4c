package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"arcacli/internal/admin"
	apperrors "arcacli/internal/errors"
	"arcacli/internal/middleware"
	"arcacli/pkg/contracts/domain"
)

// AdminHandler exposes the admin surface: status, token issuance and
// revocation, break-glass, and diagnostics. Everything except status and
// the break-glass bootstrap sits behind RequireAdmin.
type AdminHandler struct {
	tokens      *admin.TokenService
	provider    *admin.Provider
	breakGlass  *admin.BreakGlass
	diagnostics *admin.DiagnosticsService
	validator   *middleware.RequestValidator
	logger      *slog.Logger
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(tokens *admin.TokenService, provider *admin.Provider, breakGlass *admin.BreakGlass, diagnostics *admin.DiagnosticsService, validator *middleware.RequestValidator, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		tokens:      tokens,
		provider:    provider,
		breakGlass:  breakGlass,
		diagnostics: diagnostics,
		validator:   validator,
		logger:      logger.With(slog.String("handler", "admin")),
	}
}

// RequireAdmin rejects requests without an active admin override. Used
// for every endpoint that changes entitlement state out of band.
func (h *AdminHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.provider.HasAdminOverride(r.Context(), "*") {
			renderProblem(w, r, fmt.Errorf("%w: admin access required", apperrors.ErrNotEntitled))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Routes returns the ungated admin endpoints: the status query and the
// break-glass bootstrap path.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.Status)
	r.Get("/breakglass/challenge", h.BreakGlassChallenge)
	r.Post("/breakglass/activate", h.BreakGlassActivate)
	return r
}

// GatedRoutes returns the endpoints that require an active admin
// override.
func (h *AdminHandler) GatedRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/token", h.IssueToken)
	r.Post("/revoke", h.Revoke)
	r.Get("/diagnostics", h.Diagnostics)
	return r
}

// Status handles GET /api/admin/status.
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := domain.AdminStatusResponse{
		Active:    h.provider.HasAdminOverride(ctx, "*"),
		Timestamp: time.Now().UTC(),
	}
	if token, err := h.tokens.ValidToken(ctx, "*"); err == nil && token != nil {
		resp.Token = tokenView(token)
	}
	render.JSON(w, r, resp)
}

// IssueToken handles POST /api/admin/token. Requires an already active
// override; fresh machines bootstrap through break-glass or the
// development environment variable.
func (h *AdminHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.AdminTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderProblem(w, r, fmt.Errorf("%w: body is not valid JSON", apperrors.ErrValidationFailure))
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		renderProblem(w, r, err)
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	token, err := h.tokens.CreateToken(ctx, admin.MethodIssuedToken, req.Scope, ttl)
	if err != nil {
		h.logger.ErrorContext(ctx, "token issuance failed", slog.String("error", err.Error()))
		renderProblem(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, tokenView(token))
}

// Revoke handles POST /api/admin/revoke.
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.provider.RevokeAdmin(ctx, "*"); err != nil {
		renderProblem(w, r, err)
		return
	}
	render.Status(r, http.StatusNoContent)
	render.NoContent(w, r)
}

// BreakGlassChallenge handles GET /api/admin/breakglass/challenge.
func (h *AdminHandler) BreakGlassChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	challenge, err := h.breakGlass.GenerateChallenge(ctx)
	if err != nil {
		renderProblem(w, r, err)
		return
	}
	render.JSON(w, r, domain.BreakGlassChallengeResponse{
		Challenge: challenge,
		Timestamp: time.Now().UTC(),
	})
}

// BreakGlassActivate handles POST /api/admin/breakglass/activate.
func (h *AdminHandler) BreakGlassActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.BreakGlassActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderProblem(w, r, fmt.Errorf("%w: body is not valid JSON", apperrors.ErrValidationFailure))
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		renderProblem(w, r, err)
		return
	}

	token, err := h.breakGlass.Activate(ctx, req.Challenge, req.Response)
	if err != nil {
		h.logger.WarnContext(ctx, "break-glass activation failed", slog.String("error", err.Error()))
		renderProblem(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, tokenView(token))
}

// Diagnostics handles GET /api/admin/diagnostics.
func (h *AdminHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	report, err := h.diagnostics.Report(r.Context())
	if err != nil {
		renderProblem(w, r, err)
		return
	}
	render.JSON(w, r, report)
}

func tokenView(token *admin.Token) *domain.AdminTokenView {
	return &domain.AdminTokenView{
		ID:                 token.ID,
		MachineFingerprint: token.MachineFingerprint,
		Scope:              token.Scope,
		Method:             string(token.Method),
		IssuedAt:           token.IssuedAt,
		ExpiresAt:          token.ExpiresAt,
	}
}
