package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"arcacli/internal/activation"
	apperrors "arcacli/internal/errors"
	"arcacli/internal/infrastructure"
	"arcacli/internal/middleware"
	"arcacli/pkg/contracts/domain"
)

// ActivationHandler exposes code redemption and, behind the admin gate,
// code generation and ledger maintenance.
type ActivationHandler struct {
	service   *activation.Service
	validator *middleware.RequestValidator
	logger    *slog.Logger
}

// NewActivationHandler creates the activation handler.
func NewActivationHandler(service *activation.Service, validator *middleware.RequestValidator, logger *slog.Logger) *ActivationHandler {
	return &ActivationHandler{
		service:   service,
		validator: validator,
		logger:    logger.With(slog.String("handler", "activation")),
	}
}

// Routes returns the chi router for the public activation endpoints.
func (h *ActivationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/redeem", h.Redeem)
	return r
}

// AdminRoutes returns the activation endpoints that require the admin
// gate. Mounted under the admin router so the gate applies uniformly.
func (h *ActivationHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/generate", h.GenerateCode)
	r.Get("/ledger", h.LedgerStatus)
	r.Post("/ledger/reset", h.ResetLedger)
	return r
}

// Redeem handles POST /api/activation/redeem.
func (h *ActivationHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("activation-handler")
	ctx, span := tracer.Start(ctx, "activation_handler.redeem",
		trace.WithAttributes(
			attribute.String("http.route", "/api/activation/redeem"),
		),
	)
	defer span.End()

	var req domain.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderProblem(w, r, fmt.Errorf("%w: body is not valid JSON", apperrors.ErrValidationFailure))
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		renderProblem(w, r, err)
		return
	}

	result, err := h.service.Redeem(ctx, req.Code, req.Scope)
	if err != nil {
		span.RecordError(err)
		h.logger.WarnContext(ctx, "redemption failed",
			slog.String("scope", req.Scope),
			slog.String("error", err.Error()),
		)
		renderProblem(w, r, err)
		return
	}

	granted := make([]domain.CapabilityView, 0, len(result.Granted))
	for _, record := range result.Granted {
		granted = append(granted, *capabilityView(record))
	}

	span.SetAttributes(
		attribute.String("activation.bundle", string(result.Bundle)),
		attribute.Int("activation.granted", len(granted)),
	)

	render.JSON(w, r, domain.RedeemResponse{
		Success:   true,
		Bundle:    string(result.Bundle),
		Granted:   granted,
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now().UTC(),
	})
}

// GenerateCode handles POST /api/admin/activation/generate.
func (h *ActivationHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.GenerateCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderProblem(w, r, fmt.Errorf("%w: body is not valid JSON", apperrors.ErrValidationFailure))
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		renderProblem(w, r, err)
		return
	}

	code, err := h.service.GenerateCode(ctx, activation.Bundle(req.Bundle))
	if err != nil {
		renderProblem(w, r, err)
		return
	}

	render.JSON(w, r, domain.GenerateCodeResponse{
		Code:      code,
		Bundle:    req.Bundle,
		Timestamp: time.Now().UTC(),
	})
}

// LedgerStatus handles GET /api/admin/activation/ledger.
func (h *ActivationHandler) LedgerStatus(w http.ResponseWriter, r *http.Request) {
	size, err := h.service.LedgerSize()
	if err != nil {
		renderProblem(w, r, err)
		return
	}
	render.JSON(w, r, domain.LedgerStatusResponse{
		RedeemedCodes: size,
		Timestamp:     time.Now().UTC(),
	})
}

// ResetLedger handles POST /api/admin/activation/ledger/reset.
func (h *ActivationHandler) ResetLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.ResetLedger(ctx); err != nil {
		renderProblem(w, r, err)
		return
	}
	render.Status(r, http.StatusNoContent)
	render.NoContent(w, r)
}
