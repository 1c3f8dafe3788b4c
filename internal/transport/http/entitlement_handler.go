package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"arcacli/internal/entitlement"
	apperrors "arcacli/internal/errors"
	"arcacli/internal/infrastructure"
	"arcacli/internal/middleware"
	"arcacli/pkg/contracts/domain"
)

// EntitlementHandler exposes the capability check and maintenance
// operations over the local API.
type EntitlementHandler struct {
	service   *entitlement.Service
	validator *middleware.RequestValidator
	logger    *slog.Logger
}

// NewEntitlementHandler creates the entitlement handler.
func NewEntitlementHandler(service *entitlement.Service, validator *middleware.RequestValidator, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		service:   service,
		validator: validator,
		logger:    logger.With(slog.String("handler", "entitlement")),
	}
}

// Routes returns the chi router for entitlement endpoints.
func (h *EntitlementHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/check", h.Check)
	r.Post("/purge", h.Purge)
	return r
}

// Check handles POST /api/entitlement/check. A missing grant is a
// regular answer, not an error; hard failures such as tamper detection
// surface as problems.
func (h *EntitlementHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("entitlement-handler")
	ctx, span := tracer.Start(ctx, "entitlement_handler.check",
		trace.WithAttributes(
			attribute.String("http.route", "/api/entitlement/check"),
		),
	)
	defer span.End()

	var req domain.EntitlementCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderProblem(w, r, fmt.Errorf("%w: body is not valid JSON", apperrors.ErrValidationFailure))
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		renderProblem(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("entitlement.action", req.Action),
		attribute.String("entitlement.scope", req.Scope),
	)

	record, err := h.service.Check(ctx, req.Action, req.Scope)
	resp := domain.EntitlementCheckResponse{
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now().UTC(),
	}
	switch {
	case err == nil:
		resp.Entitled = true
		resp.Capability = capabilityView(record)
	case errors.Is(err, apperrors.ErrNotEntitled):
		resp.Entitled = false
	default:
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "entitlement check failed",
			slog.String("action", req.Action),
			slog.String("error", err.Error()),
		)
		renderProblem(w, r, err)
		return
	}

	span.SetAttributes(attribute.Bool("entitlement.granted", resp.Entitled))
	render.JSON(w, r, resp)
}

// Purge handles POST /api/entitlement/purge, removing expired records
// from the store.
func (h *EntitlementHandler) Purge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	removed, err := h.service.PurgeExpired(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "purge failed", slog.String("error", err.Error()))
		renderProblem(w, r, err)
		return
	}

	render.JSON(w, r, domain.PurgeResponse{
		Removed:   removed,
		Timestamp: time.Now().UTC(),
	})
}
