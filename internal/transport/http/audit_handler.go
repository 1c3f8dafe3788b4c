package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"arcacli/internal/audit"
	apperrors "arcacli/internal/errors"
	"arcacli/internal/middleware"
	"arcacli/pkg/contracts/domain"
)

// AuditHandler exposes the append-only audit trail: read for anyone on
// the loopback, purge only behind the admin gate.
type AuditHandler struct {
	auditor   *audit.Logger
	validator *middleware.RequestValidator
	logger    *slog.Logger
}

// NewAuditHandler creates the audit handler.
func NewAuditHandler(auditor *audit.Logger, validator *middleware.RequestValidator, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		auditor:   auditor,
		validator: validator,
		logger:    logger.With(slog.String("handler", "audit")),
	}
}

// Routes returns the chi router for audit endpoints. The caller mounts
// this behind the admin gate.
func (h *AuditHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/purge", h.Purge)
	return r
}

// List handles GET /api/admin/audit, returning the full trail oldest
// first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entries, err := h.auditor.ReadAll(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit read failed", slog.String("error", err.Error()))
		renderProblem(w, r, err)
		return
	}

	views := make([]domain.AuditEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, domain.AuditEntryView{
			ID:        entry.ID,
			Timestamp: entry.Timestamp,
			Action:    entry.Action,
			Detail:    entry.Detail,
			Outcome:   string(entry.Outcome),
		})
	}

	render.JSON(w, r, domain.AuditLogResponse{
		Entries: views,
		Count:   len(views),
	})
}

// Purge handles POST /api/admin/audit/purge, truncating the trail down
// to a single entry recording the purge itself.
func (h *AuditHandler) Purge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.AuditPurgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderProblem(w, r, fmt.Errorf("%w: body is not valid JSON", apperrors.ErrValidationFailure))
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		renderProblem(w, r, err)
		return
	}

	if err := h.auditor.Purge(ctx, req.Reason); err != nil {
		h.logger.ErrorContext(ctx, "audit purge failed", slog.String("error", err.Error()))
		renderProblem(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "audit trail purged", slog.String("reason", req.Reason))
	render.Status(r, http.StatusNoContent)
	render.NoContent(w, r)
}
