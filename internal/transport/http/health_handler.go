package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"arcacli/internal/entitlement"
	"arcacli/pkg/contracts"
)

// HealthHandler reports engine liveness and store health for the UI.
type HealthHandler struct {
	service *entitlement.Service
	logger  *slog.Logger
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(service *entitlement.Service, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status      string    `json:"status"`
	Version     string    `json:"version"`
	IntegrityOK bool      `json:"integrity_ok"`
	StoreSize   int       `json:"store_size"`
	Timestamp   time.Time `json:"timestamp"`
}

// Routes returns the chi router for health endpoints.
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Health)
	return r
}

// Health handles GET /api/health. Integrity failure degrades the status
// rather than erroring; the UI decides how loudly to surface it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   contracts.Version,
		Timestamp: time.Now().UTC(),
	}

	ok, err := h.service.IntegrityOK(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "integrity probe failed", slog.String("error", err.Error()))
	}
	resp.IntegrityOK = ok
	if !ok {
		resp.Status = "degraded"
	}

	if size, err := h.service.StoreSize(ctx); err == nil {
		resp.StoreSize = size
	}

	if resp.Status != "healthy" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}
