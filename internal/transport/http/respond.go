package http

import (
	"encoding/json"
	"net/http"

	"arcacli/internal/capability"
	apperrors "arcacli/internal/errors"
	"arcacli/pkg/contracts/domain"
)

// renderProblem maps a domain error onto its RFC 7807 response. The body
// is written directly so the problem+json media type survives; render.JSON
// would stamp its own Content-Type over it.
func renderProblem(w http.ResponseWriter, r *http.Request, err error) {
	problem := apperrors.ProblemFromError(err)
	body, mErr := json.Marshal(problem)
	if mErr != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	w.Write(body)
}

// capabilityView strips a capability down to its externally visible
// fields. The signature stays inside the engine.
func capabilityView(record *capability.Capability) *domain.CapabilityView {
	if record == nil {
		return nil
	}
	view := &domain.CapabilityView{
		Action:   record.Action,
		Scope:    record.Scope,
		IssuedAt: record.IssuedAt,
	}
	if record.ExpiresAt != nil {
		expires := *record.ExpiresAt
		view.ExpiresAt = &expires
	}
	return view
}
