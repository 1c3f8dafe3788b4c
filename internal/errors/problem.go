package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// Error codes surfaced to the UI.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotEntitled      = "NOT_ENTITLED"
	CodeAlreadyRedeemed  = "ALREADY_REDEEMED"
	CodeTamperDetected   = "TAMPER_DETECTED"
	CodeStoreIO          = "STORE_IO_ERROR"
	CodeExpiredToken     = "EXPIRED_TOKEN"
	CodeChallengeInvalid = "CHALLENGE_INVALID"
	CodeInvalidCode      = "INVALID_CODE"
	CodeUnknownBundle    = "UNKNOWN_BUNDLE"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInternal         = "INTERNAL_ERROR"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface.
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON includes extension members alongside the standard fields.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error.
func NewProblemDetails(status int, problemType, title, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// ProblemFromError maps a domain error to its HTTP problem representation.
// Unrecognized errors map to a generic 500 so internals never leak.
func ProblemFromError(err error) *ProblemDetails {
	switch {
	case errors.Is(err, ErrNotEntitled):
		return NewProblemDetails(http.StatusForbidden, CodeNotEntitled, "Not entitled", err.Error())
	case errors.Is(err, ErrAlreadyRedeemed):
		return NewProblemDetails(http.StatusConflict, CodeAlreadyRedeemed, "Code already redeemed", err.Error())
	case errors.Is(err, ErrTamperDetected):
		return NewProblemDetails(http.StatusForbidden, CodeTamperDetected, "Tamper detected", err.Error())
	case errors.Is(err, ErrValidationFailure):
		return NewProblemDetails(http.StatusForbidden, CodeValidationFailed, "Validation failed", err.Error())
	case errors.Is(err, ErrExpiredToken):
		return NewProblemDetails(http.StatusUnauthorized, CodeExpiredToken, "Admin token expired", err.Error())
	case errors.Is(err, ErrChallengeInvalid):
		return NewProblemDetails(http.StatusUnauthorized, CodeChallengeInvalid, "Challenge invalid", err.Error())
	case errors.Is(err, ErrInvalidCode):
		return NewProblemDetails(http.StatusBadRequest, CodeInvalidCode, "Invalid activation code", err.Error())
	case errors.Is(err, ErrUnknownBundle):
		return NewProblemDetails(http.StatusBadRequest, CodeUnknownBundle, "Unknown bundle", err.Error())
	case errors.Is(err, ErrRateLimited):
		return NewProblemDetails(http.StatusTooManyRequests, CodeRateLimited, "Too many attempts", err.Error())
	case errors.Is(err, ErrStoreIO):
		return NewProblemDetails(http.StatusInternalServerError, CodeStoreIO, "Storage failure", err.Error())
	default:
		return NewProblemDetails(http.StatusInternalServerError, CodeInternal, "Internal error", "An unexpected error occurred")
	}
}
