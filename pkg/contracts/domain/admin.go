package domain

import "time"

// AdminTokenView is the externally visible shape of an admin token.
// The machine fingerprint is included; key material never is.
type AdminTokenView struct {
	ID                 string    `json:"id"`
	MachineFingerprint string    `json:"machine_fingerprint"`
	Scope              string    `json:"scope"`
	Method             string    `json:"method"`
	IssuedAt           time.Time `json:"issued_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// AdminStatusResponse answers "is admin currently active for this scope".
type AdminStatusResponse struct {
	Active    bool            `json:"active"`
	Token     *AdminTokenView `json:"token,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// AdminTokenRequest asks for an issued admin token.
type AdminTokenRequest struct {
	Scope      string `json:"scope" validate:"required"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty" validate:"omitempty,gt=0"`
}

// BreakGlassChallengeResponse carries the challenge the operator reads
// to support.
type BreakGlassChallengeResponse struct {
	Challenge string    `json:"challenge"`
	Timestamp time.Time `json:"timestamp"`
}

// BreakGlassActivateRequest submits the support-provided response.
type BreakGlassActivateRequest struct {
	Challenge string `json:"challenge" validate:"required"`
	Response  string `json:"response" validate:"required"`
}
