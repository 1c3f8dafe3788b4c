// Package domain defines the request and response payloads of the local
// entitlement API. Handlers alias these types rather than declaring
// their own so the UI and the engine share one contract.
package domain

import "time"

// CapabilityView is the externally visible shape of a granted
// capability. Signatures never leave the engine.
type CapabilityView struct {
	Action    string     `json:"action"`
	Scope     string     `json:"scope,omitempty"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// EntitlementCheckRequest asks whether an action is granted for a scope.
type EntitlementCheckRequest struct {
	Action string `json:"action" validate:"required,action"`
	Scope  string `json:"scope,omitempty" validate:"omitempty,scope"`
}

// EntitlementCheckResponse reports the outcome of a capability check.
type EntitlementCheckResponse struct {
	Entitled   bool            `json:"entitled"`
	Capability *CapabilityView `json:"capability,omitempty"`
	TraceID    string          `json:"trace_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PurgeResponse reports how many expired records a purge removed.
type PurgeResponse struct {
	Removed   int       `json:"removed"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditEntryView mirrors one audit log line.
type AuditEntryView struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Outcome   string    `json:"outcome"`
}

// AuditLogResponse wraps the full audit trail.
type AuditLogResponse struct {
	Entries []AuditEntryView `json:"entries"`
	Count   int              `json:"count"`
}

// AuditPurgeRequest asks to truncate the audit trail. The reason is
// recorded as the first entry of the purged log.
type AuditPurgeRequest struct {
	Reason string `json:"reason" validate:"required,max=256"`
}
