// Package audit provides the append-only log of security-relevant
// decisions: grants, denials, redemptions, tamper detections, and admin
// actions.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies an audit entry.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeDenied         Outcome = "denied"
	OutcomeTamperDetected Outcome = "tamper_detected"
)

// Entry is one audit record. Entries are ordered by write time and are
// never mutated; the only removal path is an explicit, separately audited
// purge.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Outcome   Outcome   `json:"outcome"`
}

// NewEntry builds an entry stamped with the current UTC time.
func NewEntry(action, detail string, outcome Outcome) Entry {
	return Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Detail:    detail,
		Outcome:   outcome,
	}
}
