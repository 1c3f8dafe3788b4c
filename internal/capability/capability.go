// Package capability implements signed capability records, their
// encrypted-at-rest store, and tamper detection over the store file.
package capability

import (
	"fmt"
	"strings"
	"time"
)

// Capability is a signed grant permitting a named action within a named
// scope, optionally time-limited. Records are immutable once issued: the
// signature covers every signed field, so any mutation invalidates it.
type Capability struct {
	Action    string     `json:"action"`
	Scope     string     `json:"scope"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Signature []byte     `json:"signature"`
}

// IsExpired reports whether the capability has an expiry in the past.
// Permanent capabilities (nil ExpiresAt) never expire. All comparisons are
// in UTC.
func (c *Capability) IsExpired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.UTC().Before(now.UTC())
}

// Matches reports whether the capability covers the given action/scope.
func (c *Capability) Matches(action, scope string) bool {
	return c.Action == action && c.Scope == scope
}

// canonicalBytes returns the byte encoding the signature is computed over.
// The encoding is versioned; changing it invalidates every issued record,
// so it must never change silently.
func (c *Capability) canonicalBytes() []byte {
	expires := "-"
	if c.ExpiresAt != nil {
		expires = c.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	fields := []string{
		"v1",
		c.Action,
		c.Scope,
		c.IssuedAt.UTC().Format(time.RFC3339Nano),
		expires,
	}
	return []byte(strings.Join(fields, "|"))
}

// String implements fmt.Stringer without exposing the signature.
func (c *Capability) String() string {
	if c.ExpiresAt == nil {
		return fmt.Sprintf("%s@%s (permanent)", c.Action, c.Scope)
	}
	return fmt.Sprintf("%s@%s (until %s)", c.Action, c.Scope, c.ExpiresAt.UTC().Format(time.RFC3339))
}
