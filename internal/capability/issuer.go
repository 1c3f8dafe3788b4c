package capability

import "time"

// Issuer constructs new signed capability records. It has no side effects
// beyond object construction; persistence is the caller's responsibility.
type Issuer struct {
	validator *Validator
	now       func() time.Time
}

// NewIssuer creates an Issuer signing through the given validator.
func NewIssuer(validator *Validator) *Issuer {
	return &Issuer{
		validator: validator,
		now:       time.Now,
	}
}

// NewIssuerWithClock creates an Issuer with an injected clock for tests.
func NewIssuerWithClock(validator *Validator, now func() time.Time) *Issuer {
	return &Issuer{validator: validator, now: now}
}

// Issue stamps the current UTC time as IssuedAt, computes ExpiresAt from
// ttl (zero means permanent), and signs the record.
func (i *Issuer) Issue(action, scope string, ttl time.Duration) Capability {
	issuedAt := i.now().UTC()
	c := Capability{
		Action:   action,
		Scope:    scope,
		IssuedAt: issuedAt,
	}
	if ttl > 0 {
		expires := issuedAt.Add(ttl)
		c.ExpiresAt = &expires
	}
	c.Signature = i.validator.Sign(&c)
	return c
}
