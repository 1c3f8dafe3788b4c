// Package errors defines the domain error taxonomy of the capability
// engine and its HTTP representations. All engine operations surface
// failures as wrapped sentinel errors so callers can branch with
// errors.Is; nothing relies on panics crossing the public API.
package errors

import "errors"

// Domain sentinel errors.
var (
	// ErrValidationFailure is returned when a capability signature or MAC
	// does not verify against the current signing key.
	ErrValidationFailure = errors.New("signature validation failed")

	// ErrNotEntitled is returned when no unexpired capability matches the
	// requested action and scope.
	ErrNotEntitled = errors.New("not entitled")

	// ErrAlreadyRedeemed is returned when an activation code has been
	// consumed before.
	ErrAlreadyRedeemed = errors.New("activation code already redeemed")

	// ErrTamperDetected is returned when the integrity record does not
	// match the capability store file. It is always audited and is never
	// collapsed into ErrNotEntitled.
	ErrTamperDetected = errors.New("tamper detected")

	// ErrStoreIO is returned for file system failures in any persisted
	// store.
	ErrStoreIO = errors.New("store i/o failure")

	// ErrExpiredToken is returned when an admin token exists but its
	// expiry date has passed.
	ErrExpiredToken = errors.New("admin token expired")

	// ErrChallengeInvalid is returned when a break-glass response does not
	// match the expected value or the challenge window has closed.
	ErrChallengeInvalid = errors.New("break-glass challenge expired or invalid")

	// ErrInvalidCode is returned when an activation code fails format or
	// checksum validation before any ledger lookup.
	ErrInvalidCode = errors.New("invalid activation code")

	// ErrUnknownBundle is returned when a bundle identifier has no entry
	// in the bundle table.
	ErrUnknownBundle = errors.New("unknown activation bundle")

	// ErrRateLimited is returned when too many failed redemption attempts
	// have temporarily blocked the caller.
	ErrRateLimited = errors.New("too many attempts")
)
