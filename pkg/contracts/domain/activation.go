package domain

import "time"

// RedeemRequest submits an activation code for redemption.
type RedeemRequest struct {
	Code  string `json:"code" validate:"required,activation_code"`
	Scope string `json:"scope,omitempty" validate:"omitempty,scope"`
}

// RedeemResponse reports the capabilities granted by a redemption.
type RedeemResponse struct {
	Success   bool             `json:"success"`
	Bundle    string           `json:"bundle"`
	Granted   []CapabilityView `json:"granted"`
	TraceID   string           `json:"trace_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// GenerateCodeRequest asks for a fresh activation code for a bundle.
// Admin only.
type GenerateCodeRequest struct {
	Bundle string `json:"bundle" validate:"required,bundle"`
}

// GenerateCodeResponse carries a freshly generated activation code.
type GenerateCodeResponse struct {
	Code      string    `json:"code"`
	Bundle    string    `json:"bundle"`
	Timestamp time.Time `json:"timestamp"`
}

// LedgerStatusResponse reports the size of the redeemed-code ledger.
type LedgerStatusResponse struct {
	RedeemedCodes int       `json:"redeemed_codes"`
	Timestamp     time.Time `json:"timestamp"`
}
