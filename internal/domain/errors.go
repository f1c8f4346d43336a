package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	// Validation / resource-insufficiency errors: business rejections,
	// safely retryable by the caller after correction.
	ErrInstrumentNotFound = errors.New("invalid_instrument")
	ErrInstrumentInactive = errors.New("instrument_inactive")
	ErrModeNotSupported   = errors.New("mode_not_supported")
	ErrBelowMinNotional   = errors.New("below_minimum_notional")
	ErrInsufficientMargin = errors.New("insufficient_margin")
	ErrLeverageExceedsCap = errors.New("leverage_exceeds_instrument_cap")
	ErrOrderUnfillable    = errors.New("order_unfillable")

	// State-conflict errors: the precondition no longer holds because a
	// race was resolved elsewhere. Callers should re-query, not retry.
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrOrderAlreadyFinal = errors.New("order_already_final")
	ErrPositionNotFound  = errors.New("position_not_found")
	ErrPriceUnavailable  = errors.New("price_unavailable")

	// Fatal: an invariant violation was detected inside the matching
	// domain and the instrument refuses new submissions until cleared.
	ErrInstrumentQuarantined = errors.New("instrument_quarantined")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
