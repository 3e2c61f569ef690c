package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrContextDone  = errors.New("context cancelled")
	ErrFeedClosed   = errors.New("market data feed closed")
	ErrWSDisconnect = errors.New("websocket disconnected")
)

// ValidationError reports a malformed trade request. The request was rejected
// before any state changed; the caller must fix the named field.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid trade request: %s: %s", e.Field, e.Detail)
}

// RiskLimitRejection reports a well-formed request that violates a risk cap.
// MaxSafeSize is the largest notional that would have passed; the caller may
// retry with a smaller size.
type RiskLimitRejection struct {
	Reason      string
	MaxSafeSize float64
}

func (e *RiskLimitRejection) Error() string {
	return fmt.Sprintf("trade rejected: %s (max safe size %.2f)", e.Reason, e.MaxSafeSize)
}

// AsValidationError unwraps err into a *ValidationError if possible.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// AsRiskLimitRejection unwraps err into a *RiskLimitRejection if possible.
func AsRiskLimitRejection(err error) (*RiskLimitRejection, bool) {
	var rr *RiskLimitRejection
	ok := errors.As(err, &rr)
	return rr, ok
}
