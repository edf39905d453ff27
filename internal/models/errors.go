package models

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrRouteNotFound           = errors.New("route not found")
	ErrRouteInactive           = errors.New("route is not accepting bookings")
	ErrInvalidTransition       = errors.New("order state not allowed")
	ErrSeatsExhausted          = errors.New("no seats available")
	ErrSeatTaken               = errors.New("seat already booked")
	ErrAmountMismatch          = errors.New("amount does not match order total")
	ErrGatewaySignatureInvalid = errors.New("gateway signature invalid")
	ErrGatewayBusinessFailure  = errors.New("gateway reported payment failure")
	ErrDownstreamUnavailable   = errors.New("downstream service unavailable")
	ErrValidation              = errors.New("validation failed")
)

// ValidationError reports malformed or missing input for one field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	if e.Msg == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// TransitionError names the state an order was in when a guard rejected it.
type TransitionError struct {
	OrderID string
	Current string
	Want    []string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s is %s, expected one of %v", e.OrderID, e.Current, e.Want)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
