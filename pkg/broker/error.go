package broker

import (
	"errors"
	"fmt"
)

var (
	ErrConnect             = errors.New("could not connect to gateway")
	ErrNotFound            = errors.New("instrument not found")
	ErrAmbiguousInstrument = errors.New("ambiguous instrument")
	ErrTimeout             = errors.New("timed out waiting for gateway")
	ErrNotImplemented      = errors.New("not implemented")
	ErrSubscription        = errors.New("subscription failed")
	ErrDisconnected        = errors.New("broker disconnected")
	ErrInconsistentState   = errors.New("inconsistent engine state")
	ErrRiskRule            = errors.New("order rejected by risk rule")
	ErrInvalidInstrument   = errors.New("invalid instrument")
	ErrOrderNotFound       = errors.New("order not found")

	errQueueClosed = errors.New("queue closed")
)

// GatewayError is an error code reported by the gateway, as routed to a blocked caller.
type GatewayError struct {
	Code int
	ID   int64
	Msg  string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s [%d]", e.Msg, e.Code)
}

// SubscriptionError wraps the gateway error that failed a first market data subscription.
type SubscriptionError struct {
	Instrument string
	Err        *GatewayError
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Instrument, e.Err)
}

func (e *SubscriptionError) Is(target error) bool {
	return target == ErrSubscription
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}
