package sip

import "github.com/ghettovoice/sipengine/internal/errorutil"

// Common errors.
const (
	ErrInvalidArgument = errorutil.ErrInvalidArgument
)

// Transport errors.
const (
	// ErrTransportClosed is returned when attempting to use a closed party.
	ErrTransportClosed Error = "transport closed"
	// ErrNoTarget is returned when no target for the message is resolved.
	ErrNoTarget Error = "no target resolved"
	// ErrNoParty is returned when a message has no party to be sent through.
	ErrNoParty Error = "no party attached"
)

// Message errors.
const (
	ErrInvalidMessage  Error = "invalid message"
	ErrMessageTooLarge Error = "message too large"

	errMissHdrs Error = "missing mandatory headers"
)

// ErrEngineClosed is returned when the engine is closed.
const ErrEngineClosed Error = "engine closed"

// Config errors.
const (
	ErrInvalidConfig Error = "invalid config"
)

// Error represents a SIP error.
// See [errorutil.Error].
type Error = errorutil.Error

// NewInvalidArgumentError creates a new error with [ErrInvalidArgument] or
// wraps provided error with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}

func newInvalidMessageError(args ...any) error {
	return errorutil.NewWrapperError(ErrInvalidMessage, args...) //errtrace:skip
}
