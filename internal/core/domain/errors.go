package domain

import "errors"

var (
	ErrDeviceUnavailable  = errors.New("device unavailable")
	ErrNegotiationFailure = errors.New("negotiation failure")
	ErrConnectivityLoss   = errors.New("connectivity lost")

	ErrUnknownKind    = errors.New("unknown envelope kind")
	ErrMissingAddress = errors.New("missing envelope address")
	ErrInvalidPayload = errors.New("invalid envelope payload")

	ErrInvalidTransition = errors.New("invalid session transition")
	ErrSessionClosed     = errors.New("session closed")
	ErrBusy              = errors.New("a call is already in progress")
)
