package model

import "errors"

// Failure taxonomy shared across the store, auth, and transport layers.
// Callers match with errors.Is; the HTTP and channel layers translate these
// into status codes and error frames.
var (
	ErrDuplicateBus       = errors.New("bus number already registered")
	ErrInvalidCredentials = errors.New("incorrect bus_number or password")
	ErrInvalidToken       = errors.New("could not validate credentials")
	ErrUnknownBus         = errors.New("bus not registered")
	ErrUnknownRoute       = errors.New("route not found")
	ErrStoreUnavailable   = errors.New("store unavailable")
)

// MalformedMessageError marks an inbound channel frame that failed decoding
// or schema validation. It is reported to the sender and never closes the
// channel.
type MalformedMessageError struct {
	Reason string
	Cause  error
}

func (e *MalformedMessageError) Error() string {
	if e.Cause != nil {
		return "malformed message: " + e.Reason + ": " + e.Cause.Error()
	}
	return "malformed message: " + e.Reason
}

func (e *MalformedMessageError) Unwrap() error { return e.Cause }
