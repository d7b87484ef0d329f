package command

import "errors"

var (
	// ErrMalformedMessage is returned for payloads that cannot be decoded or
	// are missing required fields.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownOperation is returned when no handler is registered for an action.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrExecutionUnavailable means neither the direct script capability nor
	// any broadcast recipient could take the command.
	ErrExecutionUnavailable = errors.New("execution unavailable")

	// ErrExecutionFailed means the command reached the scene and failed there.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrSuperseded is the close reason sent to a connection replaced by a
	// newer one from the same session.
	ErrSuperseded = errors.New("session superseded")

	// ErrInvalidParams is returned when a handler rejects its parameters.
	ErrInvalidParams = errors.New("invalid parameters")
)

// Code maps an error onto the wire error code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedMessage):
		return "MALFORMED_MESSAGE"
	case errors.Is(err, ErrUnknownOperation):
		return "UNKNOWN_OPERATION"
	case errors.Is(err, ErrInvalidParams):
		return "INVALID_PARAMS"
	case errors.Is(err, ErrExecutionUnavailable):
		return "EXECUTION_UNAVAILABLE"
	case errors.Is(err, ErrExecutionFailed):
		return "EXECUTION_FAILED"
	case errors.Is(err, ErrSuperseded):
		return "SUPERSEDED"
	default:
		return "INTERNAL"
	}
}
