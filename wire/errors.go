package wire

import "fmt"

// MalformedMessage is returned when a buffer is not a well-formed message of
// the expected kind.
type MalformedMessage struct {
	Kind  string
	Cause error
}

func (e *MalformedMessage) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed %s: %s", e.Kind, e.Cause.Error())
	}
	return fmt.Sprintf("malformed %s", e.Kind)
}

func (e *MalformedMessage) Unwrap() error {
	return e.Cause
}

// ExceptionKind gives the node a stable kind to forward.
func (e *MalformedMessage) ExceptionKind() string {
	return KindMalformedMessage
}

// ProtocolInvariantViolation is returned for a ServiceResponse carrying both a
// result and an exception, or neither.
type ProtocolInvariantViolation struct {
	Service string
	Reason  string
}

func (e *ProtocolInvariantViolation) Error() string {
	return fmt.Sprintf("protocol invariant violated in response for %q: %s", e.Service, e.Reason)
}

func (e *ProtocolInvariantViolation) ExceptionKind() string {
	return KindProtocolInvariantViolation
}

// ArgumentError is returned by the argument binders when the positional
// arguments of a call do not fit the handler.
type ArgumentError struct {
	Position int
	Reason   string
}

func (e *ArgumentError) Error() string {
	if e.Position < 0 {
		return "bad arguments: " + e.Reason
	}
	return fmt.Sprintf("bad argument %d: %s", e.Position, e.Reason)
}

func (e *ArgumentError) ExceptionKind() string {
	return KindArgumentError
}
