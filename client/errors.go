package client

import (
	"errors"
	"fmt"

	"github.com/dermesser/zmp/wire"
)

// UnknownServiceError is returned when no provider serves the service, or
// the contacted node does not provide it (anymore).
type UnknownServiceError struct {
	Service string

	// empty when no provider was contacted
	Node string
}

func (e *UnknownServiceError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("No provider for service %s", e.Service)
	}
	return fmt.Sprintf("Node %s does not provide service %s", e.Node, e.Service)
}

// RemoteServiceError is returned when the provider failed the call.
type RemoteServiceError struct {
	Service string
	Node    string
	Kind    string
	Message string

	// only set when the node forwards traces
	Trace []byte
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("%s failed on node %s: %s: %s", e.Service, e.Node, e.Kind, e.Message)
}

// Unwrap returns the error registered for Kind with wire.RegisterKind, so
// errors.As and errors.Is see the typed remote error.
func (e *RemoteServiceError) Unwrap() error {
	return wire.Rebuild(wire.NewException(e.Kind, e.Message, e.Trace))
}

// IsUnknownService reports whether err means the service could not be
// reached. A timeout counts: the provider may have died without unpublishing.
func IsUnknownService(err error) bool {
	var unknown *UnknownServiceError
	if errors.As(err, &unknown) {
		return true
	}

	var requestErr *RequestError
	return errors.As(err, &requestErr) && requestErr.Status() == StatusTimeout
}
