package client

import (
	"syscall"

	zmq "github.com/pebbe/zmq4"
)

// Status classifies a transport level failure.
type Status int

const (
	StatusUnknown Status = iota

	// sending or receiving did not complete within the call timeout
	StatusTimeout

	// the socket could not be created, configured or connected
	StatusNetworkError

	// the request could not be encoded
	StatusRequestError

	// the node answered with something that is not a valid response
	StatusProtocolError
)

func (s Status) String() string {
	switch s {
	case StatusTimeout:
		return "STATUS_TIMEOUT"
	case StatusNetworkError:
		return "STATUS_CLIENT_NETWORK_ERROR"
	case StatusRequestError:
		return "STATUS_CLIENT_REQUEST_ERROR"
	case StatusProtocolError:
		return "STATUS_PROTOCOL_ERROR"
	default:
		return "STATUS_UNKNOWN"
	}
}

// RequestError is a call that failed before a response was decoded.
type RequestError struct {
	status Status
	err    error
}

func (e *RequestError) Error() string {
	if e.err != nil {
		return e.status.String() + ": " + e.err.Error()
	}
	return e.status.String()
}

func (e *RequestError) Unwrap() error {
	return e.err
}

func (e *RequestError) Status() Status {
	return e.status
}

// Message returns the underlying error message, such as "resource
// temporarily unavailable" for a timeout.
func (e *RequestError) Message() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

// transportError classifies a socket error
func transportError(err error) *RequestError {
	status := StatusNetworkError

	switch typed := err.(type) {
	case zmq.Errno:
		if syscall.Errno(typed) == syscall.EAGAIN {
			status = StatusTimeout
		}
	case syscall.Errno:
		if typed == syscall.EAGAIN {
			status = StatusTimeout
		}
	}
	return &RequestError{status: status, err: err}
}
