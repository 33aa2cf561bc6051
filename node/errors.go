package node

import (
	"fmt"
	"syscall"

	zmq "github.com/pebbe/zmq4"
)

// BindFailure is returned by Start when the endpoint could not be bound.
// The node does not start.
type BindFailure struct {
	Address string
	Err     error
}

func (e *BindFailure) Error() string {
	return fmt.Sprintf("Failed to bind %s: %s", e.Address, e.Err)
}

func (e *BindFailure) Unwrap() error {
	return e.Err
}

func isNotExist(err error) bool {
	return errnoIs(err, syscall.ENOENT)
}

func isInterrupted(err error) bool {
	return errnoIs(err, syscall.EINTR)
}

func isTerminated(err error) bool {
	return errnoIs(err, syscall.Errno(zmq.ETERM))
}

// zmq reports system errors as its own Errno type
func errnoIs(err error, errno syscall.Errno) bool {
	switch typed := err.(type) {
	case zmq.Errno:
		return syscall.Errno(typed) == errno
	case syscall.Errno:
		return typed == errno
	}
	return false
}
