package wire

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dermesser/zmp/proto"

	pb "github.com/gogo/protobuf/proto"
	"github.com/nuclio/errors"
)

const (
	// Reserved kind sent by a node that does not provide the requested name.
	KindUnknownService             = "UnknownService"
	KindMalformedMessage           = "MalformedMessage"
	KindProtocolInvariantViolation = "ProtocolInvariantViolation"
	KindArgumentError              = "ArgumentError"
	KindPanic                      = "Panic"
)

// How many levels of a wrapped error are rendered into a stack trace.
const traceDepth = 10

// Kinder is implemented by errors that want to choose the kind they are
// reported with. Without it the Go type name of the root cause is used.
type Kinder interface {
	ExceptionKind() string
}

// NewException builds an exception from its parts. An empty trace is left absent.
func NewException(kind, message string, trace []byte) *proto.ServiceException {
	exc := &proto.ServiceException{ExcKind: pb.String(kind), ExcMessage: []byte(message)}
	if len(trace) > 0 {
		exc.StackTrace = trace
	}
	return exc
}

// FromError converts an error returned by a handler. withTrace controls
// whether the error stack is forwarded.
func FromError(err error, withTrace bool) *proto.ServiceException {
	var trace []byte
	if withTrace {
		trace = []byte(errors.GetErrorStackString(err, traceDepth))
	}
	return NewException(KindOf(err), err.Error(), trace)
}

// FromPanic converts a recovered panic value; stack is usually debug.Stack().
func FromPanic(value interface{}, stack []byte, withTrace bool) *proto.ServiceException {
	if err, ok := value.(error); ok {
		exc := FromError(err, false)
		if withTrace {
			exc.StackTrace = stack
		}
		return exc
	}
	if !withTrace {
		stack = nil
	}
	return NewException(KindPanic, fmt.Sprint(value), stack)
}

// KindOf returns the exception kind an error is reported with.
func KindOf(err error) string {
	if k, ok := err.(Kinder); ok {
		return k.ExceptionKind()
	}

	root := errors.RootCause(err)
	if root == nil {
		root = err
	}
	if k, ok := root.(Kinder); ok {
		return k.ExceptionKind()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", root), "*")
}

var kinds = struct {
	sync.RWMutex
	builders map[string]func(message string) error
}{builders: make(map[string]func(message string) error)}

// RegisterKind installs a constructor that rebuilds a local error value for
// exceptions of the given kind. Clients use it to hand out typed errors.
func RegisterKind(kind string, build func(message string) error) {
	kinds.Lock()
	defer kinds.Unlock()

	if build == nil {
		delete(kinds.builders, kind)
		return
	}
	kinds.builders[kind] = build
}

// Rebuild returns the registered typed error for exc, or nil.
func Rebuild(exc *proto.ServiceException) error {
	kinds.RLock()
	build, ok := kinds.builders[exc.GetExcKind()]
	kinds.RUnlock()

	if !ok {
		return nil
	}
	return build(string(exc.GetExcMessage()))
}
