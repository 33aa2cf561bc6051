package node

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/dermesser/zmp/log"
	"github.com/dermesser/zmp/proto"
	"github.com/dermesser/zmp/supervisor"
	"github.com/dermesser/zmp/wire"

	zmq "github.com/pebbe/zmq4"
)

// cycle is the supervisor loop: serve at most one request, then update.
func (n *Node) cycle(delta time.Duration) (int, bool) {
	polled, err := n.poller.Poll(n.pollTimeout)

	switch {
	case err != nil && !isInterrupted(err):
		if code, done := n.pollFailed(err); done {
			return code, true
		}
	case len(polled) > 0:
		n.serve()
	}

	return n.update(delta)
}

// pollFailed ends the loop once the zmq context is gone. Other errors are
// retried after one poll interval.
func (n *Node) pollFailed(err error) (int, bool) {
	if isTerminated(err) {
		n.logger.ErrorWith("Context terminated, stopping", "address", n.address)
		return supervisor.ExitPanic, true
	}

	n.logger.WarnWith("Polling failed", "err", err.Error())
	time.Sleep(n.pollTimeout)
	return 0, false
}

func (n *Node) serve() {
	request, err := n.socket.RecvBytes(zmq.DONTWAIT)
	if err != nil {
		n.logger.WarnWith("Failed to receive request", "err", err.Error())
		return
	}

	// a REP socket must answer every request it received
	if _, err := n.socket.SendBytes(n.handle(request), 0); err != nil {
		n.logger.WarnWith("Failed to send response", "err", err.Error())
	}
}

// handle turns one encoded request into one encoded response. It never fails:
// every problem is answered with an exception.
func (n *Node) handle(request []byte) []byte {
	token := log.GetLogToken()

	rq, err := wire.DecodeRequest(request)
	if err != nil {
		n.logger.WarnWith("Malformed request", "token", token, "size", len(request), "err", err.Error())
		return n.encode(wire.NewFailure("", wire.FromError(err, false)), token)
	}

	service := rq.GetService()

	if builtin, found := n.builtins()[service]; found {
		n.logger.DebugWith("Built-in call", "token", token, "service", service)
		return n.encode(n.call(n.newContext(service, token, nil, nil, nil), builtin), token)
	}

	p, found := n.find(service)
	if !found {
		n.logger.WarnWith("Unknown service requested", "token", token, "service", service)
		exc := wire.NewException(wire.KindUnknownService,
			fmt.Sprintf("Node %s does not provide %s", n.name, service), nil)
		return n.encode(wire.NewFailure(service, exc), token)
	}

	args, err := wire.DecodeArgs(rq.GetArgs())
	if err != nil {
		return n.encode(wire.NewFailure(service, wire.FromError(err, false)), token)
	}
	kwargs, err := wire.DecodeKwargs(rq.GetKwargs())
	if err != nil {
		return n.encode(wire.NewFailure(service, wire.FromError(err, false)), token)
	}

	ctx := n.newContext(service, token, args, kwargs, p.owner)
	if n.rpcLog {
		ctx.rpclog(logRequest, len(rq.GetArgs())+len(rq.GetKwargs()), logString(rq.GetArgs()))
	}

	n.logger.DebugWith("Calling", "token", token, "service", service)
	return n.encode(n.call(ctx, p.handler), token)
}

// call invokes handler and builds the response, containing panics
func (n *Node) call(ctx *Context, handler Handler) (response *proto.ServiceResponse) {
	defer func() {
		if recovered := recover(); recovered != nil {
			stack := debug.Stack()

			ctx.logger.ErrorWith("Handler panicked", "panic", fmt.Sprint(recovered), "stack", string(stack))
			exc := wire.FromPanic(recovered, stack, n.forwardTraces)
			ctx.rpclog(logError, len(exc.GetExcMessage()), string(exc.GetExcMessage()))
			response = wire.NewFailure(ctx.service, exc)
		}
	}()

	result, err := handler(ctx)
	if err != nil {
		ctx.logger.DebugWith("Handler failed", "err", err.Error())
		ctx.rpclog(logError, len(err.Error()), err.Error())
		return wire.NewFailure(ctx.service, wire.FromError(err, n.forwardTraces))
	}

	payload, err := wire.EncodeResult(result)
	if err != nil {
		ctx.logger.WarnWith("Failed to encode result", "err", err.Error())
		return wire.NewFailure(ctx.service, wire.FromError(err, n.forwardTraces))
	}

	ctx.rpclog(logResponse, len(payload), logString(payload))
	return wire.NewResult(ctx.service, payload)
}

func (n *Node) encode(response *proto.ServiceResponse, token string) []byte {
	encoded, err := wire.EncodeResponse(response)
	if err == nil {
		return encoded
	}

	n.logger.ErrorWith("Failed to encode response", "token", token, "err", err.Error())

	// the fallback carries no payload and cannot fail the same way
	encoded, _ = wire.EncodeResponse(wire.NewFailure(response.GetService(), wire.FromError(err, false)))
	return encoded
}
