package client

import (
	"time"

	"github.com/dermesser/zmp/securitymanager"

	zmq "github.com/pebbe/zmq4"
)

// channel is a REQ socket connected to one node. It is not safe for
// concurrent use; the connection cache hands each one to a single caller.
type channel struct {
	address  string
	socket   *zmq.Socket
	lastUsed time.Time
}

func newChannel(address string, security *securitymanager.ClientSecurityManager, timeout time.Duration) (*channel, error) {
	socket, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		return nil, transportError(err)
	}

	if err := security.ApplyToClientSocket(socket); err != nil {
		socket.Close()
		return nil, &RequestError{status: StatusNetworkError, err: err}
	}

	socket.SetIpv6(true)
	socket.SetLinger(0)
	socket.SetReconnectIvl(100 * time.Millisecond)

	// fail sends to an unreachable node instead of queueing them
	socket.SetImmediate(true)

	// a timed out request does not wedge the socket, and a late reply to it
	// is never taken for the reply to the next one
	socket.SetReqRelaxed(1)
	socket.SetReqCorrelate(1)

	c := &channel{address: address, socket: socket, lastUsed: time.Now()}
	c.setTimeout(timeout)

	if err := socket.Connect(address); err != nil {
		socket.Close()
		return nil, transportError(err)
	}
	return c, nil
}

func (c *channel) setTimeout(timeout time.Duration) {
	c.socket.SetSndtimeo(timeout)
	c.socket.SetRcvtimeo(timeout)
}

// roundTrip sends one request and waits for its reply.
func (c *channel) roundTrip(request []byte) ([]byte, error) {
	c.lastUsed = time.Now()

	if _, err := c.socket.SendBytes(request, 0); err != nil {
		return nil, transportError(err)
	}

	reply, err := c.socket.RecvBytes(0)
	if err != nil {
		return nil, transportError(err)
	}
	return reply, nil
}

func (c *channel) close() {
	c.socket.Close()
}
