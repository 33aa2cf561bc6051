package node

import (
	"time"

	"github.com/dermesser/zmp/wire"

	"github.com/nuclio/logger"
)

/*
Context carries one call into a handler: the decoded arguments, the owner the
service was registered with and a logger tagged with the request token.
*/
type Context struct {
	node     *Node
	service  string
	token    string
	args     []interface{}
	kwargs   map[string]interface{}
	owner    interface{}
	logger   logger.Logger
	received time.Time

	// 0 = nothing logged, 1 = request logged, 2 = response logged
	logState int
}

func (n *Node) newContext(service, token string, args []interface{}, kwargs map[string]interface{}, owner interface{}) *Context {
	if args == nil {
		args = []interface{}{}
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}

	return &Context{
		node:     n,
		service:  service,
		token:    token,
		args:     args,
		kwargs:   kwargs,
		owner:    owner,
		logger:   n.logger.GetChild(token),
		received: time.Now(),
	}
}

func (c *Context) Service() string {
	return c.service
}

// NodeID is the name of the node serving the call.
func (c *Context) NodeID() string {
	return c.node.name
}

func (c *Context) Owner() interface{} {
	return c.owner
}

func (c *Context) Logger() logger.Logger {
	return c.logger
}

// Received is when the node picked the request up.
func (c *Context) Received() time.Time {
	return c.received
}

// Args returns the positional arguments as decoded from msgpack.
func (c *Context) Args() []interface{} {
	return c.args
}

func (c *Context) Kwargs() map[string]interface{} {
	return c.kwargs
}

// Bind converts the positional arguments into dst, which must have exactly
// one pointer per argument.
func (c *Context) Bind(dst ...interface{}) error {
	return wire.Bind(c.args, dst...)
}

// Kwarg converts the keyword argument name into dst. It reports false when
// the caller did not pass name.
func (c *Context) Kwarg(name string, dst interface{}) (bool, error) {
	value, found := c.kwargs[name]
	if !found {
		return false, nil
	}

	if err := wire.Convert(value, dst); err != nil {
		return true, &wire.ArgumentError{Position: -1, Reason: name + ": " + err.Error()}
	}
	return true, nil
}
