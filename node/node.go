/*
Package node implements a service provider: a named worker that owns one REP
endpoint and answers requests for the services registered on it.

A node is a supervisor whose loop polls the endpoint, dispatches at most one
request and then runs the per-cycle update callback. Starting a node binds
the endpoint and then publishes its services in the registry; shutting it
down unpublishes before the endpoint is closed, so the registry only ever
points at bound endpoints.

	n := node.New("adder", "", reg)
	n.Provides("add", func(ctx *node.Context) (interface{}, error) {
		var a, b int
		if err := ctx.Bind(&a, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	})
	n.Start(5 * time.Second)
	defer n.Shutdown(true, 5*time.Second)
*/
package node

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dermesser/zmp/registry"
	"github.com/dermesser/zmp/securitymanager"
	"github.com/dermesser/zmp/supervisor"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	zmq "github.com/pebbe/zmq4"
	"github.com/rs/xid"
)

const (
	DefaultPollTimeout = 100 * time.Millisecond

	// bounds every registry operation done by the node
	registryTimeout = 10 * time.Second

	unlinkTimeout = 250 * time.Millisecond
)

// Handler implements one service. The returned value is sent back as the
// result; a returned error or a panic is sent back as an exception.
type Handler func(ctx *Context) (interface{}, error)

// Update runs once per loop cycle, after the request of that cycle (if any)
// was answered. Returning done ends the node with code as exit code.
type Update func(delta time.Duration) (code int, done bool)

type provider struct {
	handler Handler
	owner   interface{}
}

type Node struct {
	*supervisor.Supervisor

	name     string
	address  string
	registry registry.Registry
	logger   logger.Logger

	parentLogger  logger.Logger
	security      *securitymanager.NodeSecurityManager
	update        Update
	pollTimeout   time.Duration
	forwardTraces bool
	rpcLog        bool

	// guards providers, published and the registry calls changing them
	lock      sync.Mutex
	providers map[string]provider
	published bool

	// owned by the worker goroutine
	socket *zmq.Socket
	poller *zmq.Poller

	failureLock sync.Mutex
	bindFailure *BindFailure
}

type Option func(*Node)

func WithLogger(parentLogger logger.Logger) Option {
	return func(n *Node) {
		n.parentLogger = parentLogger
	}
}

// WithSecurityManager enables CURVE on the endpoint.
func WithSecurityManager(security *securitymanager.NodeSecurityManager) Option {
	return func(n *Node) {
		n.security = security
	}
}

// WithUpdate sets the per-cycle callback.
func WithUpdate(update Update) Option {
	return func(n *Node) {
		n.update = update
	}
}

// WithPollTimeout bounds how long one cycle waits for a request, and with it
// how quickly the node notices a shutdown request.
func WithPollTimeout(timeout time.Duration) Option {
	return func(n *Node) {
		n.pollTimeout = timeout
	}
}

// WithTraces forwards error stacks to callers inside exceptions.
func WithTraces(enabled bool) Option {
	return func(n *Node) {
		n.forwardTraces = enabled
	}
}

// WithRPCLog logs every request and response body at info level.
func WithRPCLog(enabled bool) Option {
	return func(n *Node) {
		n.rpcLog = enabled
	}
}

// DefaultAddress is a local endpoint unique to the node name.
func DefaultAddress(name string) string {
	return "ipc://" + filepath.Join(os.TempDir(), "zmp", name+".pipe")
}

/*
New creates a node named name (a generated id when empty) listening on
address (DefaultAddress when empty) and publishing to reg. The name doubles
as node id in the registry, so it must be unique among running nodes.
*/
func New(name, address string, reg registry.Registry, options ...Option) *Node {
	if name == "" {
		name = xid.New().String()
	}
	if address == "" {
		address = DefaultAddress(name)
	}

	n := &Node{
		name:        name,
		address:     address,
		registry:    reg,
		pollTimeout: DefaultPollTimeout,
		providers:   make(map[string]provider),
		update: func(time.Duration) (int, bool) {
			return 0, false
		},
	}

	for _, option := range options {
		option(n)
	}

	n.Supervisor = supervisor.NewSupervisor(n.parentLogger, name, n.cycle)
	n.logger = n.Supervisor.Logger()

	// ZeroMQ sockets must stay on the thread that created them
	n.Supervisor.LockOSThread(true)
	n.Supervisor.
		Use(supervisor.Hook{Name: "bind", Setup: n.bind}).
		Use(supervisor.Hook{Name: "publish", Setup: n.publish, Teardown: n.unpublish}).
		Finally(n.unbind)

	return n
}

// Start binds and publishes the node and returns once it serves requests.
// A failure to bind is returned as *BindFailure.
func (n *Node) Start(timeout time.Duration) error {
	n.setBindFailure(nil)

	if err := n.Supervisor.Start(timeout); err != nil {
		if failure := n.getBindFailure(); failure != nil {
			return failure
		}
		return err
	}
	return nil
}

func (n *Node) Name() string {
	return n.name
}

// Address returns the endpoint address. For a tcp wildcard port it is the
// resolved address once the node has started.
func (n *Node) Address() string {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.address
}

// Services returns the sorted names provided by the node.
func (n *Node) Services() []string {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.serviceNames()
}

func (n *Node) serviceNames() []string {
	names := make([]string, 0, len(n.providers))
	for name := range n.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provides registers handler as service name, replacing any previous handler.
// On a running node the name is published right away.
func (n *Node) Provides(name string, handler Handler) error {
	return n.ProvidesWithOwner(name, nil, handler)
}

// ProvidesWithOwner is Provides with an owner value handed to the handler
// through Context.Owner, the way a method is bound to its receiver.
func (n *Node) ProvidesWithOwner(name string, owner interface{}, handler Handler) error {
	if name == "" || strings.HasPrefix(name, BuiltinPrefix) {
		return errors.Errorf("Invalid service name %q", name)
	}
	if handler == nil {
		return errors.Errorf("No handler for %s", name)
	}

	n.lock.Lock()
	defer n.lock.Unlock()

	_, exists := n.providers[name]
	n.providers[name] = provider{handler: handler, owner: owner}

	n.logger.DebugWith("Provides", "service", name)

	if n.published && !exists {
		ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
		defer cancel()

		if err := n.registry.Publish(ctx, n.name, n.address, []string{name}); err != nil {
			return errors.Wrapf(err, "Failed to publish %s", name)
		}
	}
	return nil
}

// Withholds stops providing name. On a running node the name is unpublished.
func (n *Node) Withholds(name string) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	if _, exists := n.providers[name]; !exists {
		return nil
	}
	delete(n.providers, name)

	n.logger.DebugWith("Withholds", "service", name)

	if n.published {
		ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
		defer cancel()

		if err := n.registry.Unpublish(ctx, n.name, []string{name}); err != nil {
			return errors.Wrapf(err, "Failed to unpublish %s", name)
		}
	}
	return nil
}

func (n *Node) find(name string) (provider, bool) {
	n.lock.Lock()
	defer n.lock.Unlock()

	p, found := n.providers[name]
	return p, found
}

func (n *Node) bind() error {
	socket, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return n.failBind(err)
	}

	// pending replies are dropped on close
	socket.SetLinger(0)

	if err := n.security.ApplyToNodeSocket(socket); err != nil {
		socket.Close()
		return n.failBind(err)
	}

	err = socket.Bind(n.address)
	if isNotExist(err) && strings.HasPrefix(n.address, "ipc://") {
		directory := filepath.Dir(strings.TrimPrefix(n.address, "ipc://"))

		n.logger.DebugWith("Creating endpoint directory", "directory", directory)
		if mkdirErr := os.MkdirAll(directory, 0o755); mkdirErr == nil {
			err = socket.Bind(n.address)
		}
	}
	if err != nil {
		socket.Close()
		return n.failBind(err)
	}

	if strings.Contains(n.address, "*") {
		if endpoint, err := socket.GetLastEndpoint(); err == nil {
			n.lock.Lock()
			n.address = endpoint
			n.lock.Unlock()
		}
	}

	n.socket = socket
	n.poller = zmq.NewPoller()
	n.poller.Add(socket, zmq.POLLIN)

	n.logger.InfoWith("Bound", "address", n.address)
	return nil
}

func (n *Node) failBind(err error) error {
	failure := &BindFailure{Address: n.address, Err: err}
	n.setBindFailure(failure)
	return failure
}

// unbind runs whenever the worker exits, after unpublish if it was not killed
func (n *Node) unbind() {

	// a killed node skips unpublish, but later Provides calls must not
	// publish the closed endpoint
	n.lock.Lock()
	n.published = false
	n.lock.Unlock()

	if n.socket == nil {
		return
	}

	if err := n.socket.Close(); err != nil {
		n.logger.WarnWith("Failed to close endpoint", "err", err.Error())
	}
	n.socket = nil
	n.poller = nil

	// the closed listener removes its socket file in the background, which
	// must not happen after a restarted node bound the same path again
	if strings.HasPrefix(n.address, "ipc://") {
		waitRemoved(strings.TrimPrefix(n.address, "ipc://"), unlinkTimeout)
	}
	n.logger.DebugWith("Unbound", "address", n.address)
}

func (n *Node) publish() error {
	n.lock.Lock()
	defer n.lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()

	names := n.serviceNames()
	if len(names) > 0 {
		if err := n.registry.Publish(ctx, n.name, n.address, names); err != nil {
			return err
		}
	}

	n.published = true
	n.logger.InfoWith("Published", "services", names)
	return nil
}

func (n *Node) unpublish() error {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.published = false

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()

	names := n.serviceNames()
	if len(names) == 0 {
		return nil
	}
	return n.registry.Unpublish(ctx, n.name, names)
}

func (n *Node) setBindFailure(failure *BindFailure) {
	n.failureLock.Lock()
	n.bindFailure = failure
	n.failureLock.Unlock()
}

func (n *Node) getBindFailure() *BindFailure {
	n.failureLock.Lock()
	defer n.failureLock.Unlock()
	return n.bindFailure
}

func waitRemoved(path string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		time.Sleep(time.Millisecond)
	}
}
