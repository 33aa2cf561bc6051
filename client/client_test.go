package client

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dermesser/zmp/node"
	"github.com/dermesser/zmp/registry"
	"github.com/dermesser/zmp/wire"

	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/rs/xid"
	"github.com/stretchr/testify/suite"
)

type valueError struct {
	message string
}

func (e *valueError) Error() string {
	return e.message
}

func (e *valueError) ExceptionKind() string {
	return "ValueError"
}

type ClientTestSuite struct {
	suite.Suite
	logger   logger.Logger
	registry *registry.Memory
	dir      string
	nodes    []*node.Node
}

func (suite *ClientTestSuite) SetupSuite() {
	var err error
	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	wire.RegisterKind("ValueError", func(message string) error {
		return &valueError{message: message}
	})
}

func (suite *ClientTestSuite) TearDownSuite() {
	wire.RegisterKind("ValueError", nil)
}

func (suite *ClientTestSuite) SetupTest() {
	suite.registry = registry.NewMemory()
	suite.dir = suite.T().TempDir()
	suite.nodes = nil
}

func (suite *ClientTestSuite) TearDownTest() {
	for _, n := range suite.nodes {
		n.Shutdown(true, 5*time.Second)
	}
}

func (suite *ClientTestSuite) address(name string) string {
	return "ipc://" + filepath.Join(suite.dir, name+".pipe")
}

// startNode runs a node providing add, breakworld and getlucky
func (suite *ClientTestSuite) startNode() *node.Node {
	name := "node-" + xid.New().String()
	n := node.New(name, suite.address(name), suite.registry, node.WithLogger(suite.logger))

	suite.Require().NoError(n.Provides("add", func(ctx *node.Context) (interface{}, error) {
		var a, b int
		if err := ctx.Bind(&a, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	}))
	suite.Require().NoError(n.Provides("breakworld", func(ctx *node.Context) (interface{}, error) {
		return nil, &valueError{message: "the world is broken"}
	}))
	suite.Require().NoError(n.Provides("getlucky", func(ctx *node.Context) (interface{}, error) {
		return ctx.NodeID(), nil
	}))

	suite.Require().NoError(n.Start(5 * time.Second))
	suite.nodes = append(suite.nodes, n)
	return n
}

func (suite *ClientTestSuite) discover(pattern string, minProviders int, opts ...Option) *Service {
	opts = append([]Option{WithLogger(suite.logger)}, opts...)

	svc, err := DiscoverTimeout(suite.registry, pattern, 5*time.Second, minProviders, opts...)
	suite.Require().NoError(err)
	suite.Require().NotNil(svc)
	return svc
}

func (suite *ClientTestSuite) TestCallAdd() {
	n := suite.startNode()

	svc := suite.discover("add", 1)
	defer svc.Close()
	suite.Require().Equal("add", svc.Name())

	reply, err := svc.Call([]interface{}{17, 25}, nil, "")
	suite.Require().NoError(err)
	suite.Require().Equal(n.Name(), reply.Node())
	suite.Require().Equal("add", reply.Service())

	var sum int
	suite.Require().NoError(reply.Decode(&sum))
	suite.Require().Equal(42, sum)
}

func (suite *ClientTestSuite) TestDiscoverTimesOut() {
	suite.startNode()

	started := time.Now()
	svc, err := DiscoverTimeout(suite.registry, "nope", time.Second, 1)
	suite.Require().NoError(err)
	suite.Require().Nil(svc)
	suite.Require().Less(time.Since(started), 2*time.Second)
}

func (suite *ClientTestSuite) TestDiscoverCanceled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc, err := Discover(ctx, suite.registry, "nope", 1)
	suite.Require().ErrorIs(err, context.Canceled)
	suite.Require().Nil(svc)
}

func (suite *ClientTestSuite) TestDiscoverInvalidPattern() {
	svc, err := DiscoverTimeout(suite.registry, "(", time.Second, 1)
	suite.Require().Error(err)
	suite.Require().Nil(svc)
}

func (suite *ClientTestSuite) TestDiscoverWaitsForProviders() {
	suite.startNode()

	late := make(chan *node.Node, 1)
	go func() {
		defer close(late)
		time.Sleep(300 * time.Millisecond)

		name := "late-" + xid.New().String()
		n := node.New(name, suite.address(name), suite.registry, node.WithLogger(suite.logger))
		if err := n.Provides("getlucky", func(ctx *node.Context) (interface{}, error) {
			return ctx.NodeID(), nil
		}); err != nil {
			return
		}
		if err := n.Start(5 * time.Second); err != nil {
			return
		}
		late <- n
	}()

	svc := suite.discover("getlucky", 2)
	defer svc.Close()
	suite.Require().Len(svc.Providers(), 2)

	if n, ok := <-late; ok {
		suite.nodes = append(suite.nodes, n)
	}
}

func (suite *ClientTestSuite) TestRemoteServiceError() {
	n := suite.startNode()

	svc := suite.discover("breakworld", 1)
	defer svc.Close()

	_, err := svc.Call(nil, nil, "")
	suite.Require().Error(err)

	var remote *RemoteServiceError
	suite.Require().True(errors.As(err, &remote))
	suite.Require().Equal("ValueError", remote.Kind)
	suite.Require().Equal("the world is broken", remote.Message)
	suite.Require().Equal(n.Name(), remote.Node)
	suite.Require().Empty(remote.Trace)
	suite.Require().False(IsUnknownService(err))

	var typed *valueError
	suite.Require().True(errors.As(err, &typed))
	suite.Require().Equal("the world is broken", typed.message)

	// the node survives and keeps serving
	suite.Require().True(n.IsAlive())

	adder := suite.discover("add", 1)
	defer adder.Close()

	reply, err := adder.Call([]interface{}{1, 2}, nil, "")
	suite.Require().NoError(err)

	var sum int
	suite.Require().NoError(reply.Decode(&sum))
	suite.Require().Equal(3, sum)
}

func (suite *ClientTestSuite) TestPinnedCalls() {
	first := suite.startNode()
	second := suite.startNode()

	svc := suite.discover("getlucky", 2)
	defer svc.Close()

	for _, n := range []*node.Node{first, second, first} {
		reply, err := svc.Call(nil, nil, n.Name())
		suite.Require().NoError(err)

		var answeredBy string
		suite.Require().NoError(reply.Decode(&answeredBy))
		suite.Require().Equal(n.Name(), answeredBy)
	}

	_, err := svc.Call(nil, nil, "nobody")
	var unknown *UnknownServiceError
	suite.Require().True(errors.As(err, &unknown))
	suite.Require().Equal("nobody", unknown.Node)
}

func (suite *ClientTestSuite) TestRoundRobin() {
	suite.startNode()
	suite.startNode()

	svc := suite.discover("getlucky", 2)
	defer svc.Close()

	var answers []string
	for i := 0; i < 4; i++ {
		reply, err := svc.Call(nil, nil, "")
		suite.Require().NoError(err)

		var answeredBy string
		suite.Require().NoError(reply.Decode(&answeredBy))
		answers = append(answers, answeredBy)
	}

	suite.Require().NotEqual(answers[0], answers[1])
	suite.Require().Equal(answers[0], answers[2])
	suite.Require().Equal(answers[1], answers[3])
}

func (suite *ClientTestSuite) TestFailoverSkipsStaleProvider() {

	// a provider that crashed without unpublishing
	suite.Require().NoError(suite.registry.Publish(context.Background(), "ghost", suite.address("ghost"), []string{"add"}))
	n := suite.startNode()

	noRetries := suite.discover("add", 2, WithTimeout(300*time.Millisecond))
	defer noRetries.Close()
	suite.Require().Equal("ghost", noRetries.Providers()[0].NodeID)

	_, err := noRetries.Call([]interface{}{17, 25}, nil, "")
	suite.Require().True(IsUnknownService(err))

	var requestErr *RequestError
	suite.Require().True(errors.As(err, &requestErr))
	suite.Require().Equal(StatusTimeout, requestErr.Status())

	withRetries := suite.discover("add", 2, WithTimeout(300*time.Millisecond), WithRetries(1))
	defer withRetries.Close()

	reply, err := withRetries.Call([]interface{}{17, 25}, nil, "")
	suite.Require().NoError(err)
	suite.Require().Equal(n.Name(), reply.Node())

	var sum int
	suite.Require().NoError(reply.Decode(&sum))
	suite.Require().Equal(42, sum)
}

func (suite *ClientTestSuite) TestWithheldService() {
	n := suite.startNode()

	svc := suite.discover("add", 1)
	defer svc.Close()

	suite.Require().NoError(n.Withholds("add"))

	_, err := svc.Call([]interface{}{1, 2}, nil, "")
	var unknown *UnknownServiceError
	suite.Require().True(errors.As(err, &unknown))
	suite.Require().Equal(n.Name(), unknown.Node)

	// retrying refreshes the providers and finds none left
	svc.SetRetries(2)
	_, err = svc.Call([]interface{}{1, 2}, nil, "")
	suite.Require().True(IsUnknownService(err))
	suite.Require().Empty(svc.Providers())
}

func (suite *ClientTestSuite) TestNoProviders() {
	svc := newService("add", nil, nil, nil)
	defer svc.Close()

	_, err := svc.Call(nil, nil, "")
	var unknown *UnknownServiceError
	suite.Require().True(errors.As(err, &unknown))
	suite.Require().Empty(unknown.Node)
}

func (suite *ClientTestSuite) TestPingAndIndex() {
	n := suite.startNode()

	name, err := Ping(n.Address(), WithLogger(suite.logger))
	suite.Require().NoError(err)
	suite.Require().Equal(n.Name(), name)

	services, err := Index(n.Address(), WithLogger(suite.logger))
	suite.Require().NoError(err)
	suite.Require().Equal([]string{"add", "breakworld", "getlucky"}, services)
}

func (suite *ClientTestSuite) TestDiscoverNodes() {
	first := suite.startNode()
	second := suite.startNode()

	handles, err := DiscoverNodesTimeout(suite.registry, "node-", 5*time.Second, 2, WithLogger(suite.logger))
	suite.Require().NoError(err)
	suite.Require().Len(handles, 2)

	for _, n := range []*node.Node{first, second} {
		handle := handles[n.Name()]
		suite.Require().NotNil(handle)
		defer handle.Close()

		suite.Require().Equal(n.Name(), handle.Name())
		suite.Require().Equal(n.Address(), handle.Address())
		suite.Require().Equal([]string{"add", "breakworld", "getlucky"}, handle.Services())

		// every call lands on the node the handle stands for
		for i := 0; i < 2; i++ {
			reply, err := handle.Call("getlucky", nil, nil)
			suite.Require().NoError(err)
			suite.Require().Equal(n.Name(), reply.Node())
		}

		services, err := handle.Index()
		suite.Require().NoError(err)
		suite.Require().Equal(handle.Services(), services)
	}

	// the id pattern is anchored at the start
	handles, err = DiscoverNodesTimeout(suite.registry, first.Name()+"$", time.Second, 1)
	suite.Require().NoError(err)
	suite.Require().Len(handles, 1)
	suite.Require().Contains(handles, first.Name())
	handles[first.Name()].Close()

	handles, err = DiscoverNodesTimeout(suite.registry, "de-", time.Second, 1)
	suite.Require().NoError(err)
	suite.Require().Nil(handles)
}

func (suite *ClientTestSuite) TestNodeHandleErrors() {
	n := suite.startNode()

	handles, err := DiscoverNodesTimeout(suite.registry, ".*", 5*time.Second, 1, WithLogger(suite.logger))
	suite.Require().NoError(err)
	handle := handles[n.Name()]
	suite.Require().NotNil(handle)
	defer handle.Close()

	_, err = handle.Call("nope", nil, nil)
	var unknown *UnknownServiceError
	suite.Require().True(errors.As(err, &unknown))
	suite.Require().Equal(n.Name(), unknown.Node)

	_, err = handle.Call("breakworld", nil, nil)
	var remote *RemoteServiceError
	suite.Require().True(errors.As(err, &remote))
	suite.Require().Equal("ValueError", remote.Kind)

	// a handle outlives withholding, but the node refuses the call
	suite.Require().NoError(n.Withholds("add"))
	_, err = handle.Call("add", []interface{}{1, 2}, nil)
	suite.Require().True(IsUnknownService(err))
}

func (suite *ClientTestSuite) TestDiscoverNodesCanceledOrInvalid() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handles, err := DiscoverNodes(ctx, suite.registry, ".*", 1)
	suite.Require().ErrorIs(err, context.Canceled)
	suite.Require().Nil(handles)

	handles, err = DiscoverNodesTimeout(suite.registry, "(", time.Second, 1)
	suite.Require().Error(err)
	suite.Require().Nil(handles)
}

func (suite *ClientTestSuite) TestSharedConnectionCache() {
	suite.startNode()

	cache := NewConnectionCache(nil)
	defer cache.CloseAll()

	svc := suite.discover("add", 1, WithConnectionCache(cache))

	for i := 0; i < 3; i++ {
		_, err := svc.Call([]interface{}{i, i}, nil, "")
		suite.Require().NoError(err)
	}

	// sequential calls reuse one connection, which the service does not own
	suite.Require().Equal(1, cache.Len())
	svc.Close()
	suite.Require().Equal(1, cache.Len())

	cache.CleanOld(time.Hour)
	suite.Require().Equal(1, cache.Len())

	cache.CleanOld(0)
	suite.Require().Equal(0, cache.Len())
}

func TestClient(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func TestStatusString(t *testing.T) {
	for status, expected := range map[Status]string{
		StatusTimeout:       "STATUS_TIMEOUT",
		StatusNetworkError:  "STATUS_CLIENT_NETWORK_ERROR",
		StatusRequestError:  "STATUS_CLIENT_REQUEST_ERROR",
		StatusProtocolError: "STATUS_PROTOCOL_ERROR",
		StatusUnknown:       "STATUS_UNKNOWN",
	} {
		if status.String() != expected {
			t.Errorf("%d: got %s, want %s", status, status.String(), expected)
		}
	}
}
