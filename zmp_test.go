package zmp_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dermesser/zmp/client"
	"github.com/dermesser/zmp/node"
	"github.com/dermesser/zmp/registry"

	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

// ZmpTestSuite runs nodes and clients against one registry document, each
// side with its own handle on it as separate processes would have
type ZmpTestSuite struct {
	suite.Suite
	logger         logger.Logger
	dir            string
	nodeRegistry   registry.Registry
	clientRegistry registry.Registry
	nodes          []*node.Node
}

func (suite *ZmpTestSuite) SetupSuite() {
	var err error
	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)
}

func (suite *ZmpTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	path := filepath.Join(suite.dir, "services.yaml")

	var err error
	suite.nodeRegistry, err = registry.NewFile(suite.logger, path)
	suite.Require().NoError(err)
	suite.clientRegistry, err = registry.NewFile(suite.logger, path)
	suite.Require().NoError(err)
	suite.nodes = nil
}

func (suite *ZmpTestSuite) TearDownTest() {
	for _, n := range suite.nodes {
		n.Shutdown(true, 5*time.Second)
	}
}

func (suite *ZmpTestSuite) newNode(name string) *node.Node {
	n := node.New(name,
		"ipc://"+filepath.Join(suite.dir, name+".pipe"),
		suite.nodeRegistry,
		node.WithLogger(suite.logger))

	suite.Require().NoError(n.Provides("add", func(ctx *node.Context) (interface{}, error) {
		var a, b int
		if err := ctx.Bind(&a, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	}))
	suite.Require().NoError(n.Provides("getlucky", func(ctx *node.Context) (interface{}, error) {
		return ctx.NodeID(), nil
	}))

	suite.nodes = append(suite.nodes, n)
	return n
}

func (suite *ZmpTestSuite) discover(pattern string, timeout time.Duration, minProviders int, opts ...client.Option) *client.Service {
	opts = append([]client.Option{client.WithLogger(suite.logger)}, opts...)

	svc, err := client.DiscoverTimeout(suite.clientRegistry, pattern, timeout, minProviders, opts...)
	suite.Require().NoError(err)
	return svc
}

func (suite *ZmpTestSuite) add(svc *client.Service, a, b int) int {
	reply, err := svc.Call([]interface{}{a, b}, nil, "")
	suite.Require().NoError(err)

	var sum int
	suite.Require().NoError(reply.Decode(&sum))
	return sum
}

func (suite *ZmpTestSuite) TestServiceLifecycle() {
	n := suite.newNode("adder")

	// nothing is published before the node starts
	suite.Require().Nil(suite.discover("add", 500*time.Millisecond, 1))

	suite.Require().NoError(n.Start(5 * time.Second))

	svc := suite.discover("add", 5*time.Second, 1)
	suite.Require().NotNil(svc)
	defer svc.Close()
	suite.Require().Equal(42, suite.add(svc, 17, 25))

	code, exited := n.Shutdown(true, 5*time.Second)
	suite.Require().True(exited)
	suite.Require().Equal(0, code)
	suite.Require().Nil(suite.discover("add", 500*time.Millisecond, 1))

	// a restarted node publishes and serves again
	suite.Require().NoError(n.Start(5 * time.Second))

	restarted := suite.discover("add", 5*time.Second, 1)
	suite.Require().NotNil(restarted)
	defer restarted.Close()
	suite.Require().Equal(3, suite.add(restarted, 1, 2))
}

func (suite *ZmpTestSuite) TestTwoProviders() {
	alpha := suite.newNode("alpha")
	beta := suite.newNode("beta")
	suite.Require().NoError(alpha.Start(5 * time.Second))
	suite.Require().NoError(beta.Start(5 * time.Second))

	svc := suite.discover("getlucky", 5*time.Second, 2)
	suite.Require().NotNil(svc)
	defer svc.Close()

	for _, name := range []string{"beta", "alpha", "beta"} {
		reply, err := svc.Call(nil, nil, name)
		suite.Require().NoError(err)
		suite.Require().Equal(name, reply.Node())
	}
}

func (suite *ZmpTestSuite) TestKilledProviderIsSkipped() {
	alpha := suite.newNode("alpha")
	beta := suite.newNode("beta")
	suite.Require().NoError(alpha.Start(5 * time.Second))
	suite.Require().NoError(beta.Start(5 * time.Second))

	// killing skips unpublishing, so alpha stays listed without listening
	suite.Require().NoError(alpha.Terminate())
	suite.Require().NoError(alpha.Join(5 * time.Second))

	svc := suite.discover("add", 5*time.Second, 2,
		client.WithTimeout(300*time.Millisecond),
		client.WithRetries(1))
	suite.Require().NotNil(svc)
	defer svc.Close()

	for i := 0; i < 3; i++ {
		reply, err := svc.Call([]interface{}{i, 1}, nil, "")
		suite.Require().NoError(err)
		suite.Require().Equal("beta", reply.Node())
	}

	_, err := svc.Call(nil, nil, "alpha")
	suite.Require().True(client.IsUnknownService(err))

	var requestErr *client.RequestError
	suite.Require().True(errors.As(err, &requestErr))
	suite.Require().Equal(client.StatusTimeout, requestErr.Status())
}

func TestZmp(t *testing.T) {
	suite.Run(t, new(ZmpTestSuite))
}
