package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dermesser/zmp/client"
	"github.com/dermesser/zmp/node"
	"github.com/dermesser/zmp/registry"

	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/rs/xid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestParseArgs(t *testing.T) {
	values, err := parseArgs([]string{"17", `"17"`, "hello", "[1, 2]", "1.5", "true"})
	require.NoError(t, err)
	require.Equal(t, []interface{}{17, "17", "hello", []interface{}{1, 2}, 1.5, true}, values)

	_, err = parseArgs([]string{"[1, 2"})
	require.Error(t, err)
}

func TestParseKwargs(t *testing.T) {
	values, err := parseKwargs([]string{"a=1", "b=x", "c=a=b"})
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"a": 1, "b": "x", "c": "a=b"}, values)

	for _, bad := range []string{"novalue", "=1"} {
		_, err = parseKwargs([]string{bad})
		require.Error(t, err, bad)
	}
}

func TestRegexpQuote(t *testing.T) {
	require.Equal(t, `a\.b$`, regexpQuote("a.b"))
}

type DemoTestSuite struct {
	suite.Suite
	logger   logger.Logger
	registry *registry.Memory
	node     *node.Node
}

func (suite *DemoTestSuite) SetupSuite() {
	var err error
	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)
	suite.registry = registry.NewMemory()

	name := "demo-" + xid.New().String()
	address := "ipc://" + filepath.Join(suite.T().TempDir(), name+".pipe")

	suite.node = node.New(name, address, suite.registry, node.WithLogger(suite.logger))
	suite.Require().NoError(provideDemoServices(suite.node, nil))
	suite.Require().Equal(demoServiceNames(), suite.node.Services())
	suite.Require().NoError(suite.node.Start(5 * time.Second))
}

func (suite *DemoTestSuite) TearDownSuite() {
	suite.node.Shutdown(true, 5*time.Second)
}

func (suite *DemoTestSuite) call(service string, args ...interface{}) (*client.Reply, error) {
	svc, err := client.DiscoverTimeout(suite.registry, regexpQuote(service), 5*time.Second, 1, client.WithLogger(suite.logger))
	suite.Require().NoError(err)
	suite.Require().NotNil(svc)
	defer svc.Close()

	return svc.Call(args, nil, "")
}

func (suite *DemoTestSuite) TestEcho() {
	reply, err := suite.call("echo", "hi")
	suite.Require().NoError(err)

	var echoed string
	suite.Require().NoError(reply.Decode(&echoed))
	suite.Require().Equal("hi", echoed)

	reply, err = suite.call("echo", "a", "b")
	suite.Require().NoError(err)

	var list []string
	suite.Require().NoError(reply.Decode(&list))
	suite.Require().Equal([]string{"a", "b"}, list)
}

func (suite *DemoTestSuite) TestAdd() {
	reply, err := suite.call("add", 17, 25)
	suite.Require().NoError(err)

	var sum int
	suite.Require().NoError(reply.Decode(&sum))
	suite.Require().Equal(42, sum)
}

func (suite *DemoTestSuite) TestSleep() {
	reply, err := suite.call("sleep", 0.05)
	suite.Require().NoError(err)

	var slept float64
	suite.Require().NoError(reply.Decode(&slept))
	suite.Require().Equal(0.05, slept)
}

func (suite *DemoTestSuite) TestFail() {
	_, err := suite.call("fail", "boom")

	var remote *client.RemoteServiceError
	suite.Require().True(errors.As(err, &remote))
	suite.Require().Equal("boom", remote.Message)

	_, err = suite.call("fail")
	suite.Require().True(errors.As(err, &remote))
	suite.Require().Equal("failure requested", remote.Message)
}

func (suite *DemoTestSuite) TestUnknownDemoService() {
	n := node.New("", "", suite.registry, node.WithLogger(suite.logger))
	suite.Require().Error(provideDemoServices(n, []string{"echo", "nope"}))
}

func TestDemoServices(t *testing.T) {
	suite.Run(t, new(DemoTestSuite))
}

func TestKeygenCommand(t *testing.T) {
	dir := t.TempDir()
	publicFile := filepath.Join(dir, "public.txt")
	privateFile := filepath.Join(dir, "private.txt")

	var out bytes.Buffer
	rootCommandeer := NewRootCommandeer()
	rootCommandeer.cmd.SetOut(&out)
	rootCommandeer.cmd.SetArgs([]string{"keygen", "--public", publicFile, "--private", privateFile})
	require.NoError(t, rootCommandeer.Execute())

	public, err := os.ReadFile(publicFile)
	require.NoError(t, err)
	require.Equal(t, string(public)+"\n", out.String())

	_, err = os.Stat(privateFile)
	require.NoError(t, err)
}

func TestDiscoverCommand(t *testing.T) {
	dir := t.TempDir()
	registryPath := filepath.Join(dir, "services.yaml")
	configPath := filepath.Join(dir, "zmp.toml")

	require.NoError(t, os.WriteFile(configPath, []byte(`
[registry]
backend = "file"
path = "`+registryPath+`"
`), 0o644))

	reg, err := registry.NewFile(nil, registryPath)
	require.NoError(t, err)
	require.NoError(t, reg.Publish(context.Background(), "adder", "ipc:///tmp/adder.pipe", []string{"add", "echo"}))

	var out bytes.Buffer
	rootCommandeer := NewRootCommandeer()
	rootCommandeer.cmd.SetOut(&out)
	rootCommandeer.cmd.SetArgs([]string{"discover", "ad", "--config", configPath})
	require.NoError(t, rootCommandeer.Execute())

	require.Contains(t, out.String(), "add:")
	require.Contains(t, out.String(), "node_id: adder")
	require.Contains(t, out.String(), "address: ipc:///tmp/adder.pipe")
	require.NotContains(t, out.String(), "echo")
}

func TestCommandsRejectBadConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "zmp.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`[registry]
backend = "memory"
`), 0o644))

	for _, args := range [][]string{
		{"node", "--config", configPath},
		{"up", "--config", configPath},
		{"call", "add", "--config", configPath},
		{"discover", "--config", configPath},
	} {
		rootCommandeer := NewRootCommandeer()
		rootCommandeer.cmd.SetArgs(args)
		require.Error(t, rootCommandeer.Execute(), args[0])
	}
}
