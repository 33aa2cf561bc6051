package securitymanager

import (
	"os"
	"path/filepath"
	"testing"

	zmq "github.com/pebbe/zmq4"
	"github.com/stretchr/testify/suite"
)

type SecurityManagerTestSuite struct {
	suite.Suite
	dir string
}

func (suite *SecurityManagerTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
}

func (suite *SecurityManagerTestSuite) TestWriteLoadNode() {
	mgr, err := NewNodeSecurityManager()
	suite.Require().NoError(err)

	publicFile := filepath.Join(suite.dir, "node.pub")
	privateFile := filepath.Join(suite.dir, "node.key")
	suite.Require().NoError(mgr.WriteKeys(publicFile, privateFile))

	info, err := os.Stat(privateFile)
	suite.Require().NoError(err)
	suite.Require().Equal(os.FileMode(0o600), info.Mode().Perm())

	loaded := &NodeSecurityManager{keyPair: &keyPair{}}
	suite.Require().NoError(loaded.LoadKeys(publicFile, privateFile))
	suite.Require().Equal(mgr.public, loaded.public)
	suite.Require().Equal(mgr.private, loaded.private)
}

func (suite *SecurityManagerTestSuite) TestLoadPublicKeyOnly() {
	mgr, err := NewClientSecurityManager()
	suite.Require().NoError(err)

	publicFile := filepath.Join(suite.dir, "client.pub")
	suite.Require().NoError(mgr.WriteKeys(publicFile, ""))

	_, err = os.Stat(filepath.Join(suite.dir, "client.key"))
	suite.Require().True(os.IsNotExist(err))

	private := mgr.private
	suite.Require().NoError(mgr.LoadKeys(publicFile, ""))
	suite.Require().Equal(private, mgr.private)
}

func (suite *SecurityManagerTestSuite) TestLoadRejectsGarbage() {
	garbage := filepath.Join(suite.dir, "garbage")
	suite.Require().NoError(os.WriteFile(garbage, []byte("not a key"), 0o600))

	mgr, err := NewClientSecurityManager()
	suite.Require().NoError(err)
	suite.Require().Error(mgr.LoadNodePublicKey(garbage))
	suite.Require().Error(mgr.LoadKeys(filepath.Join(suite.dir, "missing"), ""))
}

func (suite *SecurityManagerTestSuite) TestClientKeys() {
	mgr, err := NewNodeSecurityManager()
	suite.Require().NoError(err)

	mgr.AddClientKeys("a", "b", "c")
	suite.Require().Len(mgr.allowedClientKeys, 3)

	mgr.ResetClientKeys()
	suite.Require().Nil(mgr.allowedClientKeys)
}

func (suite *SecurityManagerTestSuite) TestAddressListsAreExclusive() {
	mgr, err := NewNodeSecurityManager()
	suite.Require().NoError(err)

	mgr.WhitelistClients("a", "b", "c")
	suite.Require().Len(mgr.allowedAddresses, 3)

	mgr.BlacklistClients("d", "e", "f")
	suite.Require().Nil(mgr.allowedAddresses)
	suite.Require().Len(mgr.deniedAddresses, 3)

	mgr.ResetAddressLists()
	suite.Require().Nil(mgr.deniedAddresses)
}

func (suite *SecurityManagerTestSuite) TestExplicitKeys() {
	mgr, err := NewNodeSecurityManager()
	suite.Require().NoError(err)

	mgr.SetKeys("pub", "priv")
	suite.Require().Equal("pub", mgr.PublicKey())
	suite.Require().Equal("priv", mgr.private)
}

func (suite *SecurityManagerTestSuite) TestSocketTypeIsChecked() {
	node, err := NewNodeSecurityManager()
	suite.Require().NoError(err)

	req, err := zmq.NewSocket(zmq.REQ)
	suite.Require().NoError(err)
	defer req.Close()

	suite.Require().Error(node.ApplyToNodeSocket(req))

	client, err := NewClientSecurityManager()
	suite.Require().NoError(err)

	// no node key yet
	suite.Require().Error(client.ApplyToClientSocket(req))

	client.SetNodePublicKey(node.PublicKey())
	suite.Require().NoError(client.ApplyToClientSocket(req))

	var nilManager *ClientSecurityManager
	suite.Require().NoError(nilManager.ApplyToClientSocket(req))
}

func TestSecurityManagerTestSuite(t *testing.T) {
	suite.Run(t, new(SecurityManagerTestSuite))
}
