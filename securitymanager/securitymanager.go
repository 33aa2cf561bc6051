/*
Package securitymanager sets up CURVE encryption and authentication on node
and client sockets, following the Iron House pattern of the ZeroMQ security
guide. A nil manager leaves sockets in plain text.
*/
package securitymanager

import (
	"github.com/nuclio/errors"
	zmq "github.com/pebbe/zmq4"
)

// NodeDomain is the ZAP domain every node socket authenticates in.
const NodeDomain = "zmp.node"

// NodeSecurityManager holds a node's key pair and the clients it accepts.
type NodeSecurityManager struct {
	*keyPair

	allowedClientKeys []string

	// whitelist and blacklist are mutually exclusive
	allowedAddresses []string
	deniedAddresses  []string
}

// NewNodeSecurityManager generates a fresh key pair.
func NewNodeSecurityManager() (*NodeSecurityManager, error) {
	public, private, err := zmq.NewCurveKeypair()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to generate CURVE key pair")
	}

	return &NodeSecurityManager{keyPair: &keyPair{public: public, private: private}}, nil
}

// ApplyToNodeSocket must be called before Bind. A nil manager does nothing.
func (mgr *NodeSecurityManager) ApplyToNodeSocket(sock *zmq.Socket) error {
	if mgr == nil {
		return nil
	}

	if !mgr.complete() {
		return errors.New("Node key pair is incomplete")
	}

	socketType, err := sock.GetType()
	if err != nil {
		return errors.Wrap(err, "Failed to get socket type")
	}
	if socketType != zmq.REP && socketType != zmq.ROUTER {
		return errors.Errorf("Cannot secure a %s socket as node", socketType)
	}

	// already running is fine
	zmq.AuthStart()

	if mgr.allowedAddresses != nil {
		zmq.AuthAllow(NodeDomain, mgr.allowedAddresses...)
	} else if mgr.deniedAddresses != nil {
		zmq.AuthDeny(NodeDomain, mgr.deniedAddresses...)
	}

	if mgr.allowedClientKeys != nil {
		zmq.AuthCurveAdd(NodeDomain, mgr.allowedClientKeys...)
	} else {
		zmq.AuthCurveAdd(NodeDomain, zmq.CURVE_ALLOW_ANY)
	}

	if err := sock.ServerAuthCurve(NodeDomain, mgr.private); err != nil {
		return errors.Wrap(err, "Failed to enable CURVE on node socket")
	}
	return nil
}

// StopManager stops the ZAP handler of the process.
func (mgr *NodeSecurityManager) StopManager() {
	zmq.AuthStop()
}

func (mgr *NodeSecurityManager) SetKeys(public, private string) {
	mgr.public, mgr.private = public, private
}

// AddClientKeys restricts access to clients holding one of keys.
func (mgr *NodeSecurityManager) AddClientKeys(keys ...string) {
	mgr.allowedClientKeys = append(mgr.allowedClientKeys, keys...)
}

// ResetClientKeys opens the node to any client key.
func (mgr *NodeSecurityManager) ResetClientKeys() {
	mgr.allowedClientKeys = nil
}

func (mgr *NodeSecurityManager) ResetAddressLists() {
	mgr.allowedAddresses = nil
	mgr.deniedAddresses = nil
}

// WhitelistClients accepts only the given addresses or ranges and drops the blacklist.
func (mgr *NodeSecurityManager) WhitelistClients(addresses ...string) {
	mgr.deniedAddresses = nil
	mgr.allowedAddresses = append(mgr.allowedAddresses, addresses...)
}

// BlacklistClients rejects the given addresses or ranges and drops the whitelist.
func (mgr *NodeSecurityManager) BlacklistClients(addresses ...string) {
	mgr.allowedAddresses = nil
	mgr.deniedAddresses = append(mgr.deniedAddresses, addresses...)
}
