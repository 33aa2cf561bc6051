package securitymanager

import (
	"github.com/nuclio/errors"
	zmq "github.com/pebbe/zmq4"
)

// ClientSecurityManager holds a client key pair and the public key of the
// nodes it talks to. All nodes reached through one client share that key.
type ClientSecurityManager struct {
	*keyPair

	nodePublic string
}

// NewClientSecurityManager generates a fresh client key pair. The node's
// public key must be set before any connection succeeds.
func NewClientSecurityManager() (*ClientSecurityManager, error) {
	public, private, err := zmq.NewCurveKeypair()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to generate CURVE key pair")
	}

	return &ClientSecurityManager{keyPair: &keyPair{public: public, private: private}}, nil
}

// ApplyToClientSocket must be called before Connect. A nil manager does nothing.
func (mgr *ClientSecurityManager) ApplyToClientSocket(sock *zmq.Socket) error {
	if mgr == nil {
		return nil
	}

	if mgr.nodePublic == "" || !mgr.complete() {
		return errors.New("Client needs its key pair and the node's public key")
	}

	socketType, err := sock.GetType()
	if err != nil {
		return errors.Wrap(err, "Failed to get socket type")
	}
	if socketType != zmq.REQ && socketType != zmq.DEALER {
		return errors.Errorf("Cannot secure a %s socket as client", socketType)
	}

	if err := sock.ClientAuthCurve(mgr.nodePublic, mgr.public, mgr.private); err != nil {
		return errors.Wrap(err, "Failed to enable CURVE on client socket")
	}
	return nil
}

func (mgr *ClientSecurityManager) SetNodePublicKey(key string) {
	mgr.nodePublic = key
}

// LoadNodePublicKey reads the node's public key from keyFile.
func (mgr *ClientSecurityManager) LoadNodePublicKey(keyFile string) error {
	key, err := readKey(keyFile)
	if err != nil {
		return err
	}

	mgr.nodePublic = key
	return nil
}

func (mgr *ClientSecurityManager) SetKeys(public, private string) {
	mgr.public, mgr.private = public, private
}
