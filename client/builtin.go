package client

import (
	"github.com/dermesser/zmp/node"
	"github.com/dermesser/zmp/registry"
)

// Ping asks the node listening on address for its name.
func Ping(address string, opts ...Option) (string, error) {
	var name string
	if err := callAddress(address, node.PingService, &name, opts); err != nil {
		return "", err
	}
	return name, nil
}

// Index asks the node listening on address for the services it provides.
func Index(address string, opts ...Option) ([]string, error) {
	var services []string
	if err := callAddress(address, node.IndexService, &services, opts); err != nil {
		return nil, err
	}
	return services, nil
}

func callAddress(address, service string, result interface{}, opts []Option) error {
	s := newService(service, nil, []registry.Provider{{NodeID: address, Address: address}}, opts)
	defer s.Close()

	reply, err := s.Call(nil, nil, "")
	if err != nil {
		return err
	}
	return reply.Decode(result)
}
