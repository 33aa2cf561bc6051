/*
Package registry is the shared directory of which node provides which service.

A registry maps a service name to the ordered list of providers (node id and
address) currently publishing it. Nodes publish after their endpoint is bound
and unpublish before it is closed; clients look names up by pattern. It is used
for discovery only, calls go directly to the provider's address.

Three implementations are provided: Memory for nodes and clients sharing one
process, File for processes on one host and Etcd for processes anywhere.
All operations of one registry are atomic with respect to each other.
*/
package registry

import (
	"context"
	"regexp"
	"strings"

	"github.com/nuclio/errors"
)

// Provider is one node serving a service.
type Provider struct {
	NodeID  string `json:"node_id" yaml:"node_id"`
	Address string `json:"address" yaml:"address"`
}

type Registry interface {

	// Publish adds the node as provider of every name in services. A node that
	// already provides a name keeps its position and gets its address updated.
	// Node ids must be non-empty and free of slashes.
	Publish(ctx context.Context, nodeID, address string, services []string) error

	// Unpublish removes the node from every name in services. Names without
	// providers disappear.
	Unpublish(ctx context.Context, nodeID string, services []string) error

	// Lookup returns the providers of every name matching pattern, a regular
	// expression anchored at the start of the name. Names with no providers are
	// never part of the result.
	Lookup(ctx context.Context, pattern string) (map[string][]Provider, error)

	Close() error
}

// Watcher is implemented by registries that can push changes.
type Watcher interface {
	Watch(ctx context.Context, pattern string) (<-chan map[string][]Provider, error)
}

// Compile turns a lookup pattern into a regular expression matching from the
// start of a service name.
func Compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, errors.Wrapf(err, "Invalid service pattern %q", pattern)
	}
	return re, nil
}

// checkNodeID rejects ids that cannot be stored unambiguously next to a
// service name.
func checkNodeID(nodeID string) error {
	if nodeID == "" || strings.Contains(nodeID, "/") {
		return errors.Errorf("Invalid node id %q", nodeID)
	}
	return nil
}

// table is the in-memory form shared by the Memory and File registries.
type table map[string][]Provider

func (t table) publish(nodeID, address string, services []string) {
	for _, name := range services {
		providers := t[name]

		replaced := false
		for i := range providers {
			if providers[i].NodeID == nodeID {
				providers[i].Address = address
				replaced = true
				break
			}
		}
		if !replaced {
			providers = append(providers, Provider{NodeID: nodeID, Address: address})
		}
		t[name] = providers
	}
}

func (t table) unpublish(nodeID string, services []string) {
	for _, name := range services {
		providers := t[name]
		kept := providers[:0]

		for _, provider := range providers {
			if provider.NodeID != nodeID {
				kept = append(kept, provider)
			}
		}

		if len(kept) == 0 {
			delete(t, name)
		} else {
			t[name] = kept
		}
	}
}

// lookup copies the matching lists so callers never alias the table.
func (t table) lookup(re *regexp.Regexp) map[string][]Provider {
	result := make(map[string][]Provider)

	for name, providers := range t {
		if len(providers) == 0 || !re.MatchString(name) {
			continue
		}
		result[name] = append([]Provider(nil), providers...)
	}
	return result
}
