package client

import (
	"context"
	"sort"
	"time"

	"github.com/dermesser/zmp/node"
	"github.com/dermesser/zmp/registry"

	"golang.org/x/time/rate"
)

// NodeHandle calls the services of one node, bypassing the rotation over
// providers. It is meant for stateful services where the answering node
// matters; stateless services are better called through a Service.
type NodeHandle struct {
	id       string
	address  string
	services []string

	opts      []Option
	cache     *ConnectionCache
	ownsCache bool
}

func newNodeHandle(id, address string, services []string, opts []Option) *NodeHandle {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	h := &NodeHandle{
		id:       id,
		address:  address,
		services: services,
		cache:    o.cache,
	}

	// every call of the handle goes through one cache
	if h.cache == nil {
		h.cache = NewConnectionCache(o.security)
		h.ownsCache = true
	}
	h.opts = append(append([]Option(nil), opts...), WithConnectionCache(h.cache))
	return h
}

func (h *NodeHandle) Name() string {
	return h.id
}

func (h *NodeHandle) Address() string {
	return h.address
}

// Services returns the names the node had published when it was discovered,
// sorted.
func (h *NodeHandle) Services() []string {
	return append([]string(nil), h.services...)
}

// Call calls service on this node only.
func (h *NodeHandle) Call(service string, args []interface{}, kwargs map[string]interface{}) (*Reply, error) {
	s := newService(service, nil, []registry.Provider{{NodeID: h.id, Address: h.address}}, h.opts)
	defer s.Close()

	return s.Call(args, kwargs, "")
}

// Index asks the node for the services it provides right now.
func (h *NodeHandle) Index() ([]string, error) {
	reply, err := h.Call(node.IndexService, nil, nil)
	if err != nil {
		return nil, err
	}

	var services []string
	if err := reply.Decode(&services); err != nil {
		return nil, err
	}
	return services, nil
}

// Close releases the handle's connections unless the cache was passed in.
func (h *NodeHandle) Close() {
	if h.ownsCache {
		h.cache.CloseAll()
	}
}

/*
DiscoverNodes waits until at least minNodes (minimum 1) nodes whose id matches
pattern publish a service, and returns a handle per node id. Like service
names, node ids match when the pattern matches at their start.

Only nodes publishing at least one service are known to the registry. The
polling and deadline behave as for Discover: an expired ctx returns nil and
no error, a canceled one its error.
*/
func DiscoverNodes(ctx context.Context, reg registry.Registry, pattern string, minNodes int, opts ...Option) (map[string]*NodeHandle, error) {
	if minNodes < 1 {
		minNodes = 1
	}

	re, err := registry.Compile(pattern)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Every(discoverInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return expiredNodes(ctx)
		}

		services, err := reg.Lookup(ctx, ".*")
		if err != nil {
			if ctx.Err() != nil {
				return expiredNodes(ctx)
			}
			return nil, err
		}

		type found struct {
			address  string
			services []string
		}
		nodes := make(map[string]*found)

		for name, providers := range services {
			for _, provider := range providers {
				if !re.MatchString(provider.NodeID) {
					continue
				}

				entry, exists := nodes[provider.NodeID]
				if !exists {
					entry = &found{address: provider.Address}
					nodes[provider.NodeID] = entry
				}
				entry.services = append(entry.services, name)
			}
		}

		if len(nodes) < minNodes {
			continue
		}

		handles := make(map[string]*NodeHandle, len(nodes))
		for id, entry := range nodes {
			sort.Strings(entry.services)
			handles[id] = newNodeHandle(id, entry.address, entry.services, opts)
		}
		return handles, nil
	}
}

// DiscoverNodesTimeout is DiscoverNodes bounded by timeout. A timeout of zero
// or less waits forever.
func DiscoverNodesTimeout(reg registry.Registry, pattern string, timeout time.Duration, minNodes int, opts ...Option) (map[string]*NodeHandle, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return DiscoverNodes(ctx, reg, pattern, minNodes, opts...)
}

func expiredNodes(ctx context.Context) (map[string]*NodeHandle, error) {
	if ctx.Err() == context.Canceled {
		return nil, ctx.Err()
	}
	return nil, nil
}
