package registry

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dermesser/zmp/log"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const DefaultEtcdPrefix = "zmp"

const releaseTimeout = 5 * time.Second

type EtcdConfig struct {
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration

	// LeaseTTL attaches published keys to a lease renewed while the process
	// lives. Zero publishes plain keys.
	LeaseTTL time.Duration
}

// Etcd keeps providers under /<prefix>/services/<name>/<nodeID>, the value
// being the JSON encoded Provider.
type Etcd struct {
	client   *clientv3.Client
	prefix   string
	leaseTTL time.Duration
	logger   logger.Logger

	lock   sync.Mutex
	leases map[string]*nodeLease
}

// one lease per publishing node, revoked when its last name is unpublished
type nodeLease struct {
	id       clientv3.LeaseID
	cancel   context.CancelFunc
	services map[string]bool
}

func NewEtcd(parentLogger logger.Logger, config EtcdConfig) (*Etcd, error) {
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to connect to etcd at %v", config.Endpoints)
	}

	return NewEtcdFromClient(parentLogger, client, config.Prefix, config.LeaseTTL), nil
}

// NewEtcdFromClient wraps an existing client. Close closes it.
func NewEtcdFromClient(parentLogger logger.Logger, client *clientv3.Client, prefix string, leaseTTL time.Duration) *Etcd {
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}

	return &Etcd{
		client:   client,
		prefix:   "/" + strings.Trim(prefix, "/") + "/services/",
		leaseTTL: leaseTTL,
		logger:   log.Or(parentLogger).GetChild("registry"),
		leases:   make(map[string]*nodeLease),
	}
}

func (e *Etcd) key(name, nodeID string) string {
	return e.prefix + name + "/" + nodeID
}

func (e *Etcd) Publish(ctx context.Context, nodeID, address string, services []string) error {
	if err := checkNodeID(nodeID); err != nil {
		return err
	}

	value, err := json.Marshal(Provider{NodeID: nodeID, Address: address})
	if err != nil {
		return errors.Wrap(err, "Failed to encode provider")
	}

	var options []clientv3.OpOption
	if e.leaseTTL > 0 {
		id, err := e.lease(ctx, nodeID)
		if err != nil {
			return err
		}
		options = append(options, clientv3.WithLease(id))
	}

	ops := make([]clientv3.Op, 0, len(services))
	for _, name := range services {
		ops = append(ops, clientv3.OpPut(e.key(name, nodeID), string(value), options...))
	}

	if _, err := e.client.Txn(ctx).Then(ops...).Commit(); err != nil {

		// a lease granted for this call holds no names yet and is revoked
		if e.leaseTTL > 0 {
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			e.releaseLease(releaseCtx, nodeID, nil)
			cancel()
		}
		return errors.Wrapf(err, "Failed to publish %v for %s", services, nodeID)
	}

	if e.leaseTTL > 0 {
		e.lock.Lock()
		if existing, found := e.leases[nodeID]; found {
			for _, name := range services {
				existing.services[name] = true
			}
		}
		e.lock.Unlock()
	}

	e.logger.DebugWith("Published", "node", nodeID, "address", address, "services", services)
	return nil
}

// lease returns the node's lease, granting and keeping one alive if needed
func (e *Etcd) lease(ctx context.Context, nodeID string) (clientv3.LeaseID, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if existing, found := e.leases[nodeID]; found {
		return existing.id, nil
	}

	seconds := int64(e.leaseTTL / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	grant, err := e.client.Grant(ctx, seconds)
	if err != nil {
		return 0, errors.Wrapf(err, "Failed to grant lease for %s", nodeID)
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	responses, err := e.client.KeepAlive(keepAliveCtx, grant.ID)
	if err != nil {
		cancel()
		return 0, errors.Wrapf(err, "Failed to keep lease of %s alive", nodeID)
	}

	go func() {
		for range responses {
		}
	}()

	e.leases[nodeID] = &nodeLease{id: grant.ID, cancel: cancel, services: make(map[string]bool)}
	return grant.ID, nil
}

func (e *Etcd) Unpublish(ctx context.Context, nodeID string, services []string) error {
	ops := make([]clientv3.Op, 0, len(services))
	for _, name := range services {
		ops = append(ops, clientv3.OpDelete(e.key(name, nodeID)))
	}

	if _, err := e.client.Txn(ctx).Then(ops...).Commit(); err != nil {
		return errors.Wrapf(err, "Failed to unpublish %v for %s", services, nodeID)
	}

	e.releaseLease(ctx, nodeID, services)

	e.logger.DebugWith("Unpublished", "node", nodeID, "services", services)
	return nil
}

func (e *Etcd) releaseLease(ctx context.Context, nodeID string, services []string) {
	e.lock.Lock()
	existing, found := e.leases[nodeID]
	if !found {
		e.lock.Unlock()
		return
	}

	for _, name := range services {
		delete(existing.services, name)
	}
	if len(existing.services) > 0 {
		e.lock.Unlock()
		return
	}
	delete(e.leases, nodeID)
	e.lock.Unlock()

	existing.cancel()
	if _, err := e.client.Revoke(ctx, existing.id); err != nil {
		e.logger.WarnWith("Failed to revoke lease", "node", nodeID, "err", err.Error())
	}
}

func (e *Etcd) Lookup(ctx context.Context, pattern string) (map[string][]Provider, error) {
	re, err := Compile(pattern)
	if err != nil {
		return nil, err
	}

	response, err := e.client.Get(ctx, e.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "Failed to list providers")
	}

	type entry struct {
		provider Provider
		revision int64
	}
	entries := make(map[string][]entry)

	for _, kv := range response.Kvs {
		relative := strings.TrimPrefix(string(kv.Key), e.prefix)

		// names may contain slashes, node ids never do (see checkNodeID)
		separator := strings.LastIndex(relative, "/")
		if separator <= 0 {
			continue
		}
		name := relative[:separator]
		if !re.MatchString(name) {
			continue
		}

		var provider Provider
		if err := json.Unmarshal(kv.Value, &provider); err != nil {
			e.logger.WarnWith("Skipping malformed provider", "key", string(kv.Key))
			continue
		}
		entries[name] = append(entries[name], entry{provider: provider, revision: kv.CreateRevision})
	}

	result := make(map[string][]Provider, len(entries))
	for name, list := range entries {

		// publish order
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].revision < list[j].revision
		})

		providers := make([]Provider, 0, len(list))
		for _, item := range list {
			providers = append(providers, item.provider)
		}
		result[name] = providers
	}
	return result, nil
}

// Watch sends the lookup result for pattern once, then again whenever a
// provider changes, until ctx is done.
func (e *Etcd) Watch(ctx context.Context, pattern string) (<-chan map[string][]Provider, error) {
	initial, err := e.Lookup(ctx, pattern)
	if err != nil {
		return nil, err
	}

	updates := make(chan map[string][]Provider, 1)
	updates <- initial

	watchChan := e.client.Watch(ctx, e.prefix, clientv3.WithPrefix())

	go func() {
		defer close(updates)

		for response := range watchChan {
			if err := response.Err(); err != nil {
				e.logger.WarnWith("Watch failed", "err", err.Error())
				return
			}

			current, err := e.Lookup(ctx, pattern)
			if err != nil {
				e.logger.WarnWith("Lookup after change failed", "err", err.Error())
				continue
			}

			select {
			case updates <- current:
			case <-ctx.Done():
				return
			}
		}
	}()

	return updates, nil
}

// Close stops renewing leases and closes the client. Leased keys expire on
// their own.
func (e *Etcd) Close() error {
	e.lock.Lock()
	for nodeID, existing := range e.leases {
		existing.cancel()
		delete(e.leases, nodeID)
	}
	e.lock.Unlock()

	return e.client.Close()
}
