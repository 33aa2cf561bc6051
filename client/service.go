/*
Package client calls services provided by nodes.

A Service is obtained with Discover, which waits until the registry lists
enough providers for a name. Calls rotate over the providers; a provider
that does not answer or no longer provides the service is skipped for the
next one when retries are enabled.

	svc, err := client.DiscoverTimeout(reg, "add", 5*time.Second, 1)
	if err != nil || svc == nil {
		return err
	}
	defer svc.Close()

	reply, err := svc.Call([]interface{}{17, 25}, nil, "")
	if err != nil {
		return err
	}

	var sum int
	err = reply.Decode(&sum)
*/
package client

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dermesser/zmp/log"
	"github.com/dermesser/zmp/registry"
	"github.com/dermesser/zmp/securitymanager"
	"github.com/dermesser/zmp/wire"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

const (
	DefaultTimeout = 10 * time.Second

	// bounds the registry lookup refreshing the providers after a failure
	refreshTimeout = 5 * time.Second
)

type options struct {
	logger   logger.Logger
	security *securitymanager.ClientSecurityManager
	cache    *ConnectionCache
	timeout  time.Duration
	retries  int
}

type Option func(*options)

func WithLogger(parentLogger logger.Logger) Option {
	return func(o *options) {
		o.logger = parentLogger
	}
}

// WithSecurityManager enables CURVE on new connections. Ignored when a
// connection cache is passed as well; the cache decides then.
func WithSecurityManager(security *securitymanager.ClientSecurityManager) Option {
	return func(o *options) {
		o.security = security
	}
}

// WithConnectionCache shares connections between services. A shared cache is
// not closed by Service.Close.
func WithConnectionCache(cache *ConnectionCache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithTimeout bounds each attempt of a call.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

func WithRetries(retries int) Option {
	return func(o *options) {
		o.retries = retries
	}
}

// Service is a handle to the providers of one service name. It is safe for
// concurrent use.
type Service struct {
	name     string
	registry registry.Registry
	logger   logger.Logger
	timeout  time.Duration

	cache     *ConnectionCache
	ownsCache bool

	retries int32
	next    uint32

	lock      sync.Mutex
	providers []registry.Provider
}

func newService(name string, reg registry.Registry, providers []registry.Provider, opts []Option) *Service {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		name:      name,
		registry:  reg,
		logger:    log.Or(o.logger).GetChild("client"),
		timeout:   o.timeout,
		cache:     o.cache,
		retries:   int32(o.retries),
		providers: append([]registry.Provider(nil), providers...),
	}

	if s.cache == nil {
		s.cache = NewConnectionCache(o.security)
		s.ownsCache = true
	}
	return s
}

func (s *Service) Name() string {
	return s.name
}

// Providers returns the providers known to the service, in rotation order.
func (s *Service) Providers() []registry.Provider {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]registry.Provider(nil), s.providers...)
}

// SetRetries sets how many other providers a call tries after the first one
// could not be reached. Zero disables failover.
func (s *Service) SetRetries(retries int) {
	if retries < 0 {
		retries = 0
	}
	atomic.StoreInt32(&s.retries, int32(retries))
}

func (s *Service) Retries() int {
	return int(atomic.LoadInt32(&s.retries))
}

// Close releases the connections of the service.
func (s *Service) Close() {
	if s.ownsCache {
		s.cache.CloseAll()
	}
}

/*
Call invokes the service with positional args and keyword kwargs (both may be
nil) and waits for the reply.

When nodeID is set the call goes to that provider only, and fails with
*UnknownServiceError if the service has no such provider. Otherwise providers
take turns; a provider that cannot be reached is replaced by the next one, up
to the configured number of retries, after the provider list was refreshed
from the registry.

A failure inside the service is returned as *RemoteServiceError, a transport
failure as *RequestError.
*/
func (s *Service) Call(args []interface{}, kwargs map[string]interface{}, nodeID string) (*Reply, error) {
	request, err := s.encode(args, kwargs)
	if err != nil {
		return nil, err
	}

	attempts := 1
	if nodeID == "" {
		attempts += s.Retries()
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		target, err := s.pick(nodeID)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		reply, err := s.callProvider(target, request)
		if err == nil || nodeID != "" || !IsUnknownService(err) {
			return reply, err
		}

		s.logger.WarnWith("Provider unavailable",
			"service", s.name,
			"node", target.NodeID,
			"attempt", attempt+1,
			"err", err.Error())

		lastErr = err
		if attempt+1 < attempts {
			s.refresh()
		}
	}
	return nil, lastErr
}

func (s *Service) encode(args []interface{}, kwargs map[string]interface{}) ([]byte, error) {
	encodedArgs, err := wire.EncodeArgs(args)
	if err != nil {
		return nil, &RequestError{status: StatusRequestError, err: err}
	}

	encodedKwargs, err := wire.EncodeKwargs(kwargs)
	if err != nil {
		return nil, &RequestError{status: StatusRequestError, err: err}
	}

	request, err := wire.EncodeRequest(wire.NewRequest(s.name, encodedArgs, encodedKwargs))
	if err != nil {
		return nil, &RequestError{status: StatusRequestError, err: err}
	}
	return request, nil
}

// pick returns the provider nodeID, or the next one in turn when empty
func (s *Service) pick(nodeID string) (registry.Provider, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if nodeID != "" {
		for _, provider := range s.providers {
			if provider.NodeID == nodeID {
				return provider, nil
			}
		}
		return registry.Provider{}, &UnknownServiceError{Service: s.name, Node: nodeID}
	}

	if len(s.providers) == 0 {
		return registry.Provider{}, &UnknownServiceError{Service: s.name}
	}

	turn := atomic.AddUint32(&s.next, 1) - 1
	return s.providers[int(turn%uint32(len(s.providers)))], nil
}

// refresh replaces the providers with the ones currently published
func (s *Service) refresh() {
	if s.registry == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	services, err := s.registry.Lookup(ctx, regexp.QuoteMeta(s.name)+"$")
	if err != nil {
		s.logger.WarnWith("Failed to refresh providers", "service", s.name, "err", err.Error())
		return
	}

	s.lock.Lock()
	s.providers = services[s.name]
	s.lock.Unlock()

	s.logger.DebugWith("Refreshed providers", "service", s.name, "providers", len(services[s.name]))
}

func (s *Service) callProvider(target registry.Provider, request []byte) (*Reply, error) {
	channel, err := s.cache.get(target.Address, s.timeout)
	if err != nil {
		return nil, err
	}

	encoded, err := channel.roundTrip(request)
	if err != nil {
		channel.close()
		return nil, err
	}
	s.cache.put(channel)

	response, err := wire.DecodeResponse(encoded)
	if err != nil {
		return nil, &RequestError{status: StatusProtocolError, err: errors.Wrapf(err, "Bad response from %s", target.NodeID)}
	}

	if exc := response.GetException(); exc != nil {
		if exc.GetExcKind() == wire.KindUnknownService {
			return nil, &UnknownServiceError{Service: s.name, Node: target.NodeID}
		}

		return nil, &RemoteServiceError{
			Service: s.name,
			Node:    target.NodeID,
			Kind:    exc.GetExcKind(),
			Message: string(exc.GetExcMessage()),
			Trace:   exc.GetStackTrace(),
		}
	}

	return &Reply{service: s.name, node: target.NodeID, payload: response.GetResponse()}, nil
}
