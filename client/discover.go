package client

import (
	"context"
	"sort"
	"time"

	"github.com/dermesser/zmp/registry"

	"golang.org/x/time/rate"
)

const discoverInterval = 200 * time.Millisecond

/*
Discover waits until a service name matching pattern has at least
minProviders providers (minimum 1) and returns a Service for it. Names
match when the pattern matches at their start; with several satisfying
names the lexically first wins.

The registry is polled every 200ms. When the deadline of ctx expires first
Discover returns nil and no error; a canceled ctx returns its error, as
does a failing lookup such as an invalid pattern.
*/
func Discover(ctx context.Context, reg registry.Registry, pattern string, minProviders int, opts ...Option) (*Service, error) {
	if minProviders < 1 {
		minProviders = 1
	}

	limiter := rate.NewLimiter(rate.Every(discoverInterval), 1)
	for {

		// also fails once the next poll would be past the deadline
		if err := limiter.Wait(ctx); err != nil {
			return expired(ctx)
		}

		services, err := reg.Lookup(ctx, pattern)
		if err != nil {
			if ctx.Err() != nil {
				return expired(ctx)
			}
			return nil, err
		}

		if name, providers := satisfying(services, minProviders); name != "" {
			return newService(name, reg, providers, opts), nil
		}
	}
}

// DiscoverTimeout is Discover bounded by timeout. A timeout of zero or less
// waits forever.
func DiscoverTimeout(reg registry.Registry, pattern string, timeout time.Duration, minProviders int, opts ...Option) (*Service, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return Discover(ctx, reg, pattern, minProviders, opts...)
}

func satisfying(services map[string][]registry.Provider, minProviders int) (string, []registry.Provider) {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if len(services[name]) >= minProviders {
			return name, services[name]
		}
	}
	return "", nil
}

func expired(ctx context.Context) (*Service, error) {
	if ctx.Err() == context.Canceled {
		return nil, ctx.Err()
	}
	return nil, nil
}
