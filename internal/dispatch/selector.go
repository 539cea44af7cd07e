package dispatch

import (
	"context"
	"errors"

	"github.com/apigate/gatewayd/internal/cache"
	"github.com/apigate/gatewayd/internal/gateway"
	"github.com/apigate/gatewayd/internal/models"
	"github.com/apigate/gatewayd/internal/registry"
)

// Selector picks the backend server for a request. Without a client key
// it round-robins over the API's server list using a shared atomic
// counter per endpoint, so replicas rotate through the same sequence.
// With a client key it round-robins over that client's pinned server
// list instead.
type Selector struct {
	cache    cache.Store
	resolver *registry.Resolver
}

func NewSelector(c cache.Store, resolver *registry.Resolver) *Selector {
	return &Selector{cache: c, resolver: resolver}
}

func (s *Selector) Select(ctx context.Context, api *models.API, endpoint *models.Endpoint, clientKey string) (string, error) {
	if clientKey != "" {
		return s.selectPinned(ctx, clientKey)
	}
	return s.selectRoundRobin(ctx, api, endpoint)
}

func (s *Selector) selectRoundRobin(ctx context.Context, api *models.API, endpoint *models.Endpoint) (string, error) {
	if len(api.Servers) == 0 {
		return "", gateway.ErrNoServers()
	}
	count, err := s.cache.Increment(ctx, cache.NSEndpointServer, endpoint.ID)
	if err != nil {
		// Degraded cache: serve the first server rather than fail.
		return api.Servers[0], nil
	}
	return api.Servers[(count-1)%int64(len(api.Servers))], nil
}

func (s *Selector) selectPinned(ctx context.Context, clientKey string) (string, error) {
	routing, err := s.resolver.Routing(ctx, clientKey)
	if errors.Is(err, registry.ErrNotFound) {
		return "", gateway.ErrUnknownClientKey()
	}
	if err != nil {
		return "", err
	}
	if len(routing.Servers) == 0 {
		return "", gateway.ErrNoServers()
	}
	count, err := s.cache.Increment(ctx, cache.NSRoutingServer, clientKey)
	if err != nil {
		return routing.Servers[0], nil
	}
	return routing.Servers[(count-1)%int64(len(routing.Servers))], nil
}
