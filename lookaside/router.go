package lookaside

import (
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"
)

// persistenceIDPrefix matches SPEC_FULL §6: persistenceId =
// "CarbonLookasideClient:" + flavor.
const persistenceIDPrefix = "CarbonLookasideClient:"

// CacheRouter is the shared handle this package keeps alive on behalf of
// every LookasideRoute constructed for a given flavor; the registry holds
// it for its own lifetime and does not count or release references
// (SPEC_FULL §9, "Router lifetime"). Its only job in this package is to
// anchor the lifetime of the underlying client; routing/sharding decisions
// belong to whatever concrete router a deployment plugs in.
type CacheRouter struct {
	Flavor string
	Client CacheClient
}

// RouterFactory builds a (router, client) pair for a flavor. Deployments
// supply one concrete factory (e.g. cacheclient.NewFactory(...).Build);
// this package only defines the shape and the sharing policy around it.
type RouterFactory func(flavor string) (*CacheRouter, CacheClient, error)

// RouterRegistry implements createCacheRouter(persistenceId, flavor): the
// same router instance is returned for the same persistenceId, so multiple
// lookaside routes sharing a flavor share one underlying router
// (SPEC_FULL §6, §9).
type RouterRegistry struct {
	factory RouterFactory

	mu      sync.Mutex
	routers map[string]*CacheRouter
	clients map[string]CacheClient
	group   singleflight.Group
}

// NewRouterRegistry builds a registry backed by factory. golang.org/x/sync
// singleflight collapses concurrent construction of the same persistenceId
// arriving during routing-tree startup into a single factory call (this is
// about construction, not about coalescing cache reads — read-path miss
// coordination is owned by cache leases, per SPEC_FULL §9).
func NewRouterRegistry(factory RouterFactory) *RouterRegistry {
	return &RouterRegistry{
		factory: factory,
		routers: make(map[string]*CacheRouter),
		clients: make(map[string]CacheClient),
	}
}

// CreateCacheRouter returns the shared (router, client) pair for flavor,
// building it on first use via the registry's factory.
func (r *RouterRegistry) CreateCacheRouter(flavor string) (*CacheRouter, CacheClient, error) {
	persistenceID := persistenceIDPrefix + flavor

	r.mu.Lock()
	if router, ok := r.routers[persistenceID]; ok {
		client := r.clients[persistenceID]
		r.mu.Unlock()
		return router, client, nil
	}
	r.mu.Unlock()

	result, err, _ := r.group.Do(persistenceID, func() (any, error) {
		router, client, err := r.factory(flavor)
		if err != nil {
			return nil, fmt.Errorf("lookaside: create cache router for %q: %w", persistenceID, err)
		}

		r.mu.Lock()
		r.routers[persistenceID] = router
		r.clients[persistenceID] = client
		r.mu.Unlock()

		return [2]any{router, client}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	pair := result.([2]any)
	return pair[0].(*CacheRouter), pair[1].(CacheClient), nil
}

// defaultLogf matches the stdlib log.Printf convention used throughout this
// codebase's services, which log plain "[INFO]"/"[WARN]"/"[ERROR]"-prefixed
// lines rather than adopting a structured logging library.
func defaultLogf(format string, args ...any) {
	log.Printf(format, args...)
}
