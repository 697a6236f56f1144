package cachemanager

import (
	"context"
	"time"

	"encore.app/lookaside"
)

// LookasideRemoteCache adapts a lookaside.CacheClient into this package's
// RemoteCache shape, so the L2 slot here can be backed by the exact same
// cache a LookasideRoute reads from instead of a second, independently
// configured client. Entries this service writes through this adapter are
// visible to a lookaside route reading the same logical key (and vice
// versa) as long as both sides compose the wire key the same way — callers
// that also front a lookaside.KeyComposer'd route should wrap Client with
// the matching key composition before handing it to NewLookasideRemoteCache.
type LookasideRemoteCache struct {
	Client lookaside.CacheClient
}

var _ RemoteCache = (*LookasideRemoteCache)(nil)

// NewLookasideRemoteCache builds the adapter.
func NewLookasideRemoteCache(client lookaside.CacheClient) *LookasideRemoteCache {
	return &LookasideRemoteCache{Client: client}
}

func (c *LookasideRemoteCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	result, err := c.Client.Get(ctx, []byte(key))
	if err != nil {
		return nil, false, err
	}
	if result.Class != lookaside.ClassHit {
		return nil, false, nil
	}
	return result.Payload, true, nil
}

func (c *LookasideRemoteCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.Client.Set(ctx, []byte(key), value, int32(ttl.Seconds()))
	return err
}

func (c *LookasideRemoteCache) Delete(ctx context.Context, key string) error {
	return c.Client.Delete(ctx, []byte(key))
}

// DeletePattern has no equivalent in lookaside.CacheClient: the lease
// protocol only ever addresses one key at a time, and the production
// binding (cacheclient.RedisCacheClient) doesn't expose a SCAN. It's a
// no-op here; L1 deletion (done directly by Service.Invalidate) is what
// keeps pattern eviction correct for the in-process tier, and L2 entries
// still fall out on their own TTL.
func (c *LookasideRemoteCache) DeletePattern(ctx context.Context, pattern string) error {
	return nil
}

// ConfigureLookasideL2 wires this service's L2 tier to the lookaside cache
// router registered for flavor, so cache-manager and any LookasideRoute
// built from the same registry observe the same underlying cache rather
// than two independently-populated ones. Returns the registry's error
// (the factory's error wrapped with the persistenceId) if it can't build a
// client for flavor; the service's L2 tier is left untouched in that case.
func (s *Service) ConfigureLookasideL2(registry *lookaside.RouterRegistry, flavor string) error {
	_, client, err := registry.CreateCacheRouter(flavor)
	if err != nil {
		return err
	}
	s.SetL2Cache(NewLookasideRemoteCache(client))
	return nil
}
