package lookaside

import "context"

// CacheClient is the cache-facing transport this route consumes. Connection
// pooling, request multiplexing, and wire encoding belong to the concrete
// implementation (see package cacheclient); this interface only names the
// four operations the lookaside protocol issues.
type CacheClient interface {
	Get(ctx context.Context, key []byte) (CacheResult, error)
	LeaseGet(ctx context.Context, key []byte) (CacheResult, error)
	Set(ctx context.Context, key, value []byte, ttlSeconds int32) (CacheResult, error)
	LeaseSet(ctx context.Context, key, value []byte, ttlSeconds int32, token LeaseToken) (CacheResult, error)
	// Delete removes a key outright. Used to invalidate a poisoned entry
	// after a deserialization failure (SPEC_FULL §9 open question #1).
	Delete(ctx context.Context, key []byte) error
}
