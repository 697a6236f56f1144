package cacheclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"encore.app/lookaside"
)

// RedisCacheClient implements lookaside.CacheClient on top of
// github.com/redis/go-redis/v9, grounded on the go-redis usage patterns in
// blueberrycongee-llmux and the pack's many redis-backed cache repos.
//
// Lease coordination (LEASE_GET/LEASE_SET) has no native Redis primitive,
// so it's built from two keys per logical entry:
//   - key:       the cached value, as in a plain GET/SET
//   - key|lease: the outstanding lease token, set with NX and a short TTL
//
// A LEASE_GET that misses either discovers no lease key (it wins the
// lease, mints a token, and returns it) or finds one already held (hot
// miss, sentinel token 1). LEASE_SET atomically checks the held token
// still matches before writing, via an embedded Lua script run through
// Client.Eval — the standard go-redis idiom for compare-and-swap.
type RedisCacheClient struct {
	rdb      redis.Cmdable
	leaseTTL time.Duration
}

const leaseKeySuffix = "|lease"

// NewRedisCacheClient wraps an existing redis.Cmdable (a *redis.Client or
// *redis.ClusterClient — anything the caller already constructed and
// pooled). leaseTTL bounds how long an abandoned lease blocks other
// requesters; it should comfortably exceed the lease read's own
// worst-case backoff budget.
func NewRedisCacheClient(rdb redis.Cmdable, leaseTTL time.Duration) *RedisCacheClient {
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}
	return &RedisCacheClient{rdb: rdb, leaseTTL: leaseTTL}
}

func (c *RedisCacheClient) Get(ctx context.Context, key []byte) (lookaside.CacheResult, error) {
	payload, err := c.rdb.Get(ctx, string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return lookaside.CacheResult{Class: lookaside.ClassMiss}, nil
	}
	if err != nil {
		return lookaside.CacheResult{Class: lookaside.ClassOther}, err
	}
	return lookaside.CacheResult{Class: lookaside.ClassHit, Payload: payload}, nil
}

func (c *RedisCacheClient) Set(ctx context.Context, key, value []byte, ttlSeconds int32) (lookaside.CacheResult, error) {
	err := c.rdb.Set(ctx, string(key), value, ttl(ttlSeconds)).Err()
	if err != nil {
		return lookaside.CacheResult{Class: lookaside.ClassOther}, err
	}
	return lookaside.CacheResult{Class: lookaside.ClassOther, Stored: true}, nil
}

// leaseGetScript implements: if the value key exists, return it as a hit.
// Otherwise try to claim the lease key with NX; if that succeeds, the
// caller becomes the writer and receives the newly minted token; if it
// fails, another requester already holds the lease and the caller receives
// the hot-miss sentinel.
var leaseGetScript = redis.NewScript(`
local value = redis.call("GET", KEYS[1])
if value then
	return {1, value}
end
local ok = redis.call("SET", KEYS[2], ARGV[1], "NX", "EX", ARGV[2])
if ok then
	return {0, ARGV[1]}
end
return {0, "1"}
`)

func (c *RedisCacheClient) LeaseGet(ctx context.Context, key []byte) (lookaside.CacheResult, error) {
	token, err := newLeaseToken()
	if err != nil {
		return lookaside.CacheResult{Class: lookaside.ClassOther}, err
	}

	leaseKey := string(key) + leaseKeySuffix
	raw, err := leaseGetScript.Run(ctx, c.rdb, []string{string(key), leaseKey}, fmt.Sprintf("%d", int64(token)), int(c.leaseTTL.Seconds())).Result()
	if err != nil {
		return lookaside.CacheResult{Class: lookaside.ClassOther}, err
	}

	row, ok := raw.([]interface{})
	if !ok || len(row) != 2 {
		return lookaside.CacheResult{Class: lookaside.ClassOther}, fmt.Errorf("cacheclient: unexpected LEASE_GET reply shape")
	}

	hit, _ := row[0].(int64)
	if hit == 1 {
		payload, _ := row[1].(string)
		return lookaside.CacheResult{Class: lookaside.ClassHit, Payload: []byte(payload)}, nil
	}

	grantedTokenStr, _ := row[1].(string)
	if grantedTokenStr == "1" {
		// We lost the race to claim the lease key: someone else holds it.
		// newLeaseToken never mints 1, so "1" unambiguously means hot miss.
		return lookaside.CacheResult{Class: lookaside.ClassMiss, Token: lookaside.HotMissToken}, nil
	}
	return lookaside.CacheResult{Class: lookaside.ClassMiss, Token: token}, nil
}

// leaseSetScript atomically verifies the caller's token still names the
// live lease before storing the value and releasing the lease key,
// preventing a stale writer (one whose lease already expired and was
// reclaimed by someone else) from clobbering a fresher write.
var leaseSetScript = redis.NewScript(`
local held = redis.call("GET", KEYS[2])
if held ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "EX", ARGV[3])
redis.call("DEL", KEYS[2])
return 1
`)

func (c *RedisCacheClient) LeaseSet(ctx context.Context, key, value []byte, ttlSeconds int32, token lookaside.LeaseToken) (lookaside.CacheResult, error) {
	leaseKey := string(key) + leaseKeySuffix
	result, err := leaseSetScript.Run(ctx, c.rdb,
		[]string{string(key), leaseKey},
		fmt.Sprintf("%d", int64(token)), string(value), int(ttl(ttlSeconds).Seconds()),
	).Int()
	if err != nil {
		return lookaside.CacheResult{Class: lookaside.ClassOther}, err
	}
	return lookaside.CacheResult{Class: lookaside.ClassOther, Stored: result == 1}, nil
}

func (c *RedisCacheClient) Delete(ctx context.Context, key []byte) error {
	return c.rdb.Del(ctx, string(key), string(key)+leaseKeySuffix).Err()
}

func ttl(ttlSeconds int32) time.Duration {
	if ttlSeconds <= 0 {
		return 0
	}
	return time.Duration(ttlSeconds) * time.Second
}
