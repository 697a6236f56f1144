// Package lookaside implements a contention-safe lookaside-cache routing
// node: a request transits it, a pluggable policy decides whether it is
// cacheable, and on a miss it forwards to a downstream child route before
// writing the reply back to the cache.
//
// The package is generic over the request/reply pair so each routing-tree
// instantiation gets a statically typed route instead of an interface{}
// boundary — an associated-type requirement realized with Go generics.
package lookaside

import (
	"context"
	"fmt"
	"time"
)

// Route is the routing-tree node abstraction this package wraps. Composing,
// traversing, and selecting a child route are the host tree's concern;
// this package only consumes the interface.
type Route[Req any, Rep any] interface {
	Route(ctx context.Context, req Req) (Rep, error)
	Traverse(ctx context.Context, visitor func(Route[Req, Rep]))
	RouteName() string
}

// ReplyCodec serializes and deserializes the reply type for cache storage.
// Injected so the core never hard-codes an encoding.
type ReplyCodec[Rep any] interface {
	Marshal(Rep) ([]byte, error)
	Unmarshal([]byte) (Rep, error)
}

// Observer receives a lookaside route's per-request outcome. Construction
// leaves it nil; a deployment that wants the traffic on a dashboard sets one
// via SetObserver. Kept separate from Metrics because an Observer typically
// fans out off-process (pubsub, logs), while Metrics stays in-process.
type Observer interface {
	// ObserveRead reports whether a candidate request's cache read was a
	// hit, and how long Route took end to end.
	ObserveRead(hit bool, latency time.Duration)
	// ObserveWriteError reports a failed best-effort cache write. Called
	// from the detached write task, not from Route itself.
	ObserveWriteError()
}

// Helper is the user-supplied policy plug-in (§4.1).
type Helper[Req any] interface {
	// CacheCandidate reports whether req may be cached.
	CacheCandidate(req Req) bool
	// BuildKey returns the request's logical cache key.
	BuildKey(req Req) []byte
	// Name is a diagnostic label for this helper.
	Name() string
}

// LeaseSettings configures the lease-read retry/backoff loop (§4.3).
type LeaseSettings struct {
	Enabled       bool
	InitialWaitMs int32
	MaxWaitMs     int32
	NumRetries    int32
}

// LookasideRoute is the core component: a routing-tree node that consults a
// cache ahead of a child route. Immutable after construction and safe for
// concurrent use across workers.
type LookasideRoute[Req any, Rep any] struct {
	child        Route[Req, Rep]
	cacheClient  CacheClient
	routerAnchor any // kept solely to keep a shared cache router alive
	keyPrefix    []byte
	composer     *KeyComposer
	ttlSeconds   int32
	helper       Helper[Req]
	codec        ReplyCodec[Rep]
	lease        LeaseSettings
	scheduler    Scheduler
	metrics      *Metrics
	observer     Observer
}

// SetObserver attaches an Observer that is notified of this route's
// per-request outcomes. Safe to call once before the route starts serving
// traffic; not safe to call concurrently with Route.
func (r *LookasideRoute[Req, Rep]) SetObserver(o Observer) {
	r.observer = o
}

// NewLookasideRoute builds a LookasideRoute directly from its collaborators.
// Most callers should instead go through LoadConfig+BuildRoute (config.go), which
// implements the construction-failure-returns-raw-child policy described in
// SPEC_FULL §4.5; NewLookasideRoute is the low-level constructor that policy
// wraps.
func NewLookasideRoute[Req any, Rep any](
	child Route[Req, Rep],
	cacheClient CacheClient,
	routerAnchor any,
	cfg RouteConfig,
	helper Helper[Req],
	codec ReplyCodec[Rep],
	scheduler Scheduler,
	metrics *Metrics,
) *LookasideRoute[Req, Rep] {
	if scheduler == nil {
		scheduler = GoroutineScheduler{}
	}
	if metrics == nil {
		metrics = NewMetrics(helper.Name())
	}
	return &LookasideRoute[Req, Rep]{
		child:        child,
		cacheClient:  cacheClient,
		routerAnchor: routerAnchor,
		keyPrefix:    []byte(cfg.Prefix),
		composer:     NewKeyComposer(cfg.KeySplitSize, nil),
		ttlSeconds:   cfg.TTLSeconds,
		helper:       helper,
		codec:        codec,
		lease:        cfg.Lease,
		scheduler:    scheduler,
		metrics:      metrics,
	}
}

// Route implements the orchestration in SPEC_FULL §4.5:
//  1. ask the policy whether this request is a cache candidate
//  2. if so, compose the key and attempt a read; a hit returns immediately
//  3. otherwise (or on miss) forward to the child
//  4. on a miss that was a candidate, dispatch a detached write
//  5. return the reply observed by the caller
func (r *LookasideRoute[Req, Rep]) Route(ctx context.Context, req Req) (Rep, error) {
	ctx = WithCorrelationID(ctx)
	candidate := r.helper.CacheCandidate(req)
	start := time.Now()

	var key []byte
	var leaseToken LeaseToken
	if candidate {
		key = r.composer.Compose(r.keyPrefix, r.helper.BuildKey(req))

		reply, hit, token, err := r.read(ctx, key)
		leaseToken = token
		if err != nil {
			r.metrics.readErrors.Inc()
		}
		if hit {
			r.metrics.hits.Inc()
			if r.observer != nil {
				r.observer.ObserveRead(true, time.Since(start))
			}
			return reply, nil
		}
		r.metrics.misses.Inc()
	}

	reply, err := r.child.Route(ctx, req)
	if err != nil {
		var zero Rep
		return zero, err
	}

	if candidate {
		if r.observer != nil {
			r.observer.ObserveRead(false, time.Since(start))
		}
		r.dispatchWrite(ctx, key, reply, leaseToken)
	}

	return reply, nil
}

// read performs the plain or lease read depending on configuration and
// returns (reply, hit, leaseToken, err).
func (r *LookasideRoute[Req, Rep]) read(ctx context.Context, key []byte) (Rep, bool, LeaseToken, error) {
	reader := Reader[Rep]{
		Client:    r.cacheClient,
		Codec:     r.codec,
		Lease:     r.lease,
		Scheduler: r.scheduler,
	}
	if r.lease.Enabled {
		return reader.LeaseRead(ctx, key, r.metrics)
	}
	return reader.PlainRead(ctx, key)
}

// dispatchWrite serializes the reply on the calling goroutine (never inside
// the detached task — see SPEC_FULL §4.4) and submits the write to the
// scheduler without awaiting it.
func (r *LookasideRoute[Req, Rep]) dispatchWrite(ctx context.Context, key []byte, reply Rep, token LeaseToken) {
	payload, err := r.codec.Marshal(reply)
	if err != nil {
		r.metrics.writeErrors.Inc()
		return
	}

	writer := Writer{
		Client:   r.cacheClient,
		Leases:   r.lease.Enabled,
		TTL:      r.ttlSeconds,
		Metrics:  r.metrics,
		Observer: r.observer,
	}
	// The detached task must not inherit ctx's cancellation (the caller may
	// have returned before the write runs), but it should keep the same
	// correlation id so a write failure can still be tied back to the
	// request that produced it.
	writeCtx := context.Background()
	if id, ok := CorrelationID(ctx); ok {
		writeCtx = context.WithValue(writeCtx, correlationIDKey, id)
	}
	r.scheduler.Dispatch(func() {
		writer.Write(writeCtx, key, payload, token)
	})
}

// Traverse forwards the visitor to the child only: the lookaside wrapper is
// invisible to tree traversal (SPEC_FULL §4.5).
func (r *LookasideRoute[Req, Rep]) Traverse(ctx context.Context, visitor func(Route[Req, Rep])) {
	r.child.Traverse(ctx, visitor)
}

// RouteName returns a diagnostic identifier for this route instance.
func (r *LookasideRoute[Req, Rep]) RouteName() string {
	return fmt.Sprintf("lookaside-cache|name=%s|ttl=%ds|leases=%t", r.helper.Name(), r.ttlSeconds, r.lease.Enabled)
}
