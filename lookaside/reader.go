package lookaside

import (
	"context"
	"time"
)

// Reader implements the two read-path variants from SPEC_FULL §4.3: a
// plain GET, and a lease-coordinated GET with exponential-backoff retry on
// hot misses.
type Reader[Rep any] struct {
	Client    CacheClient
	Codec     ReplyCodec[Rep]
	Lease     LeaseSettings
	Scheduler Scheduler
}

func (r Reader[Rep]) scheduler() Scheduler {
	if r.Scheduler != nil {
		return r.Scheduler
	}
	return GoroutineScheduler{}
}

// PlainRead issues a GET and, on a hit with a payload, deserializes it.
// Any other outcome is "no cached reply" with leaseToken always 0.
func (r Reader[Rep]) PlainRead(ctx context.Context, key []byte) (Rep, bool, LeaseToken, error) {
	var zero Rep

	result, err := r.Client.Get(ctx, key)
	if err != nil {
		return zero, false, NoLease, err
	}
	if result.Class == ClassHit && result.Payload != nil {
		reply, err := r.Codec.Unmarshal(result.Payload)
		if err != nil {
			// Deserialization failure: treat as miss and fall through to
			// the child, per SPEC_FULL §9 open question #1. Best-effort
			// invalidate the poisoned key so it doesn't keep failing.
			_ = r.Client.Delete(context.Background(), key)
			return zero, false, NoLease, nil
		}
		return reply, true, NoLease, nil
	}
	return zero, false, NoLease, nil
}

// LeaseRead implements the retry/backoff protocol in SPEC_FULL §4.3:
//
//  1. wait = InitialWaitMs, attempt = 0, leaseToken = 0
//  2. for attempt in 0..NumRetries inclusive:
//     a. if attempt > 0, sleep `wait` ms then wait = min(wait*2, MaxWaitMs)
//     b. issue LEASE_GET(key)
//     c. hit with payload -> deserialize, return reply
//     d. miss with HOT_MISS_SENTINEL -> continue retrying
//     e. miss with any other token -> return miss, leaseToken = token
//     f. any other outcome -> return miss, leaseToken = 0
//  3. retries exhausted while still hot-missing -> return miss, leaseToken = 0
func (r Reader[Rep]) LeaseRead(ctx context.Context, key []byte, metrics *Metrics) (Rep, bool, LeaseToken, error) {
	var zero Rep

	wait := time.Duration(r.Lease.InitialWaitMs) * time.Millisecond
	maxWait := time.Duration(r.Lease.MaxWaitMs) * time.Millisecond

	for attempt := int32(0); attempt <= r.Lease.NumRetries; attempt++ {
		if attempt > 0 {
			if metrics != nil {
				metrics.ObserveLeaseWait(wait.Seconds())
			}
			if err := r.scheduler().Sleep(ctx, wait); err != nil {
				return zero, false, NoLease, err
			}
			wait *= 2
			if wait > maxWait {
				wait = maxWait
			}
		}

		result, err := r.Client.LeaseGet(ctx, key)
		if err != nil {
			return zero, false, NoLease, err
		}

		switch result.Class {
		case ClassHit:
			if result.Payload == nil {
				return zero, false, NoLease, nil
			}
			reply, err := r.Codec.Unmarshal(result.Payload)
			if err != nil {
				_ = r.Client.Delete(context.Background(), key)
				return zero, false, NoLease, nil
			}
			return reply, true, NoLease, nil

		case ClassMiss:
			if result.Token == HotMissToken {
				if metrics != nil {
					metrics.hotMiss.Inc()
				}
				continue
			}
			return zero, false, result.Token, nil

		default: // ClassOther: transport hiccup, treat as a read failure
			return zero, false, NoLease, nil
		}
	}

	// Retries exhausted while still seeing HOT_MISS.
	return zero, false, NoLease, nil
}
