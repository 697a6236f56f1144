package lookaside

import "context"

// Writer implements the best-effort write path from SPEC_FULL §4.4. It is
// always called with an already-serialized payload: serialization happens
// on the caller's goroutine (see LookasideRoute.dispatchWrite), and Write
// itself is the only thing ever submitted to the Scheduler, so the
// fiber-era "serialize outside the detached task" constraint holds by
// construction rather than by convention.
type Writer struct {
	Client   CacheClient
	Leases   bool
	TTL      int32
	Metrics  *Metrics
	Observer Observer
}

// Write issues SET or, when leases are enabled and a valid token is held,
// LEASE_SET. Errors are swallowed: the write is best-effort and its
// absence from the cache is an acceptable outcome, never surfaced to the
// route's caller (SPEC_FULL §7).
func (w Writer) Write(ctx context.Context, key, value []byte, token LeaseToken) {
	var err error
	if w.Leases && token != NoLease {
		_, err = w.Client.LeaseSet(ctx, key, value, w.TTL, token)
	} else {
		_, err = w.Client.Set(ctx, key, value, w.TTL)
	}
	if err != nil {
		if w.Metrics != nil {
			w.Metrics.writeErrors.Inc()
		}
		if w.Observer != nil {
			w.Observer.ObserveWriteError()
		}
	}
}
