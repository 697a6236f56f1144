package cacheclient

import (
	"context"
	"time"

	"encore.app/lookaside"
	"encore.app/monitoring"
)

// MetricsPublisher implements lookaside.Observer by publishing a route's
// per-request outcome onto the monitoring service's pubsub topic, so
// lookaside traffic shows up on the same dashboards as cache-manager and
// warming traffic. Construction code wires this in optionally, via
// LookasideRoute.SetObserver; lookaside itself has no dependency on pubsub
// or monitoring, only on the Observer interface this type satisfies.
type MetricsPublisher struct {
	Route string
	ctx   context.Context
}

var _ lookaside.Observer = (*MetricsPublisher)(nil)

// NewMetricsPublisher builds a publisher bound to a route's diagnostic name.
// ctx is used only to carry trace/request metadata onto the published
// event; a background context is fine for most deployments since the
// publish itself is fire-and-forget.
func NewMetricsPublisher(ctx context.Context, route string) *MetricsPublisher {
	return &MetricsPublisher{Route: route, ctx: ctx}
}

// ObserveRead publishes a LookasideMetricEvent for a completed cache read.
// Errors from the underlying Publish call are intentionally swallowed: a
// lost metrics sample must never affect the request path it describes.
func (p *MetricsPublisher) ObserveRead(hit bool, latency time.Duration) {
	_, _ = monitoring.LookasideMetricsTopic.Publish(p.ctx, &monitoring.LookasideMetricEvent{
		Route:     p.Route,
		Hit:       hit,
		LatencyMs: float64(latency.Microseconds()) / 1000.0,
		Timestamp: time.Now(),
	})
}

// ObserveWriteError publishes a LookasideMetricEvent flagging a failed
// best-effort cache write.
func (p *MetricsPublisher) ObserveWriteError() {
	_, _ = monitoring.LookasideMetricsTopic.Publish(p.ctx, &monitoring.LookasideMetricEvent{
		Route:      p.Route,
		WriteError: true,
		Timestamp:  time.Now(),
	})
}
