package lookaside

import (
	"context"

	"github.com/google/uuid"
)

type correlationIDKeyType struct{}

var correlationIDKey correlationIDKeyType

// WithCorrelationID returns ctx carrying a stable request-correlation id,
// minting one with uuid.NewString if ctx doesn't already carry one. A route
// nested under another lookaside route (or under a caller that already
// stamped one) reuses the existing id rather than minting a new one per
// level, so one logical request keeps one id across its whole read → child
// → write sequence.
func WithCorrelationID(ctx context.Context) context.Context {
	if _, ok := CorrelationID(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, uuid.NewString())
}

// CorrelationID returns the correlation id stamped onto ctx by
// WithCorrelationID, if any.
func CorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDKey).(string)
	return id, ok
}
