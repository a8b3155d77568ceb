package consumer

import (
	"context"
)

// Invalidator drops a cached activity projection.
type Invalidator interface {
	Invalidate(ctx context.Context, activityID string) error
}

// InvalidationHandler evicts the cached detail of the activity an event refers to, so that
// replicas which did not perform the write stop serving the old projection.
type InvalidationHandler struct {
	cache Invalidator
}

// NewInvalidationHandler constructs an InvalidationHandler.
func NewInvalidationHandler(cache Invalidator) *InvalidationHandler {
	return &InvalidationHandler{cache: cache}
}

// Handle implements Handler.
func (h *InvalidationHandler) Handle(ctx context.Context, msg Message) error {
	if msg.AggregateID == "" {
		return nil
	}
	return h.cache.Invalidate(ctx, msg.AggregateID)
}
