package publish

import "context"

// NullPublisher discards every event. Adapted from the teacher's
// emit.NullEmitter — safe for concurrent use, zero overhead, useful
// when a caller wants to run a plan without subscribing to its stream.
type NullPublisher struct{}

// NewNullPublisher returns a Publisher that discards all events.
func NewNullPublisher() *NullPublisher { return &NullPublisher{} }

func (n *NullPublisher) Publish(ctx context.Context, runID string, event Event) error { return nil }

func (n *NullPublisher) Flush(ctx context.Context) error { return nil }
