package publish

import "context"

// Publisher receives state-transition events for a run. Implementations
// must be safe for concurrent callers, per spec.md §6 "Publisher
// contract"; the Executor serializes per-step writes so intra-step
// ordering is preserved, but cross-step writes from different group
// members may arrive interleaved.
//
// Modeled on the teacher's emit.Emitter (Emit/EmitBatch/Flush), narrowed
// to the single Publish call spec.md's contract names, plus Flush for
// parity with backends that buffer (OTel spans, batched transports).
type Publisher interface {
	// Publish delivers one event for runID. Acknowledged deliveries
	// return nil; a dropped event (backpressure) also returns nil — the
	// caller tracks drops via DroppedCount, it does not treat drops as
	// Publish errors. Publish should never block the Executor for long;
	// implementations that buffer do so internally.
	Publish(ctx context.Context, runID string, event Event) error

	// Flush blocks until any buffered events are delivered or ctx expires.
	Flush(ctx context.Context) error
}

// DroppedCounter is implemented by publishers that can report how many
// non-terminal events they have dropped under backpressure for a run,
// surfaced in the execution_completed totals per spec.md §5.
type DroppedCounter interface {
	DroppedCount(runID string) int
}

// terminal reports whether a type must never be dropped under
// backpressure, per spec.md §5: execution_completed and budget_exceeded
// are terminal-adjacent and are prioritized over warnings/state changes.
func terminal(t Type) bool {
	return t == TypeExecutionCompleted || t == TypeBudgetExceeded
}
