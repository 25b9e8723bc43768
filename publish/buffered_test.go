package publish_test

import (
	"context"
	"testing"
	"time"

	"github.com/flowforge/orchestra/publish"
)

func TestBufferedPublisherUnboundedHoldsEverything(t *testing.T) {
	pub := publish.NewBufferedPublisher(0)
	for i := 0; i < 100; i++ {
		pub.Publish(context.Background(), "run-1", publish.NewEvent(publish.TypeAgentStarted, time.Now(), nil))
	}
	if got := len(pub.History("run-1")); got != 100 {
		t.Errorf("expected 100 events, got %d", got)
	}
}

// TestBufferedPublisherDropsNonTerminalPastCapacity verifies that once a
// run's buffer reaches capacity, additional non-terminal events are
// dropped and counted rather than accepted.
func TestBufferedPublisherDropsNonTerminalPastCapacity(t *testing.T) {
	pub := publish.NewBufferedPublisher(3)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		pub.Publish(ctx, "run-1", publish.NewEvent(publish.TypeAgentStarted, time.Now(), nil))
	}

	if got := len(pub.History("run-1")); got != 3 {
		t.Errorf("expected buffer capped at 3, got %d", got)
	}
	if got := pub.DroppedCount("run-1"); got != 7 {
		t.Errorf("expected 7 drops, got %d", got)
	}
}

// TestBufferedPublisherNeverDropsTerminalEvents verifies
// execution_completed and budget_exceeded are accepted even once the
// buffer is already at capacity.
func TestBufferedPublisherNeverDropsTerminalEvents(t *testing.T) {
	pub := publish.NewBufferedPublisher(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		pub.Publish(ctx, "run-1", publish.NewEvent(publish.TypeAgentStarted, time.Now(), nil))
	}
	pub.Publish(ctx, "run-1", publish.NewEvent(publish.TypeBudgetExceeded, time.Now(), nil))
	pub.Publish(ctx, "run-1", publish.NewEvent(publish.TypeExecutionCompleted, time.Now(), nil))

	history := pub.History("run-1")
	var sawExceeded, sawCompleted bool
	for _, e := range history {
		if e.Type == publish.TypeBudgetExceeded {
			sawExceeded = true
		}
		if e.Type == publish.TypeExecutionCompleted {
			sawCompleted = true
		}
	}
	if !sawExceeded || !sawCompleted {
		t.Errorf("expected both terminal events to survive backpressure, got %+v", history)
	}
}

func TestBufferedPublisherClearSingleRun(t *testing.T) {
	pub := publish.NewBufferedPublisher(0)
	ctx := context.Background()
	pub.Publish(ctx, "run-1", publish.NewEvent(publish.TypeAgentStarted, time.Now(), nil))
	pub.Publish(ctx, "run-2", publish.NewEvent(publish.TypeAgentStarted, time.Now(), nil))

	pub.Clear("run-1")

	if got := len(pub.History("run-1")); got != 0 {
		t.Errorf("expected run-1 cleared, got %d events", got)
	}
	if got := len(pub.History("run-2")); got != 1 {
		t.Errorf("expected run-2 untouched, got %d events", got)
	}
}

func TestBufferedPublisherClearAll(t *testing.T) {
	pub := publish.NewBufferedPublisher(0)
	ctx := context.Background()
	pub.Publish(ctx, "run-1", publish.NewEvent(publish.TypeAgentStarted, time.Now(), nil))
	pub.Publish(ctx, "run-2", publish.NewEvent(publish.TypeAgentStarted, time.Now(), nil))

	pub.Clear("")

	if len(pub.History("run-1")) != 0 || len(pub.History("run-2")) != 0 {
		t.Error("expected Clear(\"\") to drop every run")
	}
}

func TestBufferedPublisherHistoryIsACopy(t *testing.T) {
	pub := publish.NewBufferedPublisher(0)
	ctx := context.Background()
	pub.Publish(ctx, "run-1", publish.NewEvent(publish.TypeAgentStarted, time.Now(), nil))

	history := pub.History("run-1")
	history[0] = publish.NewEvent(publish.TypeAgentFailed, time.Now(), nil)

	if got := pub.History("run-1")[0].Type; got != publish.TypeAgentStarted {
		t.Errorf("mutating a returned History slice must not affect stored state, got %s", got)
	}
}
