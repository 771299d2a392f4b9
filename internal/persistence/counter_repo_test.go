package persistence

import (
	"context"
	"testing"
)

func TestCounterRepoIncrement_AccumulatesPerName(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.Counters.Increment(ctx, CounterMessagesTotal, 1); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := store.Counters.Increment(ctx, CounterMessagesTotal, 2); err != nil {
		t.Fatalf("increment again: %v", err)
	}
	if err := store.Counters.Increment(ctx, CounterMeshConnect, 1); err != nil {
		t.Fatalf("increment other counter: %v", err)
	}

	all, err := store.Counters.All(ctx)
	if err != nil {
		t.Fatalf("load counters: %v", err)
	}
	if all[CounterMessagesTotal] != 3 {
		t.Fatalf("expected messages_total=3, got %d", all[CounterMessagesTotal])
	}
	if all[CounterMeshConnect] != 1 {
		t.Fatalf("expected mesh_connect=1, got %d", all[CounterMeshConnect])
	}
}

func TestCounterRepoReset_ClearsAllCounters(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.Counters.Increment(ctx, CounterSendTotal, 5); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := store.Counters.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	all, err := store.Counters.All(ctx)
	if err != nil {
		t.Fatalf("load counters: %v", err)
	}
	if all[CounterSendTotal] != 0 {
		t.Fatalf("expected send_total zeroed after reset, got %d", all[CounterSendTotal])
	}
}
