package persistence

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testWriterLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterQueueEnqueue_NeverBlocksAndDropsOldest(t *testing.T) {
	w := NewWriterQueue(testWriterLogger(), 2)

	var ran []int
	for i := 0; i < 5; i++ {
		i := i
		done := make(chan struct{})
		go func() {
			w.Enqueue("test", func(context.Context) error {
				ran = append(ran, i)
				return nil
			})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("enqueue %d blocked", i)
		}
	}

	if dropped := w.Dropped(); dropped != 3 {
		t.Fatalf("expected 3 dropped writes, got %d", dropped)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()
	w.Wait()

	// The oldest commands were discarded, the newest two survived.
	if len(ran) != 2 || ran[0] != 3 || ran[1] != 4 {
		t.Fatalf("expected commands [3 4] to run, got %v", ran)
	}
}

func TestWriterQueueStart_DrainsPendingWritesOnShutdown(t *testing.T) {
	w := NewWriterQueue(testWriterLogger(), 16)

	var executed atomic.Int64
	for i := 0; i < 10; i++ {
		w.Enqueue("test", func(context.Context) error {
			executed.Add(1)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()
	w.Wait()

	if executed.Load() != 10 {
		t.Fatalf("expected all 10 writes drained, got %d", executed.Load())
	}
}

func TestWriterQueueRunWithRetry_RetriesTransientFailures(t *testing.T) {
	w := NewWriterQueue(testWriterLogger(), 16)

	var attempts atomic.Int64
	w.Enqueue("flaky", func(context.Context) error {
		if attempts.Add(1) < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	deadline := time.After(5 * time.Second)
	for attempts.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 attempts, got %d", attempts.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	w.Wait()
}
