package persistence

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	defaultQueueCapacity = 1024
	drainGracePeriod     = 2 * time.Second
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue serializes all store writes onto a single goroutine so
// the ingestion path never blocks on I/O. The queue is bounded: when
// full, the oldest pending write is dropped and counted rather than
// stalling the producer.
type WriterQueue struct {
	logger  *slog.Logger
	queue   chan writeCmd
	dropped atomic.Int64
	done    chan struct{}
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &WriterQueue{
		logger: logger,
		queue:  make(chan writeCmd, capacity),
		done:   make(chan struct{}),
	}
}

// Enqueue adds a write command without ever blocking. On a full queue
// the oldest command is discarded to make room.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}
	for {
		select {
		case w.queue <- cmd:
			return
		default:
		}
		select {
		case old := <-w.queue:
			n := w.dropped.Add(1)
			w.logger.Warn("write queue full, dropped oldest", "cmd", old.name, "dropped_total", n)
		default:
		}
	}
}

// Dropped reports how many writes were discarded due to backpressure.
func (w *WriterQueue) Dropped() int64 {
	return w.dropped.Load()
}

// Start runs the writer until ctx is cancelled, then drains remaining
// commands best-effort within a bounded grace period.
func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				w.drain()
				return
			case cmd := <-w.queue:
				w.runWithRetry(ctx, cmd)
			}
		}
	}()
}

// Wait blocks until the writer goroutine has finished draining.
func (w *WriterQueue) Wait() {
	<-w.done
}

func (w *WriterQueue) drain() {
	drainCtx, cancel := context.WithTimeout(context.Background(), drainGracePeriod)
	defer cancel()
	for {
		select {
		case <-drainCtx.Done():
			if n := len(w.queue); n > 0 {
				w.logger.Warn("drain grace period expired", "pending", n)
			}
			return
		case cmd := <-w.queue:
			if err := cmd.fn(drainCtx); err != nil {
				w.logger.Error("drain write failed", "cmd", cmd.name, "error", err)
			}
		default:
			return
		}
	}
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := cmd.fn(ctx); err != nil {
			w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
			if attempt == maxAttempts {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
			continue
		}
		return
	}
}
