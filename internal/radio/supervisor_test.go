package radio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"meshmon/internal/bus"
	"meshmon/internal/connectors"
	"meshmon/internal/domain"
)

type fakeTransport struct {
	mu     sync.Mutex
	target string
	closed int
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Target() string { return f.target }

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeTransport) WriteFrame(ctx context.Context, payload []byte) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNextBackoff_GrowsGeometricallyToCap(t *testing.T) {
	delays := []time.Duration{backoffInitial}
	for i := 0; i < 12; i++ {
		delays = append(delays, nextBackoff(delays[len(delays)-1]))
	}

	for i := 1; i < len(delays); i++ {
		prev, cur := delays[i-1], delays[i]
		if cur > backoffMax {
			t.Fatalf("delay %d exceeds cap: %v", i, cur)
		}
		if prev < backoffMax && cur < prev {
			t.Fatalf("delay %d shrank before reaching cap: %v -> %v", i, prev, cur)
		}
	}

	if delays[1] != 1700*time.Millisecond {
		t.Fatalf("expected second delay 1.7s, got %v", delays[1])
	}
	if delays[len(delays)-1] != backoffMax {
		t.Fatalf("expected progression to reach cap %v, got %v", backoffMax, delays[len(delays)-1])
	}
}

func TestSupervisorSendText_RejectsInvalidInput(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	s := NewSupervisor(discardLogger(), b, &fakeTransport{target: "test:4403"}, NewJSONCodec())

	res := <-s.SendText("!aabbccdd", 0, "   ")
	if res.Err == nil {
		t.Fatalf("expected error for blank text")
	}

	res = <-s.SendText("!aabbccdd", 0, strings.Repeat("x", 201))
	if res.Err == nil {
		t.Fatalf("expected error for oversized text")
	}

	res = <-s.SendText("!aabbccdd", -1, "hi")
	if res.Err == nil {
		t.Fatalf("expected error for negative channel")
	}
}

func TestSupervisorState_StartsDisconnected(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	s := NewSupervisor(discardLogger(), b, &fakeTransport{}, NewJSONCodec())

	state, lastErr := s.State()
	if state != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected initial state, got %s", state)
	}
	if lastErr != "" {
		t.Fatalf("expected empty last error, got %q", lastErr)
	}
}

func TestSupervisorUpdateTarget_ClosesOldTransport(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()

	old := &fakeTransport{target: "old:4403"}
	s := NewSupervisor(discardLogger(), b, old, NewJSONCodec())

	sub := b.Subscribe(connectors.TopicLifecycle)
	defer b.Unsubscribe(sub)

	s.UpdateTarget(&fakeTransport{target: "new:4403"})

	old.mu.Lock()
	closed := old.closed
	old.mu.Unlock()
	if closed != 1 {
		t.Fatalf("expected old transport closed once, got %d", closed)
	}

	select {
	case msg := <-sub:
		ev, ok := msg.(connectors.LifecycleEvent)
		if !ok || ev.Event != "disconnect" {
			t.Fatalf("expected disconnect lifecycle event, got %#v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected lifecycle event after target update")
	}
}

// scriptedTransport serves a fixed list of frames, then fails every
// subsequent read with readErr (or blocks until cancellation when
// readErr is nil).
type scriptedTransport struct {
	target  string
	frames  chan []byte
	readErr error
}

func newScriptedTransport(readErr error, frames ...[]byte) *scriptedTransport {
	ch := make(chan []byte, len(frames))
	for _, f := range frames {
		ch <- f
	}
	return &scriptedTransport{target: "scripted:4403", frames: ch, readErr: readErr}
}

func (f *scriptedTransport) Name() string   { return "scripted" }
func (f *scriptedTransport) Target() string { return f.target }

func (f *scriptedTransport) Connect(ctx context.Context) error { return nil }
func (f *scriptedTransport) Close() error                      { return nil }

func (f *scriptedTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-f.frames:
		return frame, nil
	default:
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *scriptedTransport) WriteFrame(ctx context.Context, payload []byte) error { return nil }

func nextConnState(t *testing.T, sub bus.Subscription) connectors.ConnectionState {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-sub:
			if ev, ok := msg.(connectors.ConnStatus); ok {
				return ev.State
			}
		case <-deadline:
			t.Fatalf("timed out waiting for connection status")
		}
	}
}

func TestSupervisorRun_ReconnectsThroughBackoff(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()

	tr := newScriptedTransport(errors.New("stream reset"))
	s := NewSupervisor(discardLogger(), b, tr, NewJSONCodec())

	sub := b.Subscribe(connectors.TopicConnStatus)
	defer b.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	want := []connectors.ConnectionState{
		connectors.ConnectionStateConnecting,
		connectors.ConnectionStateConnected,
		connectors.ConnectionStateBackoff,
		connectors.ConnectionStateConnecting,
	}
	for i, expected := range want {
		if got := nextConnState(t, sub); got != expected {
			t.Fatalf("state %d: expected %s, got %s", i, expected, got)
		}
	}
}

func TestSupervisorRun_MalformedFrameKeepsIngestionFlowing(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()

	tr := newScriptedTransport(nil,
		[]byte("{not valid json"),
		[]byte(`{"type":"packet","rxTime":1700000000,"fromId":"!aaaa0001","toId":"^all","decoded":{"text":"still here"}}`),
	)
	s := NewSupervisor(discardLogger(), b, tr, NewJSONCodec())

	sub := b.Subscribe(connectors.TopicPacket)
	defer b.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	packets := make([]domain.Packet, 0, 2)
	deadline := time.After(5 * time.Second)
	for len(packets) < 2 {
		select {
		case msg := <-sub:
			if ev, ok := msg.(connectors.PacketEvent); ok {
				packets = append(packets, ev.Packet)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for packets, have %d", len(packets))
		}
	}

	if packets[0].Error == "" {
		t.Fatalf("expected error packet for malformed frame, got %+v", packets[0])
	}
	if !packets[1].HasText || packets[1].Text != "still here" {
		t.Fatalf("expected the next frame decoded normally, got %+v", packets[1])
	}
}

// gatedTransport blocks in Connect until released, then serves frames
// like scriptedTransport. Close before the gate opens is a no-op on
// the dial, mirroring a transport whose Close only tears down an
// established conn.
type gatedTransport struct {
	target string
	dial   chan struct{}
	frames chan []byte

	mu     sync.Mutex
	closed int
}

func newGatedTransport(target string, frames ...[]byte) *gatedTransport {
	ch := make(chan []byte, len(frames))
	for _, f := range frames {
		ch <- f
	}
	return &gatedTransport{target: target, dial: make(chan struct{}), frames: ch}
}

func (f *gatedTransport) Name() string   { return "gated" }
func (f *gatedTransport) Target() string { return f.target }

func (f *gatedTransport) Connect(ctx context.Context) error {
	select {
	case <-f.dial:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *gatedTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *gatedTransport) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *gatedTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-f.frames:
		return frame, nil
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *gatedTransport) WriteFrame(ctx context.Context, payload []byte) error { return nil }

func TestSupervisorUpdateTarget_DuringDialDropsStaleSession(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()

	old := newGatedTransport("old:4403",
		[]byte(`{"type":"packet","rxTime":1700000000,"fromId":"!aaaa0001","toId":"^all","decoded":{"text":"from old target"}}`),
	)
	replacement := newScriptedTransport(nil,
		[]byte(`{"type":"packet","rxTime":1700000001,"fromId":"!bbbb0002","toId":"^all","decoded":{"text":"from new target"}}`),
	)
	s := NewSupervisor(discardLogger(), b, old, NewJSONCodec())

	sub := b.Subscribe(connectors.TopicPacket)
	defer b.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	// Swap targets while the old dial is still in flight, then let the
	// old dial complete. Its session must be dropped, not promoted.
	s.UpdateTarget(replacement)
	close(old.dial)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-sub:
			ev, ok := msg.(connectors.PacketEvent)
			if !ok {
				continue
			}
			if ev.Packet.Text == "from old target" {
				t.Fatalf("ingested traffic from the replaced transport")
			}
			if ev.Packet.Text == "from new target" {
				if old.Closed() == 0 {
					t.Fatalf("expected the stale transport closed after its dial completed")
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for traffic from the new target")
		}
	}
}

func TestSupervisorUpdateTarget_WakesBackoffSleep(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	s := NewSupervisor(discardLogger(), b, &fakeTransport{target: "old:4403"}, NewJSONCodec())

	done := make(chan time.Duration, 1)
	go func() {
		done <- s.waitBackoff(context.Background(), backoffMax, errors.New("connect refused"))
	}()

	// Give the sleeper time to arm, then reconfigure.
	time.Sleep(50 * time.Millisecond)
	s.UpdateTarget(&fakeTransport{target: "new:4403"})

	select {
	case next := <-done:
		if next != backoffInitial {
			t.Fatalf("expected backoff reset to %v after target change, got %v", backoffInitial, next)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("backoff sleep was not woken by the target change")
	}
}

func TestSupervisorLocalNodeID_EmptyBeforeHandshake(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	s := NewSupervisor(discardLogger(), b, &fakeTransport{}, NewJSONCodec())

	if id := s.LocalNodeID(); id != "" {
		t.Fatalf("expected empty local id before handshake, got %q", id)
	}
}
