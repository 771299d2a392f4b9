package radio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"meshmon/internal/bus"
	"meshmon/internal/connectors"
	"meshmon/internal/transport"
)

const (
	backoffInitial = time.Second
	backoffFactor  = 1.7
	backoffMax     = 30 * time.Second

	unconfiguredPollDelay = 500 * time.Millisecond
	readFrameTimeout      = 120 * time.Second
	heartbeatInterval     = 45 * time.Second
	writeFrameTimeout     = 8 * time.Second

	maxTextBytes = 200
)

// SendResult reports the outcome of one outbound text send.
type SendResult struct {
	Err error
}

type sendRequest struct {
	to      string
	channel int
	text    string
	result  chan SendResult
}

// Supervisor owns the single logical session to the mesh transport: a
// state machine that reconnects forever with bounded exponential
// backoff, drives the normalizer over every inbound frame, and fans
// decoded events out on the bus. It never terminates except by context
// cancellation.
type Supervisor struct {
	logger *slog.Logger
	bus    bus.MessageBus
	codec  Codec
	norm   *Normalizer

	mu           sync.Mutex
	tr           transport.Transport
	reconfig     chan struct{}
	state        connectors.ConnectionState
	lastErr      string
	resetBackoff bool

	localID atomic.Value // string

	outbox chan sendRequest
}

func NewSupervisor(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, codec Codec) *Supervisor {
	s := &Supervisor{
		logger:   logger,
		bus:      b,
		codec:    codec,
		tr:       tr,
		reconfig: make(chan struct{}),
		state:    connectors.ConnectionStateDisconnected,
		outbox:   make(chan sendRequest, 128),
	}
	s.localID.Store("")
	s.norm = NewNormalizer(s.LocalNodeID)

	return s
}

func (s *Supervisor) Start(ctx context.Context) {
	go s.runOutbox(ctx)
	go s.run(ctx)
}

// State returns the current connection state and last error detail.
func (s *Supervisor) State() (connectors.ConnectionState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// LocalNodeID returns the node id learned from the transport
// handshake, or empty before the first myinfo event.
func (s *Supervisor) LocalNodeID() string {
	v, _ := s.localID.Load().(string)
	return v
}

// UpdateTarget swaps the transport. Any live session is torn down
// first; the run loop reconnects with the new transport immediately.
// The reconfig channel wakes a sleeping backoff and cancels the
// current reader session so a stale dial can never be promoted.
func (s *Supervisor) UpdateTarget(tr transport.Transport) {
	s.mu.Lock()
	old := s.tr
	s.tr = tr
	s.resetBackoff = true
	close(s.reconfig)
	s.reconfig = make(chan struct{})
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	s.publishLifecycle("disconnect", "reconfigure")
	s.logger.Info("transport target updated", "transport", tr.Name(), "target", describeTarget(tr))
}

// SendText queues one outbound text message and returns a channel that
// yields the send outcome.
func (s *Supervisor) SendText(to string, channel int, text string) <-chan SendResult {
	resCh := make(chan SendResult, 1)

	if strings.TrimSpace(text) == "" {
		resCh <- SendResult{Err: errors.New("text is required")}
		close(resCh)
		return resCh
	}
	if len(text) > maxTextBytes {
		resCh <- SendResult{Err: fmt.Errorf("text exceeds %d bytes: %d", maxTextBytes, len(text))}
		close(resCh)
		return resCh
	}
	if channel < 0 {
		resCh <- SendResult{Err: fmt.Errorf("invalid channel index: %d", channel)}
		close(resCh)
		return resCh
	}

	s.outbox <- sendRequest{to: strings.TrimSpace(to), channel: channel, text: text, result: resCh}
	return resCh
}

func (s *Supervisor) run(ctx context.Context) {
	backoff := backoffInitial
	for {
		if ctx.Err() != nil {
			s.shutdown()
			return
		}

		tr := s.currentTransport()
		if describeTarget(tr) == "" {
			s.setState(connectors.ConnectionStateDisconnected, errors.New("not_configured: set connection target"))
			if !sleepWithContext(ctx, unconfiguredPollDelay) {
				s.shutdown()
				return
			}
			continue
		}

		s.setState(connectors.ConnectionStateConnecting, nil)
		if err := tr.Connect(ctx); err != nil {
			s.logger.Warn("transport connect failed", "transport", tr.Name(), "error", err)
			s.publishLifecycle("error", err.Error())
			backoff = s.waitBackoff(ctx, backoff, err)
			if ctx.Err() != nil {
				s.shutdown()
				return
			}
			continue
		}

		cur, reconfig := s.sessionInfo()
		if cur != tr {
			// Target changed while the dial was in flight. The stale
			// transport must never become the live session.
			_ = tr.Close()
			backoff = backoffInitial
			continue
		}

		backoff = backoffInitial
		s.setState(connectors.ConnectionStateConnected, nil)
		s.publishLifecycle("connect", describeTarget(tr))

		if err := s.sendWantConfig(ctx, tr); err != nil {
			s.logger.Warn("want config send failed", "error", err)
		}

		sessionCtx, cancelSession := context.WithCancel(ctx)
		go func() {
			select {
			case <-reconfig:
				cancelSession()
			case <-sessionCtx.Done():
			}
		}()
		go s.runKeepAlive(sessionCtx, tr)
		err := s.runReader(sessionCtx, tr)
		cancelSession()
		_ = tr.Close()

		if ctx.Err() != nil {
			s.shutdown()
			return
		}

		if cur, _ := s.sessionInfo(); cur != tr {
			// Reconfigured mid-session: UpdateTarget already published
			// the disconnect, so skip straight to the new target.
			backoff = backoffInitial
			continue
		}

		detail := ""
		if err != nil {
			detail = err.Error()
		}
		s.publishLifecycle("disconnect", detail)
		s.publishLifecycle("error", detail)
		backoff = s.waitBackoff(ctx, backoff, err)
	}
}

// sessionInfo returns the active transport together with the reconfig
// channel that is closed when it is replaced. Reading both under one
// lock means a caller either sees the replacement or holds a channel
// that will fire for it.
func (s *Supervisor) sessionInfo() (transport.Transport, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr, s.reconfig
}

// waitBackoff enters the Backoff state, sleeps the current delay and
// returns the next one. A target change wakes the sleep and restarts
// the progression so a new target is tried without waiting out the
// old delay.
func (s *Supervisor) waitBackoff(ctx context.Context, backoff time.Duration, cause error) time.Duration {
	s.mu.Lock()
	if s.resetBackoff {
		s.resetBackoff = false
		backoff = backoffInitial
	}
	reconfig := s.reconfig
	s.mu.Unlock()

	s.setState(connectors.ConnectionStateBackoff, cause)

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return backoff
	case <-reconfig:
		return backoffInitial
	case <-timer.C:
	}
	return nextBackoff(backoff)
}

// nextBackoff grows the reconnect delay geometrically up to the cap.
func nextBackoff(backoff time.Duration) time.Duration {
	next := time.Duration(float64(backoff) * backoffFactor)
	if next > backoffMax {
		next = backoffMax
	}
	return next
}

func (s *Supervisor) runReader(ctx context.Context, tr transport.Transport) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		readCtx, cancel := context.WithTimeout(ctx, readFrameTimeout)
		payload, err := tr.ReadFrame(readCtx)
		cancel()
		if err != nil {
			return err
		}

		s.bus.Publish(connectors.TopicRawFrameIn, connectors.RawFrame{
			Hex: strings.ToUpper(hex.EncodeToString(payload)),
			Len: len(payload),
		})

		env, err := s.codec.Decode(payload)
		if err != nil {
			// Malformed events still yield exactly one packet; ingestion
			// continues with the next frame.
			pkt := s.norm.NormalizeError(err.Error())
			s.bus.Publish(connectors.TopicPacket, connectors.PacketEvent{Packet: pkt})
			continue
		}

		switch {
		case env.Packet != nil:
			pkt := s.norm.Normalize(*env.Packet)
			s.bus.Publish(connectors.TopicPacket, connectors.PacketEvent{Packet: pkt})
		case env.Node != nil:
			s.bus.Publish(connectors.TopicNodeInfo, connectors.NodeUpdate{Node: *env.Node})
		case env.LocalNodeID != "":
			s.localID.Store(env.LocalNodeID)
			s.bus.Publish(connectors.TopicLocalNode, connectors.LocalNodeUpdate{NodeID: env.LocalNodeID})
		case env.Channels != nil:
			s.bus.Publish(connectors.TopicChannels, connectors.ChannelsUpdate{Channels: env.Channels})
		}
	}
}

func (s *Supervisor) runKeepAlive(ctx context.Context, tr transport.Transport) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := s.codec.EncodeHeartbeat()
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeFrameTimeout)
			if err := tr.WriteFrame(writeCtx, payload); err != nil {
				s.logger.Debug("heartbeat write failed", "error", err)
			}
			cancel()
		}
	}
}

func (s *Supervisor) runOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.outbox:
			res := s.handleSend(ctx, req)
			req.result <- res
			close(req.result)

			event := connectors.SendResult{OK: res.Err == nil, To: req.to, At: time.Now()}
			if res.Err != nil {
				event.Err = res.Err.Error()
			}
			s.bus.Publish(connectors.TopicSendResult, event)
		}
	}
}

func (s *Supervisor) handleSend(ctx context.Context, req sendRequest) SendResult {
	payload, err := s.codec.EncodeText(req.to, req.channel, req.text)
	if err != nil {
		return SendResult{Err: fmt.Errorf("encode outgoing message: %w", err)}
	}

	tr := s.currentTransport()
	writeCtx, cancel := context.WithTimeout(ctx, writeFrameTimeout)
	defer cancel()
	if err := tr.WriteFrame(writeCtx, payload); err != nil {
		return SendResult{Err: fmt.Errorf("send outgoing frame: %w", err)}
	}
	return SendResult{}
}

func (s *Supervisor) sendWantConfig(ctx context.Context, tr transport.Transport) error {
	payload, err := s.codec.EncodeWantConfig()
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeFrameTimeout)
	defer cancel()
	return tr.WriteFrame(writeCtx, payload)
}

func (s *Supervisor) currentTransport() transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr
}

func (s *Supervisor) shutdown() {
	tr := s.currentTransport()
	if tr != nil {
		_ = tr.Close()
	}
	s.setState(connectors.ConnectionStateDisconnected, nil)
}

func (s *Supervisor) setState(state connectors.ConnectionState, cause error) {
	s.mu.Lock()
	s.state = state
	if cause != nil {
		s.lastErr = cause.Error()
	} else if state == connectors.ConnectionStateConnected {
		s.lastErr = ""
	}
	lastErr := s.lastErr
	tr := s.tr
	s.mu.Unlock()

	status := connectors.ConnStatus{
		State:     state,
		Err:       lastErr,
		Timestamp: time.Now(),
	}
	if tr != nil {
		status.TransportName = tr.Name()
		status.Target = describeTarget(tr)
	}
	s.bus.Publish(connectors.TopicConnStatus, status)
}

func (s *Supervisor) publishLifecycle(event, detail string) {
	s.bus.Publish(connectors.TopicLifecycle, connectors.LifecycleEvent{
		Event:  event,
		Detail: detail,
		At:     time.Now(),
	})
}

func describeTarget(tr transport.Transport) string {
	if tr == nil {
		return ""
	}
	if d, ok := tr.(transport.TargetDescriber); ok {
		return d.Target()
	}
	return tr.Name()
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func timeFromEpoch(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
