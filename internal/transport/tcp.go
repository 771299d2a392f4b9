package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	defaultTCPPort = 4403
	tcpDialTimeout = 6 * time.Second
)

// TCPTransport sends and receives framed traffic over a TCP socket to
// the radio's network interface. The target is fixed at construction;
// changing it means constructing a new transport and handing it to the
// supervisor.
type TCPTransport struct {
	addr   string
	logger *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
}

func NewTCPTransport(host string, port int) *TCPTransport {
	if port <= 0 {
		port = defaultTCPPort
	}
	addr := ""
	if host != "" {
		addr = net.JoinHostPort(host, fmt.Sprintf("%d", port))
	}
	return &TCPTransport{
		addr:   addr,
		logger: transportLogger("tcp", "target", addr),
	}
}

func (t *TCPTransport) Name() string { return "tcp" }

func (t *TCPTransport) Target() string { return t.addr }

func (t *TCPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	if t.addr == "" {
		return errors.New("tcp host is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.logger.Debug("connect skipped: already connected")
		return nil
	}

	t.logger.Info("connecting")
	dialer := net.Dialer{Timeout: tcpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		t.logger.Warn("connect failed", "error", err)
		return fmt.Errorf("dial tcp: %w", err)
	}
	t.conn = conn
	t.logger.Info("connected", "remote", conn.RemoteAddr().String())
	return nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		t.logger.Warn("close failed", "error", err)
		return err
	}
	t.logger.Info("closed")
	return nil
}

func (t *TCPTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	conn, err := t.currentConn()
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(deadlineFrom(ctx))

	payload, err := readFrame(ioReadFullFunc(conn))
	if err != nil {
		return nil, err
	}
	t.logger.Debug("read frame", "len", len(payload))
	return payload, nil
}

func (t *TCPTransport) WriteFrame(ctx context.Context, payload []byte) error {
	conn, err := t.currentConn()
	if err != nil {
		return err
	}
	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(deadlineFrom(ctx))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (t *TCPTransport) currentConn() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, errors.New("transport is not connected")
	}
	return t.conn, nil
}

// deadlineFrom converts a context deadline into a conn deadline,
// clearing any previous one when the context has none.
func deadlineFrom(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Time{}
}
