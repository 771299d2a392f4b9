package transport

import (
	"context"
	"log/slog"
)

// Transport is one logical session to the mesh: a framed TCP or serial
// link to a radio, or an MQTT broker subscription. Implementations are
// safe for one concurrent reader plus writers.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
}

// TargetDescriber exposes a human-readable connection target for logs
// and lifecycle event details.
type TargetDescriber interface {
	Target() string
}

// transportLogger tags log lines with the transport kind plus any
// per-call attributes.
func transportLogger(kind string, attrs ...any) *slog.Logger {
	l := slog.With("component", "transport", "transport", kind)
	if len(attrs) > 0 {
		l = l.With(attrs...)
	}
	return l
}
