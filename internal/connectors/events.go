package connectors

import (
	"time"

	"meshmon/internal/domain"
)

// ConnectionState is the connection manager's lifecycle state.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateBackoff      ConnectionState = "backoff"
)

// ConnStatus is a bus event snapshot of the current connection status.
type ConnStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// LifecycleEvent records one connect/disconnect/error transition for
// the counters and the persisted events log.
type LifecycleEvent struct {
	Event  string // "connect", "disconnect", "error"
	Detail string
	At     time.Time
}

// PacketEvent carries one normalized packet to the fan-out consumers.
type PacketEvent struct {
	Packet domain.Packet
}

// NodeUpdate carries a node-table entry decoded from the radio.
type NodeUpdate struct {
	Node domain.Node
}

// ChannelsUpdate carries the decoded channel table.
type ChannelsUpdate struct {
	Channels []domain.ChannelInfo
}

// LocalNodeUpdate announces the local node identity learned from the
// transport handshake.
type LocalNodeUpdate struct {
	NodeID string
}

// SendResult reports the outcome of one outbound text send.
type SendResult struct {
	OK  bool
	Err string
	To  string
	At  time.Time
}

// RawFrame carries frame diagnostics for debug logging.
type RawFrame struct {
	Hex string
	Len int
}
