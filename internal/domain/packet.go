package domain

import (
	"strings"
	"time"
)

// BroadcastID is the destination id Meshtastic uses for broadcast traffic.
const BroadcastID = "^all"

const maxTextLen = 1000

// Packet is the canonical normalized record for one inbound mesh event.
// All optional fields are explicit pointers; binary payloads are carried
// base64-encoded so a Packet never exposes raw bytes. Packets are
// immutable after normalization and fanned out by value.
type Packet struct {
	RxTime       int64    `json:"rxTime"`
	FromID       string   `json:"fromId,omitempty"`
	ToID         string   `json:"toId,omitempty"`
	Channel      *int     `json:"channel,omitempty"`
	Portnum      *int     `json:"portnum,omitempty"`
	App          string   `json:"app,omitempty"`
	Text         string   `json:"text,omitempty"`
	HasText      bool     `json:"hasText"`
	PayloadB64   string   `json:"payloadB64,omitempty"`
	HasPayload   bool     `json:"hasPayload"`
	SNR          *float64 `json:"snr,omitempty"`
	RSSI         *float64 `json:"rssi,omitempty"`
	HopLimit     *int     `json:"hopLimit,omitempty"`
	RequestID    uint32   `json:"requestId,omitempty"`
	WantResponse bool     `json:"wantResponse,omitempty"`
	RequestToMe  bool     `json:"requestToMe,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// IsBroadcast reports whether the packet was addressed to every node.
func (p Packet) IsBroadcast() bool {
	return p.ToID == BroadcastID
}

// PortName maps known Meshtastic application port numbers to their
// symbolic names. Unknown ports return an empty string and callers keep
// the numeric code.
func PortName(portnum int) string {
	switch portnum {
	case 1:
		return "TEXT_MESSAGE_APP"
	case 3:
		return "POSITION_APP"
	case 4:
		return "NODEINFO_APP"
	case 5:
		return "ROUTING_APP"
	case 6:
		return "ADMIN_APP"
	case 67:
		return "TELEMETRY_APP"
	case 70:
		return "TRACEROUTE_APP"
	case 73:
		return "MAP_REPORT_APP"
	default:
		return ""
	}
}

// ClampText truncates a string to max runes, appending an ellipsis when
// it was cut.
func ClampText(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// NewErrorPacket builds the packet recorded for an inbound event that
// could not be decoded. Only the timestamp and the error are populated.
func NewErrorPacket(at time.Time, reason string) Packet {
	return Packet{
		RxTime: at.Unix(),
		Error:  ClampText(strings.TrimSpace(reason), 600),
	}
}
