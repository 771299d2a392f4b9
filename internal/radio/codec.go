package radio

import (
	"encoding/json"
	"fmt"
	"strings"

	"meshmon/internal/domain"
)

// PacketEnvelope is one inbound mesh packet as decoded off the wire,
// before normalization.
type PacketEnvelope struct {
	RxTime       int64
	FromID       string
	ToID         string
	Channel      *int
	Portnum      *int
	Text         string
	PayloadB64   string
	SNR          *float64
	RSSI         *float64
	HopLimit     *int
	RequestID    uint32
	WantResponse bool
}

// Envelope is a parsed inbound event with optional payload variants.
type Envelope struct {
	Packet      *PacketEnvelope
	Node        *domain.Node
	LocalNodeID string
	Channels    []domain.ChannelInfo
}

// Codec translates between transport frames and inbound envelopes.
type Codec interface {
	Decode(payload []byte) (Envelope, error)
	EncodeText(to string, channel int, text string) ([]byte, error)
	EncodeWantConfig() ([]byte, error)
	EncodeHeartbeat() ([]byte, error)
}

// JSONCodec speaks the JSON event documents produced by the Meshtastic
// JSON gateway: each frame is one object tagged by "type".
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

type wireDecoded struct {
	Portnum      *int    `json:"portnum"`
	Text         *string `json:"text"`
	Payload      string  `json:"payload"`
	RequestID    uint32  `json:"requestId"`
	WantResponse bool    `json:"wantResponse"`
}

type wireUser struct {
	ID        string `json:"id"`
	ShortName string `json:"shortName"`
	LongName  string `json:"longName"`
	Role      string `json:"role"`
	HWModel   string `json:"hwModel"`
}

type wireNode struct {
	User         *wireUser `json:"user"`
	LastHeard    int64     `json:"lastHeard"`
	SNR          *float64  `json:"snr"`
	RSSI         *float64  `json:"rssi"`
	HopsAway     *int      `json:"hopsAway"`
	BatteryLevel *uint32   `json:"batteryLevel"`
	Voltage      *float64  `json:"voltage"`
	ChannelUtil  *float64  `json:"channelUtilization"`
	AirUtilTx    *float64  `json:"airUtilTx"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	IsFavorite   bool      `json:"isFavorite"`
}

type wireChannel struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Enabled *bool  `json:"enabled"`
}

type wireEnvelope struct {
	Type     string        `json:"type"`
	RxTime   int64         `json:"rxTime"`
	FromID   string        `json:"fromId"`
	ToID     string        `json:"toId"`
	Channel  *int          `json:"channel"`
	SNR      *float64      `json:"snr"`
	RSSI     *float64      `json:"rssi"`
	HopLimit *int          `json:"hopLimit"`
	Decoded  *wireDecoded  `json:"decoded"`
	Node     *wireNode     `json:"node"`
	MyNodeID string        `json:"myNodeId"`
	Channels []wireChannel `json:"channels"`
}

func (c *JSONCodec) Decode(payload []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Envelope{}, fmt.Errorf("decode inbound event: %w", err)
	}

	switch wire.Type {
	case "packet", "":
		pe := &PacketEnvelope{
			RxTime:   wire.RxTime,
			FromID:   wire.FromID,
			ToID:     wire.ToID,
			Channel:  wire.Channel,
			SNR:      wire.SNR,
			RSSI:     wire.RSSI,
			HopLimit: wire.HopLimit,
		}
		if wire.Decoded != nil {
			pe.Portnum = wire.Decoded.Portnum
			if wire.Decoded.Text != nil {
				pe.Text = *wire.Decoded.Text
			}
			pe.PayloadB64 = wire.Decoded.Payload
			pe.RequestID = wire.Decoded.RequestID
			pe.WantResponse = wire.Decoded.WantResponse
		}
		return Envelope{Packet: pe}, nil
	case "nodeinfo":
		if wire.Node == nil {
			return Envelope{}, fmt.Errorf("nodeinfo event without node")
		}
		return Envelope{Node: decodeNode(wire.Node, wire.RxTime)}, nil
	case "myinfo":
		id := domain.NormalizeNodeID(wire.MyNodeID)
		if id == "" {
			return Envelope{}, fmt.Errorf("myinfo event without node id")
		}
		return Envelope{LocalNodeID: id}, nil
	case "channels":
		channels := make([]domain.ChannelInfo, 0, len(wire.Channels))
		for _, ch := range wire.Channels {
			channels = append(channels, domain.ChannelInfo{
				Index:   ch.Index,
				Name:    strings.TrimSpace(ch.Name),
				Role:    ch.Role,
				Enabled: ch.Enabled,
			})
		}
		return Envelope{Channels: channels}, nil
	default:
		return Envelope{}, fmt.Errorf("unknown inbound event type %q", wire.Type)
	}
}

func (c *JSONCodec) EncodeText(to string, channel int, text string) ([]byte, error) {
	doc := map[string]any{
		"type":    "sendtext",
		"to":      to,
		"channel": channel,
		"text":    text,
	}
	if to == "" {
		doc["to"] = domain.BroadcastID
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode sendtext: %w", err)
	}
	return payload, nil
}

func (c *JSONCodec) EncodeWantConfig() ([]byte, error) {
	return json.Marshal(map[string]any{"type": "wantConfig"})
}

func (c *JSONCodec) EncodeHeartbeat() ([]byte, error) {
	return json.Marshal(map[string]any{"type": "heartbeat"})
}

func decodeNode(w *wireNode, rxTime int64) *domain.Node {
	n := &domain.Node{
		SNR:          w.SNR,
		RSSI:         w.RSSI,
		HopsAway:     w.HopsAway,
		BatteryLevel: w.BatteryLevel,
		Voltage:      w.Voltage,
		ChannelUtil:  w.ChannelUtil,
		AirUtilTx:    w.AirUtilTx,
		Latitude:     w.Latitude,
		Longitude:    w.Longitude,
		Favorite:     w.IsFavorite,
	}
	if w.User != nil {
		n.NodeID = domain.NormalizeNodeID(w.User.ID)
		n.ShortName = domain.ClampText(strings.TrimSpace(w.User.ShortName), 40)
		n.LongName = domain.ClampText(strings.TrimSpace(w.User.LongName), 80)
		n.Role = w.User.Role
		n.HardwareModel = w.User.HWModel
	}
	if w.LastHeard > 0 {
		n.LastHeardAt = timeFromEpoch(w.LastHeard)
	} else if rxTime > 0 {
		n.LastHeardAt = timeFromEpoch(rxTime)
	}
	return n
}
