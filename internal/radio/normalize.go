package radio

import (
	"encoding/base64"
	"strings"
	"time"

	"meshmon/internal/domain"
)

// Normalizer turns decoded packet envelopes into immutable
// domain.Packet records. It never fails: malformed input produces a
// packet with only the timestamp and error populated.
type Normalizer struct {
	localNodeID func() string
	now         func() time.Time
}

func NewNormalizer(localNodeID func() string) *Normalizer {
	return &Normalizer{
		localNodeID: localNodeID,
		now:         time.Now,
	}
}

// Normalize builds exactly one Packet from one envelope.
func (n *Normalizer) Normalize(env PacketEnvelope) domain.Packet {
	pkt := domain.Packet{
		RxTime:       env.RxTime,
		FromID:       domain.NormalizeNodeID(env.FromID),
		ToID:         strings.TrimSpace(env.ToID),
		Channel:      env.Channel,
		SNR:          env.SNR,
		RSSI:         env.RSSI,
		HopLimit:     env.HopLimit,
		RequestID:    env.RequestID,
		WantResponse: env.WantResponse,
	}
	if pkt.RxTime <= 0 {
		pkt.RxTime = n.now().Unix()
	}

	if env.Portnum != nil {
		portnum := *env.Portnum
		pkt.Portnum = &portnum
		pkt.App = domain.PortName(portnum)
	}

	text := strings.TrimSpace(env.Text)
	if text != "" {
		pkt.Text = domain.ClampText(env.Text, 1000)
		pkt.HasText = true
	}

	if env.PayloadB64 != "" {
		// Re-encode through base64 so a malformed wire value can never
		// leak past the normalizer.
		raw, err := base64.StdEncoding.DecodeString(env.PayloadB64)
		if err != nil {
			pkt.Error = "invalid payload encoding"
		} else {
			pkt.PayloadB64 = base64.StdEncoding.EncodeToString(raw)
			pkt.HasPayload = true
		}
	}

	pkt.RequestToMe = n.isRequestToMe(pkt)

	return pkt
}

// NormalizeError records an inbound event that could not be decoded.
func (n *Normalizer) NormalizeError(reason string) domain.Packet {
	return domain.NewErrorPacket(n.now(), reason)
}

// isRequestToMe reports whether the packet is a request addressed to
// the local node: it carries a correlation id or want-response flag,
// its destination is the local node or broadcast, and it was not sent
// by the local node itself.
func (n *Normalizer) isRequestToMe(pkt domain.Packet) bool {
	if pkt.RequestID == 0 && !pkt.WantResponse {
		return false
	}
	local := n.localNodeID()
	if local == "" {
		return false
	}
	if pkt.FromID == local {
		return false
	}
	return pkt.ToID == local || pkt.IsBroadcast()
}
